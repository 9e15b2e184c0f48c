package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridsx/pipegos/server"
	"github.com/gridsx/pipegos/task"
)

func main() {

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go server.Serve()

	sig := <-c
	fmt.Printf("Got %s signal. Stopping...\n", sig)
	for _, p := range task.GetPipelines() {
		p.Stop()
	}
}
