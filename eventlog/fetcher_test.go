package eventlog

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionsRequiresBrokers(t *testing.T) {
	_, err := Partitions(nil, "src-1.shop.customers")
	assert.Error(t, err)
}

// A broker that accepts the connection but fails the metadata request must
// surface an error. Falling back to a single partition here would start one
// applier and leave the other partitions without a consumer.
func TestPartitionsPropagatesMetadataErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			conn.Close()
		}
	}()

	parts, err := Partitions([]string{ln.Addr().String()}, "src-1.shop.customers")
	assert.Error(t, err)
	assert.Nil(t, parts)
}
