// Package eventlog is the boundary to the durable, partitioned event log.
// Publishing keys every event by its partition key so all events of one row
// stay in one partition; consumption is per partition with offsets owned by
// the consumer, never by the broker.
package eventlog

import (
	"fmt"
	"sort"
	"sync"
)

// Publisher appends encoded change events to the log. Implementations must
// not reorder events published from a single goroutine.
type Publisher interface {
	Publish(topic, key string, value []byte) error
	Close() error
}

// Options carries broker addresses for the registered publisher factories.
type Options struct {
	Brokers   []string
	NatsURL   string
	BatchSize int
}

// Factory builds a publisher from options.
type Factory func(opts Options) (Publisher, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a publisher implementation available under a name.
// Called from init of each implementation.
func Register(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = f
}

// New builds the named publisher.
func New(name string, opts Options) (Publisher, error) {
	factoryMu.RLock()
	f, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown event log publisher: %s", name)
	}
	return f(opts)
}

// Names lists the registered publisher implementations.
func Names() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TopicName follows the <source-id>.<database>.<table> convention, one
// partitioned topic per table stream.
func TopicName(sourceID, database, table string) string {
	return fmt.Sprintf("%s.%s.%s", sourceID, database, table)
}
