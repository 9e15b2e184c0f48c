package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/segmentio/kafka-go"
)

// Record is one consumed event with its log coordinates.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Fetcher reads one partition strictly in order. Fetch blocks until a record
// is available or ctx is done.
type Fetcher interface {
	Fetch(ctx context.Context) (*Record, error)
	Close() error
}

// StartEarliest starts a fetcher at the oldest retained offset.
const StartEarliest int64 = kafka.FirstOffset

type kafkaFetcher struct {
	reader *kafka.Reader
}

// NewKafkaFetcher attaches to a single partition at the given offset.
// No consumer group is used: the sink applier owns its offsets and commits
// them to the metadata store only after the target store acknowledged.
func NewKafkaFetcher(brokers []string, topic string, partition int, start int64) (Fetcher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka fetcher requires at least one broker address")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if err := reader.SetOffset(start); err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to seek partition %d of %s: %w", partition, topic, err)
	}
	return &kafkaFetcher{reader: reader}, nil
}

func (f *kafkaFetcher) Fetch(ctx context.Context) (*Record, error) {
	msg, err := f.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}, nil
}

func (f *kafkaFetcher) Close() error {
	return f.reader.Close()
}

// Partitions lists the partition ids of a topic. A topic that does not exist
// yet is treated as a single partition, auto topic creation fills it in on
// the first publish. Any other metadata failure is returned to the caller;
// guessing here could leave partitions without a consumer.
func Partitions(brokers []string, topic string) ([]int, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	parts, err := conn.ReadPartitions(topic)
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return []int{0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions of %s: %w", topic, err)
	}
	if len(parts) == 0 {
		return []int{0}, nil
	}
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.ID)
	}
	sort.Ints(ids)
	return ids, nil
}
