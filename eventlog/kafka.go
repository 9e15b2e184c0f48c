package eventlog

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

const (
	defaultBatchSize  = 100
	defaultBatchBytes = 1 << 20
)

func init() {
	Register("kafka", func(opts Options) (Publisher, error) {
		return NewKafkaPublisher(opts.Brokers, opts.BatchSize)
	})
}

// KafkaPublisher writes change events to Kafka. The hash balancer routes
// equal keys to equal partitions, which is what preserves per-row order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, batchSize int) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker address")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchBytes:             defaultBatchBytes,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer}, nil
}

func (k *KafkaPublisher) Publish(topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	return k.writer.WriteMessages(context.Background(), msg)
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
