package writer

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/cdcstream/olr/builder"
)

// KafkaSink publishes output messages to a Kafka topic. It never
// receives control requests from the broker itself — INFO/START/
// CONTINUE/CONFIRM for a Kafka-backed pipeline arrive over a side
// channel the caller wires separately, so Poll always returns
// (nil, false, nil).
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink constructs a sink that publishes to topic on the given
// brokers, keyed by transaction XID so ordering within a transaction
// stream is preserved per-partition.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (s *KafkaSink) Send(msg *builder.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(msg.XID.String()),
		Value: data,
	})
}

func (s *KafkaSink) Poll() (*Request, bool, error) {
	return nil, false, nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
