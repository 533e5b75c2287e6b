package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic receives forwarded audit entries.
const DefaultTopic = "accord.audit"

// SyncProducer is the subset of *kgo.Client used by KafkaSink.
type SyncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes audit entries keyed by mapping id.
type KafkaSink struct {
	producer SyncProducer
	topic    string
}

func NewKafkaSink(producer SyncProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Forward(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(e.MappingID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "decision", Value: []byte(e.Decision)},
			{Key: "sequence", Value: []byte(strconv.FormatInt(e.Sequence, 10))},
		},
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entry: %w", err)
	}
	return nil
}
