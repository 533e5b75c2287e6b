package mapping

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultChangeTopic receives mapping change events.
const DefaultChangeTopic = "accord.mapping-changes"

// Producer is the subset of *kgo.Client used for forwarding.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaForwarder publishes change events to Kafka keyed by standard id, so
// events for one standard stay ordered within a partition.
type KafkaForwarder struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaForwarder(producer Producer, topic string, logger *slog.Logger) *KafkaForwarder {
	if topic == "" {
		topic = DefaultChangeTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaForwarder{producer: producer, topic: topic, logger: logger}
}

// Attach subscribes the forwarder to n and returns the unsubscribe func.
func (f *KafkaForwarder) Attach(n *Notifier) func() {
	return n.Subscribe(f.Forward)
}

// Forward produces evt asynchronously; delivery failures are logged.
func (f *KafkaForwarder) Forward(ctx context.Context, evt ChangeEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		f.logger.Error("failed to encode mapping change", "mapping_id", evt.MappingID, "error", err)
		return
	}
	rec := &kgo.Record{
		Topic: f.topic,
		Key:   []byte(evt.StandardID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(evt.Kind)},
		},
	}
	// Detach from request cancellation; the record is already committed state.
	f.producer.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			f.logger.Error("failed to forward mapping change",
				"topic", r.Topic,
				"mapping_id", evt.MappingID,
				"kind", evt.Kind,
				"error", err,
			)
		}
	})
}
