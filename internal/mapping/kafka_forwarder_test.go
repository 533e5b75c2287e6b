package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.records = append(p.records, r)
	if promise != nil {
		promise(r, p.err)
	}
}

func TestKafkaForwarderPublishesKeyedEvents(t *testing.T) {
	producer := &fakeProducer{}
	notifier := NewNotifier(nil)
	NewKafkaForwarder(producer, "", nil).Attach(notifier)
	store := NewInMemoryStore(notifier)

	m, err := store.Supersede(context.Background(), newMapping("E1", "S1", 0.8))
	require.NoError(t, err)

	require.Len(t, producer.records, 1)
	rec := producer.records[0]
	assert.Equal(t, DefaultChangeTopic, rec.Topic)
	assert.Equal(t, "S1", string(rec.Key))

	var evt ChangeEvent
	require.NoError(t, json.Unmarshal(rec.Value, &evt))
	assert.Equal(t, ChangeCreated, evt.Kind)
	assert.Equal(t, m.ID, evt.MappingID)
}

func TestKafkaForwarderSurvivesProduceFailure(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	f := NewKafkaForwarder(producer, "custom", nil)

	f.Forward(context.Background(), ChangeEvent{Kind: ChangeVerified, MappingID: uuid.New(), StandardID: "S2"})

	require.Len(t, producer.records, 1)
	assert.Equal(t, "custom", producer.records[0].Topic)
}
