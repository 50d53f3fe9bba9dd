package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() domain.LedgerEvent {
	rec := domain.InventoryRecord{
		ID: "r1", WarehouseID: "W1", VariantID: "V1", UnitID: "U1",
		Batch: "B1", Status: domain.StatusAvailable, Quantity: 40,
	}
	return domain.NewLedgerEvent(domain.EventCheckedIn, rec, 10, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, KafkaConfig{Topic: "inventory.events"}, nil)
	ev := testEvent()

	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "W1-V1", string(msg.Key))
	assert.Equal(t, ev.OccurredAt, msg.Time)

	var decoded domain.LedgerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, domain.EventCheckedIn, decoded.Type)
	assert.Equal(t, 40, decoded.Balance)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, ev.ID, headers["event-id"])
	assert.Equal(t, "InventoryCheckedIn", headers["event-type"])
}

func TestKafkaPublisher_BreakerOpens(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, KafkaConfig{Topic: "inventory.events", FailureThreshold: 2, OpenTimeout: time.Minute}, zap.New(core))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := p.Publish(ctx, testEvent())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPublisherUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := p.Publish(ctx, testEvent())
	assert.ErrorIs(t, err, ErrPublisherUnavailable)
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker state changed").Len())
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, KafkaConfig{Topic: "t"}, nil)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.NoError(t, p.Close())

	entries := logs.FilterMessage("ledger event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "InventoryCheckedIn", entries[0].ContextMap()["type"])
	assert.Equal(t, int64(40), entries[0].ContextMap()["balance"])
}
