package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const publishTimeout = 5 * time.Second

// EventDispatcher queues committed ledger events and publishes them from a
// pool of workers, so publishing never holds a lock or a transaction open.
type EventDispatcher struct {
	publisher port.EventPublisher
	observer  port.LedgerObserver
	logger    *zap.Logger
	queue     chan domain.LedgerEvent

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventDispatcher(publisher port.EventPublisher, queueSize int, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventDispatcher{
		publisher: publisher,
		logger:    logger,
		queue:     make(chan domain.LedgerEvent, queueSize),
	}
}

// SetObserver attaches publish metrics. Call before Start.
func (d *EventDispatcher) SetObserver(o port.LedgerObserver) {
	d.observer = o
}

func (d *EventDispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.logger.Info("event workers started", zap.Int("workers", workers))
}

// Enqueue hands an event to the workers without blocking. It returns false
// when the dispatcher is closed or the queue is full; a dropped event is
// counted with the "dropped" outcome.
func (d *EventDispatcher) Enqueue(event domain.LedgerEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		if d.observer != nil {
			d.observer.ObservePublish(string(event.Type), "dropped")
		}
		return false
	}
}

// Close stops accepting events, drains the queue and waits for the workers.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *EventDispatcher) workerLoop(id int) {
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		outcome := "success"
		if err := d.publisher.Publish(ctx, event); err != nil {
			outcome = "error"
			d.logger.Error("failed to publish ledger event",
				zap.Int("worker", id),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("published ledger event",
				zap.Int("worker", id),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
			)
		}
		if d.observer != nil {
			d.observer.ObservePublish(string(event.Type), outcome)
		}

		cancel()
	}
}
