package events

import (
	"context"
	"sync"
	"time"

	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/metrics"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/rs/zerolog"
)

// Async decouples a slow sink (Kafka, database) from the prediction path.
// Emit only enqueues; when the queue is full the event is dropped and counted.
type Async struct {
	name    string
	inner   Sink
	queue   chan types.PredictionEvent
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts a background worker delivering to inner. Each delivery gets its own timeout.
func NewAsync(name string, inner Sink, queueSize int, timeout time.Duration) *Async {
	if queueSize < 1 {
		queueSize = 1
	}
	a := &Async{
		name:    name,
		inner:   inner,
		queue:   make(chan types.PredictionEvent, queueSize),
		timeout: timeout,
		logger:  logger.GetForComponent("event_sink").With().Str("sink", name).Logger(),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.inner.Emit(ctx, event); err != nil {
			metrics.RecordEventDropped(a.name)
			a.logger.Warn().Err(err).Str("eventID", event.ID).Msg("Failed to deliver prediction event")
		}
		cancel()
	}
}

func (a *Async) Emit(_ context.Context, event types.PredictionEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- event:
		return nil
	default:
		metrics.RecordEventDropped(a.name)
		a.logger.Warn().Str("eventID", event.ID).Msg("Event queue full, dropping prediction event")
		return nil
	}
}

// Close drains the queue and closes the inner sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.inner.Close()
}
