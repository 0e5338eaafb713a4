/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payouts

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payouts/internal/metrics"
	"github.com/blnkfinance/payouts/model"
)

// EventHandler consumes terminal payout events. Handlers run on the
// dispatcher's goroutine, never on the payout path.
type EventHandler interface {
	Name() string
	Handle(ctx context.Context, event model.PayoutEvent) error
}

// EventDispatcher fans payout events out to the registered handlers
// asynchronously. Publish never blocks.
type EventDispatcher struct {
	handlers []EventHandler
	events   chan model.PayoutEvent
	done     chan struct{}
	metrics  *metrics.PayoutMetrics
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	stopOnce sync.Once
}

// NewEventDispatcher creates a dispatcher with a buffer of the given size.
func NewEventDispatcher(buffer int, m *metrics.PayoutMetrics, handlers ...EventHandler) *EventDispatcher {
	if buffer <= 0 {
		buffer = 100
	}
	return &EventDispatcher{
		handlers: handlers,
		events:   make(chan model.PayoutEvent, buffer),
		done:     make(chan struct{}),
		metrics:  m,
	}
}

// Register adds a handler. Handlers registered after Start still receive
// later events.
func (d *EventDispatcher) Register(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// Publish queues event for delivery. When the buffer is full the hand-off
// moves to its own goroutine instead of blocking the caller; that goroutine
// waits until the dispatcher drains or is stopped, so overflows are logged
// and counted.
func (d *EventDispatcher) Publish(event model.PayoutEvent) {
	select {
	case d.events <- event:
		return
	case <-d.done:
		logrus.WithField("event_id", event.EventID).Warn("event dispatcher stopped, dropping event")
		return
	default:
	}

	d.metrics.IncEventOverflow()
	logrus.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"event_type": event.Type,
	}).Warn("event buffer full, handing off in the background")
	go func() {
		select {
		case d.events <- event:
		case <-d.done:
			logrus.WithField("event_id", event.EventID).Warn("event dispatcher stopped, dropping event")
		}
	}()
}

// Start delivers buffered events to the handlers until ctx is done or Stop
// is called.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Stop delivers whatever is already buffered and stops the dispatcher.
func (d *EventDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *EventDispatcher) run(ctx context.Context) {
	for {
		select {
		case event := <-d.events:
			d.dispatch(ctx, event)
		case <-ctx.Done():
			return
		case <-d.done:
			for {
				select {
				case event := <-d.events:
					d.dispatch(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *EventDispatcher) dispatch(ctx context.Context, event model.PayoutEvent) {
	d.mu.RLock()
	handlers := make([]EventHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			d.metrics.IncHandlerError(string(event.Type))
			logrus.WithFields(logrus.Fields{
				"handler":   h.Name(),
				"event":     event.Type,
				"event_id":  event.EventID,
				"payout_id": event.Payout.PayoutID,
			}).WithError(err).Error("payout event handler failed")
		}
	}
}

// AuditLogHandler writes every terminal event to the structured log.
type AuditLogHandler struct{}

func (AuditLogHandler) Name() string {
	return "audit_log"
}

func (AuditLogHandler) Handle(_ context.Context, event model.PayoutEvent) error {
	fields := logrus.Fields{
		"event":      event.Type,
		"event_id":   event.EventID,
		"payout_id":  event.Payout.PayoutID,
		"creator_id": event.Payout.CreatorID,
		"amount":     event.Payout.Amount,
		"state":      event.Payout.State,
	}
	if event.Payout.FailureReason != nil {
		fields["failure_reason"] = *event.Payout.FailureReason
	}
	logrus.WithFields(fields).Info("payout reached terminal state")
	return nil
}
