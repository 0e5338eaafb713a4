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
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/payouts/internal/metrics"
	"github.com/blnkfinance/payouts/model"
)

type failingHandler struct {
	calls atomic.Int32
}

func (h *failingHandler) Name() string { return "failing" }

func (h *failingHandler) Handle(context.Context, model.PayoutEvent) error {
	h.calls.Add(1)
	return errors.New("downstream unavailable")
}

func fakeEvent(eventType model.EventType) model.PayoutEvent {
	reason := model.FailureAccountClosed
	return model.NewPayoutEvent(eventType, model.Payout{
		PayoutID:      "payout_" + gofakeit.UUID(),
		CreatorID:     "creator_" + gofakeit.UUID(),
		Amount:        int64(gofakeit.Number(5000, 100000)),
		State:         model.StateFailed,
		FailureReason: &reason,
	})
}

func TestEventDispatcherDeliversToEveryHandler(t *testing.T) {
	first, second := newRecordingHandler(), newRecordingHandler()
	d := NewEventDispatcher(4, nil, first)
	d.Register(second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	event := fakeEvent(model.EventPayoutCompleted)
	d.Publish(event)

	for _, h := range []*recordingHandler{first, second} {
		select {
		case got := <-h.events:
			assert.Equal(t, event.EventID, got.EventID)
			assert.Equal(t, event.Payout.PayoutID, got.Payout.PayoutID)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestEventDispatcherCountsHandlerErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	failing := &failingHandler{}
	recording := newRecordingHandler()
	d := NewEventDispatcher(4, metrics.NewPayoutMetrics(registry), failing, recording)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Publish(fakeEvent(model.EventPayoutFailed))
	d.Publish(fakeEvent(model.EventPayoutFailed))
	d.Stop()

	// a failing handler does not stop delivery to the others
	assert.Len(t, recording.events, 2)
	assert.Equal(t, int32(2), failing.calls.Load())

	expected := `
# HELP payouts_event_handler_errors_total Domain event handler failures by event type.
# TYPE payouts_event_handler_errors_total counter
payouts_event_handler_errors_total{event="payout.failed"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "payouts_event_handler_errors_total"))
}

func TestEventDispatcherPublishDoesNotBlockWhenFull(t *testing.T) {
	registry := prometheus.NewRegistry()
	recording := newRecordingHandler()
	d := NewEventDispatcher(1, metrics.NewPayoutMetrics(registry), recording)
	hook := test.NewGlobal()
	defer hook.Reset()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Publish(fakeEvent(model.EventPayoutCompleted))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}

	// only the first event fit in the buffer
	expected := `
# HELP payouts_event_buffer_overflows_total Events published while the dispatcher buffer was full.
# TYPE payouts_event_buffer_overflows_total counter
payouts_event_buffer_overflows_total 4
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "payouts_event_buffer_overflows_total"))
	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "event buffer full, handing off in the background" {
			warnings++
		}
	}
	assert.Equal(t, 4, warnings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	assert.Eventually(t, func() bool { return len(recording.events) == 5 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventDispatcherDropsAfterStop(t *testing.T) {
	recording := newRecordingHandler()
	d := NewEventDispatcher(4, nil, recording)
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	d.Publish(fakeEvent(model.EventPayoutCompleted))
	assert.Empty(t, recording.events)
}

func TestAuditLogHandler(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	event := fakeEvent(model.EventPayoutFailed)
	require.NoError(t, AuditLogHandler{}.Handle(context.Background(), event))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, event.Payout.PayoutID, entry.Data["payout_id"])
	assert.Equal(t, event.Payout.CreatorID, entry.Data["creator_id"])
	assert.Equal(t, model.FailureAccountClosed, entry.Data["failure_reason"])
	assert.Equal(t, model.EventPayoutFailed, entry.Data["event"])
}
