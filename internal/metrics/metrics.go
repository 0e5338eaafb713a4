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

// Package metrics exposes Prometheus instruments for the payout engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAccepted  = "accepted"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeSucceeded = "succeeded"
	OutcomePending   = "pending"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

// PayoutMetrics groups the engine's counters and histograms.
type PayoutMetrics struct {
	requests        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	retries         prometheus.Counter
	corrections     *prometheus.CounterVec
	mismatches      prometheus.Counter
	handlerErrors   *prometheus.CounterVec
	eventOverflows  prometheus.Counter
}

var (
	payoutMetricsOnce sync.Once
	payoutMetrics     *PayoutMetrics
)

// Payouts returns the process-wide instance registered on the default registerer.
func Payouts() *PayoutMetrics {
	payoutMetricsOnce.Do(func() {
		payoutMetrics = NewPayoutMetrics(prometheus.DefaultRegisterer)
	})
	return payoutMetrics
}

// NewPayoutMetrics creates the payout collectors and registers them.
func NewPayoutMetrics(registerer prometheus.Registerer) *PayoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &PayoutMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_requests_total",
			Help: "Payout requests by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_state_transitions_total",
			Help: "Payout lifecycle transitions.",
		}, []string{"from", "to"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_provider_submissions_total",
			Help: "Transfer submissions by provider outcome.",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payouts_provider_request_duration_seconds",
			Help:    "Transfer provider call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payouts_retries_scheduled_total",
			Help: "Retries scheduled after transient provider failures.",
		}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_reconciliation_corrections_total",
			Help: "Payouts corrected by the reconciliation sweeper, by resulting state.",
		}, []string{"to"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payouts_reconciliation_mismatches_total",
			Help: "Payouts whose provider record could not be matched.",
		}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_event_handler_errors_total",
			Help: "Domain event handler failures by event type.",
		}, []string{"event"}),
		eventOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payouts_event_buffer_overflows_total",
			Help: "Events published while the dispatcher buffer was full.",
		}),
	}

	registerer.MustRegister(
		m.requests,
		m.transitions,
		m.submissions,
		m.providerLatency,
		m.retries,
		m.corrections,
		m.mismatches,
		m.handlerErrors,
		m.eventOverflows,
	)
	return m
}

func (m *PayoutMetrics) ObserveRequest(outcome, reason string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome, reason).Inc()
}

func (m *PayoutMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *PayoutMetrics) ObserveSubmission(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
	m.providerLatency.WithLabelValues("submit").Observe(took.Seconds())
}

func (m *PayoutMetrics) ObserveStatusQuery(took time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues("query_status").Observe(took.Seconds())
}

func (m *PayoutMetrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *PayoutMetrics) ObserveCorrection(to string) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(to).Inc()
}

func (m *PayoutMetrics) IncMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}

func (m *PayoutMetrics) IncHandlerError(event string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(event).Inc()
}

// IncEventOverflow counts a Publish that found the dispatcher buffer full.
func (m *PayoutMetrics) IncEventOverflow() {
	if m == nil {
		return
	}
	m.eventOverflows.Inc()
}
