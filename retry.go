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
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/clock"
	redlock "github.com/blnkfinance/payouts/internal/lock"
	"github.com/blnkfinance/payouts/internal/metrics"
	"github.com/blnkfinance/payouts/internal/notification"
	"github.com/blnkfinance/payouts/model"
	"github.com/blnkfinance/payouts/transfer"
)

const TaskPayoutRetry = "payout:retry"

// RetryPayload is the body of a TaskPayoutRetry task.
type RetryPayload struct {
	PayoutID string `json:"payout_id"`
	Attempt  int    `json:"attempt"`
}

// Enqueuer durably schedules retry tasks. Enqueueing the same payout and
// attempt twice must not run the retry twice.
type Enqueuer interface {
	EnqueueRetry(ctx context.Context, payoutID string, attempt int, at time.Time) error
}

// RetryScheduler owns the backoff policy and the retry task handler.
type RetryScheduler struct {
	orchestrator   *Orchestrator
	enqueuer       Enqueuer
	baseDelay      time.Duration
	maxDelay       time.Duration
	multiplier     float64
	jitterFraction float64
	lockWait       time.Duration
	clock          clock.Clock
	rand           func() float64
	metrics        *metrics.PayoutMetrics
}

func newRetryScheduler(o *Orchestrator, enqueuer Enqueuer, cfg config.PayoutConfig, clk clock.Clock, rnd func() float64, m *metrics.PayoutMetrics) *RetryScheduler {
	return &RetryScheduler{
		orchestrator:   o,
		enqueuer:       enqueuer,
		baseDelay:      cfg.RetryBaseDelay(),
		maxDelay:       cfg.RetryMaxDelay(),
		multiplier:     cfg.RetryMultiplier,
		jitterFraction: cfg.RetryJitterFraction,
		lockWait:       2 * time.Second,
		clock:          clk,
		rand:           rnd,
		metrics:        m,
	}
}

// NextDelay is min(maxDelay, baseDelay*multiplier^attempt) plus up to
// jitterFraction of that again. attempt counts the retries already made.
func (r *RetryScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(r.baseDelay) * math.Pow(r.multiplier, float64(attempt))
	if math.IsInf(delay, 0) || delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}
	jitter := delay * r.jitterFraction * r.rand()
	return time.Duration(delay + jitter)
}

// ScheduleRetry enqueues retry number attemptNumber (starting at 1) and
// returns when it is due.
func (r *RetryScheduler) ScheduleRetry(ctx context.Context, payoutID string, attemptNumber int) (time.Time, error) {
	at := r.clock.Now().Add(r.NextDelay(attemptNumber - 1))
	if err := r.enqueuer.EnqueueRetry(ctx, payoutID, attemptNumber, at); err != nil {
		return time.Time{}, err
	}
	r.metrics.IncRetryScheduled()
	return at, nil
}

// schedule commits RETRY_SCHEDULED with the bumped retry count, then
// enqueues the task. A failed enqueue leaves the payout for the sweeper.
func (r *RetryScheduler) schedule(ctx context.Context, p *model.Payout, code string) error {
	from := p.State
	if _, err := p.TransitionTo(model.StateRetryScheduled); err != nil {
		return err
	}
	p.RetryCount++
	now := r.clock.Now()
	p.LastRetryAt = &now
	if err := r.orchestrator.save(ctx, p, from, "transient_failure:"+code); err != nil {
		return err
	}

	at, err := r.ScheduleRetry(ctx, p.PayoutID, p.RetryCount)
	if err != nil {
		notification.NotifyError(fmt.Errorf("enqueue retry %d for payout %s: %w", p.RetryCount, p.PayoutID, err))
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"payout_id":       p.PayoutID,
		"attempt":         p.RetryCount,
		"next_attempt_at": at,
	}).Info("payout retry scheduled")
	return nil
}

// requeue re-enqueues the current retry of a payout to run now.
func (r *RetryScheduler) requeue(ctx context.Context, p *model.Payout) error {
	return r.enqueuer.EnqueueRetry(ctx, p.PayoutID, p.RetryCount, r.clock.Now())
}

// ProcessRetry handles TaskPayoutRetry. Returning an error hands the task
// back to asynq for a later attempt.
func (r *RetryScheduler) ProcessRetry(ctx context.Context, task *asynq.Task) error {
	var payload RetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode retry payload: %v: %w", err, asynq.SkipRetry)
	}
	return r.resume(ctx, payload.PayoutID, payload.Attempt)
}

func (r *RetryScheduler) resume(ctx context.Context, payoutID string, attempt int) error {
	ctx, span := tracer.Start(ctx, "ProcessRetry")
	defer span.End()

	o := r.orchestrator
	unlock, err := o.acquire(ctx, redlock.PayoutKey(payoutID), r.lockWait)
	if err != nil {
		return err
	}
	defer unlock()

	p, err := o.datasource.GetPayoutByID(ctx, payoutID)
	if err != nil {
		return err
	}
	logger := logrus.WithFields(logrus.Fields{"payout_id": payoutID, "attempt": attempt})
	if p.State != model.StateRetryScheduled || attempt < p.RetryCount {
		logger.WithField("state", p.State).Debug("skipping stale retry task")
		return nil
	}

	if p.HasProviderRef() {
		status, err := o.queryStatus(ctx, p)
		if err != nil {
			return err
		}
		done, err := o.applyProviderStatus(ctx, p, status)
		if done || err != nil {
			return err
		}
		if status.State == transfer.StatePending {
			logger.Info("provider transfer still pending, leaving it to reconciliation")
			from := p.State
			if _, err := p.TransitionTo(model.StateSubmitted); err != nil {
				return err
			}
			return o.save(ctx, p, from, "provider_pending")
		}
	}

	result, _, err := o.eligibility.CheckEligibilityForStatements(ctx, p.CreatorID, p.StatementIDs)
	if err != nil {
		return err
	}
	if !result.Eligible {
		logger.Warn("creator no longer eligible, failing payout")
		return o.fail(ctx, p, model.FailureEligibilityRevoked)
	}

	return o.submit(ctx, p)
}
