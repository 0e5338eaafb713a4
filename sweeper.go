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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/payouts/config"
	redlock "github.com/blnkfinance/payouts/internal/lock"
	"github.com/blnkfinance/payouts/internal/notification"
	"github.com/blnkfinance/payouts/model"
	"github.com/blnkfinance/payouts/transfer"
)

const minManualStaleness = time.Minute

// sweepStates are the states a payout can be stranded in.
var sweepStates = []model.PayoutState{model.StateReserved, model.StateSubmitted, model.StateRetryScheduled}

const (
	ActionFinalized   = "finalized"
	ActionFailed      = "failed"
	ActionResubmitted = "resubmitted"
	ActionRequeued    = "requeued"
)

// CorrectedPayout describes one payout the sweeper acted on.
type CorrectedPayout struct {
	PayoutID    string            `json:"payout_id"`
	From        model.PayoutState `json:"from"`
	To          model.PayoutState `json:"to"`
	Action      string            `json:"action"`
	ProviderRef string            `json:"provider_ref,omitempty"`
}

// ReconciliationSweeper periodically resolves payouts whose last update is
// older than the staleness threshold, using the provider as ground truth.
type ReconciliationSweeper struct {
	orchestrator *Orchestrator
	batchSize    int
	maxWorkers   int
	pollInterval time.Duration
	staleness    time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

// NewReconciliationSweeper builds a sweeper over the orchestrator's
// datasource and transfer client.
func NewReconciliationSweeper(o *Orchestrator, cfg config.ReconciliationConfig) *ReconciliationSweeper {
	return &ReconciliationSweeper{
		orchestrator: o,
		batchSize:    cfg.BatchSize,
		maxWorkers:   cfg.MaxWorkers,
		pollInterval: cfg.Interval(),
		staleness:    cfg.Staleness(),
		stopCh:       make(chan struct{}),
	}
}

// Start runs Sweep on every interval until ctx is done or Stop is called.
func (s *ReconciliationSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Info("reconciliation sweeper started")
}

// Stop ends the ticker loop and waits for an in-progress sweep.
func (s *ReconciliationSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("reconciliation sweeper stopped")
}

func (s *ReconciliationSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ReconciliationSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			corrected, err := s.Sweep(ctx, s.staleness)
			if err != nil {
				logrus.WithError(err).Error("reconciliation sweep failed")
				continue
			}
			if len(corrected) > 0 {
				logrus.Infof("reconciliation sweep corrected %d payouts", len(corrected))
			}
		}
	}
}

// SweepNow runs an immediate sweep for the manual trigger endpoint. Very
// small thresholds are raised so in-progress submissions are left alone.
func (s *ReconciliationSweeper) SweepNow(ctx context.Context, staleness time.Duration) ([]CorrectedPayout, error) {
	if staleness < minManualStaleness {
		staleness = minManualStaleness
	}
	return s.Sweep(ctx, staleness)
}

// Sweep reconciles one batch of payouts not updated within staleness.
// Per-payout failures are logged and do not fail the sweep.
func (s *ReconciliationSweeper) Sweep(ctx context.Context, staleness time.Duration) ([]CorrectedPayout, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationSweep")
	defer span.End()

	o := s.orchestrator
	cutoff := o.clock.Now().Add(-staleness)
	stale, err := o.datasource.GetStalePayouts(ctx, sweepStates, cutoff, s.batchSize)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("sweep.candidates", len(stale)))
	if len(stale) == 0 {
		return nil, nil
	}

	var (
		mu        sync.Mutex
		corrected []CorrectedPayout
		batchWg   sync.WaitGroup
	)
	sem := make(chan struct{}, s.maxWorkers)
	for _, candidate := range stale {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(candidate model.Payout) {
			defer batchWg.Done()
			defer func() { <-sem }()

			correction, err := s.reconcile(ctx, candidate)
			if err != nil {
				logrus.WithField("payout_id", candidate.PayoutID).WithError(err).Error("failed to reconcile payout")
				return
			}
			if correction == nil {
				return
			}
			o.metrics.ObserveCorrection(string(correction.To))
			mu.Lock()
			corrected = append(corrected, *correction)
			mu.Unlock()
		}(candidate)
	}
	batchWg.Wait()

	return corrected, nil
}

func (s *ReconciliationSweeper) reconcile(ctx context.Context, candidate model.Payout) (*CorrectedPayout, error) {
	o := s.orchestrator
	unlock, err := o.acquire(ctx, redlock.PayoutKey(candidate.PayoutID), 0)
	if err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil, nil
		}
		return nil, err
	}
	defer unlock()

	p, err := o.datasource.GetPayoutByID(ctx, candidate.PayoutID)
	if err != nil {
		return nil, err
	}
	if !p.State.HoldsReservation() || p.Version != candidate.Version {
		// moved on since the batch was selected
		return nil, nil
	}

	correction := &CorrectedPayout{PayoutID: p.PayoutID, From: p.State, ProviderRef: providerRef(p)}
	logger := logrus.WithFields(logrus.Fields{"payout_id": p.PayoutID, "state": p.State})

	switch {
	case p.HasProviderRef():
		status, err := o.queryStatus(ctx, p)
		if err != nil {
			return nil, err
		}
		switch status.State {
		case transfer.StatePending:
			return nil, nil
		case transfer.StateNotFound:
			mismatch := &model.ReconciliationMismatchError{
				PayoutID:      p.PayoutID,
				ProviderRef:   providerRef(p),
				LocalState:    p.State,
				ProviderState: string(status.State),
			}
			o.metrics.IncMismatch()
			notification.NotifyError(mismatch)
			return nil, mismatch
		}
		if _, err := o.applyProviderStatus(ctx, p, status); err != nil {
			return nil, err
		}
		correction.Action = ActionFinalized
		if p.State == model.StateFailed {
			correction.Action = ActionFailed
		}

	case p.State == model.StateRetryScheduled:
		logger.Info("re-enqueueing lost retry")
		if err := o.retries.requeue(ctx, p); err != nil {
			return nil, err
		}
		correction.Action = ActionRequeued

	default:
		// RESERVED never dispatched, or SUBMITTED with no recorded reference
		logger.Info("resubmitting stranded payout with its original idempotency key")
		if err := o.submit(ctx, p); err != nil {
			return nil, err
		}
		correction.Action = ActionResubmitted
	}

	correction.To = p.State
	correction.ProviderRef = providerRef(p)
	return correction, nil
}
