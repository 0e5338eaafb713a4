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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blnkfinance/payouts/balance"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/database"
	"github.com/blnkfinance/payouts/eligibility"
	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/internal/cache"
	"github.com/blnkfinance/payouts/internal/clock"
	redlock "github.com/blnkfinance/payouts/internal/lock"
	"github.com/blnkfinance/payouts/internal/metrics"
	"github.com/blnkfinance/payouts/internal/notification"
	"github.com/blnkfinance/payouts/model"
	"github.com/blnkfinance/payouts/transfer"
)

var tracer = otel.Tracer("payouts.orchestrator")

const terminalStatusTTL = time.Hour

// Orchestrator drives a payout through the state machine. Request handling
// runs on the caller's goroutine up to the reservation; the provider call
// happens on the worker pool.
type Orchestrator struct {
	datasource  database.IDataSource
	balances    *balance.Calculator
	eligibility *eligibility.Checker
	transfers   transfer.Client
	redis       redis.UniversalClient
	cache       cache.Cache
	retries     *RetryScheduler
	pool        *WorkerPool
	events      *EventDispatcher
	metrics     *metrics.PayoutMetrics
	clock       clock.Clock
	cfg         config.PayoutConfig
}

// Retries returns the scheduler that owns the retry queue handler.
func (o *Orchestrator) Retries() *RetryScheduler {
	return o.retries
}

// Events returns the dispatcher terminal payout events are published on.
func (o *Orchestrator) Events() *EventDispatcher {
	return o.events
}

// Start runs the worker pool and the event dispatcher until ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	o.events.Start(ctx)
	o.pool.Start(ctx)
}

// Stop drains the worker pool, then the event dispatcher.
func (o *Orchestrator) Stop() {
	o.pool.Stop()
	o.events.Stop()
}

// PendingSubmissions reports how many reserved payouts are waiting for a
// pool worker.
func (o *Orchestrator) PendingSubmissions() int {
	return o.pool.Pending()
}

// RequestPayout validates and reserves a payout for the given statements.
// An empty statementIDs list selects the creator's oldest payable statements
// that fit within the available balance. The returned payout is RESERVED and
// queued for submission, or is an earlier payout for the same request.
func (o *Orchestrator) RequestPayout(ctx context.Context, creatorID string, statementIDs []string, requestedBy string) (*model.Payout, error) {
	p, _, err := o.RequestPayoutWithReplay(ctx, creatorID, statementIDs, requestedBy)
	return p, err
}

// RequestPayoutWithReplay is RequestPayout that also reports whether the
// payout returned was created by an earlier identical request.
func (o *Orchestrator) RequestPayoutWithReplay(ctx context.Context, creatorID string, statementIDs []string, requestedBy string) (*model.Payout, bool, error) {
	ctx, span := tracer.Start(ctx, "RequestPayout")
	defer span.End()
	span.SetAttributes(attribute.String("payout.creator_id", creatorID))

	p, replayed, err := o.requestPayout(ctx, creatorID, statementIDs, requestedBy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.ObserveRequest(metrics.OutcomeRejected, rejectionReason(err))
		return nil, false, err
	}

	span.SetAttributes(attribute.String("payout.id", p.PayoutID), attribute.Bool("payout.replayed", replayed))
	if replayed {
		o.metrics.ObserveRequest(metrics.OutcomeReplayed, "")
	} else {
		o.metrics.ObserveRequest(metrics.OutcomeAccepted, "")
	}
	return p, replayed, nil
}

func (o *Orchestrator) requestPayout(ctx context.Context, creatorID string, statementIDs []string, requestedBy string) (*model.Payout, bool, error) {
	if creatorID == "" {
		return nil, false, apierror.NewAPIError(apierror.ErrInvalidInput, "creator_id is required", nil)
	}

	statements, err := o.selectStatements(ctx, creatorID, dedupeIDs(statementIDs))
	if err != nil {
		return nil, false, err
	}
	amount := model.SumStatements(statements)
	ids := model.StatementIDs(statements)

	now := o.clock.Now()
	fingerprint := model.Fingerprint(creatorID, ids, amount, now.Truncate(o.cfg.DedupeWindow()))

	existing, generation, err := o.findReplay(ctx, fingerprint)
	if err != nil || existing != nil {
		return existing, existing != nil, err
	}
	if err := checkUnpaid(statements); err != nil {
		return nil, false, err
	}

	unlock, err := o.acquire(ctx, redlock.CreatorKey(creatorID), 0)
	if err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil, false, &model.DuplicatePayoutError{CreatorID: creatorID}
		}
		return nil, false, err
	}
	defer unlock()

	// an identical request may have committed while we waited for the lock
	existing, generation, err = o.findReplay(ctx, fingerprint)
	if err != nil || existing != nil {
		return existing, existing != nil, err
	}

	if err := o.checkDuplicates(ctx, creatorID, ids, now); err != nil {
		return nil, false, err
	}

	result, account, err := o.eligibility.CheckEligibilityForStatements(ctx, creatorID, ids)
	if err != nil {
		return nil, false, err
	}
	if !result.Eligible {
		return nil, false, &model.IneligibleAccountError{CreatorID: creatorID, Reasons: result.Reasons}
	}
	if err := o.balances.CheckMinimumThreshold(amount); err != nil {
		return nil, false, err
	}
	if err := o.balances.ValidateRequestedAmount(ctx, creatorID, amount); err != nil {
		return nil, false, err
	}
	if err := checkFinalized(statements); err != nil {
		return nil, false, err
	}

	p := &model.Payout{
		PayoutID:       model.GenerateUUIDWithSuffix("payout"),
		CreatorID:      creatorID,
		Amount:         amount,
		Currency:       o.cfg.Currency,
		DestinationRef: account.ProviderAccountRef,
		Fingerprint:    fingerprint,
		IdempotencyKey: model.IdempotencyKeyFor(fingerprint, generation),
		State:          model.StateRequested,
		StatementIDs:   ids,
		RequestedBy:    requestedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := p.TransitionTo(model.StateEligible); err != nil {
		return nil, false, err
	}

	err = o.datasource.ReservePayout(ctx, p, o.balances.SnapshotValidator(amount))
	if err != nil {
		var apiErr apierror.APIError
		if errors.As(err, &apiErr) && apiErr.Code == apierror.ErrConflict {
			// lost a race on the idempotency key; the winner is the replay
			existing, _, findErr := o.findReplay(ctx, fingerprint)
			if findErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}
	o.metrics.ObserveTransition(string(model.StateEligible), string(model.StateReserved))

	logrus.WithFields(logrus.Fields{
		"payout_id":  p.PayoutID,
		"creator_id": creatorID,
		"amount":     amount,
	}).Info("payout reserved")

	if err := o.pool.Submit(p.PayoutID); err != nil {
		logrus.WithField("payout_id", p.PayoutID).WithError(err).Warn("payout not queued for submission, the sweeper will resume it")
	}
	return p, false, nil
}

// selectStatements resolves the statements a request pays. Explicit ids must
// all exist and belong to the creator; whether they are still unpaid is
// checked after replay detection.
func (o *Orchestrator) selectStatements(ctx context.Context, creatorID string, statementIDs []string) ([]model.Statement, error) {
	if len(statementIDs) == 0 {
		return o.selectPayableStatements(ctx, creatorID)
	}

	statements, err := o.datasource.GetStatementsByIDs(ctx, statementIDs)
	if err != nil {
		return nil, err
	}
	if len(statements) != len(statementIDs) {
		return nil, fmt.Errorf("%w: %d of %d statements found", model.ErrInvalidStatements, len(statements), len(statementIDs))
	}
	for _, s := range statements {
		if s.CreatorID != creatorID {
			return nil, fmt.Errorf("%w: statement %s belongs to another creator", model.ErrInvalidStatements, s.StatementID)
		}
	}
	return statements, nil
}

// checkFinalized rejects statements still awaiting finalization. Their
// amounts are pending, not available, so they can never be paid out.
func checkFinalized(statements []model.Statement) error {
	for _, s := range statements {
		if !s.Finalized {
			return fmt.Errorf("%w: statement %s is not finalized", model.ErrInvalidStatements, s.StatementID)
		}
	}
	return nil
}

func checkUnpaid(statements []model.Statement) error {
	for _, s := range statements {
		if s.Paid {
			return fmt.Errorf("%w: statement %s is already paid", model.ErrInvalidStatements, s.StatementID)
		}
	}
	return nil
}

// selectPayableStatements takes undisputed unpaid statements oldest first
// while they fit within the available balance.
func (o *Orchestrator) selectPayableStatements(ctx context.Context, creatorID string) ([]model.Statement, error) {
	b, err := o.balances.ComputeBalance(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	unpaid, err := o.datasource.GetUnpaidStatements(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	var selected []model.Statement
	var sum int64
	for _, s := range unpaid {
		if s.Disputed {
			continue
		}
		if sum+s.NetAmount > b.Available {
			break
		}
		sum += s.NetAmount
		selected = append(selected, s)
	}
	if len(selected) == 0 || sum <= 0 {
		return nil, model.ErrNoPayableAmount
	}
	return selected, nil
}

// findReplay returns the payout an identical request already produced. A
// failed predecessor does not replay; it only bumps the key generation.
func (o *Orchestrator) findReplay(ctx context.Context, fingerprint string) (*model.Payout, int, error) {
	previous, err := o.datasource.GetPayoutsByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, 0, err
	}
	if len(previous) == 0 {
		return nil, 0, nil
	}
	latest := previous[0]
	if latest.State != model.StateFailed {
		return &latest, 0, nil
	}
	return nil, len(previous), nil
}

func (o *Orchestrator) checkDuplicates(ctx context.Context, creatorID string, statementIDs []string, now time.Time) error {
	inflight, err := o.datasource.GetInflightPayout(ctx, creatorID)
	if err != nil {
		return err
	}
	if inflight != nil {
		return &model.DuplicatePayoutError{CreatorID: creatorID, ExistingPayoutID: inflight.PayoutID}
	}

	recent, err := o.datasource.GetCompletedPayoutsSince(ctx, creatorID, now.Add(-o.cfg.DedupeWindow()))
	if err != nil {
		return err
	}
	requested := make(map[string]struct{}, len(statementIDs))
	for _, id := range statementIDs {
		requested[id] = struct{}{}
	}
	for _, p := range recent {
		for _, id := range p.StatementIDs {
			if _, ok := requested[id]; ok {
				return &model.DuplicatePayoutError{CreatorID: creatorID, ExistingPayoutID: p.PayoutID}
			}
		}
	}
	return nil
}

// GetPayoutStatus returns the current view of a payout.
func (o *Orchestrator) GetPayoutStatus(ctx context.Context, payoutID string) (*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "GetPayoutStatus")
	defer span.End()

	key := payoutStatusKey(payoutID)
	if o.cache != nil {
		var cached model.Payout
		if err := o.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	p, err := o.datasource.GetPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	// terminal payouts never change again
	if o.cache != nil && p.State.IsTerminal() {
		if err := o.cache.Set(ctx, key, p, terminalStatusTTL); err != nil {
			logrus.WithField("payout_id", payoutID).WithError(err).Warn("failed to cache payout status")
		}
	}
	return p, nil
}

func payoutStatusKey(payoutID string) string {
	return "payout-status:" + payoutID
}

// GetPayoutDetails returns the payout from GetPayoutStatus together with its
// transfer attempts and state transitions, each only when requested.
func (o *Orchestrator) GetPayoutDetails(ctx context.Context, payoutID string, withAttempts, withTransitions bool) (*model.PayoutDetails, error) {
	p, err := o.GetPayoutStatus(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	details := &model.PayoutDetails{Payout: p}
	if withAttempts {
		if details.Attempts, err = o.datasource.GetTransferAttempts(ctx, payoutID); err != nil {
			return nil, err
		}
	}
	if withTransitions {
		if details.Transitions, err = o.datasource.GetPayoutTransitions(ctx, payoutID); err != nil {
			return nil, err
		}
	}
	return details, nil
}

// GetBalance computes the creator's current payout balance.
func (o *Orchestrator) GetBalance(ctx context.Context, creatorID string) (model.Balance, error) {
	return o.balances.ComputeBalance(ctx, creatorID)
}

// CheckEligibility reports whether the creator's account can receive payouts
// right now, with a reason for every failed check.
func (o *Orchestrator) CheckEligibility(ctx context.Context, creatorID string) (model.EligibilityResult, error) {
	return o.eligibility.CheckEligibility(ctx, creatorID)
}

// processPayout is the worker pool entry point for a RESERVED payout.
func (o *Orchestrator) processPayout(ctx context.Context, payoutID string) error {
	ctx, span := tracer.Start(ctx, "ProcessPayout")
	defer span.End()
	span.SetAttributes(attribute.String("payout.id", payoutID))

	unlock, err := o.acquire(ctx, redlock.PayoutKey(payoutID), 0)
	if err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil
		}
		return err
	}
	defer unlock()

	p, err := o.datasource.GetPayoutByID(ctx, payoutID)
	if err != nil {
		return err
	}
	if p.State != model.StateReserved {
		return nil
	}
	return o.submit(ctx, p)
}

// submit persists SUBMITTED, then calls the provider with the payout's
// idempotency key and applies the classified outcome. A payout already
// SUBMITTED is sent again with the same key.
func (o *Orchestrator) submit(ctx context.Context, p *model.Payout) error {
	ctx, span := tracer.Start(ctx, "SubmitTransfer")
	defer span.End()
	span.SetAttributes(attribute.String("payout.id", p.PayoutID), attribute.Int("payout.retry_count", p.RetryCount))

	if p.State != model.StateSubmitted {
		from := p.State
		if _, err := p.TransitionTo(model.StateSubmitted); err != nil {
			return err
		}
		if err := o.save(ctx, p, from, "submitting"); err != nil {
			return err
		}
	}

	attempt := p.RetryCount + 1
	started := o.clock.Now()
	result, err := o.transfers.Submit(ctx, p.PayoutID, p.DestinationRef, p.Amount, p.IdempotencyKey)
	took := o.clock.Now().Sub(started)
	err = transfer.AsClassified(err)

	var transient *model.ProviderTransientError
	var permanent *model.ProviderPermanentError
	switch {
	case errors.As(err, &permanent):
		o.metrics.ObserveSubmission(metrics.OutcomePermanent, took)
		o.recordAttempt(ctx, p, attempt, permanent.Code, model.OutcomePermanentFailure)
		span.SetStatus(codes.Error, err.Error())
		return o.fail(ctx, p, permanent.Reason)

	case errors.As(err, &transient):
		o.metrics.ObserveSubmission(metrics.OutcomeTransient, took)
		o.recordAttempt(ctx, p, attempt, transient.Code, model.OutcomeTransientFailure)
		span.RecordError(err)
		return o.handleTransient(ctx, p, transient)
	}

	o.recordAttempt(ctx, p, attempt, string(result.State), model.OutcomeSuccess)
	ref := result.ProviderRef
	p.ProviderTransferRef = &ref

	if result.State == transfer.StateSucceeded {
		o.metrics.ObserveSubmission(metrics.OutcomeSucceeded, took)
		return o.finalize(ctx, p)
	}

	o.metrics.ObserveSubmission(metrics.OutcomePending, took)
	return o.save(ctx, p, p.State, "provider_pending")
}

// handleTransient schedules the next retry, or fails the payout once the
// retry budget for this kind of error is spent.
func (o *Orchestrator) handleTransient(ctx context.Context, p *model.Payout, cause *model.ProviderTransientError) error {
	logger := logrus.WithFields(logrus.Fields{
		"payout_id":   p.PayoutID,
		"code":        cause.Code,
		"retry_count": p.RetryCount,
	})

	if !cause.Known && p.RetryCount >= o.cfg.UnknownCodeMaxRetries {
		logger.Warn("unmapped provider error persisted, failing payout")
		return o.fail(ctx, p, model.FailureProviderError)
	}
	// RetryCount excludes the first submission
	if p.RetryCount >= o.cfg.MaxRetries {
		logger.Warn("payout retries exhausted")
		return o.fail(ctx, p, model.FailureRetriesExhausted)
	}

	logger.Info("transient provider error, scheduling retry")
	return o.retries.schedule(ctx, p, cause.Code)
}

// finalize moves the payout to COMPLETED and marks its statements paid in
// one transaction. The event goes out only after the commit.
func (o *Orchestrator) finalize(ctx context.Context, p *model.Payout) error {
	from := p.State
	if _, err := p.TransitionTo(model.StateCompleted); err != nil {
		return err
	}
	p.FailureReason = nil
	p.FailureMessage = nil
	p.UpdatedAt = o.clock.Now()

	if err := o.datasource.FinalizePayout(ctx, p, from); err != nil {
		notification.NotifyError(fmt.Errorf("finalize payout %s (provider ref %s): %w", p.PayoutID, providerRef(p), err))
		return err
	}
	o.metrics.ObserveTransition(string(from), string(model.StateCompleted))

	logrus.WithFields(logrus.Fields{
		"payout_id":    p.PayoutID,
		"provider_ref": providerRef(p),
	}).Info("payout completed")
	o.events.Publish(model.NewPayoutEvent(model.EventPayoutCompleted, *p))
	return nil
}

// fail moves the payout to FAILED. Leaving the non-terminal states releases
// the reservation and the statements stay unpaid; both are committed before
// the event is published.
func (o *Orchestrator) fail(ctx context.Context, p *model.Payout, reason string) error {
	from := p.State
	if _, err := p.TransitionTo(model.StateFailed); err != nil {
		return err
	}
	p.MarkFailed(reason)

	if err := o.save(ctx, p, from, reason); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"payout_id": p.PayoutID,
		"reason":    reason,
	}).Warn("payout failed")
	o.events.Publish(model.NewPayoutEvent(model.EventPayoutFailed, *p))
	return nil
}

// save persists p and records the transition from `from`.
func (o *Orchestrator) save(ctx context.Context, p *model.Payout, from model.PayoutState, reason string) error {
	p.UpdatedAt = o.clock.Now()
	if err := o.datasource.UpdatePayout(ctx, p, from, reason); err != nil {
		return err
	}
	if from != p.State {
		o.metrics.ObserveTransition(string(from), string(p.State))
	}
	return nil
}

func (o *Orchestrator) recordAttempt(ctx context.Context, p *model.Payout, attempt int, code string, outcome model.AttemptOutcome) {
	err := o.datasource.RecordTransferAttempt(ctx, &model.TransferAttempt{
		PayoutID:       p.PayoutID,
		AttemptNumber:  attempt,
		IdempotencyKey: p.IdempotencyKey,
		ResponseCode:   code,
		Outcome:        outcome,
		CreatedAt:      o.clock.Now(),
	})
	if err != nil {
		logrus.WithField("payout_id", p.PayoutID).WithError(err).Warn("failed to record transfer attempt")
	}
}

func (o *Orchestrator) queryStatus(ctx context.Context, p *model.Payout) (*transfer.TransferStatus, error) {
	ctx, span := tracer.Start(ctx, "QueryTransferStatus")
	defer span.End()

	started := o.clock.Now()
	status, err := o.transfers.QueryStatus(ctx, providerRef(p))
	o.metrics.ObserveStatusQuery(o.clock.Now().Sub(started))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return status, nil
}

// applyProviderStatus resolves a payout from the provider's view of its
// transfer. It reports whether the payout reached a terminal state.
func (o *Orchestrator) applyProviderStatus(ctx context.Context, p *model.Payout, status *transfer.TransferStatus) (bool, error) {
	switch status.State {
	case transfer.StateSucceeded:
		return true, o.finalize(ctx, p)
	case transfer.StateFailed:
		return true, o.fail(ctx, p, failureReasonFor(status.FailureCode))
	}
	return false, nil
}

// RunScheduledPayouts requests a payout for every eligible creator whose
// available balance meets the minimum threshold.
func (o *Orchestrator) RunScheduledPayouts(ctx context.Context, creatorIDs []string) ([]ScheduledPayoutResult, error) {
	ctx, span := tracer.Start(ctx, "RunScheduledPayouts")
	defer span.End()

	checks, err := o.eligibility.CheckEligibilityBatch(ctx, creatorIDs)
	if err != nil {
		return nil, err
	}

	results := make([]ScheduledPayoutResult, 0, len(creatorIDs))
	for _, creatorID := range creatorIDs {
		result := ScheduledPayoutResult{CreatorID: creatorID}
		check, ok := checks[creatorID]
		if !ok || !check.Eligible {
			result.Skipped = "ineligible"
			result.Reasons = check.Reasons
			results = append(results, result)
			continue
		}

		b, err := o.balances.ComputeBalance(ctx, creatorID)
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		if b.Available < o.balances.MinimumThreshold() {
			result.Skipped = "below_minimum"
			results = append(results, result)
			continue
		}

		p, err := o.RequestPayout(ctx, creatorID, nil, scheduledRequester)
		if err != nil {
			result.Error = model.UserMessage(err)
			logrus.WithField("creator_id", creatorID).WithError(err).Warn("scheduled payout rejected")
		} else {
			result.Payout = p
		}
		results = append(results, result)
	}
	return results, nil
}

const scheduledRequester = "scheduler"

// ScheduledPayoutResult is the outcome of a scheduled run for one creator:
// the payout it requested, or why it skipped or failed.
type ScheduledPayoutResult struct {
	CreatorID string         `json:"creator_id"`
	Payout    *model.Payout  `json:"payout,omitempty"`
	Skipped   string         `json:"skipped,omitempty"`
	Reasons   []model.Reason `json:"reasons,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// acquire takes a Redis lock on key, polling for up to wait when it is
// held, and keeps it alive until the returned release func runs. Without
// Redis it is a no-op.
func (o *Orchestrator) acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	if o.redis == nil {
		return func() {}, nil
	}
	locker := redlock.NewLocker(o.redis, key, model.GenerateUUIDWithSuffix("lock"))
	var err error
	if wait > 0 {
		err = locker.WaitLock(ctx, o.cfg.LockTimeout(), wait)
	} else {
		err = locker.Lock(ctx, o.cfg.LockTimeout())
	}
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go o.keepLockAlive(locker, stop, done)
	return func() {
		close(stop)
		<-done
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).Warnf("failed to release lock %s", locker.Key())
		}
	}, nil
}

// keepLockAlive extends a held lock every half timeout, so a provider call
// retried with backoff past LockTimeout does not lose it to the sweeper.
func (o *Orchestrator) keepLockAlive(locker *redlock.Locker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ttl := o.cfg.LockTimeout()
	if ttl <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := locker.ExtendLock(context.Background(), ttl); err != nil {
				logrus.WithError(err).Warnf("failed to extend lock %s", locker.Key())
				return
			}
		}
	}
}

func failureReasonFor(code string) string {
	c := transfer.Classify(code)
	if !c.Retryable && c.Reason != "" {
		return c.Reason
	}
	return model.FailureProviderRejected
}

func providerRef(p *model.Payout) string {
	if p.ProviderTransferRef == nil {
		return ""
	}
	return *p.ProviderTransferRef
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func rejectionReason(err error) string {
	var (
		ineligible   *model.IneligibleAccountError
		insufficient *model.InsufficientBalanceError
		below        *model.BelowMinimumThresholdError
		duplicate    *model.DuplicatePayoutError
	)
	switch {
	case errors.As(err, &ineligible):
		return "ineligible"
	case errors.As(err, &insufficient):
		return "insufficient_balance"
	case errors.As(err, &below):
		return "below_minimum"
	case errors.As(err, &duplicate):
		return "duplicate"
	case errors.Is(err, model.ErrInvalidStatements), errors.Is(err, model.ErrNoPayableAmount):
		return "invalid_statements"
	default:
		return "error"
	}
}
