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
	"fmt"
	"sync"
	"time"

	"github.com/blnkfinance/payouts/database"
	"github.com/blnkfinance/payouts/eligibility"
	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
)

// memStore is an in-memory ledger with the same guarantees as the Postgres
// datasource: one in-flight payout per creator, optimistic versions and
// all-or-nothing finalization.
type memStore struct {
	mu          sync.Mutex
	payouts     map[string]*model.Payout
	order       []string
	statements  map[string]*model.Statement
	stmtOrder   []string
	attempts    []model.TransferAttempt
	transitions []model.PayoutTransition
}

var _ database.IDataSource = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		payouts:    make(map[string]*model.Payout),
		statements: make(map[string]*model.Statement),
	}
}

func (m *memStore) addStatement(creatorID, id string, amount int64, finalized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statements[id] = &model.Statement{
		StatementID: id,
		CreatorID:   creatorID,
		NetAmount:   amount,
		Currency:    "USD",
		Finalized:   finalized,
		CreatedAt:   time.Now().UTC(),
	}
	m.stmtOrder = append(m.stmtOrder, id)
}

func (m *memStore) setDisputed(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statements[id].Disputed = true
}

func (m *memStore) statement(id string) model.Statement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.statements[id]
}

// force overwrites a stored payout, simulating a crash between steps.
func (m *memStore) force(id string, mutate func(p *model.Payout)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.payouts[id]
	mutate(p)
	p.Version++
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payouts)
}

func clonePayout(p *model.Payout) *model.Payout {
	c := *p
	c.StatementIDs = append([]string(nil), p.StatementIDs...)
	return &c
}

func (m *memStore) ReservePayout(_ context.Context, p *model.Payout, validate database.SnapshotValidator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		existing := m.payouts[id]
		if existing.CreatorID == p.CreatorID && existing.State.HoldsReservation() {
			return &model.DuplicatePayoutError{CreatorID: p.CreatorID, ExistingPayoutID: existing.PayoutID}
		}
	}
	for _, id := range p.StatementIDs {
		s, ok := m.statements[id]
		if !ok || s.CreatorID != p.CreatorID || s.Paid || s.Disputed || !s.Finalized {
			return model.ErrInvalidStatements
		}
	}

	snapshot := model.BalanceSnapshot{CreatorID: p.CreatorID}
	for _, s := range m.statements {
		if s.CreatorID == p.CreatorID && !s.Paid && s.Finalized {
			snapshot.Total += s.NetAmount
		}
	}
	if validate != nil {
		if err := validate(snapshot); err != nil {
			return err
		}
	}

	for _, existing := range m.payouts {
		if existing.CreatorID == p.CreatorID && existing.IdempotencyKey == p.IdempotencyKey {
			return apierror.NewAPIError(apierror.ErrConflict, "Payout with this idempotency key already exists", nil)
		}
	}

	from := p.State
	if from == "" {
		from = model.StateEligible
	}
	p.State = model.StateReserved
	p.Version = 1
	m.payouts[p.PayoutID] = clonePayout(p)
	m.order = append(m.order, p.PayoutID)
	m.transitions = append(m.transitions, model.PayoutTransition{PayoutID: p.PayoutID, FromState: from, ToState: model.StateReserved, CreatedAt: p.CreatedAt})
	return nil
}

func (m *memStore) checkVersion(p *model.Payout) (*model.Payout, error) {
	stored, ok := m.payouts[p.PayoutID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "payout not found", model.ErrPayoutNotFound)
	}
	if stored.Version != p.Version {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Optimistic locking failure: payout '%s' was updated by another process", p.PayoutID), nil)
	}
	if p.HasProviderRef() {
		for _, other := range m.payouts {
			if other.PayoutID != p.PayoutID && other.HasProviderRef() && *other.ProviderTransferRef == *p.ProviderTransferRef {
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Provider transfer reference is already linked to another payout", nil)
			}
		}
	}
	return stored, nil
}

func (m *memStore) UpdatePayout(_ context.Context, p *model.Payout, from model.PayoutState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.checkVersion(p); err != nil {
		return err
	}
	p.Version++
	m.payouts[p.PayoutID] = clonePayout(p)
	if from != p.State {
		m.transitions = append(m.transitions, model.PayoutTransition{PayoutID: p.PayoutID, FromState: from, ToState: p.State, Reason: reason, CreatedAt: p.UpdatedAt})
	}
	return nil
}

func (m *memStore) FinalizePayout(_ context.Context, p *model.Payout, from model.PayoutState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.State != model.StateCompleted {
		return apierror.NewAPIError(apierror.ErrBadRequest, "payout is not COMPLETED", nil)
	}
	if _, err := m.checkVersion(p); err != nil {
		return err
	}
	for _, id := range p.StatementIDs {
		s, ok := m.statements[id]
		if !ok || s.Paid {
			return apierror.NewAPIError(apierror.ErrConflict, "statement already paid", nil)
		}
	}
	for _, id := range p.StatementIDs {
		s := m.statements[id]
		s.Paid = true
		payoutID := p.PayoutID
		s.PayoutID = &payoutID
	}
	p.Version++
	m.payouts[p.PayoutID] = clonePayout(p)
	m.transitions = append(m.transitions, model.PayoutTransition{PayoutID: p.PayoutID, FromState: from, ToState: p.State, CreatedAt: p.UpdatedAt})
	return nil
}

func (m *memStore) GetPayoutByID(_ context.Context, payoutID string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[payoutID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", payoutID), fmt.Errorf("%w: %s", model.ErrPayoutNotFound, payoutID))
	}
	return clonePayout(p), nil
}

func (m *memStore) GetPayoutsByFingerprint(_ context.Context, fingerprint string) ([]model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Payout
	for i := len(m.order) - 1; i >= 0; i-- {
		p := m.payouts[m.order[i]]
		if p.Fingerprint == fingerprint {
			out = append(out, *clonePayout(p))
		}
	}
	return out, nil
}

func (m *memStore) GetInflightPayout(_ context.Context, creatorID string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		p := m.payouts[id]
		if p.CreatorID == creatorID && p.State.HoldsReservation() {
			return clonePayout(p), nil
		}
	}
	return nil, nil
}

func (m *memStore) GetCompletedPayoutsSince(_ context.Context, creatorID string, since time.Time) ([]model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Payout
	for _, id := range m.order {
		p := m.payouts[id]
		if p.CreatorID == creatorID && p.State == model.StateCompleted && !p.UpdatedAt.Before(since) {
			out = append(out, *clonePayout(p))
		}
	}
	return out, nil
}

func (m *memStore) GetStalePayouts(_ context.Context, states []model.PayoutState, updatedBefore time.Time, limit int) ([]model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Payout
	for _, id := range m.order {
		p := m.payouts[id]
		if len(out) >= limit {
			break
		}
		for _, s := range states {
			if p.State == s && p.UpdatedAt.Before(updatedBefore) {
				out = append(out, *clonePayout(p))
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) GetReservedAmount(_ context.Context, creatorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reserved int64
	for _, p := range m.payouts {
		if p.CreatorID == creatorID && p.State.HoldsReservation() {
			reserved += p.Amount
		}
	}
	return reserved, nil
}

func (m *memStore) GetPayoutTransitions(_ context.Context, payoutID string) ([]model.PayoutTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PayoutTransition
	for _, t := range m.transitions {
		if t.PayoutID == payoutID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) GetUnpaidStatements(_ context.Context, creatorID string) ([]model.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Statement
	for _, id := range m.stmtOrder {
		s := m.statements[id]
		if s.CreatorID == creatorID && !s.Paid && s.Finalized {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) GetPendingStatementAmount(_ context.Context, creatorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending int64
	for _, s := range m.statements {
		if s.CreatorID == creatorID && !s.Paid && !s.Finalized {
			pending += s.NetAmount
		}
	}
	return pending, nil
}

func (m *memStore) GetStatementsByIDs(_ context.Context, statementIDs []string) ([]model.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Statement
	for _, id := range statementIDs {
		if s, ok := m.statements[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) RecordTransferAttempt(_ context.Context, attempt *model.TransferAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt.AttemptID = model.GenerateUUIDWithSuffix("attempt")
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memStore) GetTransferAttempts(_ context.Context, payoutID string) ([]model.TransferAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TransferAttempt
	for _, a := range m.attempts {
		if a.PayoutID == payoutID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*model.AccountStatus
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[string]*model.AccountStatus)}
}

func (f *fakeAccounts) add(creatorID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[creatorID] = &model.AccountStatus{
		CreatorID:          creatorID,
		ProviderAccountRef: "acct_" + creatorID,
		Onboarded:          true,
		Capable:            true,
		Standing:           model.StandingGood,
		Verified:           true,
	}
}

func (f *fakeAccounts) update(creatorID string, mutate func(a *model.AccountStatus)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f.accounts[creatorID])
}

func (f *fakeAccounts) GetAccountStatus(_ context.Context, creatorID string) (*model.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[creatorID]
	if !ok {
		return nil, eligibility.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

type enqueuedRetry struct {
	PayoutID string
	Attempt  int
	At       time.Time
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueuedRetry
	err   error
}

func (r *recordingEnqueuer) EnqueueRetry(_ context.Context, payoutID string, attempt int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, enqueuedRetry{PayoutID: payoutID, Attempt: attempt, At: at})
	return nil
}

func (r *recordingEnqueuer) all() []enqueuedRetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]enqueuedRetry(nil), r.tasks...)
}

type recordingHandler struct {
	events chan model.PayoutEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan model.PayoutEvent, 16)}
}

func (h *recordingHandler) Name() string { return "recording" }

func (h *recordingHandler) Handle(_ context.Context, event model.PayoutEvent) error {
	h.events <- event
	return nil
}
