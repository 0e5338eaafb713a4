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

package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blnkfinance/payouts/transfer"
	"github.com/google/uuid"
)

// Step scripts the outcome of one Submit that creates a new transfer. A
// non-empty Code fails the call with that provider code and no transfer is
// created.
type Step struct {
	Code  string
	State transfer.TransferState
}

type mockTransfer struct {
	ref         string
	key         string
	payoutID    string
	accountRef  string
	amount      int64
	state       transfer.TransferState
	failureCode string
}

// MockProvider is an in-memory transfer provider. Submissions are idempotent
// per key, like a real provider.
type MockProvider struct {
	Delay time.Duration

	mu          sync.Mutex
	script      []Step
	queryErrors int
	byRef       map[string]*mockTransfer
	byKey       map[string]*mockTransfer
	submitCalls int
	queryCalls  int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		byRef: make(map[string]*mockTransfer),
		byKey: make(map[string]*mockTransfer),
	}
}

func (m *MockProvider) Name() string {
	return "mock_provider"
}

// Script appends steps consumed by subsequent new submissions.
func (m *MockProvider) Script(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
}

// FailNext makes the next len(codes) new submissions fail with codes.
func (m *MockProvider) FailNext(codes ...string) {
	steps := make([]Step, 0, len(codes))
	for _, code := range codes {
		steps = append(steps, Step{Code: code})
	}
	m.Script(steps...)
}

// FailQueries makes the next n QueryStatus calls fail transiently.
func (m *MockProvider) FailQueries(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErrors += n
}

// Seed records a transfer as if the provider had accepted it, and returns
// its ref.
func (m *MockProvider) Seed(payoutID, idempotencyKey string, amount int64, state transfer.TransferState) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(payoutID, "", amount, idempotencyKey, state).ref
}

// SetStatus changes what QueryStatus reports for ref.
func (m *MockProvider) SetStatus(ref string, state transfer.TransferState, failureCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byRef[ref]
	if !ok {
		return fmt.Errorf("unknown transfer %s", ref)
	}
	t.state = state
	t.failureCode = failureCode
	return nil
}

func (m *MockProvider) SubmitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

func (m *MockProvider) QueryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}

// Transfers returns the number of distinct transfers created.
func (m *MockProvider) Transfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byRef)
}

// TransfersForPayout counts the transfers created on behalf of payoutID.
func (m *MockProvider) TransfersForPayout(payoutID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.byRef {
		if t.payoutID == payoutID {
			n++
		}
	}
	return n
}

func (m *MockProvider) Submit(ctx context.Context, payoutID, accountRef string, amount int64, idempotencyKey string) (*transfer.TransferResult, error) {
	if err := m.wait(ctx); err != nil {
		return nil, transfer.ClassifiedError(transfer.CodeTimeout, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++

	if t, ok := m.byKey[idempotencyKey]; ok {
		return m.result(t)
	}

	step := Step{State: transfer.StateSucceeded}
	if len(m.script) > 0 {
		step = m.script[0]
		m.script = m.script[1:]
	}
	if step.Code != "" {
		return nil, transfer.ClassifiedError(step.Code, errors.New("mock provider scripted failure"))
	}
	if step.State == "" {
		step.State = transfer.StateSucceeded
	}
	return m.result(m.create(payoutID, accountRef, amount, idempotencyKey, step.State))
}

func (m *MockProvider) QueryStatus(ctx context.Context, providerRef string) (*transfer.TransferStatus, error) {
	if err := m.wait(ctx); err != nil {
		return nil, transfer.ClassifiedError(transfer.CodeTimeout, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++

	if m.queryErrors > 0 {
		m.queryErrors--
		return nil, transfer.ClassifiedError(transfer.CodeProviderUnavailable, errors.New("mock provider query failure"))
	}

	t, ok := m.byRef[providerRef]
	if !ok {
		return &transfer.TransferStatus{ProviderRef: providerRef, State: transfer.StateNotFound}, nil
	}
	return &transfer.TransferStatus{ProviderRef: t.ref, State: t.state, FailureCode: t.failureCode}, nil
}

func (m *MockProvider) create(payoutID, accountRef string, amount int64, key string, state transfer.TransferState) *mockTransfer {
	t := &mockTransfer{
		ref:        "mock_tr_" + uuid.New().String(),
		key:        key,
		payoutID:   payoutID,
		accountRef: accountRef,
		amount:     amount,
		state:      state,
	}
	m.byRef[t.ref] = t
	if key != "" {
		m.byKey[key] = t
	}
	return t
}

func (m *MockProvider) result(t *mockTransfer) (*transfer.TransferResult, error) {
	if t.state == transfer.StateFailed {
		code := t.failureCode
		if code == "" {
			code = transfer.CodeTransferFailed
		}
		return nil, transfer.ClassifiedError(code, fmt.Errorf("transfer %s failed", t.ref))
	}
	return &transfer.TransferResult{ProviderRef: t.ref, State: t.state}, nil
}

func (m *MockProvider) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
