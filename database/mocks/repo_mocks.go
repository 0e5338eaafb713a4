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

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/blnkfinance/payouts/database"
	"github.com/blnkfinance/payouts/model"
)

// MockDataSource is a testify mock of database.IDataSource.
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

func (m *MockDataSource) ReservePayout(ctx context.Context, payout *model.Payout, validate database.SnapshotValidator) error {
	args := m.Called(ctx, payout, validate)
	return args.Error(0)
}

func (m *MockDataSource) UpdatePayout(ctx context.Context, payout *model.Payout, from model.PayoutState, reason string) error {
	args := m.Called(ctx, payout, from, reason)
	return args.Error(0)
}

func (m *MockDataSource) FinalizePayout(ctx context.Context, payout *model.Payout, from model.PayoutState) error {
	args := m.Called(ctx, payout, from)
	return args.Error(0)
}

func (m *MockDataSource) GetPayoutByID(ctx context.Context, payoutID string) (*model.Payout, error) {
	args := m.Called(ctx, payoutID)
	p, _ := args.Get(0).(*model.Payout)
	return p, args.Error(1)
}

func (m *MockDataSource) GetPayoutsByFingerprint(ctx context.Context, fingerprint string) ([]model.Payout, error) {
	args := m.Called(ctx, fingerprint)
	p, _ := args.Get(0).([]model.Payout)
	return p, args.Error(1)
}

func (m *MockDataSource) GetInflightPayout(ctx context.Context, creatorID string) (*model.Payout, error) {
	args := m.Called(ctx, creatorID)
	p, _ := args.Get(0).(*model.Payout)
	return p, args.Error(1)
}

func (m *MockDataSource) GetCompletedPayoutsSince(ctx context.Context, creatorID string, since time.Time) ([]model.Payout, error) {
	args := m.Called(ctx, creatorID, since)
	p, _ := args.Get(0).([]model.Payout)
	return p, args.Error(1)
}

func (m *MockDataSource) GetStalePayouts(ctx context.Context, states []model.PayoutState, updatedBefore time.Time, limit int) ([]model.Payout, error) {
	args := m.Called(ctx, states, updatedBefore, limit)
	p, _ := args.Get(0).([]model.Payout)
	return p, args.Error(1)
}

func (m *MockDataSource) GetReservedAmount(ctx context.Context, creatorID string) (int64, error) {
	args := m.Called(ctx, creatorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetPayoutTransitions(ctx context.Context, payoutID string) ([]model.PayoutTransition, error) {
	args := m.Called(ctx, payoutID)
	t, _ := args.Get(0).([]model.PayoutTransition)
	return t, args.Error(1)
}

func (m *MockDataSource) GetUnpaidStatements(ctx context.Context, creatorID string) ([]model.Statement, error) {
	args := m.Called(ctx, creatorID)
	s, _ := args.Get(0).([]model.Statement)
	return s, args.Error(1)
}

func (m *MockDataSource) GetPendingStatementAmount(ctx context.Context, creatorID string) (int64, error) {
	args := m.Called(ctx, creatorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetStatementsByIDs(ctx context.Context, statementIDs []string) ([]model.Statement, error) {
	args := m.Called(ctx, statementIDs)
	s, _ := args.Get(0).([]model.Statement)
	return s, args.Error(1)
}

func (m *MockDataSource) RecordTransferAttempt(ctx context.Context, attempt *model.TransferAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockDataSource) GetTransferAttempts(ctx context.Context, payoutID string) ([]model.TransferAttempt, error) {
	args := m.Called(ctx, payoutID)
	a, _ := args.Get(0).([]model.TransferAttempt)
	return a, args.Error(1)
}
