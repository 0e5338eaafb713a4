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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/payouts/model"
)

// IDataSource is the ledger store the payout engine depends on.
type IDataSource interface {
	payout
	statement
	transferAttempt
}

// SnapshotValidator runs inside the reservation transaction against the
// balance read under the creator lock. A non-nil error aborts the reservation.
type SnapshotValidator func(snapshot model.BalanceSnapshot) error

type payout interface {
	ReservePayout(ctx context.Context, payout *model.Payout, validate SnapshotValidator) error
	UpdatePayout(ctx context.Context, payout *model.Payout, from model.PayoutState, reason string) error
	FinalizePayout(ctx context.Context, payout *model.Payout, from model.PayoutState) error
	GetPayoutByID(ctx context.Context, payoutID string) (*model.Payout, error)
	GetPayoutsByFingerprint(ctx context.Context, fingerprint string) ([]model.Payout, error)
	GetInflightPayout(ctx context.Context, creatorID string) (*model.Payout, error)
	GetCompletedPayoutsSince(ctx context.Context, creatorID string, since time.Time) ([]model.Payout, error)
	GetStalePayouts(ctx context.Context, states []model.PayoutState, updatedBefore time.Time, limit int) ([]model.Payout, error)
	GetReservedAmount(ctx context.Context, creatorID string) (int64, error)
	GetPayoutTransitions(ctx context.Context, payoutID string) ([]model.PayoutTransition, error)
}

type statement interface {
	GetUnpaidStatements(ctx context.Context, creatorID string) ([]model.Statement, error)
	GetPendingStatementAmount(ctx context.Context, creatorID string) (int64, error)
	GetStatementsByIDs(ctx context.Context, statementIDs []string) ([]model.Statement, error)
}

type transferAttempt interface {
	RecordTransferAttempt(ctx context.Context, attempt *model.TransferAttempt) error
	GetTransferAttempts(ctx context.Context, payoutID string) ([]model.TransferAttempt, error)
}
