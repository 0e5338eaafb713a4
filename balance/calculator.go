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

// Package balance computes creator payout balances from unpaid statements and
// in-flight payouts.
package balance

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/blnkfinance/payouts/model"
)

// StatementSource reads the royalty statements owed to a creator.
type StatementSource interface {
	GetUnpaidStatements(ctx context.Context, creatorID string) ([]model.Statement, error)
	GetPendingStatementAmount(ctx context.Context, creatorID string) (int64, error)
}

// PayoutSource reports the amount held by a creator's non-terminal payouts.
type PayoutSource interface {
	GetReservedAmount(ctx context.Context, creatorID string) (int64, error)
}

// Calculator derives balances and validates requested amounts against them.
type Calculator struct {
	statements        StatementSource
	payouts           PayoutSource
	reservePercentage decimal.Decimal
	minimumThreshold  int64
}

// NewCalculator builds a Calculator. reservePercentage is the fraction of the
// total held back from payouts, e.g. 0.1 for 10%.
func NewCalculator(statements StatementSource, payouts PayoutSource, reservePercentage decimal.Decimal, minimumThreshold int64) *Calculator {
	return &Calculator{
		statements:        statements,
		payouts:           payouts,
		reservePercentage: reservePercentage,
		minimumThreshold:  minimumThreshold,
	}
}

// Available is total less reserved less the held-back share of total,
// floored at zero. The held-back share is rounded up.
func Available(total, reserved int64, reservePercentage decimal.Decimal) int64 {
	holdback := decimal.NewFromInt(total).Mul(reservePercentage).Ceil().IntPart()
	available := total - reserved - holdback
	if available < 0 {
		return 0
	}
	return available
}

// MinimumThreshold is the smallest amount a single payout may move.
func (c *Calculator) MinimumThreshold() int64 {
	return c.minimumThreshold
}

// ComputeBalance reads the creator's unpaid statements and in-flight payouts
// and returns total, available, pending and reserved amounts.
func (c *Calculator) ComputeBalance(ctx context.Context, creatorID string) (model.Balance, error) {
	statements, err := c.statements.GetUnpaidStatements(ctx, creatorID)
	if err != nil {
		return model.Balance{}, err
	}
	pending, err := c.statements.GetPendingStatementAmount(ctx, creatorID)
	if err != nil {
		return model.Balance{}, err
	}
	reserved, err := c.payouts.GetReservedAmount(ctx, creatorID)
	if err != nil {
		return model.Balance{}, err
	}

	total := model.SumStatements(statements)
	return model.Balance{
		CreatorID: creatorID,
		Total:     total,
		Reserved:  reserved,
		Pending:   pending,
		Available: Available(total, reserved, c.reservePercentage),
	}, nil
}

// ValidateRequestedAmount returns an InsufficientBalanceError when amount
// exceeds the creator's available balance.
func (c *Calculator) ValidateRequestedAmount(ctx context.Context, creatorID string, amount int64) error {
	b, err := c.ComputeBalance(ctx, creatorID)
	if err != nil {
		return err
	}
	if amount > b.Available {
		return &model.InsufficientBalanceError{Requested: amount, Available: b.Available}
	}
	return nil
}

// CheckMinimumThreshold returns a BelowMinimumThresholdError for amounts
// under the configured minimum.
func (c *Calculator) CheckMinimumThreshold(amount int64) error {
	if amount < c.minimumThreshold {
		return &model.BelowMinimumThresholdError{Requested: amount, Minimum: c.minimumThreshold}
	}
	return nil
}

// SnapshotValidator re-validates amount against a balance snapshot taken
// inside the reservation transaction.
func (c *Calculator) SnapshotValidator(amount int64) func(model.BalanceSnapshot) error {
	return func(s model.BalanceSnapshot) error {
		available := Available(s.Total, s.Reserved, c.reservePercentage)
		if amount > available {
			return &model.InsufficientBalanceError{Requested: amount, Available: available}
		}
		return nil
	}
}
