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

package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/blnkfinance/payouts/model"
)

// ErrAccountNotFound is returned by an AccountService that has no record of the creator.
var ErrAccountNotFound = errors.New("creator account not found")

const defaultBatchConcurrency = 4

// AccountService is the identity module's read-only view of payee accounts.
type AccountService interface {
	GetAccountStatus(ctx context.Context, creatorID string) (*model.AccountStatus, error)
}

// StatementSource resolves the statements a payout would settle.
type StatementSource interface {
	GetStatementsByIDs(ctx context.Context, statementIDs []string) ([]model.Statement, error)
}

// Checker decides whether a creator can receive a transfer right now. It has
// no side effects.
type Checker struct {
	accounts         AccountService
	statements       StatementSource
	batchConcurrency int
}

// NewChecker builds a Checker over the identity service and statement store.
func NewChecker(accounts AccountService, statements StatementSource) *Checker {
	return &Checker{
		accounts:         accounts,
		statements:       statements,
		batchConcurrency: defaultBatchConcurrency,
	}
}

// WithBatchConcurrency bounds the number of concurrent account lookups in
// CheckEligibilityBatch.
func (c *Checker) WithBatchConcurrency(n int) *Checker {
	if n > 0 {
		c.batchConcurrency = n
	}
	return c
}

// CheckEligibility evaluates the account-level checks only.
func (c *Checker) CheckEligibility(ctx context.Context, creatorID string) (model.EligibilityResult, error) {
	result, _, err := c.evaluate(ctx, creatorID, nil)
	return result, err
}

// CheckEligibilityForStatements additionally rejects statements that are
// under dispute. It also returns the creator's account so callers can route
// the transfer.
func (c *Checker) CheckEligibilityForStatements(ctx context.Context, creatorID string, statementIDs []string) (model.EligibilityResult, *model.AccountStatus, error) {
	return c.evaluate(ctx, creatorID, statementIDs)
}

func (c *Checker) evaluate(ctx context.Context, creatorID string, statementIDs []string) (model.EligibilityResult, *model.AccountStatus, error) {
	account, err := c.accounts.GetAccountStatus(ctx, creatorID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return model.EligibilityResult{}, nil, fmt.Errorf("get account status for %s: %w", creatorID, err)
		}
		account = &model.AccountStatus{CreatorID: creatorID}
	}

	var disputed []string
	if len(statementIDs) > 0 && c.statements != nil {
		statements, err := c.statements.GetStatementsByIDs(ctx, statementIDs)
		if err != nil {
			return model.EligibilityResult{}, nil, fmt.Errorf("load statements for %s: %w", creatorID, err)
		}
		for _, s := range statements {
			if s.Disputed {
				disputed = append(disputed, s.StatementID)
			}
		}
	}

	return Evaluate(creatorID, account, disputed), account, nil
}

// Evaluate runs every check against account and the given disputed statement
// ids and aggregates all failing reasons in check order.
func Evaluate(creatorID string, account *model.AccountStatus, disputed []string) model.EligibilityResult {
	var reasons []model.Reason

	if !account.Onboarded || account.ProviderAccountRef == "" {
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonNotOnboarded,
			Message: "connect a payout account and complete onboarding",
		})
	}
	if !account.Capable {
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonCapabilityInactive,
			Message: "transfers are not yet enabled on your payout account",
		})
	}
	switch account.Standing {
	case model.StandingLocked:
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonAccountLocked,
			Message: "your account is locked, please contact support",
		})
	case model.StandingSuspended:
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonAccountSuspended,
			Message: "your account is suspended, please contact support",
		})
	}
	if len(disputed) > 0 {
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonStatementDisputed,
			Message: fmt.Sprintf("statements under dispute cannot be paid out: %s", strings.Join(disputed, ", ")),
		})
	}
	if !account.Verified {
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonVerificationPending,
			Message: "complete identity verification to receive payouts",
		})
	}

	return model.EligibilityResult{
		CreatorID: creatorID,
		Eligible:  len(reasons) == 0,
		Reasons:   reasons,
	}
}

// CheckEligibilityBatch evaluates many creators concurrently. A lookup
// failure for one creator marks that creator ineligible instead of failing
// the batch.
func (c *Checker) CheckEligibilityBatch(ctx context.Context, creatorIDs []string) (map[string]model.EligibilityResult, error) {
	results := make(map[string]model.EligibilityResult, len(creatorIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchConcurrency)

	for _, id := range creatorIDs {
		creatorID := id
		g.Go(func() error {
			result, err := c.CheckEligibility(gctx, creatorID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logrus.WithError(err).WithField("creator_id", creatorID).Warn("eligibility lookup failed")
				result = model.EligibilityResult{
					CreatorID: creatorID,
					Reasons: []model.Reason{{
						Code:    model.ReasonStatusUnavailable,
						Message: "account status is temporarily unavailable, please try again later",
					}},
				}
			}
			mu.Lock()
			results[creatorID] = result
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
