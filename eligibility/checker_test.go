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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/payouts/database/mocks"
	"github.com/blnkfinance/payouts/model"
)

type fakeAccounts struct {
	accounts map[string]*model.AccountStatus
	errs     map[string]error
	calls    int32
}

func (f *fakeAccounts) GetAccountStatus(_ context.Context, creatorID string) (*model.AccountStatus, error) {
	atomic.AddInt32(&f.calls, 1)
	if err, ok := f.errs[creatorID]; ok {
		return nil, err
	}
	if a, ok := f.accounts[creatorID]; ok {
		return a, nil
	}
	return nil, ErrAccountNotFound
}

func goodAccount(creatorID string) *model.AccountStatus {
	return &model.AccountStatus{
		CreatorID:          creatorID,
		ProviderAccountRef: "acct_" + creatorID,
		Onboarded:          true,
		Capable:            true,
		Standing:           model.StandingGood,
		Verified:           true,
	}
}

func codes(result model.EligibilityResult) []model.ReasonCode {
	out := make([]model.ReasonCode, 0, len(result.Reasons))
	for _, r := range result.Reasons {
		out = append(out, r.Code)
	}
	return out
}

func TestCheckEligibility_Eligible(t *testing.T) {
	checker := NewChecker(&fakeAccounts{accounts: map[string]*model.AccountStatus{"c1": goodAccount("c1")}}, nil)

	result, err := checker.CheckEligibility(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, result.Eligible)
	assert.Empty(t, result.Reasons)
	assert.Equal(t, "c1", result.CreatorID)
}

func TestCheckEligibility_AggregatesEveryReasonInOrder(t *testing.T) {
	account := &model.AccountStatus{
		CreatorID: "c1",
		Onboarded: true,
		Capable:   false,
		Standing:  model.StandingSuspended,
		Verified:  false,
	}
	checker := NewChecker(&fakeAccounts{accounts: map[string]*model.AccountStatus{"c1": account}}, nil)

	result, err := checker.CheckEligibility(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, []model.ReasonCode{
		model.ReasonNotOnboarded,
		model.ReasonCapabilityInactive,
		model.ReasonAccountSuspended,
		model.ReasonVerificationPending,
	}, codes(result))
}

func TestCheckEligibility_UnknownAccountIsNotOnboarded(t *testing.T) {
	checker := NewChecker(&fakeAccounts{}, nil)

	result, err := checker.CheckEligibility(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Contains(t, codes(result), model.ReasonNotOnboarded)
}

func TestCheckEligibility_ServiceError(t *testing.T) {
	checker := NewChecker(&fakeAccounts{errs: map[string]error{"c1": errors.New("dial tcp: i/o timeout")}}, nil)

	_, err := checker.CheckEligibility(context.Background(), "c1")
	assert.ErrorContains(t, err, "i/o timeout")
}

func TestCheckEligibilityForStatements_Disputed(t *testing.T) {
	ds := new(mocks.MockDataSource)
	ds.On("GetStatementsByIDs", mock.Anything, []string{"s1", "s2"}).Return([]model.Statement{
		{StatementID: "s1", CreatorID: "c1"},
		{StatementID: "s2", CreatorID: "c1", Disputed: true},
	}, nil)

	account := goodAccount("c1")
	account.Standing = model.StandingLocked
	checker := NewChecker(&fakeAccounts{accounts: map[string]*model.AccountStatus{"c1": account}}, ds)

	result, gotAccount, err := checker.CheckEligibilityForStatements(context.Background(), "c1", []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, account, gotAccount)
	assert.Equal(t, []model.ReasonCode{model.ReasonAccountLocked, model.ReasonStatementDisputed}, codes(result))
	assert.Contains(t, result.Reasons[1].Message, "s2")
	ds.AssertExpectations(t)
}

func TestCheckEligibilityBatch(t *testing.T) {
	accounts := &fakeAccounts{
		accounts: map[string]*model.AccountStatus{
			"c1": goodAccount("c1"),
			"c2": {CreatorID: "c2", Onboarded: true, ProviderAccountRef: "acct", Capable: true, Verified: false},
		},
		errs: map[string]error{"c3": errors.New("503 from identity service")},
	}
	checker := NewChecker(accounts, nil).WithBatchConcurrency(2)

	results, err := checker.CheckEligibilityBatch(context.Background(), []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results["c1"].Eligible)
	assert.Equal(t, []model.ReasonCode{model.ReasonVerificationPending}, codes(results["c2"]))
	assert.False(t, results["c3"].Eligible)
	assert.Equal(t, []model.ReasonCode{model.ReasonStatusUnavailable}, codes(results["c3"]))
	assert.Equal(t, int32(3), atomic.LoadInt32(&accounts.calls))
}

func TestCheckEligibilityBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	accounts := &fakeAccounts{errs: map[string]error{"c1": context.Canceled}}
	_, err := NewChecker(accounts, nil).CheckEligibilityBatch(ctx, []string{"c1"})
	assert.ErrorIs(t, err, context.Canceled)
}
