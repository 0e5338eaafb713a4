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

package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPayoutNotFound    = errors.New("payout not found")
	ErrInvalidStatements = errors.New("one or more statements cannot be paid out")
	ErrNoPayableAmount   = errors.New("no payable statements for creator")
)

// UserFacing is implemented by errors that carry a message safe to show end users.
type UserFacing interface {
	UserMessage() string
}

// UserMessage returns the actionable message for err, or a generic one when err
// carries no user-facing text. Raw provider codes never leave this function.
func UserMessage(err error) string {
	var uf UserFacing
	if errors.As(err, &uf) {
		return uf.UserMessage()
	}
	return "something went wrong while processing the payout, please try again later"
}

type IneligibleAccountError struct {
	CreatorID string
	Reasons   []Reason
}

func (e *IneligibleAccountError) Error() string {
	codes := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		codes = append(codes, string(r.Code))
	}
	return fmt.Sprintf("creator %s is not eligible for payout: %s", e.CreatorID, strings.Join(codes, ", "))
}

func (e *IneligibleAccountError) UserMessage() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		msgs = append(msgs, r.Message)
	}
	return strings.Join(msgs, "; ")
}

type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) UserMessage() string {
	return fmt.Sprintf("the requested amount exceeds your available balance of %d", e.Available)
}

type BelowMinimumThresholdError struct {
	Requested int64
	Minimum   int64
}

func (e *BelowMinimumThresholdError) Error() string {
	return fmt.Sprintf("amount %d is below the minimum payout threshold %d", e.Requested, e.Minimum)
}

func (e *BelowMinimumThresholdError) UserMessage() string {
	return fmt.Sprintf("payouts must be at least %d", e.Minimum)
}

type DuplicatePayoutError struct {
	CreatorID        string
	ExistingPayoutID string
}

func (e *DuplicatePayoutError) Error() string {
	if e.ExistingPayoutID == "" {
		return fmt.Sprintf("a payout for creator %s is already in progress", e.CreatorID)
	}
	return fmt.Sprintf("duplicate payout for creator %s: payout %s is already in progress", e.CreatorID, e.ExistingPayoutID)
}

func (e *DuplicatePayoutError) UserMessage() string {
	return "a payout is already being processed for this account"
}

// ProviderTransientError is a provider failure worth retrying. Known is false when
// the provider code was not in the classification table.
type ProviderTransientError struct {
	Code  string
	Known bool
	Err   error
}

func (e *ProviderTransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient provider error %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transient provider error %s", e.Code)
}

func (e *ProviderTransientError) Unwrap() error { return e.Err }

func (e *ProviderTransientError) UserMessage() string {
	return "the payment provider is temporarily unavailable, the payout will be retried"
}

// ProviderPermanentError is a provider failure that no retry will fix. Reason is
// the mapped failure reason stored on the payout.
type ProviderPermanentError struct {
	Code    string
	Reason  string
	Message string
}

func (e *ProviderPermanentError) Error() string {
	return fmt.Sprintf("permanent provider error %s: %s", e.Code, e.Reason)
}

func (e *ProviderPermanentError) UserMessage() string {
	return e.Message
}

type ReconciliationMismatchError struct {
	PayoutID      string
	ProviderRef   string
	LocalState    PayoutState
	ProviderState string
}

func (e *ReconciliationMismatchError) Error() string {
	return fmt.Sprintf("reconciliation mismatch for payout %s (provider ref %s): local state %s, provider state %s",
		e.PayoutID, e.ProviderRef, e.LocalState, e.ProviderState)
}

func (e *ReconciliationMismatchError) UserMessage() string {
	return "the payout is under manual review"
}
