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

// Package transfer wraps the external payment provider's transfer API. Every
// submission carries an idempotency key and every failure is classified as
// retryable or permanent.
package transfer

import (
	"context"
	"errors"
	"strings"

	"github.com/blnkfinance/payouts/model"
)

type TransferState string

const (
	StatePending   TransferState = "PENDING"
	StateSucceeded TransferState = "SUCCEEDED"
	StateFailed    TransferState = "FAILED"
	StateNotFound  TransferState = "NOT_FOUND"
)

// TransferResult is the provider's answer to a submission.
type TransferResult struct {
	ProviderRef string        `json:"provider_ref"`
	State       TransferState `json:"state"`
}

// TransferStatus is the provider's authoritative view of a transfer.
type TransferStatus struct {
	ProviderRef string        `json:"provider_ref"`
	State       TransferState `json:"state"`
	FailureCode string        `json:"failure_code,omitempty"`
}

// Client submits transfers and queries their status. Submit errors are
// always *model.ProviderTransientError or *model.ProviderPermanentError.
type Client interface {
	Submit(ctx context.Context, payoutID, accountRef string, amount int64, idempotencyKey string) (*TransferResult, error)
	QueryStatus(ctx context.Context, providerRef string) (*TransferStatus, error)
}

// ParseState maps provider status strings onto TransferState. Unrecognized
// values are treated as still in progress.
func ParseState(status string) TransferState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "success", "paid", "completed":
		return StateSucceeded
	case "failed", "canceled", "cancelled", "reversed", "returned":
		return StateFailed
	case "not_found":
		return StateNotFound
	default:
		return StatePending
	}
}

// AsClassified returns err unchanged if it is already a classified provider
// error, and otherwise wraps it as a transient timeout.
func AsClassified(err error) error {
	if err == nil {
		return nil
	}
	var transient *model.ProviderTransientError
	var permanent *model.ProviderPermanentError
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}
	return ClassifiedError(CodeTimeout, err)
}
