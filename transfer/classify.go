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

package transfer

import (
	"strings"

	"github.com/blnkfinance/payouts/model"
)

// Provider error codes.
const (
	CodeRateLimited               = "rate_limited"
	CodeTimeout                   = "timeout"
	CodeProviderUnavailable       = "provider_unavailable"
	CodeInsufficientPlatformFunds = "insufficient_platform_funds"

	CodeAccountClosed     = "account_closed"
	CodeAccountRestricted = "account_restricted"
	CodeInvalidAccount    = "invalid_account"
	CodeComplianceBlock   = "compliance_block"
	CodeTransferFailed    = "transfer_failed"
)

var retryableCodes = map[string]bool{
	CodeRateLimited:               true,
	CodeTimeout:                   true,
	CodeProviderUnavailable:       true,
	CodeInsufficientPlatformFunds: true,
}

var permanentReasons = map[string]string{
	CodeAccountClosed:     model.FailureAccountClosed,
	CodeAccountRestricted: model.FailureAccountRestricted,
	CodeInvalidAccount:    model.FailureInvalidAccount,
	CodeComplianceBlock:   model.FailureComplianceBlock,
	CodeTransferFailed:    model.FailureProviderRejected,
}

// Classification is the outcome of mapping a provider code. Known is false
// for codes missing from the table; those are retryable but the caller caps
// how often.
type Classification struct {
	Retryable bool
	Known     bool
	Reason    string
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func Classify(code string) Classification {
	code = normalizeCode(code)
	if retryableCodes[code] {
		return Classification{Retryable: true, Known: true}
	}
	if reason, ok := permanentReasons[code]; ok {
		return Classification{Retryable: false, Known: true, Reason: reason}
	}
	return Classification{Retryable: true, Known: false}
}

// ClassifiedError builds the tagged error for a provider code.
func ClassifiedError(code string, cause error) error {
	code = normalizeCode(code)
	c := Classify(code)
	if c.Retryable {
		return &model.ProviderTransientError{Code: code, Known: c.Known, Err: cause}
	}
	return &model.ProviderPermanentError{
		Code:    code,
		Reason:  c.Reason,
		Message: model.FailureMessage(c.Reason),
	}
}
