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

const (
	FailureRetriesExhausted   = "retries_exhausted"
	FailureAccountClosed      = "destination_account_closed"
	FailureAccountRestricted  = "destination_account_restricted"
	FailureInvalidAccount     = "invalid_destination_account"
	FailureComplianceBlock    = "compliance_block"
	FailureProviderError      = "provider_error"
	FailureProviderRejected   = "provider_rejected"
	FailureEligibilityRevoked = "eligibility_revoked"
)

var failureMessages = map[string]string{
	FailureRetriesExhausted:   "the payment provider could not complete the transfer after several attempts, please try again later",
	FailureAccountClosed:      "destination account closed, please connect a new payout account",
	FailureAccountRestricted:  "destination account is restricted, please contact your payment provider",
	FailureInvalidAccount:     "destination account details are invalid, please update your payout account",
	FailureComplianceBlock:    "the transfer was blocked for compliance review, please contact support",
	FailureProviderError:      "the payment provider rejected the transfer, please contact support",
	FailureProviderRejected:   "the payment provider reported the transfer as failed, please try again",
	FailureEligibilityRevoked: "your account is no longer eligible for payouts, please review your account settings",
}

// FailureMessage maps a stored failure reason to its user-facing text.
func FailureMessage(reason string) string {
	if msg, ok := failureMessages[reason]; ok {
		return msg
	}
	return failureMessages[FailureProviderError]
}

// MarkFailed records a failure reason and its user-facing message on the payout.
func (p *Payout) MarkFailed(reason string) {
	msg := FailureMessage(reason)
	p.FailureReason = &reason
	p.FailureMessage = &msg
}
