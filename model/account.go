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

type Standing string

const (
	StandingGood      Standing = "good"
	StandingLocked    Standing = "locked"
	StandingSuspended Standing = "suspended"
)

// AccountStatus is the identity service's view of a creator's payee account.
type AccountStatus struct {
	CreatorID          string   `json:"creator_id"`
	ProviderAccountRef string   `json:"provider_account_ref"`
	Onboarded          bool     `json:"onboarded"`
	Capable            bool     `json:"capable"`
	Standing           Standing `json:"standing"`
	Verified           bool     `json:"verified"`
}

type ReasonCode string

const (
	ReasonNotOnboarded        ReasonCode = "account_not_onboarded"
	ReasonCapabilityInactive  ReasonCode = "transfer_capability_inactive"
	ReasonAccountLocked       ReasonCode = "account_locked"
	ReasonAccountSuspended    ReasonCode = "account_suspended"
	ReasonStatementDisputed   ReasonCode = "statement_disputed"
	ReasonVerificationPending ReasonCode = "verification_incomplete"
	ReasonStatusUnavailable   ReasonCode = "account_status_unavailable"
)

type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

type EligibilityResult struct {
	CreatorID string   `json:"creator_id"`
	Eligible  bool     `json:"eligible"`
	Reasons   []Reason `json:"reasons"`
}
