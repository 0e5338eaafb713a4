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
	"fmt"
	"time"
)

type PayoutState string

const (
	StateRequested      PayoutState = "REQUESTED"
	StateEligible       PayoutState = "ELIGIBLE"
	StateReserved       PayoutState = "RESERVED"
	StateSubmitted      PayoutState = "SUBMITTED"
	StateRetryScheduled PayoutState = "RETRY_SCHEDULED"
	StateCompleted      PayoutState = "COMPLETED"
	StateFailed         PayoutState = "FAILED"
)

// NonTerminalStates are the states that hold a claim on the creator's balance.
var NonTerminalStates = []PayoutState{StateReserved, StateSubmitted, StateRetryScheduled}

var transitions = map[PayoutState][]PayoutState{
	StateRequested:      {StateEligible},
	StateEligible:       {StateReserved},
	StateReserved:       {StateSubmitted, StateRetryScheduled, StateFailed},
	StateSubmitted:      {StateCompleted, StateRetryScheduled, StateFailed},
	StateRetryScheduled: {StateSubmitted, StateCompleted, StateFailed},
}

// CanTransition reports whether a payout may move from one state to another.
func CanTransition(from, to PayoutState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s PayoutState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// HoldsReservation is true for states that count towards the reserved balance.
func (s PayoutState) HoldsReservation() bool {
	for _, st := range NonTerminalStates {
		if s == st {
			return true
		}
	}
	return false
}

// Payout is one transfer of a creator's earnings to their payment account.
type Payout struct {
	PayoutID            string      `json:"payout_id"`
	CreatorID           string      `json:"creator_id"`
	Amount              int64       `json:"amount"`
	Currency            string      `json:"currency"`
	DestinationRef      string      `json:"destination_ref"`
	Fingerprint         string      `json:"-"`
	IdempotencyKey      string      `json:"idempotency_key"`
	State               PayoutState `json:"state"`
	ProviderTransferRef *string     `json:"provider_transfer_ref,omitempty"`
	RetryCount          int         `json:"retry_count"`
	LastRetryAt         *time.Time  `json:"last_retry_at,omitempty"`
	FailureReason       *string     `json:"failure_reason,omitempty"`
	FailureMessage      *string     `json:"failure_message,omitempty"`
	StatementIDs        []string    `json:"statement_ids"`
	RequestedBy         string      `json:"requested_by"`
	Version             int64       `json:"-"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// TransitionTo moves the payout to the next state, rejecting moves the state
// machine does not allow. It returns the previous state.
func (p *Payout) TransitionTo(to PayoutState) (PayoutState, error) {
	from := p.State
	if !CanTransition(from, to) {
		return from, fmt.Errorf("invalid payout transition from %s to %s", from, to)
	}
	p.State = to
	return from, nil
}

func (p *Payout) HasProviderRef() bool {
	return p.ProviderTransferRef != nil && *p.ProviderTransferRef != ""
}

// PayoutTransition is one append-only entry of a payout's state history.
type PayoutTransition struct {
	PayoutID  string      `json:"payout_id"`
	FromState PayoutState `json:"from_state"`
	ToState   PayoutState `json:"to_state"`
	Reason    string      `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type AttemptOutcome string

const (
	OutcomeSuccess          AttemptOutcome = "success"
	OutcomeTransientFailure AttemptOutcome = "transient_failure"
	OutcomePermanentFailure AttemptOutcome = "permanent_failure"
)

// TransferAttempt records a single submission to the payment provider.
type TransferAttempt struct {
	AttemptID      string         `json:"attempt_id"`
	PayoutID       string         `json:"payout_id"`
	AttemptNumber  int            `json:"attempt_number"`
	IdempotencyKey string         `json:"idempotency_key"`
	ResponseCode   string         `json:"response_code"`
	Outcome        AttemptOutcome `json:"outcome"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PayoutDetails is a payout with the parts of its audit trail a caller asked
// for.
type PayoutDetails struct {
	*Payout
	Attempts    []TransferAttempt  `json:"attempts,omitempty"`
	Transitions []PayoutTransition `json:"transitions,omitempty"`
}
