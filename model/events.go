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

import "time"

type EventType string

const (
	EventPayoutCompleted EventType = "payout.completed"
	EventPayoutFailed    EventType = "payout.failed"
)

// PayoutEvent is emitted once a payout reaches a terminal state.
type PayoutEvent struct {
	EventID    string    `json:"event_id"`
	Type       EventType `json:"type"`
	Payout     Payout    `json:"payout"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewPayoutEvent snapshots payout into an event of the given type.
func NewPayoutEvent(eventType EventType, payout Payout) PayoutEvent {
	event := PayoutEvent{
		EventID:    GenerateUUIDWithSuffix("evt"),
		Type:       eventType,
		Payout:     payout,
		OccurredAt: time.Now().UTC(),
	}
	if payout.FailureMessage != nil {
		event.Reason = *payout.FailureMessage
	}
	return event
}
