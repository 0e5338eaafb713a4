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

// Statement is a royalty statement owed to a creator. The royalty module owns it;
// the payout engine only flips Paid when a payout completes.
type Statement struct {
	StatementID string    `json:"statement_id"`
	CreatorID   string    `json:"creator_id"`
	NetAmount   int64     `json:"net_amount"`
	Currency    string    `json:"currency"`
	Paid        bool      `json:"paid"`
	Disputed    bool      `json:"disputed"`
	Finalized   bool      `json:"finalized"`
	PayoutID    *string   `json:"payout_id,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	CreatedAt   time.Time `json:"created_at"`
}

// SumStatements adds up the net payable amount of the given statements.
func SumStatements(statements []Statement) int64 {
	var total int64
	for _, s := range statements {
		total += s.NetAmount
	}
	return total
}

// StatementIDs returns the ids of the given statements in order.
func StatementIDs(statements []Statement) []string {
	ids := make([]string, 0, len(statements))
	for _, s := range statements {
		ids = append(ids, s.StatementID)
	}
	return ids
}
