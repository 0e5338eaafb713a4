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
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const DefaultRequestedBy = "creator"

type RequestPayout struct {
	CreatorID    string   `json:"creator_id"`
	StatementIDs []string `json:"statement_ids"`
	RequestedBy  string   `json:"requested_by"`
}

// PayoutInclude lists the audit records GET /payouts/:id should embed.
type PayoutInclude struct {
	Attempts    bool
	Transitions bool
}

const (
	IncludeAttempts    = "attempts"
	IncludeTransitions = "transitions"
)

type TriggerSweep struct {
	StalenessSeconds int `json:"staleness_seconds"`
}

func (r *RequestPayout) ValidateRequestPayout() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CreatorID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.StatementIDs, validation.Each(validation.Required, validation.Length(1, 128))),
		validation.Field(&r.RequestedBy, validation.Length(0, 64)),
	)
}

// Requester returns who asked for the payout, defaulting to the creator.
func (r *RequestPayout) Requester() string {
	if r.RequestedBy == "" {
		return DefaultRequestedBy
	}
	return r.RequestedBy
}

func (s *TriggerSweep) ValidateTriggerSweep() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.StalenessSeconds, validation.Required, validation.Min(1)),
	)
}

// ParseInclude reads a comma separated include query value.
func ParseInclude(raw string) (PayoutInclude, error) {
	var include PayoutInclude
	if strings.TrimSpace(raw) == "" {
		return include, nil
	}

	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if err := validation.Validate(parts, validation.Each(validation.Required, validation.In(IncludeAttempts, IncludeTransitions))); err != nil {
		return include, err
	}

	for _, part := range parts {
		switch part {
		case IncludeAttempts:
			include.Attempts = true
		case IncludeTransitions:
			include.Transitions = true
		}
	}
	return include, nil
}

// Any reports whether anything beyond the payout itself was asked for.
func (i PayoutInclude) Any() bool {
	return i.Attempts || i.Transitions
}
