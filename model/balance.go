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

// Balance is a creator's payout balance in minor currency units.
type Balance struct {
	CreatorID string `json:"creator_id"`
	Total     int64  `json:"total"`
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
	Reserved  int64  `json:"reserved"`
}

// BalanceSnapshot is the raw ledger state read under the reservation lock.
type BalanceSnapshot struct {
	CreatorID string
	Total     int64
	Reserved  int64
}
