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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// Fingerprint derives the deterministic identity of a logical payout request.
// Statement ids are sorted so that the order callers pass them in does not matter,
// and the time bucket bounds how long a replay maps onto the same payout.
func Fingerprint(creatorID string, statementIDs []string, amount int64, bucket time.Time) string {
	ids := make([]string, len(statementIDs))
	copy(ids, statementIDs)
	sort.Strings(ids)

	data := fmt.Sprintf("%s|%s|%d|%d", creatorID, strings.Join(ids, ","), amount, bucket.UTC().Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// IdempotencyKeyFor returns the provider-facing idempotency key for a fingerprint.
// Generation 0 is the fingerprint itself; later generations exist only after a
// previous payout with the same fingerprint failed.
func IdempotencyKeyFor(fingerprint string, generation int) string {
	if generation <= 0 {
		return fingerprint
	}
	return fmt.Sprintf("%s-%d", fingerprint, generation)
}
