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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
)

// RecordTransferAttempt appends one provider submission to the attempt log.
func (d Datasource) RecordTransferAttempt(ctx context.Context, attempt *model.TransferAttempt) error {
	if attempt.AttemptID == "" {
		attempt.AttemptID = model.GenerateUUIDWithSuffix("attempt")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payouts.transfer_attempts (attempt_id, payout_id, attempt_number, idempotency_key, response_code, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.AttemptID, attempt.PayoutID, attempt.AttemptNumber, attempt.IdempotencyKey,
		attempt.ResponseCode, string(attempt.Outcome), attempt.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apierror.NewAPIError(apierror.ErrConflict, "Transfer attempt already recorded", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transfer attempt", err)
	}
	return nil
}

// GetTransferAttempts lists a payout's provider submissions in order.
func (d Datasource) GetTransferAttempts(ctx context.Context, payoutID string) ([]model.TransferAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, payout_id, attempt_number, idempotency_key, response_code, outcome, created_at
		FROM payouts.transfer_attempts
		WHERE payout_id = $1
		ORDER BY attempt_number ASC`, payoutID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transfer attempts", err)
	}
	defer rows.Close()

	var attempts []model.TransferAttempt
	for rows.Next() {
		var a model.TransferAttempt
		if err := rows.Scan(&a.AttemptID, &a.PayoutID, &a.AttemptNumber, &a.IdempotencyKey, &a.ResponseCode, &a.Outcome, &a.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transfer attempt", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transfer attempts", err)
	}
	return attempts, nil
}
