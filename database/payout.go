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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/internal/cache"
	"github.com/blnkfinance/payouts/model"
)

const (
	payoutColumns = `payout_id, creator_id, amount, currency, destination_ref, fingerprint, idempotency_key, state,
		provider_transfer_ref, retry_count, last_retry_at, failure_reason, failure_message,
		statement_ids, requested_by, version, created_at, updated_at`

	inflightConstraint = "uq_payouts_creator_in_flight"
	payoutCacheTTL     = 10 * time.Minute
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayout(row rowScanner) (model.Payout, error) {
	var p model.Payout
	err := row.Scan(
		&p.PayoutID, &p.CreatorID, &p.Amount, &p.Currency, &p.DestinationRef, &p.Fingerprint, &p.IdempotencyKey, &p.State,
		&p.ProviderTransferRef, &p.RetryCount, &p.LastRetryAt, &p.FailureReason, &p.FailureMessage,
		pq.Array(&p.StatementIDs), &p.RequestedBy, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func stateNames(states []model.PayoutState) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return names
}

func payoutCacheKey(payoutID string) string {
	return "payout:" + payoutID
}

// ReservePayout inserts payout in RESERVED state. Under a transaction-scoped
// advisory lock on the creator it re-checks that nothing else is in flight,
// that the linked statements are still payable (finalized, unpaid, undisputed), and hands the fresh balance
// snapshot to validate before inserting.
func (d Datasource) ReservePayout(ctx context.Context, p *model.Payout, validate SnapshotValidator) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.CreatorID); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock creator", err)
	}

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT payout_id FROM payouts.payouts
		WHERE creator_id = $1 AND state = ANY($2)
		LIMIT 1`, p.CreatorID, pq.Array(stateNames(model.NonTerminalStates))).Scan(&existing)
	switch {
	case err == nil:
		return &model.DuplicatePayoutError{CreatorID: p.CreatorID, ExistingPayoutID: existing}
	case !errors.Is(err, sql.ErrNoRows):
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check in-flight payouts", err)
	}

	var payable int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payouts.statements
		WHERE statement_id = ANY($1) AND creator_id = $2 AND paid = FALSE AND disputed = FALSE AND finalized = TRUE`,
		pq.Array(p.StatementIDs), p.CreatorID).Scan(&payable)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to verify statements", err)
	}
	if payable != len(p.StatementIDs) {
		return model.ErrInvalidStatements
	}

	// nothing is in flight for the creator, so the reserved amount is zero
	snapshot := model.BalanceSnapshot{CreatorID: p.CreatorID}
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(net_amount), 0) FROM payouts.statements
		WHERE creator_id = $1 AND paid = FALSE AND finalized = TRUE`, p.CreatorID).Scan(&snapshot.Total)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read balance", err)
	}

	if validate != nil {
		if err := validate(snapshot); err != nil {
			return err
		}
	}

	if p.PayoutID == "" {
		p.PayoutID = model.GenerateUUIDWithSuffix("payout")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payouts.payouts (payout_id, creator_id, amount, currency, destination_ref, fingerprint, idempotency_key, state,
			retry_count, statement_ids, requested_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, 1, $11, $12)`,
		p.PayoutID, p.CreatorID, p.Amount, p.Currency, p.DestinationRef, p.Fingerprint, p.IdempotencyKey, string(model.StateReserved),
		pq.Array(p.StatementIDs), p.RequestedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pqErr, ok := uniqueViolation(err); ok {
			if pqErr.Constraint == inflightConstraint {
				return &model.DuplicatePayoutError{CreatorID: p.CreatorID}
			}
			return apierror.NewAPIError(apierror.ErrConflict, "Payout with this idempotency key already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payout", err)
	}

	from := p.State
	if from == "" {
		from = model.StateEligible
	}
	if err := insertTransition(ctx, tx, p.PayoutID, from, model.StateReserved, "", p.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	p.State = model.StateReserved
	p.Version = 1
	p.RetryCount = 0
	return nil
}

// UpdatePayout persists payout's mutable fields with optimistic locking on
// Version and records the move from `from` in the transition log.
func (d Datasource) UpdatePayout(ctx context.Context, p *model.Payout, from model.PayoutState, reason string) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := updatePayout(ctx, tx, p); err != nil {
		return err
	}
	if from != p.State {
		if err := insertTransition(ctx, tx, p.PayoutID, from, p.State, reason, p.UpdatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	p.Version++
	return nil
}

// FinalizePayout commits a COMPLETED payout together with marking every
// linked statement paid. If any statement was already paid nothing is written.
func (d Datasource) FinalizePayout(ctx context.Context, p *model.Payout, from model.PayoutState) error {
	if p.State != model.StateCompleted {
		return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Payout '%s' is %s, not COMPLETED", p.PayoutID, p.State), nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := updatePayout(ctx, tx, p); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE payouts.statements
		SET paid = TRUE, payout_id = $1, paid_at = $2
		WHERE statement_id = ANY($3) AND creator_id = $4 AND paid = FALSE`,
		p.PayoutID, p.UpdatedAt, pq.Array(p.StatementIDs), p.CreatorID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark statements paid", err)
	}
	marked, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if marked != int64(len(p.StatementIDs)) {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Only %d of %d statements for payout '%s' could be marked paid", marked, len(p.StatementIDs), p.PayoutID), nil)
	}

	if err := insertTransition(ctx, tx, p.PayoutID, from, p.State, "", p.UpdatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	p.Version++
	return nil
}

func updatePayout(ctx context.Context, tx *sql.Tx, p *model.Payout) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE payouts.payouts
		SET state = $2, provider_transfer_ref = $3, retry_count = $4, last_retry_at = $5,
			failure_reason = $6, failure_message = $7, updated_at = $8, version = version + 1
		WHERE payout_id = $1 AND version = $9`,
		p.PayoutID, string(p.State), p.ProviderTransferRef, p.RetryCount, p.LastRetryAt,
		p.FailureReason, p.FailureMessage, p.UpdatedAt, p.Version)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apierror.NewAPIError(apierror.ErrConflict, "Provider transfer reference is already linked to another payout", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payout", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Optimistic locking failure: payout '%s' was updated by another process", p.PayoutID), nil)
	}
	return nil
}

func insertTransition(ctx context.Context, tx *sql.Tx, payoutID string, from, to model.PayoutState, reason string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payouts.payout_transitions (payout_id, from_state, to_state, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`, payoutID, string(from), string(to), reason, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payout transition", err)
	}
	return nil
}

// GetPayoutByID reads a payout, serving terminal payouts from cache when one
// is configured.
func (d Datasource) GetPayoutByID(ctx context.Context, payoutID string) (*model.Payout, error) {
	if d.Cache != nil {
		var cached model.Payout
		err := d.Cache.Get(ctx, payoutCacheKey(payoutID), &cached)
		if err == nil && cached.PayoutID != "" {
			return &cached, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			logrus.WithError(err).Warn("payout cache read failed")
		}
	}

	row := d.Conn.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts.payouts WHERE payout_id = $1`, payoutID)
	p, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", payoutID),
				fmt.Errorf("%w: %s", model.ErrPayoutNotFound, payoutID))
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout", err)
	}

	if d.Cache != nil && p.State.IsTerminal() {
		if err := d.Cache.Set(ctx, payoutCacheKey(payoutID), p, payoutCacheTTL); err != nil {
			logrus.WithError(err).Warn("payout cache write failed")
		}
	}
	return &p, nil
}

// GetPayoutsByFingerprint returns payouts sharing a fingerprint, newest first.
func (d Datasource) GetPayoutsByFingerprint(ctx context.Context, fingerprint string) ([]model.Payout, error) {
	return d.queryPayouts(ctx, `SELECT `+payoutColumns+` FROM payouts.payouts
		WHERE fingerprint = $1 ORDER BY created_at DESC`, fingerprint)
}

// GetInflightPayout returns the creator's non-terminal payout, or nil if none.
func (d Datasource) GetInflightPayout(ctx context.Context, creatorID string) (*model.Payout, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts.payouts
		WHERE creator_id = $1 AND state = ANY($2) LIMIT 1`, creatorID, pq.Array(stateNames(model.NonTerminalStates)))
	p, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve in-flight payout", err)
	}
	return &p, nil
}

// GetCompletedPayoutsSince lists the creator's payouts completed at or
// after since.
func (d Datasource) GetCompletedPayoutsSince(ctx context.Context, creatorID string, since time.Time) ([]model.Payout, error) {
	return d.queryPayouts(ctx, `SELECT `+payoutColumns+` FROM payouts.payouts
		WHERE creator_id = $1 AND state = $2 AND updated_at >= $3
		ORDER BY updated_at DESC`, creatorID, string(model.StateCompleted), since)
}

// GetStalePayouts returns payouts in the given states not touched since
// updatedBefore, oldest first.
func (d Datasource) GetStalePayouts(ctx context.Context, states []model.PayoutState, updatedBefore time.Time, limit int) ([]model.Payout, error) {
	return d.queryPayouts(ctx, `SELECT `+payoutColumns+` FROM payouts.payouts
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`, pq.Array(stateNames(states)), updatedBefore, limit)
}

// GetReservedAmount sums the creator's payouts that still hold a
// reservation.
func (d Datasource) GetReservedAmount(ctx context.Context, creatorID string) (int64, error) {
	var reserved int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payouts.payouts
		WHERE creator_id = $1 AND state = ANY($2)`, creatorID, pq.Array(stateNames(model.NonTerminalStates))).Scan(&reserved)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute reserved amount", err)
	}
	return reserved, nil
}

// GetPayoutTransitions returns a payout's state changes, oldest first.
func (d Datasource) GetPayoutTransitions(ctx context.Context, payoutID string) ([]model.PayoutTransition, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT payout_id, from_state, to_state, reason, created_at
		FROM payouts.payout_transitions
		WHERE payout_id = $1
		ORDER BY id ASC`, payoutID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout transitions", err)
	}
	defer rows.Close()

	var transitions []model.PayoutTransition
	for rows.Next() {
		var t model.PayoutTransition
		if err := rows.Scan(&t.PayoutID, &t.FromState, &t.ToState, &t.Reason, &t.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout transition", err)
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payout transitions", err)
	}
	return transitions, nil
}

func (d Datasource) queryPayouts(ctx context.Context, query string, args ...interface{}) ([]model.Payout, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payouts", err)
	}
	defer rows.Close()

	var payouts []model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout data", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payouts", err)
	}
	return payouts, nil
}
