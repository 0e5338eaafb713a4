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
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/internal/cache"
	redis_db "github.com/blnkfinance/payouts/internal/redis-db"
	"github.com/blnkfinance/payouts/model"
)

var payoutColumnNames = []string{
	"payout_id", "creator_id", "amount", "currency", "destination_ref", "fingerprint", "idempotency_key", "state",
	"provider_transfer_ref", "retry_count", "last_retry_at", "failure_reason", "failure_message",
	"statement_ids", "requested_by", "version", "created_at", "updated_at",
}

func payoutRows(payouts ...model.Payout) *sqlmock.Rows {
	rows := sqlmock.NewRows(payoutColumnNames)
	for _, p := range payouts {
		var ref, reason, message interface{}
		if p.ProviderTransferRef != nil {
			ref = *p.ProviderTransferRef
		}
		if p.FailureReason != nil {
			reason = *p.FailureReason
		}
		if p.FailureMessage != nil {
			message = *p.FailureMessage
		}
		var lastRetry interface{}
		if p.LastRetryAt != nil {
			lastRetry = *p.LastRetryAt
		}
		arr, _ := pq.Array(p.StatementIDs).Value()
		rows.AddRow(p.PayoutID, p.CreatorID, p.Amount, p.Currency, p.DestinationRef, p.Fingerprint, p.IdempotencyKey, string(p.State),
			ref, p.RetryCount, lastRetry, reason, message, arr, p.RequestedBy, p.Version, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func newPayout(state model.PayoutState) model.Payout {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Payout{
		PayoutID:       "payout_" + gofakeit.UUID(),
		CreatorID:      "creator_" + gofakeit.UUID(),
		Amount:         7000,
		Currency:       "USD",
		DestinationRef: "acct_" + gofakeit.LetterN(12),
		Fingerprint:    gofakeit.LetterN(64),
		IdempotencyKey: gofakeit.LetterN(64),
		State:          state,
		StatementIDs:   []string{"stmt_1", "stmt_2"},
		RequestedBy:    "creator",
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func expectReservationPrelude(mock sqlmock.Sqlmock, creatorID string, payable int, total int64) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs(creatorID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payout_id FROM payouts.payouts")).
		WithArgs(creatorID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"payout_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM payouts.statements")).
		WithArgs(sqlmock.AnyArg(), creatorID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(payable))
	if payable < 0 {
		return
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(net_amount), 0) FROM payouts.statements")).
		WithArgs(creatorID).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(total))
}

func TestReservePayout_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateEligible)
	p.PayoutID = ""

	expectReservationPrelude(mock, p.CreatorID, 2, 10000)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts.payouts")).
		WithArgs(sqlmock.AnyArg(), p.CreatorID, p.Amount, p.Currency, p.DestinationRef, p.Fingerprint, p.IdempotencyKey, "RESERVED",
			sqlmock.AnyArg(), p.RequestedBy, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts.payout_transitions")).
		WithArgs(sqlmock.AnyArg(), "ELIGIBLE", "RESERVED", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var seen model.BalanceSnapshot
	err = ds.ReservePayout(context.Background(), &p, func(s model.BalanceSnapshot) error {
		seen = s
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), seen.Total)
	assert.Equal(t, int64(0), seen.Reserved)
	assert.Equal(t, model.StateReserved, p.State)
	assert.Equal(t, int64(1), p.Version)
	assert.Contains(t, p.PayoutID, "payout_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePayout_ValidatorRejects(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateEligible)

	expectReservationPrelude(mock, p.CreatorID, 2, 5000)
	mock.ExpectRollback()

	err = ds.ReservePayout(context.Background(), &p, func(s model.BalanceSnapshot) error {
		return &model.InsufficientBalanceError{Requested: p.Amount, Available: s.Total}
	})

	var insufficient *model.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(5000), insufficient.Available)
	assert.Equal(t, model.StateEligible, p.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePayout_InflightExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateEligible)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs(p.CreatorID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payout_id FROM payouts.payouts")).
		WithArgs(p.CreatorID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"payout_id"}).AddRow("payout_existing"))
	mock.ExpectRollback()

	err = ds.ReservePayout(context.Background(), &p, nil)

	var dup *model.DuplicatePayoutError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "payout_existing", dup.ExistingPayoutID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePayout_StatementsNoLongerPayable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateEligible)

	expectReservationPrelude(mock, p.CreatorID, -1, 0)
	mock.ExpectRollback()

	err = ds.ReservePayout(context.Background(), &p, nil)
	assert.ErrorIs(t, err, model.ErrInvalidStatements)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePayout_RejectsStatementsAwaitingFinalization(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateEligible)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs(p.CreatorID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payout_id FROM payouts.payouts")).
		WithArgs(p.CreatorID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"payout_id"}))
	// stmt_2 is still pending, so only one of the two statements counts
	mock.ExpectQuery(regexp.QuoteMeta("AND paid = FALSE AND disputed = FALSE AND finalized = TRUE")).
		WithArgs(sqlmock.AnyArg(), p.CreatorID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err = ds.ReservePayout(context.Background(), &p, nil)
	assert.ErrorIs(t, err, model.ErrInvalidStatements)
	assert.Equal(t, model.StateEligible, p.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePayout_InflightIndexViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateEligible)

	expectReservationPrelude(mock, p.CreatorID, 2, 10000)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts.payouts")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_payouts_creator_in_flight"})
	mock.ExpectRollback()

	err = ds.ReservePayout(context.Background(), &p, nil)
	var dup *model.DuplicatePayoutError
	assert.True(t, errors.As(err, &dup))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePayout_IdempotencyKeyViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateEligible)

	expectReservationPrelude(mock, p.CreatorID, 2, 10000)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts.payouts")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_payouts_creator_idempotency_key"})
	mock.ExpectRollback()

	err = ds.ReservePayout(context.Background(), &p, nil)
	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePayout_RecordsTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateRetryScheduled)
	p.RetryCount = 1

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts.payouts")).
		WithArgs(p.PayoutID, "RETRY_SCHEDULED", nil, 1, nil, nil, nil, sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts.payout_transitions")).
		WithArgs(p.PayoutID, "SUBMITTED", "RETRY_SCHEDULED", "timeout", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = ds.UpdatePayout(context.Background(), &p, model.StateSubmitted, "timeout")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePayout_SameStateSkipsTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateSubmitted)
	p.ProviderTransferRef = ptr.String("tr_123")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts.payouts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ds.UpdatePayout(context.Background(), &p, model.StateSubmitted, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePayout_OptimisticLockFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateFailed)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts.payouts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.UpdatePayout(context.Background(), &p, model.StateSubmitted, "provider_rejected")
	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.Equal(t, int64(1), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizePayout_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateCompleted)
	p.ProviderTransferRef = ptr.String("tr_987")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts.payouts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts.statements")).
		WithArgs(p.PayoutID, sqlmock.AnyArg(), sqlmock.AnyArg(), p.CreatorID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts.payout_transitions")).
		WithArgs(p.PayoutID, "SUBMITTED", "COMPLETED", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, ds.FinalizePayout(context.Background(), &p, model.StateSubmitted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizePayout_StatementAlreadyPaidRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateCompleted)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts.payouts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts.statements")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err = ds.FinalizePayout(context.Background(), &p, model.StateSubmitted)
	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizePayout_RequiresCompletedState(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateSubmitted)
	assert.Error(t, ds.FinalizePayout(context.Background(), &p, model.StateSubmitted))
}

func TestGetPayoutByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newPayout(model.StateFailed)
	p.FailureReason = ptr.String(model.FailureAccountClosed)
	p.FailureMessage = ptr.String(model.FailureMessage(model.FailureAccountClosed))

	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts.payouts WHERE payout_id = $1")).
		WithArgs(p.PayoutID).
		WillReturnRows(payoutRows(p))

	got, err := ds.GetPayoutByID(context.Background(), p.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, p.CreatorID, got.CreatorID)
	assert.Equal(t, model.StateFailed, got.State)
	assert.Equal(t, []string{"stmt_1", "stmt_2"}, got.StatementIDs)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, model.FailureAccountClosed, *got.FailureReason)
	assert.Nil(t, got.ProviderTransferRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPayoutByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts.payouts WHERE payout_id = $1")).
		WithArgs("payout_missing").
		WillReturnRows(sqlmock.NewRows(payoutColumnNames))

	_, err = ds.GetPayoutByID(context.Background(), "payout_missing")
	assert.ErrorIs(t, err, model.ErrPayoutNotFound)
	assert.Equal(t, 404, apierror.MapErrorToHTTPStatus(err))
}

func TestGetPayoutByID_CachesTerminalPayouts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mr := miniredis.RunT(t)
	client, err := redis_db.NewRedisClient([]string{mr.Addr()}, false)
	require.NoError(t, err)

	ds := Datasource{Conn: db, Cache: cache.NewRedisCache(client)}
	p := newPayout(model.StateCompleted)
	p.ProviderTransferRef = ptr.String("tr_1")

	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts.payouts WHERE payout_id = $1")).
		WithArgs(p.PayoutID).
		WillReturnRows(payoutRows(p))

	first, err := ds.GetPayoutByID(context.Background(), p.PayoutID)
	require.NoError(t, err)
	second, err := ds.GetPayoutByID(context.Background(), p.PayoutID)
	require.NoError(t, err)

	assert.Equal(t, first.PayoutID, second.PayoutID)
	assert.Equal(t, model.StateCompleted, second.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInflightPayout_None(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts.payouts")).
		WithArgs("creator_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(payoutColumnNames))

	got, err := ds.GetInflightPayout(context.Background(), "creator_1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetStalePayouts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	a := newPayout(model.StateSubmitted)
	b := newPayout(model.StateRetryScheduled)
	cutoff := time.Now().Add(-15 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE state = ANY($1) AND updated_at < $2")).
		WithArgs(sqlmock.AnyArg(), cutoff, 50).
		WillReturnRows(payoutRows(a, b))

	got, err := ds.GetStalePayouts(context.Background(), []model.PayoutState{model.StateSubmitted, model.StateRetryScheduled}, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.PayoutID, got[0].PayoutID)
	assert.Equal(t, model.StateRetryScheduled, got[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReservedAmount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount), 0) FROM payouts.payouts")).
		WithArgs("creator_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(7000)))

	reserved, err := ds.GetReservedAmount(context.Background(), "creator_1")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), reserved)
}

func TestGetPayoutTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts.payout_transitions")).
		WithArgs("payout_1").
		WillReturnRows(sqlmock.NewRows([]string{"payout_id", "from_state", "to_state", "reason", "created_at"}).
			AddRow("payout_1", "ELIGIBLE", "RESERVED", "", now).
			AddRow("payout_1", "RESERVED", "SUBMITTED", "", now))

	got, err := ds.GetPayoutTransitions(context.Background(), "payout_1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.StateSubmitted, got[1].ToState)
}
