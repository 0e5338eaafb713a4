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

	"github.com/lib/pq"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
)

const statementColumns = `statement_id, creator_id, net_amount, currency, paid, disputed, finalized,
	payout_id, period_start, period_end, created_at`

func scanStatement(row rowScanner) (model.Statement, error) {
	var s model.Statement
	err := row.Scan(&s.StatementID, &s.CreatorID, &s.NetAmount, &s.Currency, &s.Paid, &s.Disputed, &s.Finalized,
		&s.PayoutID, &s.PeriodStart, &s.PeriodEnd, &s.CreatedAt)
	return s, err
}

// GetUnpaidStatements returns the creator's finalized statements that have
// not been paid, oldest period first.
func (d Datasource) GetUnpaidStatements(ctx context.Context, creatorID string) ([]model.Statement, error) {
	return d.queryStatements(ctx, `SELECT `+statementColumns+` FROM payouts.statements
		WHERE creator_id = $1 AND paid = FALSE AND finalized = TRUE
		ORDER BY period_start ASC`, creatorID)
}

// GetPendingStatementAmount sums unpaid statements still awaiting finalization.
func (d Datasource) GetPendingStatementAmount(ctx context.Context, creatorID string) (int64, error) {
	var pending int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(net_amount), 0) FROM payouts.statements
		WHERE creator_id = $1 AND paid = FALSE AND finalized = FALSE`, creatorID).Scan(&pending)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute pending amount", err)
	}
	return pending, nil
}

// GetStatementsByIDs loads the given statements. Unknown ids are left out.
func (d Datasource) GetStatementsByIDs(ctx context.Context, statementIDs []string) ([]model.Statement, error) {
	if len(statementIDs) == 0 {
		return nil, nil
	}
	return d.queryStatements(ctx, `SELECT `+statementColumns+` FROM payouts.statements
		WHERE statement_id = ANY($1)
		ORDER BY period_start ASC`, pq.Array(statementIDs))
}

func (d Datasource) queryStatements(ctx context.Context, query string, args ...interface{}) ([]model.Statement, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve statements", err)
	}
	defer rows.Close()

	var statements []model.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan statement data", err)
		}
		statements = append(statements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over statements", err)
	}
	return statements, nil
}
