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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("pq: deadlock detected")
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payout", cause)
	assert.ErrorIs(t, apiErr, cause)
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "NotFound Error",
			err:      apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil),
			expected: http.StatusNotFound,
		},
		{
			name:     "Conflict Error",
			err:      apierror.NewAPIError(apierror.ErrConflict, "Conflict occurred", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "InvalidInput Error",
			err:      apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "Unprocessable Error",
			err:      apierror.NewAPIError(apierror.ErrUnprocessable, "Cannot process", nil),
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "Ineligible account",
			err:      &model.IneligibleAccountError{CreatorID: "c1"},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "Insufficient balance wrapped",
			err:      fmt.Errorf("request payout: %w", &model.InsufficientBalanceError{Requested: 2, Available: 1}),
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "Below minimum",
			err:      &model.BelowMinimumThresholdError{Requested: 1, Minimum: 5},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "Duplicate payout",
			err:      &model.DuplicatePayoutError{CreatorID: "c1"},
			expected: http.StatusConflict,
		},
		{
			name:     "Payout not found",
			err:      model.ErrPayoutNotFound,
			expected: http.StatusNotFound,
		},
		{
			name:     "Invalid statements",
			err:      model.ErrInvalidStatements,
			expected: http.StatusBadRequest,
		},
		{
			name:     "InternalServerError",
			err:      apierror.NewAPIError(apierror.ErrInternalServer, "Internal server error", nil),
			expected: http.StatusInternalServerError,
		},
		{
			name:     "Unknown Error",
			err:      errors.New("Unknown error"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusCode := apierror.MapErrorToHTTPStatus(tt.err)
			assert.Equal(t, tt.expected, statusCode)
		})
	}
}
