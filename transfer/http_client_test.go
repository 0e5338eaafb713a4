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

package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/model"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://provider.test"

func newTestClient(t *testing.T) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(config.TransferProviderConfig{
		BaseURL:        testBaseURL,
		APIKey:         "sk_test",
		TimeoutSec:     5,
		RequestsPerSec: 1000,
		Burst:          10,
		MaxElapsedSec:  1,
	}, "USD")
	require.NoError(t, err)
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(config.TransferProviderConfig{}, "USD")
	assert.Error(t, err)
}

func TestSubmitSuccess(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "payout_1", req.Header.Get("Idempotency-Key"))
			assert.Equal(t, "Bearer sk_test", req.Header.Get("Authorization"))

			var body submitRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "acct_1", body.Destination)
			assert.Equal(t, int64(7000), body.Amount)
			assert.Equal(t, "USD", body.Currency)

			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"id": "tr_1", "status": "succeeded"})
		})

	res, err := c.Submit(context.Background(), "payout_1", "acct_1", 7000, "payout_1")
	require.NoError(t, err)
	assert.Equal(t, "tr_1", res.ProviderRef)
	assert.Equal(t, StateSucceeded, res.State)
}

func TestSubmitPending(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		httpmock.NewStringResponder(http.StatusAccepted, `{"id":"tr_2","status":"processing"}`))

	res, err := c.Submit(context.Background(), "payout_2", "acct_1", 100, "payout_2")
	require.NoError(t, err)
	assert.Equal(t, StatePending, res.State)
}

func TestSubmitRetriesServerErrorsWithSameKey(t *testing.T) {
	c := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		func(req *http.Request) (*http.Response, error) {
			calls++
			assert.Equal(t, "payout_3", req.Header.Get("Idempotency-Key"))
			if calls < 2 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"id":"tr_3","status":"succeeded"}`), nil
		})

	res, err := c.Submit(context.Background(), "payout_3", "acct_1", 100, "payout_3")
	require.NoError(t, err)
	assert.Equal(t, "tr_3", res.ProviderRef)
	assert.Equal(t, 2, calls)
}

func TestSubmitRateLimitedExhaustsToTransient(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	_, err := c.Submit(context.Background(), "payout_4", "acct_1", 100, "payout_4")
	var transient *model.ProviderTransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, CodeRateLimited, transient.Code)
}

func TestSubmitPermanentCodeIsNotRetried(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"code":"account_closed","message":"closed"}`))

	_, err := c.Submit(context.Background(), "payout_5", "acct_1", 100, "payout_5")
	var permanent *model.ProviderPermanentError
	require.ErrorAs(t, err, &permanent)
	assert.Equal(t, model.FailureAccountClosed, permanent.Reason)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSubmitUnknownCodeIsTransientAndUnknown(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"code":"weird_thing"}`))

	_, err := c.Submit(context.Background(), "payout_6", "acct_1", 100, "payout_6")
	var transient *model.ProviderTransientError
	require.ErrorAs(t, err, &transient)
	assert.False(t, transient.Known)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSubmitFailedTransferUsesFailureCode(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"tr_7","status":"failed","failure_code":"compliance_block"}`))

	_, err := c.Submit(context.Background(), "payout_7", "acct_1", 100, "payout_7")
	var permanent *model.ProviderPermanentError
	require.ErrorAs(t, err, &permanent)
	assert.Equal(t, model.FailureComplianceBlock, permanent.Reason)
}

func TestSubmitNetworkErrorIsTimeout(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/transfers",
		httpmock.NewErrorResponder(assert.AnError))

	_, err := c.Submit(context.Background(), "payout_8", "acct_1", 100, "payout_8")
	var transient *model.ProviderTransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, CodeTimeout, transient.Code)
	assert.GreaterOrEqual(t, httpmock.GetTotalCallCount(), 1)
}

func TestQueryStatus(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/transfers/tr_1",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"tr_1","status":"failed","failure_code":"ACCOUNT_CLOSED"}`))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/transfers/tr_missing",
		httpmock.NewStringResponder(http.StatusNotFound, `{"code":"not_found"}`))

	status, err := c.QueryStatus(context.Background(), "tr_1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, CodeAccountClosed, status.FailureCode)

	status, err = c.QueryStatus(context.Background(), "tr_missing")
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, status.State)
	assert.Equal(t, "tr_missing", status.ProviderRef)
}

func TestQueryStatusServerError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/transfers/tr_1",
		httpmock.NewStringResponder(http.StatusBadGateway, ""))

	_, err := c.QueryStatus(context.Background(), "tr_1")
	var transient *model.ProviderTransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, CodeProviderUnavailable, transient.Code)
}
