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
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/request"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// HTTPClient talks to a provider exposing POST /transfers and
// GET /transfers/{ref}. Transport failures are retried in place with the
// same idempotency key until MaxElapsedSec runs out.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxElapsed time.Duration
}

type submitRequest struct {
	PayoutID    string `json:"payout_id"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
}

type transferResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	FailureCode string `json:"failure_code"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPClient builds a provider client. It fails when no base URL is
// configured.
func NewHTTPClient(cfg config.TransferProviderConfig, currency string) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transfer provider base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid transfer provider base url: %w", err)
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		currency:   currency,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		maxElapsed: time.Duration(cfg.MaxElapsedSec) * time.Second,
	}, nil
}

// Submit creates a transfer with the Idempotency-Key header set. Transport
// errors and 5xx responses are retried with the same key until the backoff
// budget runs out.
func (c *HTTPClient) Submit(ctx context.Context, payoutID, accountRef string, amount int64, idempotencyKey string) (*TransferResult, error) {
	payload := submitRequest{
		PayoutID:    payoutID,
		Destination: accountRef,
		Amount:      amount,
		Currency:    c.currency,
	}

	var out transferResponse
	err := c.do(ctx, func() (*http.Request, error) {
		body, err := request.ToJsonReq(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Idempotency-Key", idempotencyKey)
		return req, nil
	}, &out, false)
	if err != nil {
		return nil, err
	}

	state := ParseState(out.Status)
	if state == StateFailed {
		code := out.FailureCode
		if code == "" {
			code = CodeTransferFailed
		}
		return nil, ClassifiedError(code, fmt.Errorf("transfer %s failed", out.ID))
	}
	if out.ID == "" {
		return nil, ClassifiedError(CodeProviderUnavailable, errors.New("provider response is missing a transfer id"))
	}
	return &TransferResult{ProviderRef: out.ID, State: state}, nil
}

// QueryStatus returns the provider's current view of a transfer.
func (c *HTTPClient) QueryStatus(ctx context.Context, providerRef string) (*TransferStatus, error) {
	var out transferResponse
	err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transfers/"+url.PathEscape(providerRef), nil)
	}, &out, true)
	if errors.Is(err, errTransferNotFound) {
		return &TransferStatus{ProviderRef: providerRef, State: StateNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	return &TransferStatus{
		ProviderRef: providerRef,
		State:       ParseState(out.Status),
		FailureCode: normalizeCode(out.FailureCode),
	}, nil
}

var errTransferNotFound = errors.New("transfer not found")

// do runs one logical provider call. build is invoked per attempt since a
// request body can only be read once.
func (c *HTTPClient) do(ctx context.Context, build func() (*http.Request, error), out interface{}, notFoundIsResult bool) error {
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(ClassifiedError(CodeTimeout, err))
		}
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		_, err = request.Do(c.httpClient, req, out)
		if err == nil {
			return nil
		}

		var statusErr *request.StatusError
		if !errors.As(err, &statusErr) {
			return ClassifiedError(CodeTimeout, err)
		}
		if notFoundIsResult && statusErr.StatusCode == http.StatusNotFound {
			return backoff.Permanent(errTransferNotFound)
		}
		classified := ClassifiedError(codeFromStatus(statusErr), err)
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError {
			return classified
		}
		return backoff.Permanent(classified)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err == nil || errors.Is(err, errTransferNotFound) {
		return err
	}
	return AsClassified(err)
}

func codeFromStatus(statusErr *request.StatusError) string {
	var body errorResponse
	if json.Unmarshal(statusErr.Body, &body) == nil && body.Code != "" {
		return body.Code
	}
	switch {
	case statusErr.StatusCode == http.StatusTooManyRequests:
		return CodeRateLimited
	case statusErr.StatusCode >= http.StatusInternalServerError:
		return CodeProviderUnavailable
	default:
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	}
}
