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

package eligibility

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/request"
	"github.com/blnkfinance/payouts/model"
)

// HTTPAccountService reads account status from the identity service over HTTP.
type HTTPAccountService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAccountService returns an AccountService backed by the identity
// service's HTTP API.
func NewHTTPAccountService(cfg config.IdentityServiceConfig) *HTTPAccountService {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAccountService{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type accountStatusResponse struct {
	CreatorID          string `json:"creator_id"`
	ProviderAccountRef string `json:"provider_account_ref"`
	Onboarded          bool   `json:"onboarded"`
	Capable            bool   `json:"capable"`
	Standing           string `json:"standing"`
	Verified           bool   `json:"verified"`
}

// GetAccountStatus fetches the creator's verification, standing and payout
// capability. A 404 is reported as an account that is not onboarded.
func (s *HTTPAccountService) GetAccountStatus(ctx context.Context, creatorID string) (*model.AccountStatus, error) {
	endpoint := fmt.Sprintf("%s/creators/%s/account-status", s.baseURL, url.PathEscape(creatorID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	var body accountStatusResponse
	if _, err := request.Do(s.httpClient, req, &body); err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("identity service request failed: %w", err)
	}

	standing := model.Standing(strings.ToLower(body.Standing))
	if standing == "" {
		standing = model.StandingGood
	}
	return &model.AccountStatus{
		CreatorID:          creatorID,
		ProviderAccountRef: body.ProviderAccountRef,
		Onboarded:          body.Onboarded,
		Capable:            body.Capable,
		Standing:           standing,
		Verified:           body.Verified,
	}, nil
}
