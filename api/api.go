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

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/api/middleware"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/model"
)

// PayoutService is the engine surface the HTTP handlers call.
type PayoutService interface {
	RequestPayoutWithReplay(ctx context.Context, creatorID string, statementIDs []string, requestedBy string) (*model.Payout, bool, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (*model.Payout, error)
	GetPayoutDetails(ctx context.Context, payoutID string, withAttempts, withTransitions bool) (*model.PayoutDetails, error)
	GetBalance(ctx context.Context, creatorID string) (model.Balance, error)
	CheckEligibility(ctx context.Context, creatorID string) (model.EligibilityResult, error)
}

// Sweeper runs a reconciliation sweep on demand.
type Sweeper interface {
	SweepNow(ctx context.Context, staleness time.Duration) ([]payouts.CorrectedPayout, error)
}

// Api serves the payout HTTP endpoints.
type Api struct {
	service PayoutService
	sweeper Sweeper
	router  *gin.Engine
}

// Router returns the gin engine with every route registered.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes := router.Group("/")
	if conf, err := config.Fetch(); err == nil && conf.Server.Secure {
		routes.Use(middleware.SecretKeyAuthMiddleware())
	}

	routes.POST("/payouts", a.RequestPayout)
	routes.GET("/payouts/:id", a.GetPayout)

	routes.GET("/creators/:id/balance", a.GetBalance)
	routes.GET("/creators/:id/eligibility", a.GetEligibility)

	routes.POST("/reconciliation/sweep", a.TriggerSweep)
	return router
}

// NewAPI builds the router from the current configuration.
func NewAPI(service PayoutService, sweeper Sweeper) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))

	return &Api{service: service, sweeper: sweeper, router: r}
}
