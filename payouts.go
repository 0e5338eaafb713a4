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

// Package payouts is the payout processing engine. The Orchestrator validates,
// reserves and submits payouts; the RetryScheduler and ReconciliationSweeper
// drive them to a terminal state.
package payouts

import (
	"embed"
	"errors"
	"math/rand"

	"github.com/redis/go-redis/v9"

	"github.com/blnkfinance/payouts/balance"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/database"
	"github.com/blnkfinance/payouts/eligibility"
	"github.com/blnkfinance/payouts/internal/cache"
	"github.com/blnkfinance/payouts/internal/clock"
	"github.com/blnkfinance/payouts/internal/metrics"
	"github.com/blnkfinance/payouts/transfer"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Dependencies are the collaborators the engine is built from. Redis is
// optional: without it creator serialization relies on the ledger store
// alone.
type Dependencies struct {
	Config     config.PayoutConfig
	Datasource database.IDataSource
	Accounts   eligibility.AccountService
	Transfers  transfer.Client
	Enqueuer   Enqueuer
	Redis      redis.UniversalClient
	// Cache holds terminal payouts for status reads. Optional.
	Cache   cache.Cache
	Events  *EventDispatcher
	Metrics *metrics.PayoutMetrics
	Clock   clock.Clock
	// Rand returns a value in [0, 1) used for retry jitter.
	Rand func() float64
}

func (d *Dependencies) validate() error {
	switch {
	case d.Datasource == nil:
		return errors.New("payouts: datasource is required")
	case d.Accounts == nil:
		return errors.New("payouts: account service is required")
	case d.Transfers == nil:
		return errors.New("payouts: transfer client is required")
	case d.Enqueuer == nil:
		return errors.New("payouts: retry enqueuer is required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Rand == nil {
		d.Rand = rand.Float64
	}
	if d.Events == nil {
		d.Events = NewEventDispatcher(d.Config.WorkerQueueSize, d.Metrics)
	}
	return nil
}

// NewOrchestrator wires the engine. The returned orchestrator owns its
// worker pool and retry scheduler; call Start to run the pool.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		datasource: deps.Datasource,
		balances: balance.NewCalculator(deps.Datasource, deps.Datasource,
			deps.Config.ReserveFraction(), deps.Config.MinimumThreshold),
		eligibility: eligibility.NewChecker(deps.Accounts, deps.Datasource),
		transfers:   deps.Transfers,
		redis:       deps.Redis,
		cache:       deps.Cache,
		events:      deps.Events,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
		cfg:         deps.Config,
	}
	o.retries = newRetryScheduler(o, deps.Enqueuer, deps.Config, deps.Clock, deps.Rand, deps.Metrics)
	o.pool = NewWorkerPool(deps.Config.Workers, deps.Config.WorkerQueueSize, o.processPayout)
	return o, nil
}
