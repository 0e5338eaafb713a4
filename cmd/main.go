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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/database"
	"github.com/blnkfinance/payouts/eligibility"
	"github.com/blnkfinance/payouts/internal/cache"
	"github.com/blnkfinance/payouts/internal/metrics"
	"github.com/blnkfinance/payouts/internal/notification"
	redis_db "github.com/blnkfinance/payouts/internal/redis-db"
	"github.com/blnkfinance/payouts/transfer"
	"github.com/blnkfinance/payouts/transfer/adapters"
)

// Payouts is the CLI application.
type Payouts struct {
	cmd *cobra.Command
}

// payoutsInstance holds the engine and the clients it was built from, shared
// by every command.
type payoutsInstance struct {
	orchestrator *payouts.Orchestrator
	queue        *payouts.Queue
	datasource   *database.Datasource
	redis        *redis_db.Redis
	cnf          *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command
// runs.
func preRun(app *payoutsInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if err := setupPayouts(app); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		return nil
	}
}

// setupPayouts connects the datasource, Redis and the queue, and wires the
// orchestrator on top of them.
func setupPayouts(app *payoutsInstance) error {
	cnf := app.cnf

	redisClient, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}
	statusCache := cache.NewRedisCache(redisClient)

	db, err := database.NewDataSource(cnf, statusCache)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	queue, err := payouts.NewQueue(cnf)
	if err != nil {
		return err
	}
	notification.RegisterWebhookSender(queue.WebhookSender())

	transfers, err := newTransferClient(cnf)
	if err != nil {
		return err
	}

	m := metrics.Payouts()
	events := payouts.NewEventDispatcher(cnf.Payout.WorkerQueueSize, m,
		payouts.AuditLogHandler{},
		payouts.NewWebhookHandler(queue),
	)

	orchestrator, err := payouts.NewOrchestrator(payouts.Dependencies{
		Config:     cnf.Payout,
		Datasource: db,
		Accounts:   eligibility.NewHTTPAccountService(cnf.IdentityService),
		Transfers:  transfers,
		Enqueuer:   queue,
		Redis:      redisClient.Client(),
		Cache:      statusCache,
		Events:     events,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("error creating orchestrator: %v", err)
	}

	app.orchestrator = orchestrator
	app.queue = queue
	app.datasource = db
	app.redis = redisClient
	return nil
}

func newTransferClient(cnf *config.Configuration) (transfer.Client, error) {
	if cnf.TransferProvider.Name == "mock" {
		logrus.Warn("using the mock transfer provider, no money will move")
		return adapters.NewMockProvider(), nil
	}
	return transfer.NewHTTPClient(cnf.TransferProvider, cnf.Payout.Currency)
}

func (app *payoutsInstance) close() {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			logrus.WithError(err).Warn("error closing queue")
		}
	}
	if app.datasource != nil {
		if err := app.datasource.Close(); err != nil {
			logrus.WithError(err).Warn("error closing datasource")
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logrus.WithError(err).Warn("error closing redis")
		}
	}
}

// NewCLI builds the root command and its subcommands.
func NewCLI() *Payouts {
	var configFile string
	app := &payoutsInstance{}

	rootCmd := &cobra.Command{
		Use:   "payouts",
		Short: "Creator payout processing engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payouts.json", "Configuration file for the payouts engine")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(runCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Payouts{cmd: rootCmd}
}

func (p Payouts) executeCLI() {
	if err := p.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
