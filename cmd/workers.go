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
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/config"
	redis_db "github.com/blnkfinance/payouts/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues weights retries above webhooks so payouts are not held up
// behind notification delivery.
func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.RetryQueue:   3,
		cfg.Queue.WebhookQueue: 1,
	}
}

func redisConnOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %v", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func initializeWorkerServer(opt asynq.RedisClientOpt, conf *config.Configuration) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithField("task", task.Type()).WithError(err).Error("task failed")
		}),
	})
}

func initializeTaskHandlers(app *payoutsInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(payouts.TaskPayoutRetry, app.orchestrator.Retries().ProcessRetry)
	mux.HandleFunc(payouts.TaskWebhook, payouts.ProcessWebhook)
}

// workerCommands defines the `workers` command. It processes payout retries
// and webhook deliveries from the asynq queues and serves asynqmon.
func workerCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payouts workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer app.close()

			conf := app.cnf
			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			opt, err := redisConnOpt(conf)
			if err != nil {
				log.Fatal(err)
			}

			// retries publish terminal events from this process
			events := app.orchestrator.Events()
			events.Start(ctx)
			defer events.Stop()

			srv := initializeWorkerServer(opt, conf)
			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: opt,
			})
			defer h.Close()

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					logrus.WithError(err).Error("could not start asynqmon server")
				}
			}()

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}

	return cmd
}
