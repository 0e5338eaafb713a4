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
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/api"
	"github.com/blnkfinance/payouts/config"
	trace "github.com/blnkfinance/payouts/internal/traces"
)

const shutdownTimeout = 15 * time.Second

/*
serveTLS starts an HTTPS server using CertMagic for automatic certificate
management. Without a configured domain it serves localhost.
*/
func serveTLS(srv *http.Server, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	srv.TLSConfig = cfg.TLSConfig()
	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	return srv.ListenAndServeTLS("", "")
}

// sendHeartbeat reports a liveness heartbeat to PostHog every five minutes.
func sendHeartbeat(ctx context.Context, client posthog.Client, heartbeatID string) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.Enqueue(posthog.Capture{
					DistinctId: heartbeatID,
					Event:      "server_heartbeat",
					Properties: map[string]interface{}{
						"timestamp": time.Now().UTC(),
					},
				}); err != nil {
					log.Printf("Failed to send heartbeat: %v", err)
				}
			}
		}
	}()
}

func initializeTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializePostHog(ctx context.Context, key string) posthog.Client {
	if key == "" {
		return nil
	}
	client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: "https://us.i.posthog.com"})
	if err != nil {
		log.Printf("PostHog initialization error: %v", err)
		return nil
	}
	sendHeartbeat(ctx, client, uuid.New().String())
	return client
}

// initializeObservability sets up tracing and the PostHog heartbeat when
// telemetry is enabled. The returned shutdown func is never nil.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (posthog.Client, func(context.Context) error, error) {
	if !cfg.Telemetry.Enabled {
		return nil, func(context.Context) error { return nil }, nil
	}

	shutdown, err := initializeTracing(ctx, cfg.ProjectName)
	if err != nil {
		return nil, nil, err
	}
	return initializePostHog(ctx, cfg.Telemetry.PostHogKey), shutdown, nil
}

func startServer(srv *http.Server, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(srv, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return srv.ListenAndServe()
}

func newHTTPServer(router *gin.Engine, cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

/*
serverCommands returns the `start` command. It runs the HTTP API, the payout
worker pool, the event dispatcher and the reconciliation sweeper in one
process until it receives SIGINT or SIGTERM.
*/
func serverCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start payouts server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer app.close()

			cfg := app.cnf
			phClient, shutdown, err := initializeObservability(ctx, cfg)
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

			app.orchestrator.Start(ctx)
			defer app.orchestrator.Stop()

			sweeper := payouts.NewReconciliationSweeper(app.orchestrator, cfg.Reconciliation)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			router := api.NewAPI(app.orchestrator, sweeper).Router()
			srv := newHTTPServer(router, cfg.Server)

			errCh := make(chan error, 1)
			go func() {
				errCh <- startServer(srv, cfg.Server)
			}()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					logrus.WithError(err).Error("server stopped")
				}
			case <-ctx.Done():
				logrus.Info("shutting down payouts server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logrus.WithError(err).Error("error shutting down http server")
				}
			}
		},
	}

	return cmd
}
