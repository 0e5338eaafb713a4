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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const drainTimeout = 30 * time.Second

// waitForSubmissions blocks until the pool has picked up every queued payout
// or timeout passes. Anything still queued is recovered by the sweeper.
func waitForSubmissions(app *payoutsInstance, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for app.orchestrator.PendingSubmissions() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
}

// runCommands defines `run`, the scheduled payout run. It requests a payout
// for every listed creator that is eligible and above the minimum threshold.
func runCommands(app *payoutsInstance) *cobra.Command {
	var creators string
	cmd := &cobra.Command{
		Use:   "run [creator ids...]",
		Short: "run scheduled payouts for the given creators",
		Run: func(cmd *cobra.Command, args []string) {
			defer app.close()

			ids := append([]string{}, args...)
			for _, id := range strings.Split(creators, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
			if len(ids) == 0 {
				log.Fatal("no creator ids given")
			}

			ctx := context.Background()
			app.orchestrator.Start(ctx)
			defer app.orchestrator.Stop()

			results, err := app.orchestrator.RunScheduledPayouts(ctx, ids)
			if err != nil {
				log.Fatalf("scheduled payout run failed: %v", err)
			}

			waitForSubmissions(app, drainTimeout)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "    ")
			if err := enc.Encode(results); err != nil {
				log.Fatalf("Error printing results: %v", err)
			}

			requested := 0
			for _, r := range results {
				if r.Payout != nil {
					requested++
				}
			}
			fmt.Printf("Requested %d of %d payouts\n", requested, len(results))
		},
	}
	cmd.Flags().StringVar(&creators, "creators", "", "comma separated creator ids")

	return cmd
}
