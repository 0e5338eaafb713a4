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

/*
Package main provides the CLI commands for managing database migrations in the
payouts engine.
*/

package main

import (
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/payouts"
)

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: payouts.SQLFiles,
		Root:       "sql",
	}
}

func migrateCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run payouts database migrations",
	}

	cmd.AddCommand(migrateUpCommands(app))
	cmd.AddCommand(migrateDownCommands(app))

	return cmd
}

func migrateUpCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			defer app.close()

			migrate.SetSchema("payouts")
			n, err := migrate.Exec(app.datasource.Conn, "postgres", migrationSource(), migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
				return
			}
			fmt.Printf("Applied %d migrations!\n", n)
		},
	}

	return cmd
}

func migrateDownCommands(app *payoutsInstance) *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			defer app.close()

			migrate.SetSchema("payouts")
			n, err := migrate.ExecMax(app.datasource.Conn, "postgres", migrationSource(), migrate.Down, max)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
				return
			}
			fmt.Printf("Rolled back %d migrations!\n", n)
		},
	}
	cmd.Flags().IntVar(&max, "max", 0, "maximum number of migrations to roll back (0 rolls back all)")

	return cmd
}
