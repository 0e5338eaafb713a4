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

package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/cache"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 10
	connMaxLifetime = 30 * time.Minute

	pqUniqueViolation = "23505"
)

// Datasource is the Postgres-backed ledger store for payouts, statements,
// transfer attempts and the transition log. Cache is optional.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

// NewDataSource connects to the configured database. Callers own the
// returned value and inject it where needed.
func NewDataSource(cfg *config.Configuration, c cache.Cache) (*Datasource, error) {
	conn, err := ConnectDB(cfg.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: conn, Cache: c}, nil
}

// ConnectDB opens a pooled Postgres connection and pings it.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		logrus.Errorf("database connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (d *Datasource) Close() error {
	return d.Conn.Close()
}

func uniqueViolation(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr, true
	}
	return nil, false
}
