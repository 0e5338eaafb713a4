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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYOUTS_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYOUTS_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYOUTS_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYOUTS_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYOUTS_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYOUTS_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYOUTS_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYOUTS_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYOUTS_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	RetryQueue     string `json:"retry_queue" envconfig:"PAYOUTS_QUEUE_RETRY"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"PAYOUTS_QUEUE_WEBHOOK"`
	Concurrency    int    `json:"concurrency" envconfig:"PAYOUTS_QUEUE_CONCURRENCY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"PAYOUTS_QUEUE_MONITORING_PORT"`
}

// PayoutConfig holds the engine's business rules. Durations are in seconds in JSON.
type PayoutConfig struct {
	Currency          string  `json:"currency" envconfig:"PAYOUTS_CURRENCY"`
	ReservePercentage float64 `json:"reserve_percentage" envconfig:"PAYOUTS_RESERVE_PERCENTAGE"`
	MinimumThreshold  int64   `json:"minimum_threshold" envconfig:"PAYOUTS_MINIMUM_THRESHOLD"`
	DedupeWindowSec   int     `json:"dedupe_window_sec" envconfig:"PAYOUTS_DEDUPE_WINDOW_SEC"`
	Workers           int     `json:"workers" envconfig:"PAYOUTS_WORKERS"`
	WorkerQueueSize   int     `json:"worker_queue_size" envconfig:"PAYOUTS_WORKER_QUEUE_SIZE"`
	// MaxRetries counts retries after the first submission. A payout that
	// keeps failing transiently reaches the provider 1 + MaxRetries times.
	MaxRetries int `json:"max_retries" envconfig:"PAYOUTS_MAX_RETRIES"`
	// UnknownCodeMaxRetries caps retries for provider codes we cannot
	// classify. It never exceeds MaxRetries.
	UnknownCodeMaxRetries int     `json:"unknown_code_max_retries" envconfig:"PAYOUTS_UNKNOWN_CODE_MAX_RETRIES"`
	RetryBaseDelaySec     int     `json:"retry_base_delay_sec" envconfig:"PAYOUTS_RETRY_BASE_DELAY_SEC"`
	RetryMaxDelaySec      int     `json:"retry_max_delay_sec" envconfig:"PAYOUTS_RETRY_MAX_DELAY_SEC"`
	RetryMultiplier       float64 `json:"retry_multiplier" envconfig:"PAYOUTS_RETRY_MULTIPLIER"`
	RetryJitterFraction   float64 `json:"retry_jitter_fraction" envconfig:"PAYOUTS_RETRY_JITTER_FRACTION"`
	LockTimeoutSec        int     `json:"lock_timeout_sec" envconfig:"PAYOUTS_LOCK_TIMEOUT_SEC"`
}

type TransferProviderConfig struct {
	Name           string  `json:"name" envconfig:"PAYOUTS_PROVIDER_NAME"`
	BaseURL        string  `json:"base_url" envconfig:"PAYOUTS_PROVIDER_BASE_URL"`
	APIKey         string  `json:"api_key" envconfig:"PAYOUTS_PROVIDER_API_KEY"`
	TimeoutSec     int     `json:"timeout_sec" envconfig:"PAYOUTS_PROVIDER_TIMEOUT_SEC"`
	RequestsPerSec float64 `json:"requests_per_sec" envconfig:"PAYOUTS_PROVIDER_RPS"`
	Burst          int     `json:"burst" envconfig:"PAYOUTS_PROVIDER_BURST"`
	MaxElapsedSec  int     `json:"max_elapsed_sec" envconfig:"PAYOUTS_PROVIDER_MAX_ELAPSED_SEC"`
}

type IdentityServiceConfig struct {
	BaseURL    string `json:"base_url" envconfig:"PAYOUTS_IDENTITY_BASE_URL"`
	APIKey     string `json:"api_key" envconfig:"PAYOUTS_IDENTITY_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"PAYOUTS_IDENTITY_TIMEOUT_SEC"`
}

type ReconciliationConfig struct {
	IntervalSec  int `json:"interval_sec" envconfig:"PAYOUTS_RECONCILIATION_INTERVAL_SEC"`
	StalenessSec int `json:"staleness_sec" envconfig:"PAYOUTS_RECONCILIATION_STALENESS_SEC"`
	BatchSize    int `json:"batch_size" envconfig:"PAYOUTS_RECONCILIATION_BATCH_SIZE"`
	MaxWorkers   int `json:"max_workers" envconfig:"PAYOUTS_RECONCILIATION_MAX_WORKERS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYOUTS_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYOUTS_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYOUTS_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"PAYOUTS_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"PAYOUTS_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type TelemetryConfig struct {
	Enabled    bool   `json:"enabled" envconfig:"PAYOUTS_TELEMETRY_ENABLED"`
	PostHogKey string `json:"posthog_key" envconfig:"PAYOUTS_TELEMETRY_POSTHOG_KEY"`
}

type Configuration struct {
	ProjectName      string                 `json:"project_name" envconfig:"PAYOUTS_PROJECT_NAME"`
	Server           ServerConfig           `json:"server"`
	DataSource       DataSourceConfig       `json:"data_source"`
	Redis            RedisConfig            `json:"redis"`
	Queue            QueueConfig            `json:"queue"`
	Payout           PayoutConfig           `json:"payout"`
	TransferProvider TransferProviderConfig `json:"transfer_provider"`
	IdentityService  IdentityServiceConfig  `json:"identity_service"`
	Reconciliation   ReconciliationConfig   `json:"reconciliation"`
	Notification     Notification           `json:"notification"`
	RateLimit        RateLimitConfig        `json:"rate_limit"`
	Telemetry        TelemetryConfig        `json:"telemetry"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	// override config from environment variables
	err = envconfig.Process("payouts", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

// InitConfig loads configFile, applies env overrides and defaults, and
// stores the result for Fetch.
func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

// Fetch returns the configuration stored by InitConfig.
func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payouts.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Payouts"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if err := cnf.Payout.validateAndAddDefaults(); err != nil {
		return err
	}
	cnf.Queue.addDefaults()
	cnf.TransferProvider.addDefaults()
	cnf.Reconciliation.addDefaults()

	if cnf.IdentityService.TimeoutSec <= 0 {
		cnf.IdentityService.TimeoutSec = 10
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (p *PayoutConfig) validateAndAddDefaults() error {
	if p.ReservePercentage < 0 || p.ReservePercentage >= 1 {
		return errors.New("payout reserve percentage must be in the range [0, 1)")
	}
	if p.MinimumThreshold < 0 {
		return errors.New("payout minimum threshold cannot be negative")
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.DedupeWindowSec <= 0 {
		p.DedupeWindowSec = 600
	}
	if p.Workers <= 0 {
		p.Workers = 2
	}
	if p.WorkerQueueSize <= 0 {
		p.WorkerQueueSize = 100
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 5
	}
	if p.UnknownCodeMaxRetries <= 0 {
		p.UnknownCodeMaxRetries = 2
	}
	if p.UnknownCodeMaxRetries > p.MaxRetries {
		p.UnknownCodeMaxRetries = p.MaxRetries
	}
	if p.RetryBaseDelaySec <= 0 {
		p.RetryBaseDelaySec = 30
	}
	if p.RetryMaxDelaySec <= 0 {
		p.RetryMaxDelaySec = 3600
	}
	if p.RetryMultiplier < 1 {
		p.RetryMultiplier = 2
	}
	if p.RetryJitterFraction <= 0 || p.RetryJitterFraction > 1 {
		p.RetryJitterFraction = 0.2
	}
	if p.LockTimeoutSec <= 0 {
		p.LockTimeoutSec = 60
	}
	return nil
}

func (q *QueueConfig) addDefaults() {
	if q.RetryQueue == "" {
		q.RetryQueue = "payout_retries"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "payout_webhooks"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 2
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5004"
	}
}

func (t *TransferProviderConfig) addDefaults() {
	if t.Name == "" {
		t.Name = "mock"
	}
	if t.TimeoutSec <= 0 {
		t.TimeoutSec = 30
	}
	if t.RequestsPerSec <= 0 {
		t.RequestsPerSec = 5
	}
	if t.Burst <= 0 {
		t.Burst = 1
	}
	if t.MaxElapsedSec <= 0 {
		t.MaxElapsedSec = 10
	}
}

func (r *ReconciliationConfig) addDefaults() {
	if r.IntervalSec <= 0 {
		r.IntervalSec = 60
	}
	if r.StalenessSec <= 0 {
		r.StalenessSec = 900
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.MaxWorkers <= 0 {
		r.MaxWorkers = 2
	}
}

// ReserveFraction returns the reserve percentage as a decimal for money math.
func (p PayoutConfig) ReserveFraction() decimal.Decimal {
	return decimal.NewFromFloat(p.ReservePercentage)
}

func (p PayoutConfig) DedupeWindow() time.Duration {
	return time.Duration(p.DedupeWindowSec) * time.Second
}

func (p PayoutConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelaySec) * time.Second
}

func (p PayoutConfig) RetryMaxDelay() time.Duration {
	return time.Duration(p.RetryMaxDelaySec) * time.Second
}

func (p PayoutConfig) LockTimeout() time.Duration {
	return time.Duration(p.LockTimeoutSec) * time.Second
}

func (r ReconciliationConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSec) * time.Second
}

func (r ReconciliationConfig) Staleness() time.Duration {
	return time.Duration(r.StalenessSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
