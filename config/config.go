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
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5080"
	DEFAULT_DATA_SOURCE     = "file:catsync.db?_foreign_keys=on"
	DEFAULT_WEBHOOK_QUEUE   = "new:webhook"
	DEFAULT_MONITORING_PORT = "5084"
	DEFAULT_LOCK_KEY        = "catsync:worker"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"CATSYNC_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CATSYNC_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"CATSYNC_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CATSYNC_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"CATSYNC_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"CATSYNC_REDIS_SKIP_TLS_VERIFY"`
}

// DCFConfig configures the remote catalogue service client.
type DCFConfig struct {
	ProductionURL     string `json:"production_url" envconfig:"CATSYNC_DCF_PRODUCTION_URL"`
	TestURL           string `json:"test_url" envconfig:"CATSYNC_DCF_TEST_URL"`
	Username          string `json:"username" envconfig:"CATSYNC_DCF_USERNAME"`
	Password          string `json:"password" envconfig:"CATSYNC_DCF_PASSWORD"`
	Environment       string `json:"environment" envconfig:"CATSYNC_DCF_ENVIRONMENT"`
	RequestTimeoutSec int    `json:"request_timeout_sec" envconfig:"CATSYNC_DCF_REQUEST_TIMEOUT_SEC"`
	PollIntervalSec   int    `json:"poll_interval_sec" envconfig:"CATSYNC_DCF_POLL_INTERVAL_SEC"`
	PollTimeoutMin    int    `json:"poll_timeout_min" envconfig:"CATSYNC_DCF_POLL_TIMEOUT_MIN"`
	MaxSubmitRetries  int    `json:"max_submit_retries" envconfig:"CATSYNC_DCF_MAX_SUBMIT_RETRIES"`
}

// BaseURL returns the DCF endpoint for the given environment name.
func (c DCFConfig) BaseURL(environment string) string {
	if strings.EqualFold(environment, "PRODUCTION") {
		return c.ProductionURL
	}
	return c.TestURL
}

func (c DCFConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c DCFConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c DCFConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMin) * time.Minute
}

type WorkerConfig struct {
	EventBuffer int    `json:"event_buffer" envconfig:"CATSYNC_WORKER_EVENT_BUFFER"`
	LockKey     string `json:"lock_key" envconfig:"CATSYNC_WORKER_LOCK_KEY"`
	LockTTLSec  int    `json:"lock_ttl_sec" envconfig:"CATSYNC_WORKER_LOCK_TTL_SEC"`
	LockWaitSec int    `json:"lock_wait_sec" envconfig:"CATSYNC_WORKER_LOCK_WAIT_SEC"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"CATSYNC_QUEUE_WEBHOOK_QUEUE"`
	MonitoringPort string `json:"monitoring_port" envconfig:"CATSYNC_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CATSYNC_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CATSYNC_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CATSYNC_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"CATSYNC_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"CATSYNC_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"CATSYNC_PROJECT_NAME"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	DCF             DCFConfig        `json:"dcf"`
	Worker          WorkerConfig     `json:"worker"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"CATSYNC_ENABLE_TELEMETRY"`
	LogLevel        string           `json:"log_level" envconfig:"CATSYNC_LOG_LEVEL"`
	LogFormat       string           `json:"log_format" envconfig:"CATSYNC_LOG_FORMAT"`
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

	// override config from environment variables
	err = envconfig.Process("catsync", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	configureLogging(&cnf)
	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called catsync.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "CatSync"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.DCF.ProductionURL = strings.TrimRight(strings.TrimSpace(cnf.DCF.ProductionURL), "/")
	cnf.DCF.TestURL = strings.TrimRight(strings.TrimSpace(cnf.DCF.TestURL), "/")

	if cnf.DataSource.Dns == "" {
		log.Printf("Warning: Data source DNS is empty. Using local database %s", DEFAULT_DATA_SOURCE)
		cnf.DataSource.Dns = DEFAULT_DATA_SOURCE
	}

	if cnf.DCF.Environment == "" {
		cnf.DCF.Environment = "TEST"
	}
	cnf.DCF.Environment = strings.ToUpper(strings.TrimSpace(cnf.DCF.Environment))
	if cnf.DCF.Environment != "TEST" && cnf.DCF.Environment != "PRODUCTION" {
		return fmt.Errorf("dcf environment must be TEST or PRODUCTION, got %q", cnf.DCF.Environment)
	}
	if cnf.DCF.BaseURL(cnf.DCF.Environment) == "" {
		log.Printf("Error: DCF url for environment %s is empty. It's a required field.", cnf.DCF.Environment)
		return fmt.Errorf("dcf url for environment %s is required", cnf.DCF.Environment)
	}

	if cnf.DCF.RequestTimeoutSec <= 0 {
		cnf.DCF.RequestTimeoutSec = 30
	}
	if cnf.DCF.PollIntervalSec <= 0 {
		cnf.DCF.PollIntervalSec = 10
	}
	if cnf.DCF.PollTimeoutMin <= 0 {
		cnf.DCF.PollTimeoutMin = 60
	}
	if cnf.DCF.MaxSubmitRetries < 0 {
		cnf.DCF.MaxSubmitRetries = 0
	} else if cnf.DCF.MaxSubmitRetries == 0 {
		cnf.DCF.MaxSubmitRetries = 3
	}

	if cnf.Worker.EventBuffer <= 0 {
		cnf.Worker.EventBuffer = 64
	}
	if cnf.Worker.LockKey == "" {
		cnf.Worker.LockKey = DEFAULT_LOCK_KEY
	}
	if cnf.Worker.LockTTLSec <= 0 {
		cnf.Worker.LockTTLSec = 30
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.LogLevel == "" {
		cnf.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(cnf.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", cnf.LogLevel)
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	log.SetOutput(logrus.StandardLogger().Writer())
}

func configureLogging(cnf *Configuration) {
	if level, err := logrus.ParseLevel(cnf.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if strings.EqualFold(cnf.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
