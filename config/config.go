/*
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

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	// DefaultHoldDays is the forced minimum hold window applied when the
	// fraud disposition asks for a hold but the resolved window is zero.
	DefaultHoldDays = 7
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SecretKey string `json:"secret_key" envconfig:"OUTCLICK_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"OUTCLICK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"OUTCLICK_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"OUTCLICK_REDIS_DNS"`
}

type QueueConfig struct {
	WebhookQueue         string `json:"webhook_queue" envconfig:"OUTCLICK_QUEUE_WEBHOOK"`
	PlatformWebhookQueue string `json:"platform_webhook_queue" envconfig:"OUTCLICK_QUEUE_PLATFORM_WEBHOOK"`
	HoldExpiryQueue      string `json:"hold_expiry_queue" envconfig:"OUTCLICK_QUEUE_HOLD_EXPIRY"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

// PostbackConfig points at the publisher-side tracking endpoint conversions
// are announced to. Empty URL disables the sender.
type PostbackConfig struct {
	Url     string            `json:"url" envconfig:"OUTCLICK_POSTBACK_URL"`
	Headers map[string]string `json:"headers"`
	Timeout int               `json:"timeout"`
}

// DeliveryConfig tunes webhook delivery. Timeouts are seconds.
type DeliveryConfig struct {
	WebhookTimeout         int `json:"webhook_timeout"`
	PlatformWebhookTimeout int `json:"platform_webhook_timeout"`
}

// RateLimitConfig holds rate-limiting settings. Nil values disable limiting.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second"`
	Burst              *int     `json:"burst"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"OUTCLICK_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"OUTCLICK_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	Postback        PostbackConfig   `json:"postback"`
	Delivery        DeliveryConfig   `json:"delivery"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("outclick", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called outclick.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Outclick"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.PlatformWebhookQueue == "" {
		cnf.Queue.PlatformWebhookQueue = "new:platform_webhook"
	}
	if cnf.Queue.HoldExpiryQueue == "" {
		cnf.Queue.HoldExpiryQueue = "new:hold_expiry"
	}

	if cnf.Delivery.WebhookTimeout == 0 {
		cnf.Delivery.WebhookTimeout = 30
	}
	if cnf.Delivery.PlatformWebhookTimeout == 0 {
		cnf.Delivery.PlatformWebhookTimeout = 10
	}
	if cnf.Postback.Timeout == 0 {
		cnf.Postback.Timeout = 15
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
