/*
 *     Copyright 2025 The Threat Modeling MLOps Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	// Verbose enables debug level logs.
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`

	// Console writes logs to stderr instead of rotated files.
	Console bool `yaml:"console" mapstructure:"console"`

	// Server configuration.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Metrics configuration.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Database configuration.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Registry configuration.
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`

	// Training configuration.
	Training TrainingConfig `yaml:"training" mapstructure:"training"`

	// Experiment configuration.
	Experiment ExperimentConfig `yaml:"experiment" mapstructure:"experiment"`

	// Serving configuration.
	Serving ServingConfig `yaml:"serving" mapstructure:"serving"`

	// Monitoring configuration.
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

type ServerConfig struct {
	// LogDir is server log directory.
	LogDir string `yaml:"logDir" mapstructure:"logDir"`

	// LogMaxSize is the maximum size in megabytes of log files before rotation.
	LogMaxSize int `yaml:"logMaxSize" mapstructure:"logMaxSize"`

	// LogMaxAge is the maximum number of days to retain old log files.
	LogMaxAge int `yaml:"logMaxAge" mapstructure:"logMaxAge"`

	// LogMaxBackups is the maximum number of old log files to keep.
	LogMaxBackups int `yaml:"logMaxBackups" mapstructure:"logMaxBackups"`

	// DataDir is server storage data directory.
	DataDir string `yaml:"dataDir" mapstructure:"dataDir"`
}

type MetricsConfig struct {
	// Enable metrics service.
	Enable bool `yaml:"enable" mapstructure:"enable"`

	// Addr is metrics service address.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type DatabaseConfig struct {
	// Type is database type, support mysql and postgres. Empty type
	// disables durable records and keeps job state in memory only.
	Type string `yaml:"type" mapstructure:"type"`

	// Mysql configuration.
	Mysql MysqlConfig `yaml:"mysql" mapstructure:"mysql"`

	// Postgres configuration.
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`

	// Redis configuration.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

type MysqlConfig struct {
	// User is mysql user.
	User string `yaml:"user" mapstructure:"user"`

	// Password is mysql password.
	Password string `yaml:"password" mapstructure:"password"`

	// Host is mysql host.
	Host string `yaml:"host" mapstructure:"host"`

	// Port is mysql port.
	Port int `yaml:"port" mapstructure:"port"`

	// DBName is mysql database name.
	DBName string `yaml:"dbname" mapstructure:"dbname"`

	// Migrate runs auto migration on startup.
	Migrate bool `yaml:"migrate" mapstructure:"migrate"`
}

type PostgresConfig struct {
	// User is postgres user.
	User string `yaml:"user" mapstructure:"user"`

	// Password is postgres password.
	Password string `yaml:"password" mapstructure:"password"`

	// Host is postgres host.
	Host string `yaml:"host" mapstructure:"host"`

	// Port is postgres port.
	Port int `yaml:"port" mapstructure:"port"`

	// DBName is postgres database name.
	DBName string `yaml:"dbname" mapstructure:"dbname"`

	// SSLMode is postgres ssl mode.
	SSLMode string `yaml:"sslMode" mapstructure:"sslMode"`

	// Migrate runs auto migration on startup.
	Migrate bool `yaml:"migrate" mapstructure:"migrate"`
}

type RedisConfig struct {
	// Addrs is redis addresses.
	Addrs []string `yaml:"addrs" mapstructure:"addrs"`

	// MasterName is the sentinel master name.
	MasterName string `yaml:"masterName" mapstructure:"masterName"`

	// Username is redis username.
	Username string `yaml:"username" mapstructure:"username"`

	// Password is redis password.
	Password string `yaml:"password" mapstructure:"password"`

	// BrokerDB is the queue broker database number.
	BrokerDB int `yaml:"brokerDB" mapstructure:"brokerDB"`

	// BackendDB is the queue backend database number.
	BackendDB int `yaml:"backendDB" mapstructure:"backendDB"`
}

type RegistryConfig struct {
	// Storage is the artifact storage backend configuration.
	Storage ArtifactStorageConfig `yaml:"storage" mapstructure:"storage"`

	// DefaultStage is the stage used to resolve a model when no
	// version is given.
	DefaultStage string `yaml:"defaultStage" mapstructure:"defaultStage"`
}

type ArtifactStorageConfig struct {
	// Backend is the storage backend, support local, s3 and oss.
	Backend string `yaml:"backend" mapstructure:"backend"`

	// BaseDir is the base directory of the local backend.
	BaseDir string `yaml:"baseDir" mapstructure:"baseDir"`

	// Bucket is the bucket of the object storage backend.
	Bucket string `yaml:"bucket" mapstructure:"bucket"`

	// Region is the region of the object storage backend.
	Region string `yaml:"region" mapstructure:"region"`

	// Endpoint is the endpoint of the object storage backend.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// AccessKey is the access key of the object storage backend.
	AccessKey string `yaml:"accessKey" mapstructure:"accessKey"`

	// SecretKey is the secret key of the object storage backend.
	SecretKey string `yaml:"secretKey" mapstructure:"secretKey"`
}

type TrainingConfig struct {
	// Workers is the number of concurrent training workers.
	Workers int `yaml:"workers" mapstructure:"workers"`

	// QueueDepth is the size of the pending job queue.
	QueueDepth int `yaml:"queueDepth" mapstructure:"queueDepth"`

	// MaxAttempts is the maximum number of attempts per job on
	// transient failure.
	MaxAttempts int `yaml:"maxAttempts" mapstructure:"maxAttempts"`

	// InitBackoff is the initial retry backoff in seconds.
	InitBackoff float64 `yaml:"initBackoff" mapstructure:"initBackoff"`

	// MaxBackoff is the maximum retry backoff in seconds.
	MaxBackoff float64 `yaml:"maxBackoff" mapstructure:"maxBackoff"`

	// Distributed enables the redis backed distributed queue.
	Distributed bool `yaml:"distributed" mapstructure:"distributed"`
}

type ExperimentConfig struct {
	// ParallelTrials bounds the number of trials running at once
	// within one experiment.
	ParallelTrials int `yaml:"parallelTrials" mapstructure:"parallelTrials"`
}

type ServingConfig struct {
	// MaxModelsInMemory bounds the model cache size.
	MaxModelsInMemory int `yaml:"maxModelsInMemory" mapstructure:"maxModelsInMemory"`

	// Warmup runs a synthetic prediction after loading a model.
	Warmup bool `yaml:"warmup" mapstructure:"warmup"`
}

type MonitoringConfig struct {
	// Enable monitoring service.
	Enable bool `yaml:"enable" mapstructure:"enable"`

	// CollectInterval is the metrics collection cycle interval.
	CollectInterval time.Duration `yaml:"collectInterval" mapstructure:"collectInterval"`

	// WindowSize is the drift sliding window size.
	WindowSize int `yaml:"windowSize" mapstructure:"windowSize"`

	// DriftMethod is the drift detection method, support psi,
	// kl_divergence and wasserstein.
	DriftMethod string `yaml:"driftMethod" mapstructure:"driftMethod"`

	// DriftThreshold is the drift score that triggers an alert.
	DriftThreshold float64 `yaml:"driftThreshold" mapstructure:"driftThreshold"`

	// ErrorRateThreshold is the prediction error rate that triggers
	// an alert, evaluated per collect cycle.
	ErrorRateThreshold float64 `yaml:"errorRateThreshold" mapstructure:"errorRateThreshold"`

	// Alerts is the alert channel configuration.
	Alerts AlertsConfig `yaml:"alerts" mapstructure:"alerts"`
}

type AlertsConfig struct {
	// Webhooks is the list of generic webhook urls.
	Webhooks []string `yaml:"webhooks" mapstructure:"webhooks"`

	// ChatWebhook is the chat webhook url.
	ChatWebhook string `yaml:"chatWebhook" mapstructure:"chatWebhook"`

	// Email is the smtp email channel configuration.
	Email EmailConfig `yaml:"email" mapstructure:"email"`
}

type EmailConfig struct {
	// SMTPAddr is the smtp server address, like host:port.
	SMTPAddr string `yaml:"smtpAddr" mapstructure:"smtpAddr"`

	// From is the sender address.
	From string `yaml:"from" mapstructure:"from"`

	// To is the recipient addresses.
	To []string `yaml:"to" mapstructure:"to"`

	// Username is the smtp username.
	Username string `yaml:"username" mapstructure:"username"`

	// Password is the smtp password.
	Password string `yaml:"password" mapstructure:"password"`
}

// New default configuration.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			LogDir:        DefaultLogDir,
			LogMaxSize:    DefaultLogRotateMaxSize,
			LogMaxAge:     DefaultLogRotateMaxAge,
			LogMaxBackups: DefaultLogRotateMaxBackups,
			DataDir:       DefaultDataDir,
		},
		Metrics: MetricsConfig{
			Enable: true,
			Addr:   DefaultMetricsAddr,
		},
		Registry: RegistryConfig{
			Storage: ArtifactStorageConfig{
				Backend: DefaultStorageBackend,
				BaseDir: DefaultStorageBaseDir,
			},
			DefaultStage: DefaultStage,
		},
		Training: TrainingConfig{
			Workers:     DefaultTrainingWorkers,
			QueueDepth:  DefaultTrainingQueueDepth,
			MaxAttempts: DefaultTrainingMaxAttempts,
			InitBackoff: DefaultTrainingInitBackoff,
			MaxBackoff:  DefaultTrainingMaxBackoff,
		},
		Experiment: ExperimentConfig{
			ParallelTrials: DefaultParallelTrials,
		},
		Serving: ServingConfig{
			MaxModelsInMemory: DefaultMaxModelsInMemory,
			Warmup:            true,
		},
		Monitoring: MonitoringConfig{
			Enable:             true,
			CollectInterval:    DefaultCollectInterval,
			WindowSize:         DefaultDriftWindowSize,
			DriftMethod:        DefaultDriftMethod,
			DriftThreshold:     DefaultDriftThreshold,
			ErrorRateThreshold: DefaultErrorRateThreshold,
		},
	}
}

// Validate config parameters.
func (cfg *Config) Validate() error {
	if cfg.Metrics.Enable {
		if cfg.Metrics.Addr == "" {
			return errors.New("metrics requires parameter addr")
		}
	}

	switch cfg.Database.Type {
	case "", DatabaseTypeMysql, DatabaseTypePostgres:
	default:
		return fmt.Errorf("database requires parameter type in [mysql, postgres], got %s", cfg.Database.Type)
	}

	switch cfg.Registry.Storage.Backend {
	case StorageBackendLocal:
		if cfg.Registry.Storage.BaseDir == "" {
			return errors.New("registry storage requires parameter baseDir")
		}
	case StorageBackendS3, StorageBackendOSS:
		if cfg.Registry.Storage.Bucket == "" {
			return errors.New("registry storage requires parameter bucket")
		}
	default:
		return fmt.Errorf("registry storage requires parameter backend in [local, s3, oss], got %s", cfg.Registry.Storage.Backend)
	}

	if cfg.Training.Workers <= 0 {
		return errors.New("training requires parameter workers")
	}

	if cfg.Training.QueueDepth <= 0 {
		return errors.New("training requires parameter queueDepth")
	}

	if cfg.Training.MaxAttempts <= 0 {
		return errors.New("training requires parameter maxAttempts")
	}

	if cfg.Training.Distributed && len(cfg.Database.Redis.Addrs) == 0 {
		return errors.New("distributed training requires parameter database.redis.addrs")
	}

	if cfg.Experiment.ParallelTrials <= 0 {
		return errors.New("experiment requires parameter parallelTrials")
	}

	if cfg.Serving.MaxModelsInMemory <= 0 {
		return errors.New("serving requires parameter maxModelsInMemory")
	}

	if cfg.Monitoring.Enable {
		if cfg.Monitoring.CollectInterval <= 0 {
			return errors.New("monitoring requires parameter collectInterval")
		}

		if cfg.Monitoring.WindowSize <= 0 {
			return errors.New("monitoring requires parameter windowSize")
		}

		switch cfg.Monitoring.DriftMethod {
		case DriftMethodPSI, DriftMethodKLDivergence, DriftMethodWasserstein:
		default:
			return fmt.Errorf("monitoring requires parameter driftMethod in [psi, kl_divergence, wasserstein], got %s", cfg.Monitoring.DriftMethod)
		}

		if cfg.Monitoring.DriftThreshold <= 0 {
			return errors.New("monitoring requires parameter driftThreshold")
		}
	}

	return nil
}
