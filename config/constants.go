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

import "time"

const (
	// DefaultMetricsAddr is default address for metrics server.
	DefaultMetricsAddr = ":8000"
)

const (
	// DefaultLogDir is the default server log directory.
	DefaultLogDir = "/var/log/mlops"

	// DefaultDataDir is the default server data directory.
	DefaultDataDir = "/var/lib/mlops"

	// DefaultLogRotateMaxSize is the default maximum size in megabytes of log files before rotation.
	DefaultLogRotateMaxSize = 1024

	// DefaultLogRotateMaxAge is the default number of days to retain old log files.
	DefaultLogRotateMaxAge = 7

	// DefaultLogRotateMaxBackups is the default number of old log files to keep.
	DefaultLogRotateMaxBackups = 20
)

const (
	// DatabaseTypeMysql is the mysql database type.
	DatabaseTypeMysql = "mysql"

	// DatabaseTypePostgres is the postgres database type.
	DatabaseTypePostgres = "postgres"
)

const (
	// StorageBackendLocal is the local filesystem artifact storage backend.
	StorageBackendLocal = "local"

	// StorageBackendS3 is the s3 artifact storage backend.
	StorageBackendS3 = "s3"

	// StorageBackendOSS is the oss artifact storage backend.
	StorageBackendOSS = "oss"

	// DefaultStorageBackend is the default artifact storage backend.
	DefaultStorageBackend = StorageBackendLocal

	// DefaultStorageBaseDir is the default base directory of the local backend.
	DefaultStorageBaseDir = DefaultDataDir + "/models"
)

const (
	// DefaultStage is the stage used to resolve models when no version is given.
	DefaultStage = "production"
)

const (
	// DefaultTrainingWorkers is the default number of training workers.
	DefaultTrainingWorkers = 2

	// DefaultTrainingQueueDepth is the default pending job queue size.
	DefaultTrainingQueueDepth = 64

	// DefaultTrainingMaxAttempts is the default number of attempts per job.
	DefaultTrainingMaxAttempts = 3

	// DefaultTrainingInitBackoff is the default initial retry backoff in seconds.
	DefaultTrainingInitBackoff = 1.0

	// DefaultTrainingMaxBackoff is the default maximum retry backoff in seconds.
	DefaultTrainingMaxBackoff = 30.0
)

const (
	// DefaultParallelTrials is the default trial concurrency per experiment.
	DefaultParallelTrials = 1
)

const (
	// DefaultMaxModelsInMemory is the default model cache capacity.
	DefaultMaxModelsInMemory = 5
)

const (
	// DriftMethodPSI is the population stability index drift method.
	DriftMethodPSI = "psi"

	// DriftMethodKLDivergence is the kl divergence drift method.
	DriftMethodKLDivergence = "kl_divergence"

	// DriftMethodWasserstein is the wasserstein distance drift method.
	DriftMethodWasserstein = "wasserstein"

	// DefaultDriftMethod is the default drift detection method.
	DefaultDriftMethod = DriftMethodPSI

	// DefaultCollectInterval is the default metrics collection cycle interval.
	DefaultCollectInterval = 60 * time.Second

	// DefaultDriftWindowSize is the default drift sliding window size.
	DefaultDriftWindowSize = 100

	// DefaultDriftThreshold is the default drift score alert threshold.
	DefaultDriftThreshold = 0.2

	// DefaultErrorRateThreshold is the default prediction error rate alert threshold.
	DefaultErrorRateThreshold = 0.05
)
