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

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/pkg/types"
	"github.com/anubissbe/threat-modeling-mlops/version"
)

// Variables declared for metrics.
var (
	ModelRegisterCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.RegistryMetricsName,
		Name:      "register_total",
		Help:      "Counter of the number of the registered models.",
	}, []string{"model_type"})

	ModelRegisterFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.RegistryMetricsName,
		Name:      "register_failure_total",
		Help:      "Counter of the number of failed of the registering models.",
	}, []string{"model_type"})

	ModelPromoteCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.RegistryMetricsName,
		Name:      "promote_total",
		Help:      "Counter of the number of the promoted models.",
	}, []string{"stage"})

	TrainStartedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.TrainingMetricsName,
		Name:      "started_total",
		Help:      "Counter of the number of the training started.",
	}, []string{"model_type"})

	TrainFinishedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.TrainingMetricsName,
		Name:      "finished_total",
		Help:      "Counter of the number of the training finished.",
	}, []string{"model_type"})

	TrainFinishedFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.TrainingMetricsName,
		Name:      "finished_failure_total",
		Help:      "Counter of the number of failed of the training finished.",
	}, []string{"model_type"})

	TrainDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.TrainingMetricsName,
		Name:      "duration_seconds",
		Help:      "Histogram of the time each training job takes.",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	}, []string{"model_type"})

	TrialCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ExperimentMetricsName,
		Name:      "trial_total",
		Help:      "Counter of the number of the finished trials.",
	}, []string{"strategy", "state"})

	ExperimentCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ExperimentMetricsName,
		Name:      "run_total",
		Help:      "Counter of the number of the finished experiments.",
	}, []string{"strategy", "state"})

	PredictionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "prediction_total",
		Help:      "Counter of the number of the predictions.",
	}, []string{"model_id", "model_version"})

	PredictionFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "prediction_failure_total",
		Help:      "Counter of the number of failed of the predictions.",
	}, []string{"model_id", "model_version"})

	PredictionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "prediction_latency_seconds",
		Help:      "Histogram of the time each prediction takes.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model_id", "model_version"})

	ModelLoadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "model_load_total",
		Help:      "Counter of the number of the model loads.",
	}, []string{"model_id", "model_version"})

	ModelEvictCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "model_evict_total",
		Help:      "Counter of the number of the model evictions.",
	}, []string{"model_id", "model_version"})

	ModelsInMemoryGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "models_in_memory",
		Help:      "Gauge of the number of models held in memory.",
	})

	ModelMemoryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "model_memory_bytes",
		Help:      "Gauge of the memory footprint of each loaded model.",
	}, []string{"model_id", "model_version"})

	ServingMemoryGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ServingMetricsName,
		Name:      "memory_bytes",
		Help:      "Gauge of the summed memory footprint of all loaded models.",
	})

	FeatureDriftGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "feature_drift_score",
		Help:      "Gauge of the drift score of each monitored feature.",
	}, []string{"model_id", "feature"})

	PredictionDriftGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "prediction_drift_score",
		Help:      "Gauge of the drift score of the prediction distribution.",
	}, []string{"model_id"})

	ErrorRateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "error_rate",
		Help:      "Gauge of the prediction error rate over the sliding window.",
	}, []string{"model_id"})

	AlertCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "alert_total",
		Help:      "Counter of the number of the sent alerts.",
	}, []string{"channel", "severity"})

	AlertFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "alert_failure_total",
		Help:      "Counter of the number of failed of the sending alerts.",
	}, []string{"channel", "severity"})

	HostCPUUsageGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "host_cpu_usage",
		Help:      "Gauge of the host cpu usage percent.",
	})

	HostMemoryUsageGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "host_memory_usage",
		Help:      "Gauge of the host memory usage percent.",
	})

	HostDiskUsageGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.MonitoringMetricsName,
		Name:      "host_disk_usage",
		Help:      "Gauge of the host disk usage percent.",
	})

	VersionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Name:      "version",
		Help:      "Version info of the service.",
	}, []string{"major", "minor", "git_version", "git_commit", "platform", "build_time", "go_version", "go_tags", "go_gcflags"})
)

func New(cfg *config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	healthy := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"healthy"}`)
	}
	mux.HandleFunc("/health", healthy)
	mux.HandleFunc("/healthy", healthy)

	VersionGauge.WithLabelValues(version.Major, version.Minor, version.GitVersion, version.GitCommit, version.Platform, version.BuildTime, version.GoVersion, version.Gotags, version.Gogcflags).Set(1)
	return &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
}
