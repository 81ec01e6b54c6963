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

package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/metrics"
	"github.com/anubissbe/threat-modeling-mlops/serving"
)

// errorWindow is the sliding outcome window of one model.
type errorWindow struct {
	mu      sync.Mutex
	window  *deque.Deque[bool]
	maxSize int
}

func (w *errorWindow) observe(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.window.PushBack(failed)
	for w.window.Len() > w.maxSize {
		w.window.PopFront()
	}
}

// rate returns the error rate and whether the window is full.
func (w *errorWindow) rate() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window.Len() == 0 {
		return 0, false
	}

	errors := 0
	for i := 0; i < w.window.Len(); i++ {
		if w.window.At(i) {
			errors++
		}
	}

	return float64(errors) / float64(w.window.Len()), w.window.Len() >= w.maxSize
}

// HealthSource provides the serving snapshot consulted each collection
// cycle.
type HealthSource func() *serving.Health

// Monitor observes the model server, tracks drift and error rates and
// raises alerts. It implements serving.Observer.
type Monitor struct {
	config   *config.MonitoringConfig
	drift    *DriftDetector
	notifier *Notifier
	errors   cmap.ConcurrentMap[string, *errorWindow]
	health   HealthSource

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a monitor.
func New(cfg *config.MonitoringConfig) *Monitor {
	return &Monitor{
		config:   cfg,
		drift:    NewDriftDetector(cfg),
		notifier: NewNotifier(&cfg.Alerts),
		errors:   cmap.New[*errorWindow](),
		done:     make(chan struct{}),
	}
}

// Drift exposes the drift detector for reference initialization.
func (m *Monitor) Drift() *DriftDetector {
	return m.drift
}

// Notifier exposes the alert notifier.
func (m *Monitor) Notifier() *Notifier {
	return m.notifier
}

// SetHealthSource wires the model server snapshot into the collection
// cycle.
func (m *Monitor) SetHealthSource(source HealthSource) {
	m.health = source
}

// OnModelLoaded implements serving.Observer.
func (m *Monitor) OnModelLoaded(modelID, version string) {
	m.errors.SetIfAbsent(modelID, &errorWindow{
		window:  &deque.Deque[bool]{},
		maxSize: m.config.WindowSize,
	})
}

// OnPrediction implements serving.Observer. Drift is checked per
// prediction, not per collection cycle.
func (m *Monitor) OnPrediction(modelID, version string, features []float64, prediction *serving.Prediction, latency time.Duration) {
	m.drift.Observe(modelID, features, prediction.Score)
	if scores, err := m.drift.Scores(modelID); err == nil && scores.WindowFull {
		m.checkDrift(context.Background(), modelID, scores)
	}

	if window, ok := m.errors.Get(modelID); ok {
		window.observe(false)
	}
}

// OnPredictionError implements serving.Observer.
func (m *Monitor) OnPredictionError(modelID, version string, err error) {
	if window, ok := m.errors.Get(modelID); ok {
		window.observe(true)
	}
}

// Serve runs collection cycles until Stop. A slow cycle delays the next
// one instead of overlapping it.
func (m *Monitor) Serve() {
	if !m.config.Enable {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.CollectInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.collect(context.Background())
			}
		}
	}()

	logger.Infof("monitoring started, interval %s, method %s", m.config.CollectInterval, m.config.DriftMethod)
}

// Stop halts the collection loop.
func (m *Monitor) Stop() {
	close(m.done)
	m.wg.Wait()
}

// collect runs one monitoring cycle.
func (m *Monitor) collect(ctx context.Context) {
	m.collectHost()
	m.collectServing()

	for _, modelID := range m.models() {
		m.collectModel(ctx, modelID)
	}
}

// collectServing refreshes the per model memory gauges from the serving
// snapshot.
func (m *Monitor) collectServing() {
	if m.health == nil {
		return
	}

	health := m.health()
	for _, model := range health.LoadedModels {
		metrics.ModelMemoryGauge.WithLabelValues(model.ModelID, model.Version).Set(float64(model.SizeBytes))
	}
	metrics.ServingMemoryGauge.Set(float64(health.MemoryBytes))
}

// models returns every model id known to either tracker.
func (m *Monitor) models() []string {
	ids := map[string]struct{}{}
	for _, id := range m.errors.Keys() {
		ids[id] = struct{}{}
	}
	for _, id := range m.drift.models.Keys() {
		ids[id] = struct{}{}
	}

	var out []string
	for id := range ids {
		out = append(out, id)
	}

	return out
}

func (m *Monitor) collectModel(ctx context.Context, modelID string) {
	// Drift alerts fire on the prediction path, the cycle only refreshes
	// the gauges.
	if scores, err := m.drift.Scores(modelID); err == nil {
		for feature, score := range scores.Features {
			metrics.FeatureDriftGauge.WithLabelValues(modelID, feature).Set(score)
		}
		metrics.PredictionDriftGauge.WithLabelValues(modelID).Set(scores.Prediction)
	}

	if window, ok := m.errors.Get(modelID); ok {
		rate, full := window.rate()
		metrics.ErrorRateGauge.WithLabelValues(modelID).Set(rate)

		if full && rate > m.config.ErrorRateThreshold {
			m.alert(ctx, &Alert{
				ModelID:   modelID,
				Rule:      "error_rate",
				Severity:  SeverityCritical,
				Message:   "prediction error rate over threshold",
				Value:     rate,
				Threshold: m.config.ErrorRateThreshold,
				Timestamp: time.Now(),
			})
		}
	}
}

func (m *Monitor) checkDrift(ctx context.Context, modelID string, scores *DriftScores) {
	for feature, score := range scores.Features {
		if score > m.config.DriftThreshold {
			m.alert(ctx, &Alert{
				ModelID:   modelID,
				Rule:      "feature_drift",
				Severity:  SeverityWarning,
				Message:   "feature " + feature + " drifted from reference",
				Value:     score,
				Threshold: m.config.DriftThreshold,
				Timestamp: time.Now(),
			})
		}
	}

	if scores.Prediction > m.config.DriftThreshold {
		m.alert(ctx, &Alert{
			ModelID:   modelID,
			Rule:      "prediction_drift",
			Severity:  SeverityWarning,
			Message:   "prediction distribution drifted from reference",
			Value:     scores.Prediction,
			Threshold: m.config.DriftThreshold,
			Timestamp: time.Now(),
		})
	}
}

func (m *Monitor) alert(ctx context.Context, alert *Alert) {
	if err := m.notifier.Send(ctx, alert); err != nil {
		logger.Warnf("alert delivery incomplete: %v", err)
	}
}

// collectHost updates host level gauges.
func (m *Monitor) collectHost() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics.HostCPUUsageGauge.Set(percents[0])
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		metrics.HostMemoryUsageGauge.Set(vm.UsedPercent)
	}

	if usage, err := disk.Usage("/"); err == nil {
		metrics.HostDiskUsageGauge.Set(usage.UsedPercent)
	}
}
