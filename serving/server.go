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

package serving

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/metrics"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/registry"
)

// LoadedModel is one model version held in memory.
type LoadedModel struct {
	// ModelID identifies the model.
	ModelID string

	// Version is the served version.
	Version string

	// Wrapper runs inference for the artifact format.
	Wrapper ModelWrapper

	// SizeBytes is the artifact size.
	SizeBytes int64

	// LoadedAt is the load time.
	LoadedAt time.Time

	// LastUsed is updated on every prediction.
	LastUsed *atomic.Time

	// Predictions counts predictions served by this instance.
	Predictions *atomic.Int64
}

// Observer is notified about serving events. Callbacks run on the
// prediction path and must not block.
type Observer interface {
	// OnModelLoaded fires after a model is loaded into memory.
	OnModelLoaded(modelID, version string)

	// OnPrediction fires after every successful prediction.
	OnPrediction(modelID, version string, features []float64, prediction *Prediction, latency time.Duration)

	// OnPredictionError fires after every failed prediction.
	OnPredictionError(modelID, version string, err error)
}

// ModelHealth is the health of one loaded model.
type ModelHealth struct {
	ModelID     string    `json:"modelId"`
	Version     string    `json:"version"`
	LoadedAt    time.Time `json:"loadedAt"`
	LastUsed    time.Time `json:"lastUsed"`
	Predictions int64     `json:"predictions"`
	SizeBytes   int64     `json:"sizeBytes"`
}

// Health is the serving health snapshot.
type Health struct {
	Status       string        `json:"status"`
	LoadedModels []ModelHealth `json:"loadedModels"`
	MaxModels    int           `json:"maxModels"`

	// MemoryBytes is the summed footprint of all loaded models.
	MemoryBytes int64 `json:"memoryBytes"`
}

// Server serves registered models with a bounded in-memory cache. The
// least recently used model is evicted when the cache is full.
type Server struct {
	config   *config.ServingConfig
	registry registry.Registry

	mu     sync.Mutex
	cache  *lru.Cache
	loaded map[string]*LoadedModel

	omu       sync.RWMutex
	observers []Observer
}

// New creates a model server over the registry.
func New(cfg *config.ServingConfig, reg registry.Registry) *Server {
	s := &Server{
		config:   cfg,
		registry: reg,
		loaded:   map[string]*LoadedModel{},
	}

	s.cache = lru.New(cfg.MaxModelsInMemory)
	s.cache.OnEvicted = func(key lru.Key, value any) {
		model := value.(*LoadedModel)
		delete(s.loaded, key.(string))
		metrics.ModelEvictCount.WithLabelValues(model.ModelID, model.Version).Inc()
		metrics.ModelsInMemoryGauge.Dec()
		logger.WithModel(model.ModelID, model.Version).Infof("model evicted from memory")
	}

	return s
}

// AddObserver registers a serving observer.
func (s *Server) AddObserver(observer Observer) {
	s.omu.Lock()
	defer s.omu.Unlock()
	s.observers = append(s.observers, observer)
}

// Warmup loads the default stage version of every registered model.
// Models without a stage pointer are skipped.
func (s *Server) Warmup(ctx context.Context) error {
	if !s.config.Warmup {
		return nil
	}

	metadatas, err := s.registry.List(ctx, "")
	if err != nil {
		return err
	}

	for _, metadata := range metadatas {
		model, err := s.registry.Get(ctx, metadata.ModelID, "")
		if err != nil {
			continue
		}

		if _, err := s.LoadModel(ctx, model.Metadata.ModelID, model.Metadata.Version); err != nil {
			logger.WithModel(model.Metadata.ModelID, model.Metadata.Version).Warnf("warmup: %v", err)
		}
	}

	return nil
}

// LoadModel loads one version into memory, or returns the cached
// instance. An empty version resolves through the default stage pointer.
func (s *Server) LoadModel(ctx context.Context, modelID, version string) (*LoadedModel, error) {
	if version == "" {
		model, err := s.registry.Get(ctx, modelID, "")
		if err != nil {
			return nil, err
		}
		version = model.Metadata.Version
	}

	key := modelKey(modelID, version)

	s.mu.Lock()
	if value, ok := s.cache.Get(key); ok {
		s.mu.Unlock()
		return value.(*LoadedModel), nil
	}
	s.mu.Unlock()

	// Fetch outside the lock, artifacts can be large.
	model, err := s.registry.Get(ctx, modelID, version)
	if err != nil {
		return nil, err
	}

	rc, err := s.registry.OpenArtifact(ctx, modelID, version)
	if err != nil {
		return nil, err
	}

	artifact, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %v", mlerrors.ErrStorage, err)
	}

	wrapper, err := NewWrapper(model.Metadata.Framework, artifact)
	if err != nil {
		return nil, err
	}

	loaded := &LoadedModel{
		ModelID:     modelID,
		Version:     version,
		Wrapper:     wrapper,
		SizeBytes:   int64(len(artifact)),
		LoadedAt:    time.Now(),
		LastUsed:    atomic.NewTime(time.Now()),
		Predictions: atomic.NewInt64(0),
	}

	s.mu.Lock()
	if value, ok := s.cache.Get(key); ok {
		// Lost the race to a concurrent load.
		s.mu.Unlock()
		return value.(*LoadedModel), nil
	}
	s.cache.Add(key, loaded)
	s.loaded[key] = loaded
	s.mu.Unlock()

	metrics.ModelLoadCount.WithLabelValues(modelID, version).Inc()
	metrics.ModelsInMemoryGauge.Inc()
	logger.WithModel(modelID, version).Infof("model loaded, %d bytes", loaded.SizeBytes)

	if s.config.Warmup {
		// One synthetic prediction primes the wrapper. Failure is not
		// fatal, real inputs may still work.
		if _, err := wrapper.Predict(ctx, make([]float64, len(wrapper.Features()))); err != nil {
			logger.WithModel(modelID, version).Warnf("warmup prediction: %v", err)
		}
	}

	s.omu.RLock()
	for _, observer := range s.observers {
		observer.OnModelLoaded(modelID, version)
	}
	s.omu.RUnlock()

	return loaded, nil
}

// UnloadModel drops one version from memory. Unknown versions are a
// no-op.
func (s *Server) UnloadModel(modelID, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(modelKey(modelID, version))
}

// Predict runs one inference, loading the model on demand.
func (s *Server) Predict(ctx context.Context, modelID, version string, features []float64) (*Prediction, error) {
	model, err := s.LoadModel(ctx, modelID, version)
	if err != nil {
		s.notifyError(modelID, version, err)
		return nil, err
	}

	start := time.Now()
	prediction, err := model.Wrapper.Predict(ctx, features)
	latency := time.Since(start)

	// Touch the cache entry so lru order follows use.
	s.mu.Lock()
	s.cache.Get(modelKey(model.ModelID, model.Version))
	s.mu.Unlock()

	if err != nil {
		metrics.PredictionFailureCount.WithLabelValues(model.ModelID, model.Version).Inc()
		s.notifyError(model.ModelID, model.Version, err)
		return nil, err
	}

	model.LastUsed.Store(time.Now())
	model.Predictions.Inc()
	metrics.PredictionCount.WithLabelValues(model.ModelID, model.Version).Inc()
	metrics.PredictionLatency.WithLabelValues(model.ModelID, model.Version).Observe(latency.Seconds())

	s.omu.RLock()
	for _, observer := range s.observers {
		observer.OnPrediction(model.ModelID, model.Version, features, prediction, latency)
	}
	s.omu.RUnlock()

	return prediction, nil
}

// PredictRequest is one item of a batch. An empty version resolves
// through the default stage pointer.
type PredictRequest struct {
	ModelID  string    `json:"modelId"`
	Version  string    `json:"version"`
	Features []float64 `json:"features"`
}

// BatchPredict runs a mixed batch concurrently and preserves input
// order. Requests are grouped by resolved model so repeated requests to
// the same model reuse one load. The first error fails the whole batch.
func (s *Server) BatchPredict(ctx context.Context, requests []PredictRequest) ([]*Prediction, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: empty batch", mlerrors.ErrValidation)
	}

	// Resolve and load every distinct model once up front.
	models := make([]*LoadedModel, len(requests))
	byKey := map[string]*LoadedModel{}
	for i, request := range requests {
		key := modelKey(request.ModelID, request.Version)
		model, ok := byKey[key]
		if !ok {
			var err error
			model, err = s.LoadModel(ctx, request.ModelID, request.Version)
			if err != nil {
				s.notifyError(request.ModelID, request.Version, err)
				return nil, err
			}

			byKey[key] = model
			byKey[modelKey(model.ModelID, model.Version)] = model
		}
		models[i] = model
	}

	predictions := make([]*Prediction, len(requests))
	eg, ctx := errgroup.WithContext(ctx)
	for i := range requests {
		i := i
		eg.Go(func() error {
			prediction, err := s.Predict(ctx, models[i].ModelID, models[i].Version, requests[i].Features)
			if err != nil {
				return err
			}

			predictions[i] = prediction
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return predictions, nil
}

// Health returns the current serving snapshot.
func (s *Server) Health() *Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := &Health{
		Status:    "ok",
		MaxModels: s.config.MaxModelsInMemory,
	}

	for _, model := range s.loaded {
		health.LoadedModels = append(health.LoadedModels, ModelHealth{
			ModelID:     model.ModelID,
			Version:     model.Version,
			LoadedAt:    model.LoadedAt,
			LastUsed:    model.LastUsed.Load(),
			Predictions: model.Predictions.Load(),
			SizeBytes:   model.SizeBytes,
		})
		health.MemoryBytes += model.SizeBytes
	}

	return health
}

// IsLoaded reports whether a version is currently in memory.
func (s *Server) IsLoaded(modelID, version string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loaded[modelKey(modelID, version)]
	return ok
}

func (s *Server) notifyError(modelID, version string, err error) {
	s.omu.RLock()
	for _, observer := range s.observers {
		observer.OnPredictionError(modelID, version, err)
	}
	s.omu.RUnlock()
}

func modelKey(modelID, version string) string {
	return fmt.Sprintf("%s@%s", modelID, version)
}
