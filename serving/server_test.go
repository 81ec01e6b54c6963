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
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/registry"
	"github.com/anubissbe/threat-modeling-mlops/storage"
	"github.com/anubissbe/threat-modeling-mlops/training"
)

func newTestServer(t *testing.T, maxModels int) (*Server, registry.Registry) {
	t.Helper()

	store, err := storage.New(&config.ArtifactStorageConfig{
		Backend: config.StorageBackendLocal,
		BaseDir: t.TempDir(),
	})
	require.NoError(t, err)

	reg := registry.New(&config.RegistryConfig{DefaultStage: config.DefaultStage}, store, nil)
	return New(&config.ServingConfig{MaxModelsInMemory: maxModels}, reg), reg
}

// registerLinear registers a hand built linear artifact that predicts
// positive when the single feature exceeds 0.5.
func registerLinear(t *testing.T, reg registry.Registry, modelID, version string) {
	t.Helper()

	artifact, err := json.Marshal(training.LinearModel{
		Kind:         training.ModelKindLinear,
		FeatureNames: []string{"severity"},
		Weights:      []float64{10},
		Bias:         -5,
	})
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), bytes.NewReader(artifact), &registry.ModelMetadata{
		ModelID:   modelID,
		ModelName: modelID,
		Version:   version,
		ModelType: registry.ModelTypeThreatClassifier,
		Framework: registry.FrameworkNative,
	})
	require.NoError(t, err)
}

type recordingObserver struct {
	mu          sync.Mutex
	loaded      []string
	predictions int
	errors      int
}

func (o *recordingObserver) OnModelLoaded(modelID, version string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loaded = append(o.loaded, modelID+"@"+version)
}

func (o *recordingObserver) OnPrediction(modelID, version string, features []float64, prediction *Prediction, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.predictions++
}

func (o *recordingObserver) OnPredictionError(modelID, version string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors++
}

func TestServer_Predict(t *testing.T) {
	assert := assert.New(t)
	server, reg := newTestServer(t, 2)
	registerLinear(t, reg, "signature_detector", "1.0.0")

	observer := &recordingObserver{}
	server.AddObserver(observer)

	prediction, err := server.Predict(context.Background(), "signature_detector", "1.0.0", []float64{0.9})
	require.NoError(t, err)
	assert.Equal(1.0, prediction.Label)
	assert.Greater(prediction.Score, 0.5)

	prediction, err = server.Predict(context.Background(), "signature_detector", "1.0.0", []float64{0.1})
	require.NoError(t, err)
	assert.Equal(0.0, prediction.Label)

	// Wrong feature count fails and notifies the observer.
	_, err = server.Predict(context.Background(), "signature_detector", "1.0.0", []float64{0.1, 0.2})
	assert.ErrorIs(err, mlerrors.ErrValidation)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal([]string{"signature_detector@1.0.0"}, observer.loaded)
	assert.Equal(2, observer.predictions)
	assert.Equal(1, observer.errors)
}

func TestServer_PredictDefaultStage(t *testing.T) {
	assert := assert.New(t)
	server, reg := newTestServer(t, 2)
	registerLinear(t, reg, "signature_detector", "1.0.0")
	registerLinear(t, reg, "signature_detector", "1.1.0")

	// No production pointer yet.
	_, err := server.Predict(context.Background(), "signature_detector", "", []float64{0.9})
	assert.ErrorIs(err, mlerrors.ErrNotFound)

	_, err = reg.Promote(context.Background(), "signature_detector", "1.1.0", registry.StageProduction)
	require.NoError(t, err)

	_, err = server.Predict(context.Background(), "signature_detector", "", []float64{0.9})
	assert.NoError(err)
	assert.True(server.IsLoaded("signature_detector", "1.1.0"))
	assert.False(server.IsLoaded("signature_detector", "1.0.0"))
}

func TestServer_LRUEviction(t *testing.T) {
	assert := assert.New(t)
	server, reg := newTestServer(t, 2)
	registerLinear(t, reg, "model_a", "1.0.0")
	registerLinear(t, reg, "model_b", "1.0.0")
	registerLinear(t, reg, "model_c", "1.0.0")

	_, err := server.LoadModel(context.Background(), "model_a", "1.0.0")
	require.NoError(t, err)
	_, err = server.LoadModel(context.Background(), "model_b", "1.0.0")
	require.NoError(t, err)

	// Touch a so b becomes the least recently used.
	_, err = server.Predict(context.Background(), "model_a", "1.0.0", []float64{0.9})
	require.NoError(t, err)

	_, err = server.LoadModel(context.Background(), "model_c", "1.0.0")
	require.NoError(t, err)

	assert.True(server.IsLoaded("model_a", "1.0.0"))
	assert.False(server.IsLoaded("model_b", "1.0.0"))
	assert.True(server.IsLoaded("model_c", "1.0.0"))

	// An evicted model reloads on demand.
	_, err = server.Predict(context.Background(), "model_b", "1.0.0", []float64{0.9})
	assert.NoError(err)
}

func TestServer_BatchPredict(t *testing.T) {
	assert := assert.New(t)
	server, reg := newTestServer(t, 2)
	registerLinear(t, reg, "signature_detector", "1.0.0")

	requests := []PredictRequest{
		{ModelID: "signature_detector", Version: "1.0.0", Features: []float64{0.9}},
		{ModelID: "signature_detector", Version: "1.0.0", Features: []float64{0.1}},
		{ModelID: "signature_detector", Version: "1.0.0", Features: []float64{0.8}},
		{ModelID: "signature_detector", Version: "1.0.0", Features: []float64{0.2}},
	}
	predictions, err := server.BatchPredict(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, predictions, 4)

	// Order is preserved.
	assert.Equal(1.0, predictions[0].Label)
	assert.Equal(0.0, predictions[1].Label)
	assert.Equal(1.0, predictions[2].Label)
	assert.Equal(0.0, predictions[3].Label)

	_, err = server.BatchPredict(context.Background(), nil)
	assert.ErrorIs(err, mlerrors.ErrValidation)
}

func TestServer_BatchPredictMixedModels(t *testing.T) {
	assert := assert.New(t)
	server, reg := newTestServer(t, 4)
	registerLinear(t, reg, "model_a", "1.0.0")
	registerLinear(t, reg, "model_b", "1.0.0")
	_, err := reg.Promote(context.Background(), "model_b", "1.0.0", registry.StageProduction)
	require.NoError(t, err)

	observer := &recordingObserver{}
	server.AddObserver(observer)

	// Repeated requests to the same model share one load, the empty
	// version resolves through the production pointer.
	requests := []PredictRequest{
		{ModelID: "model_a", Version: "1.0.0", Features: []float64{0.9}},
		{ModelID: "model_b", Version: "", Features: []float64{0.1}},
		{ModelID: "model_a", Version: "1.0.0", Features: []float64{0.2}},
		{ModelID: "model_b", Version: "1.0.0", Features: []float64{0.8}},
	}
	predictions, err := server.BatchPredict(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, predictions, 4)

	assert.Equal(1.0, predictions[0].Label)
	assert.Equal(0.0, predictions[1].Label)
	assert.Equal(0.0, predictions[2].Label)
	assert.Equal(1.0, predictions[3].Label)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.ElementsMatch([]string{"model_a@1.0.0", "model_b@1.0.0"}, observer.loaded)
}

func TestServer_Health(t *testing.T) {
	assert := assert.New(t)
	server, reg := newTestServer(t, 3)
	registerLinear(t, reg, "signature_detector", "1.0.0")

	health := server.Health()
	assert.Equal("ok", health.Status)
	assert.Empty(health.LoadedModels)
	assert.Equal(3, health.MaxModels)

	_, err := server.Predict(context.Background(), "signature_detector", "1.0.0", []float64{0.9})
	require.NoError(t, err)

	health = server.Health()
	require.Len(t, health.LoadedModels, 1)
	assert.Equal("signature_detector", health.LoadedModels[0].ModelID)
	assert.Equal(int64(1), health.LoadedModels[0].Predictions)
	assert.Greater(health.LoadedModels[0].SizeBytes, int64(0))
	assert.Equal(health.LoadedModels[0].SizeBytes, health.MemoryBytes)
}

func TestServer_Warmup(t *testing.T) {
	assert := assert.New(t)
	server, reg := newTestServer(t, 3)
	server.config.Warmup = true

	registerLinear(t, reg, "model_a", "1.0.0")
	registerLinear(t, reg, "model_b", "1.0.0")
	_, err := reg.Promote(context.Background(), "model_a", "1.0.0", registry.StageProduction)
	require.NoError(t, err)

	require.NoError(t, server.Warmup(context.Background()))

	// Only the model with a production pointer is preloaded.
	assert.True(server.IsLoaded("model_a", "1.0.0"))
	assert.False(server.IsLoaded("model_b", "1.0.0"))
}

func TestNewWrapper_UnsupportedFramework(t *testing.T) {
	_, err := NewWrapper(registry.FrameworkTensorflow, []byte("{}"))
	assert.ErrorIs(t, err, mlerrors.ErrUnsupportedType)
}

func TestNativeWrapper_Ensemble(t *testing.T) {
	assert := assert.New(t)
	artifact, err := json.Marshal(training.EnsembleModel{
		Kind: training.ModelKindEnsemble,
		Members: []training.LinearModel{
			{Kind: training.ModelKindLinear, FeatureNames: []string{"severity"}, Weights: []float64{10}, Bias: -5},
			{Kind: training.ModelKindLinear, FeatureNames: []string{"severity"}, Weights: []float64{8}, Bias: -4},
		},
	})
	require.NoError(t, err)

	wrapper, err := NewWrapper(registry.FrameworkNative, artifact)
	require.NoError(t, err)
	assert.Equal([]string{"severity"}, wrapper.Features())

	prediction, err := wrapper.Predict(context.Background(), []float64{0.9})
	require.NoError(t, err)
	assert.Equal(1.0, prediction.Label)
}
