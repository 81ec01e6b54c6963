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

package training

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/registry"
	"github.com/anubissbe/threat-modeling-mlops/storage"
)

const testCSV = "exposure,severity,label\n" +
	"0.9,0.8,1\n0.8,0.9,1\n0.7,0.9,1\n0.9,0.95,1\n0.85,0.7,1\n" +
	"0.1,0.2,0\n0.2,0.1,0\n0.15,0.05,0\n0.05,0.3,0\n0.25,0.2,0\n"

func newTestPipeline(t *testing.T, cfg *config.TrainingConfig) (*Pipeline, registry.Registry) {
	t.Helper()

	store, err := storage.New(&config.ArtifactStorageConfig{
		Backend: config.StorageBackendLocal,
		BaseDir: t.TempDir(),
	})
	require.NoError(t, err)

	reg := registry.New(&config.RegistryConfig{DefaultStage: config.DefaultStage}, store, nil)
	pipeline, err := New(cfg, reg, nil, nil)
	require.NoError(t, err)
	return pipeline, reg
}

func testJobConfig(t *testing.T) *JobConfig {
	return &JobConfig{
		ModelID:      "anomaly_detector",
		ModelType:    registry.ModelTypeThreatClassifier,
		DatasetPath:  writeDataset(t, testCSV),
		Epochs:       50,
		LearningRate: 0.5,
	}
}

func TestJobConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *JobConfig)
		expect func(t *testing.T, err error)
	}{
		{
			name:   "valid config",
			mutate: func(cfg *JobConfig) {},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:   "missing model id",
			mutate: func(cfg *JobConfig) { cfg.ModelID = "" },
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name:   "zero epochs",
			mutate: func(cfg *JobConfig) { cfg.Epochs = 0 },
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name:   "negative learning rate",
			mutate: func(cfg *JobConfig) { cfg.LearningRate = -0.1 },
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name:   "validation split out of range",
			mutate: func(cfg *JobConfig) { cfg.ValidationSplit = 1 },
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name:   "unknown model type",
			mutate: func(cfg *JobConfig) { cfg.ModelType = "oracle" },
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name:   "promote to archived",
			mutate: func(cfg *JobConfig) { cfg.PromoteStage = registry.StageArchived },
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testJobConfig(t)
			tc.mutate(cfg)
			tc.expect(t, cfg.Validate())
		})
	}
}

func TestPipeline_SubmitAndWait(t *testing.T) {
	assert := assert.New(t)
	pipeline, reg := newTestPipeline(t, &config.TrainingConfig{
		Workers:     2,
		QueueDepth:  8,
		MaxAttempts: 1,
		InitBackoff: 0.1,
		MaxBackoff:  0.2,
	})
	require.NoError(t, pipeline.Serve())
	defer pipeline.Stop()

	cfg := testJobConfig(t)
	cfg.ValidationSplit = 0.2
	cfg.PromoteStage = registry.StageStaging

	job, err := pipeline.Submit(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err = pipeline.Wait(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(JobStateCompleted, job.State())
	metadata, err := job.Result()
	require.NoError(t, err)
	assert.Equal("anomaly_detector", metadata.ModelID)
	assert.Equal(trainVersion(time.Now()), metadata.Version)
	assert.Contains(metadata.Metrics, "accuracy")
	assert.Equal(50, job.Progress().TotalEpochs)

	// The job promoted its artifact to staging.
	model, err := reg.GetStage(context.Background(), "anomaly_detector", registry.StageStaging)
	require.NoError(t, err)
	assert.Equal(metadata.Version, model.Metadata.Version)
}

func TestPipeline_EarlyStopping(t *testing.T) {
	assert := assert.New(t)
	pipeline, _ := newTestPipeline(t, &config.TrainingConfig{
		Workers:     1,
		QueueDepth:  8,
		MaxAttempts: 1,
		InitBackoff: 0.1,
		MaxBackoff:  0.2,
	})
	require.NoError(t, pipeline.Serve())
	defer pipeline.Stop()

	cfg := testJobConfig(t)
	cfg.Epochs = 500
	cfg.EarlyStopping = &EarlyStoppingConfig{Patience: 3, MinDelta: 0.01}

	job, err := pipeline.Submit(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err = pipeline.Wait(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(JobStateCompleted, job.State())
	metadata, err := job.Result()
	require.NoError(t, err)
	assert.Less(metadata.TrainingInfo.Epochs, 500)
}

func TestPipeline_Cancel(t *testing.T) {
	assert := assert.New(t)
	// No workers started, jobs stay queued.
	pipeline, _ := newTestPipeline(t, &config.TrainingConfig{
		Workers:     0,
		QueueDepth:  8,
		MaxAttempts: 1,
		InitBackoff: 0.1,
		MaxBackoff:  0.2,
	})

	job, err := pipeline.Submit(context.Background(), testJobConfig(t))
	require.NoError(t, err)

	assert.NoError(pipeline.Cancel(job.ID))
	assert.Equal(JobStateCancelled, job.State())

	// A cancelled job cannot be cancelled again.
	assert.ErrorIs(pipeline.Cancel(job.ID), mlerrors.ErrValidation)

	// An unknown job is not found.
	assert.ErrorIs(pipeline.Cancel("unknown"), mlerrors.ErrNotFound)
}

func TestPipeline_QueueFull(t *testing.T) {
	assert := assert.New(t)
	pipeline, _ := newTestPipeline(t, &config.TrainingConfig{
		Workers:     0,
		QueueDepth:  1,
		MaxAttempts: 1,
		InitBackoff: 0.1,
		MaxBackoff:  0.2,
	})

	_, err := pipeline.Submit(context.Background(), testJobConfig(t))
	require.NoError(t, err)

	_, err = pipeline.Submit(context.Background(), testJobConfig(t))
	assert.ErrorIs(err, mlerrors.ErrTraining)
}

func TestPipeline_FailsOnMissingDataset(t *testing.T) {
	assert := assert.New(t)
	pipeline, _ := newTestPipeline(t, &config.TrainingConfig{
		Workers:     1,
		QueueDepth:  8,
		MaxAttempts: 3,
		InitBackoff: 0.01,
		MaxBackoff:  0.02,
	})
	require.NoError(t, pipeline.Serve())
	defer pipeline.Stop()

	cfg := testJobConfig(t)
	cfg.DatasetPath = cfg.DatasetPath + ".missing"

	job, err := pipeline.Submit(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err = pipeline.Wait(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(JobStateFailed, job.State())
	_, err = job.Result()
	assert.ErrorIs(err, mlerrors.ErrNotFound)
}
