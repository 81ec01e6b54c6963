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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separableDataset returns points that a linear model can classify
// perfectly.
func separableDataset() *Dataset {
	dataset := &Dataset{FeatureNames: []string{"exposure", "severity"}}
	positives := [][]float64{{0.9, 0.8}, {0.8, 0.9}, {0.7, 0.9}, {0.9, 0.95}, {0.85, 0.7}}
	negatives := [][]float64{{0.1, 0.2}, {0.2, 0.1}, {0.15, 0.05}, {0.05, 0.3}, {0.25, 0.2}}

	for _, p := range positives {
		dataset.Features = append(dataset.Features, p)
		dataset.Labels = append(dataset.Labels, 1)
	}
	for _, n := range negatives {
		dataset.Features = append(dataset.Features, n)
		dataset.Labels = append(dataset.Labels, 0)
	}

	return dataset
}

func TestLinearTrainer_Train(t *testing.T) {
	assert := assert.New(t)
	trainer := &linearTrainer{}
	assert.True(trainer.Capabilities().Interruptible)

	result, err := trainer.Train(context.Background(), separableDataset(), nil, Params{
		Epochs:       200,
		LearningRate: 0.5,
	}, nil)
	require.NoError(t, err)

	assert.Equal(1.0, result.Metrics["accuracy"])
	assert.Equal(200, result.Epochs)
	assert.Len(result.LossCurve, 200)

	// Loss decreases over training.
	assert.Less(result.LossCurve[len(result.LossCurve)-1], result.LossCurve[0])

	var model LinearModel
	require.NoError(t, json.Unmarshal(result.Artifact, &model))
	assert.Equal(ModelKindLinear, model.Kind)
	assert.Equal([]string{"exposure", "severity"}, model.FeatureNames)
	assert.Greater(model.Score([]float64{0.9, 0.9}), 0.5)
	assert.Less(model.Score([]float64{0.1, 0.1}), 0.5)
}

func TestLinearTrainer_CallbackStops(t *testing.T) {
	assert := assert.New(t)
	trainer := &linearTrainer{}

	epochs := 0
	result, err := trainer.Train(context.Background(), separableDataset(), nil, Params{
		Epochs:       100,
		LearningRate: 0.5,
	}, func(progress Progress) bool {
		epochs = progress.Epoch
		return progress.Epoch < 3
	})
	require.NoError(t, err)

	assert.Equal(3, epochs)
	assert.Equal(3, result.Epochs)
	assert.Len(result.LossCurve, 3)
}

func TestLinearTrainer_ContextCancelled(t *testing.T) {
	assert := assert.New(t)
	trainer := &linearTrainer{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := trainer.Train(ctx, separableDataset(), nil, Params{
		Epochs:       10,
		LearningRate: 0.5,
	}, nil)
	assert.Error(err)
}

func TestEnsembleTrainer_Train(t *testing.T) {
	assert := assert.New(t)
	trainer := &ensembleTrainer{members: 3}
	assert.False(trainer.Capabilities().Interruptible)

	result, err := trainer.Train(context.Background(), separableDataset(), nil, Params{
		Epochs:       100,
		LearningRate: 0.5,
	}, nil)
	require.NoError(t, err)

	var model EnsembleModel
	require.NoError(t, json.Unmarshal(result.Artifact, &model))
	assert.Equal(ModelKindEnsemble, model.Kind)
	assert.Len(model.Members, 3)
	assert.Greater(model.Score([]float64{0.9, 0.9}), 0.5)
	assert.Less(model.Score([]float64{0.1, 0.1}), 0.5)
}

func TestNewTrainer(t *testing.T) {
	assert := assert.New(t)

	trainer, err := NewTrainer("threat-classifier")
	assert.NoError(err)
	assert.NotNil(trainer)

	_, err = NewTrainer("oracle")
	assert.Error(err)
}
