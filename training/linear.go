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
	"fmt"
	"math"
	"math/rand"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/registry"
)

// LinearModel is the serialized form of the built-in logistic model.
type LinearModel struct {
	Kind         string    `json:"kind"`
	FeatureNames []string  `json:"featureNames"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
}

// EnsembleModel is the serialized form of a bagged ensemble.
type EnsembleModel struct {
	Kind    string        `json:"kind"`
	Members []LinearModel `json:"members"`
}

const (
	// ModelKindLinear marks LinearModel artifacts.
	ModelKindLinear = "linear"

	// ModelKindEnsemble marks EnsembleModel artifacts.
	ModelKindEnsemble = "ensemble"
)

// linearTrainer fits a logistic model with mini batch gradient descent.
type linearTrainer struct {
	// seed of the shuffling, split out for deterministic tests.
	seed int64
}

func (t *linearTrainer) Capabilities() Capabilities {
	return Capabilities{Interruptible: true}
}

func (t *linearTrainer) Train(ctx context.Context, train, validation *Dataset, params Params, callback EpochCallback) (*Result, error) {
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("%w: empty train split", mlerrors.ErrTraining)
	}

	if validation == nil || validation.Len() == 0 {
		validation = train
	}

	model := LinearModel{
		Kind:         ModelKindLinear,
		FeatureNames: train.FeatureNames,
		Weights:      make([]float64, len(train.FeatureNames)),
	}

	rng := rand.New(rand.NewSource(t.seed))

	var lossCurve []float64
	epochs := 0
	for epoch := 1; epoch <= params.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", mlerrors.ErrTraining, ctx.Err())
		default:
		}

		for _, index := range rng.Perm(train.Len()) {
			prediction := model.score(train.Features[index])
			gradient := prediction - train.Labels[index]
			step := params.LearningRate * gradient
			for j, x := range train.Features[index] {
				model.Weights[j] -= step * x
			}
			model.Bias -= step
		}

		epochs = epoch
		loss := model.logLoss(validation)
		lossCurve = append(lossCurve, loss)

		if callback != nil && !callback(Progress{
			Epoch:       epoch,
			TotalEpochs: params.Epochs,
			Loss:        loss,
			Metrics:     map[string]float64{"accuracy": model.accuracy(validation)},
		}) {
			break
		}
	}

	artifact, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal model: %v", mlerrors.ErrTraining, err)
	}

	return &Result{
		Artifact:  artifact,
		Framework: registry.FrameworkNative,
		Metrics: map[string]float64{
			"accuracy": model.accuracy(validation),
			"loss":     model.logLoss(validation),
		},
		LossCurve: lossCurve,
		Epochs:    epochs,
	}, nil
}

// ensembleTrainer bags several linear members over bootstrap samples.
type ensembleTrainer struct {
	members int
}

func (t *ensembleTrainer) Capabilities() Capabilities {
	return Capabilities{Interruptible: false}
}

func (t *ensembleTrainer) Train(ctx context.Context, train, validation *Dataset, params Params, callback EpochCallback) (*Result, error) {
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("%w: empty train split", mlerrors.ErrTraining)
	}

	if validation == nil || validation.Len() == 0 {
		validation = train
	}

	ensemble := EnsembleModel{Kind: ModelKindEnsemble}
	for i := 0; i < t.members; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		sample := &Dataset{FeatureNames: train.FeatureNames}
		for j := 0; j < train.Len(); j++ {
			index := rng.Intn(train.Len())
			sample.Features = append(sample.Features, train.Features[index])
			sample.Labels = append(sample.Labels, train.Labels[index])
		}

		member := &linearTrainer{seed: int64(i)}
		result, err := member.Train(ctx, sample, validation, params, nil)
		if err != nil {
			return nil, err
		}

		var model LinearModel
		if err := json.Unmarshal(result.Artifact, &model); err != nil {
			return nil, fmt.Errorf("%w: unmarshal member: %v", mlerrors.ErrTraining, err)
		}
		ensemble.Members = append(ensemble.Members, model)
	}

	artifact, err := json.Marshal(ensemble)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal ensemble: %v", mlerrors.ErrTraining, err)
	}

	correct := 0
	for i, features := range validation.Features {
		if math.Round(ensemble.Score(features)) == validation.Labels[i] {
			correct++
		}
	}

	return &Result{
		Artifact:  artifact,
		Framework: registry.FrameworkNative,
		Metrics: map[string]float64{
			"accuracy": float64(correct) / float64(validation.Len()),
		},
		Epochs: params.Epochs,
	}, nil
}

// Score returns the probability of the positive class.
func (m *LinearModel) Score(features []float64) float64 {
	return m.score(features)
}

// Score averages the member probabilities.
func (m *EnsembleModel) Score(features []float64) float64 {
	if len(m.Members) == 0 {
		return 0
	}

	var sum float64
	for i := range m.Members {
		sum += m.Members[i].score(features)
	}

	return sum / float64(len(m.Members))
}

func (m *LinearModel) score(features []float64) float64 {
	z := m.Bias
	for i, w := range m.Weights {
		if i < len(features) {
			z += w * features[i]
		}
	}

	return 1 / (1 + math.Exp(-z))
}

func (m *LinearModel) logLoss(dataset *Dataset) float64 {
	const eps = 1e-12

	var sum float64
	for i, features := range dataset.Features {
		p := math.Min(math.Max(m.score(features), eps), 1-eps)
		if dataset.Labels[i] > 0.5 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}

	return sum / float64(dataset.Len())
}

func (m *LinearModel) accuracy(dataset *Dataset) float64 {
	correct := 0
	for i, features := range dataset.Features {
		if math.Round(m.score(features)) == dataset.Labels[i] {
			correct++
		}
	}

	return float64(correct) / float64(dataset.Len())
}
