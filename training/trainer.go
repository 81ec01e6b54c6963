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
	"fmt"
	"sync"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/registry"
)

// Capabilities describes what a trainer implementation supports.
type Capabilities struct {
	// Interruptible reports whether the trainer honors an epoch callback
	// returning false, which is required for early stopping.
	Interruptible bool
}

// Progress is reported to the epoch callback after each epoch.
type Progress struct {
	// Epoch is the finished epoch, starting at 1.
	Epoch int

	// TotalEpochs is the configured epoch count.
	TotalEpochs int

	// Loss is the validation loss after the epoch.
	Loss float64

	// Metrics are additional metrics after the epoch.
	Metrics map[string]float64
}

// EpochCallback is invoked after each epoch. Returning false asks an
// interruptible trainer to stop.
type EpochCallback func(progress Progress) bool

// Result is the output of one training run.
type Result struct {
	// Artifact is the serialized model.
	Artifact []byte

	// Framework is the artifact's runtime format.
	Framework registry.Framework

	// Metrics are the final evaluation metrics.
	Metrics map[string]float64

	// LossCurve is the per-epoch validation loss.
	LossCurve []float64

	// Epochs is the number of epochs actually run.
	Epochs int
}

// Params are the hyperparameters of one training run.
type Params struct {
	Epochs          int
	BatchSize       int
	LearningRate    float64
	Hyperparameters map[string]any
}

// Trainer trains one model type.
type Trainer interface {
	// Capabilities returns what this trainer supports.
	Capabilities() Capabilities

	// Train fits a model on the train split and evaluates it on the
	// validation split. callback may be nil.
	Train(ctx context.Context, train, validation *Dataset, params Params, callback EpochCallback) (*Result, error)
}

// Builder constructs a trainer for a model type.
type Builder func() Trainer

var (
	buildersMu sync.RWMutex
	builders   = map[registry.ModelType]Builder{}
)

// RegisterTrainer registers a trainer builder for a model type,
// replacing any previous registration.
func RegisterTrainer(modelType registry.ModelType, builder Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[modelType] = builder
}

// NewTrainer constructs the trainer registered for a model type.
func NewTrainer(modelType registry.ModelType) (Trainer, error) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()

	builder, ok := builders[modelType]
	if !ok {
		return nil, fmt.Errorf("%w: no trainer for model type %q", mlerrors.ErrUnsupportedType, modelType)
	}

	return builder(), nil
}

func init() {
	// The built-in linear trainer covers every non-ensemble model type.
	for modelType := range registry.ModelTypes {
		if modelType == registry.ModelTypeEnsemble {
			continue
		}
		RegisterTrainer(modelType, func() Trainer { return &linearTrainer{} })
	}
	RegisterTrainer(registry.ModelTypeEnsemble, func() Trainer { return &ensembleTrainer{members: 3} })
}
