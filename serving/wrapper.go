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
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/registry"
	"github.com/anubissbe/threat-modeling-mlops/training"
)

// Prediction is the output of one inference.
type Prediction struct {
	// Label is the predicted class.
	Label float64 `json:"label"`

	// Score is the probability of the positive class.
	Score float64 `json:"score"`
}

// ModelWrapper adapts one artifact format to a common inference
// interface.
type ModelWrapper interface {
	// Framework returns the artifact format this wrapper serves.
	Framework() registry.Framework

	// Features returns the expected feature order.
	Features() []string

	// Predict runs one inference.
	Predict(ctx context.Context, features []float64) (*Prediction, error)
}

// WrapperFactory constructs a wrapper from raw artifact bytes.
type WrapperFactory func(artifact []byte) (ModelWrapper, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[registry.Framework]WrapperFactory{}
)

// RegisterWrapper registers a wrapper factory for a framework, replacing
// any previous registration.
func RegisterWrapper(framework registry.Framework, factory WrapperFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[framework] = factory
}

// NewWrapper constructs the wrapper registered for a framework.
func NewWrapper(framework registry.Framework, artifact []byte) (ModelWrapper, error) {
	factoriesMu.RLock()
	factory, ok := factories[framework]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no wrapper for framework %q", mlerrors.ErrUnsupportedType, framework)
	}

	return factory(artifact)
}

func init() {
	RegisterWrapper(registry.FrameworkNative, newNativeWrapper)
}

// nativeWrapper serves the built-in json artifacts produced by the
// training pipeline.
type nativeWrapper struct {
	features []string
	score    func(features []float64) float64
}

func newNativeWrapper(artifact []byte) (ModelWrapper, error) {
	var kind struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(artifact, &kind); err != nil {
		return nil, fmt.Errorf("%w: parse artifact: %v", mlerrors.ErrValidation, err)
	}

	switch kind.Kind {
	case training.ModelKindLinear:
		model := &training.LinearModel{}
		if err := json.Unmarshal(artifact, model); err != nil {
			return nil, fmt.Errorf("%w: parse linear artifact: %v", mlerrors.ErrValidation, err)
		}
		return &nativeWrapper{features: model.FeatureNames, score: model.Score}, nil
	case training.ModelKindEnsemble:
		model := &training.EnsembleModel{}
		if err := json.Unmarshal(artifact, model); err != nil {
			return nil, fmt.Errorf("%w: parse ensemble artifact: %v", mlerrors.ErrValidation, err)
		}
		var features []string
		if len(model.Members) > 0 {
			features = model.Members[0].FeatureNames
		}
		return &nativeWrapper{features: features, score: model.Score}, nil
	default:
		return nil, fmt.Errorf("%w: unknown artifact kind %q", mlerrors.ErrValidation, kind.Kind)
	}
}

func (w *nativeWrapper) Framework() registry.Framework {
	return registry.FrameworkNative
}

func (w *nativeWrapper) Features() []string {
	return w.features
}

func (w *nativeWrapper) Predict(ctx context.Context, features []float64) (*Prediction, error) {
	if len(features) != len(w.features) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", mlerrors.ErrValidation, len(w.features), len(features))
	}

	score := w.score(features)
	return &Prediction{
		Label: math.Round(score),
		Score: score,
	}, nil
}
