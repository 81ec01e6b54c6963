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
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/gammazero/deque"
	"github.com/montanaflynn/stats"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

const (
	// psiBins is the number of equal width bins of the psi method.
	psiBins = 10

	// proportionFloor keeps bin proportions away from zero.
	proportionFloor = 0.0001
)

// referenceStats is the frozen distribution of one dimension captured at
// initialization time.
type referenceStats struct {
	values []float64
	sorted []float64
	mean   float64
	stddev float64
	min    float64
	max    float64
}

func newReferenceStats(values []float64) (*referenceStats, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("%w: reference needs at least 2 samples", mlerrors.ErrValidation)
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	stddev, err := stats.StandardDeviation(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	min, err := stats.Min(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	max, err := stats.Max(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return &referenceStats{
		values: values,
		sorted: sorted,
		mean:   mean,
		stddev: stddev,
		min:    min,
		max:    max,
	}, nil
}

// dimensionState is the sliding window of one monitored dimension.
type dimensionState struct {
	reference *referenceStats
	window    *deque.Deque[float64]
}

func (d *dimensionState) observe(value float64, windowSize int) {
	d.window.PushBack(value)
	for d.window.Len() > windowSize {
		d.window.PopFront()
	}
}

func (d *dimensionState) values() []float64 {
	values := make([]float64, 0, d.window.Len())
	for i := 0; i < d.window.Len(); i++ {
		values = append(values, d.window.At(i))
	}

	return values
}

// modelState tracks all dimensions of one model.
type modelState struct {
	mu           sync.Mutex
	featureNames []string
	features     map[string]*dimensionState
	predictions  *dimensionState
}

// DriftScores is one drift snapshot. A score stays zero until the
// observation window is full.
type DriftScores struct {
	// Features maps feature name to drift score.
	Features map[string]float64 `json:"features"`

	// Prediction is the drift score of the prediction distribution.
	Prediction float64 `json:"prediction"`

	// WindowFull reports whether scores are meaningful yet.
	WindowFull bool `json:"windowFull"`
}

// DriftDetector compares live feature and prediction distributions
// against a frozen reference.
type DriftDetector struct {
	method     string
	windowSize int
	models     cmap.ConcurrentMap[string, *modelState]
}

// NewDriftDetector creates a detector with the configured method and
// window size.
func NewDriftDetector(cfg *config.MonitoringConfig) *DriftDetector {
	return &DriftDetector{
		method:     cfg.DriftMethod,
		windowSize: cfg.WindowSize,
		models:     cmap.New[*modelState](),
	}
}

// InitializeReference freezes the reference distributions of one model.
// featureNames gives the positional order of later observations.
func (d *DriftDetector) InitializeReference(modelID string, featureNames []string, features map[string][]float64, predictions []float64) error {
	state := &modelState{
		featureNames: featureNames,
		features:     map[string]*dimensionState{},
	}

	for _, name := range featureNames {
		values, ok := features[name]
		if !ok {
			return fmt.Errorf("%w: no reference values for feature %q", mlerrors.ErrValidation, name)
		}

		reference, err := newReferenceStats(values)
		if err != nil {
			return err
		}

		state.features[name] = &dimensionState{
			reference: reference,
			window:    &deque.Deque[float64]{},
		}
	}

	reference, err := newReferenceStats(predictions)
	if err != nil {
		return err
	}
	state.predictions = &dimensionState{
		reference: reference,
		window:    &deque.Deque[float64]{},
	}

	d.models.Set(modelID, state)
	return nil
}

// Initialized reports whether a model has a reference.
func (d *DriftDetector) Initialized(modelID string) bool {
	return d.models.Has(modelID)
}

// Observe records one prediction. features follow the positional order
// given at initialization, extra features are ignored.
func (d *DriftDetector) Observe(modelID string, features []float64, prediction float64) {
	state, ok := d.models.Get(modelID)
	if !ok {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	for i, name := range state.featureNames {
		if i >= len(features) {
			break
		}
		state.features[name].observe(features[i], d.windowSize)
	}
	state.predictions.observe(prediction, d.windowSize)
}

// Scores computes the current drift scores of one model.
func (d *DriftDetector) Scores(modelID string) (*DriftScores, error) {
	state, ok := d.models.Get(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: model %s has no drift reference", mlerrors.ErrNotFound, modelID)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	scores := &DriftScores{
		Features:   map[string]float64{},
		WindowFull: state.predictions.window.Len() >= d.windowSize,
	}

	for name, dimension := range state.features {
		scores.Features[name] = d.score(dimension)
	}
	scores.Prediction = d.score(state.predictions)

	return scores, nil
}

// score returns zero until the window is full.
func (d *DriftDetector) score(dimension *dimensionState) float64 {
	if dimension.window.Len() < d.windowSize {
		return 0
	}

	current := dimension.values()
	switch d.method {
	case config.DriftMethodKLDivergence:
		return klDivergence(dimension.reference, current)
	case config.DriftMethodWasserstein:
		return wasserstein(dimension.reference, current)
	default:
		return psi(dimension.reference, current)
	}
}

// psi is the population stability index over equal width bins of the
// reference range.
func psi(reference *referenceStats, current []float64) float64 {
	width := (reference.max - reference.min) / psiBins
	if width == 0 {
		return 0
	}

	refProportions := binProportions(reference.values, reference.min, width)
	curProportions := binProportions(current, reference.min, width)

	var sum float64
	for i := 0; i < psiBins; i++ {
		sum += (curProportions[i] - refProportions[i]) * math.Log(curProportions[i]/refProportions[i])
	}

	return sum
}

func binProportions(values []float64, min, width float64) [psiBins]float64 {
	var counts [psiBins]int
	for _, value := range values {
		bin := int((value - min) / width)
		if bin < 0 {
			bin = 0
		}
		if bin >= psiBins {
			bin = psiBins - 1
		}
		counts[bin]++
	}

	var proportions [psiBins]float64
	for i, count := range counts {
		proportions[i] = math.Max(float64(count)/float64(len(values)), proportionFloor)
	}

	return proportions
}

// klDivergence is the closed form divergence between gaussian fits of
// the current and reference samples.
func klDivergence(reference *referenceStats, current []float64) float64 {
	curMean, err := stats.Mean(current)
	if err != nil {
		return 0
	}

	curStddev, err := stats.StandardDeviation(current)
	if err != nil {
		return 0
	}

	refStddev := math.Max(reference.stddev, 1e-9)
	curStddev = math.Max(curStddev, 1e-9)

	return math.Abs(math.Log(refStddev/curStddev) +
		(curStddev*curStddev+(curMean-reference.mean)*(curMean-reference.mean))/(2*refStddev*refStddev) - 0.5)
}

// wasserstein pairs the sorted samples rank by rank up to the shorter
// length and averages the absolute differences.
func wasserstein(reference *referenceStats, current []float64) float64 {
	sorted := append([]float64(nil), current...)
	sort.Float64s(sorted)

	n := len(sorted)
	if len(reference.sorted) < n {
		n = len(reference.sorted)
	}
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(sorted[i] - reference.sorted[i])
	}

	return sum / float64(n)
}
