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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

func gaussianSamples(rng *rand.Rand, mean, stddev float64, n int) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = mean + stddev*rng.NormFloat64()
	}

	return samples
}

func newTestDetector(t *testing.T, method string, windowSize int) *DriftDetector {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	detector := NewDriftDetector(&config.MonitoringConfig{
		DriftMethod: method,
		WindowSize:  windowSize,
	})

	require.NoError(t, detector.InitializeReference("signature_detector",
		[]string{"severity"},
		map[string][]float64{"severity": gaussianSamples(rng, 0.5, 0.1, 500)},
		gaussianSamples(rng, 0.5, 0.1, 500),
	))

	return detector
}

func TestDriftDetector_ZeroUntilWindowFull(t *testing.T) {
	assert := assert.New(t)
	detector := newTestDetector(t, config.DriftMethodPSI, 50)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 49; i++ {
		// Heavily shifted observations, still no score.
		detector.Observe("signature_detector", []float64{5 + rng.Float64()}, 0.99)
	}

	scores, err := detector.Scores("signature_detector")
	require.NoError(t, err)
	assert.False(scores.WindowFull)
	assert.Zero(scores.Features["severity"])
	assert.Zero(scores.Prediction)

	detector.Observe("signature_detector", []float64{5.5}, 0.99)
	scores, err = detector.Scores("signature_detector")
	require.NoError(t, err)
	assert.True(scores.WindowFull)
	assert.Greater(scores.Features["severity"], 0.0)
}

func TestDriftDetector_Methods(t *testing.T) {
	tests := []struct {
		name   string
		method string
	}{
		{name: "psi", method: config.DriftMethodPSI},
		{name: "kl divergence", method: config.DriftMethodKLDivergence},
		{name: "wasserstein", method: config.DriftMethodWasserstein},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			detector := newTestDetector(t, tc.method, 100)
			rng := rand.New(rand.NewSource(7))

			// Same distribution as the reference, low drift.
			for _, v := range gaussianSamples(rng, 0.5, 0.1, 100) {
				detector.Observe("signature_detector", []float64{v}, 0.5+0.1*rng.NormFloat64())
			}

			scores, err := detector.Scores("signature_detector")
			require.NoError(t, err)
			inDistribution := scores.Features["severity"]

			// Shifted distribution, the score must rise clearly.
			for _, v := range gaussianSamples(rng, 1.5, 0.1, 100) {
				detector.Observe("signature_detector", []float64{v}, 0.9+0.01*rng.NormFloat64())
			}

			scores, err = detector.Scores("signature_detector")
			require.NoError(t, err)
			assert.Greater(scores.Features["severity"], inDistribution*2)
			assert.Greater(scores.Prediction, 0.0)
		})
	}
}

func TestDriftDetector_UnknownModel(t *testing.T) {
	detector := NewDriftDetector(&config.MonitoringConfig{
		DriftMethod: config.DriftMethodPSI,
		WindowSize:  10,
	})

	// Observations for unknown models are dropped silently.
	detector.Observe("unknown", []float64{1}, 0.5)

	_, err := detector.Scores("unknown")
	assert.ErrorIs(t, err, mlerrors.ErrNotFound)
	assert.False(t, detector.Initialized("unknown"))
}

func TestDriftDetector_InitializeReference(t *testing.T) {
	assert := assert.New(t)
	detector := NewDriftDetector(&config.MonitoringConfig{
		DriftMethod: config.DriftMethodPSI,
		WindowSize:  10,
	})

	// Missing feature values.
	err := detector.InitializeReference("m", []string{"a", "b"},
		map[string][]float64{"a": {1, 2, 3}}, []float64{0.1, 0.9})
	assert.ErrorIs(err, mlerrors.ErrValidation)

	// Too few samples.
	err = detector.InitializeReference("m", []string{"a"},
		map[string][]float64{"a": {1}}, []float64{0.1, 0.9})
	assert.ErrorIs(err, mlerrors.ErrValidation)
}
