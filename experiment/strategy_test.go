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

package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

func TestParamSpec_Validate(t *testing.T) {
	tests := []struct {
		name   string
		spec   ParamSpec
		expect func(t *testing.T, err error)
	}{
		{
			name: "valid choice",
			spec: ParamSpec{Name: "optimizer", Type: ParamTypeChoice, Choices: []any{"sgd", "adam"}},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "choice without choices",
			spec: ParamSpec{Name: "optimizer", Type: ParamTypeChoice},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name: "empty numeric range",
			spec: ParamSpec{Name: "epochs", Type: ParamTypeInt, Min: 5, Max: 5},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name: "valid log uniform",
			spec: ParamSpec{Name: "learningRate", Type: ParamTypeLogUniform, Min: 1e-4, Max: 1e-1},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "log uniform requires positive min",
			spec: ParamSpec{Name: "learningRate", Type: ParamTypeLogUniform, Min: 0, Max: 1},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
		{
			name: "unknown type",
			spec: ParamSpec{Name: "epochs", Type: "log"},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mlerrors.ErrValidation)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.expect(t, tc.spec.Validate())
		})
	}
}

func TestGridStrategy(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "optimizer", Type: ParamTypeChoice, Choices: []any{"sgd", "adam"}},
		{Name: "epochs", Type: ParamTypeInt, Min: 1, Max: 3},
	}

	strategy, err := NewStrategy(StrategyGrid, 0, 0)
	require.NoError(t, err)

	// 2 choices x 3 integers.
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		assignment, done := strategy.Suggest(space, nil)
		assert.False(done)
		seen[assignment["optimizer"].(string)]++
		epochs := assignment["epochs"].(int)
		assert.GreaterOrEqual(epochs, 1)
		assert.LessOrEqual(epochs, 3)
	}
	assert.Equal(3, seen["sgd"])
	assert.Equal(3, seen["adam"])

	_, done := strategy.Suggest(space, nil)
	assert.True(done)
}

func TestGridStrategy_FloatSteps(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "learningRate", Type: ParamTypeFloat, Min: 0.1, Max: 1.0},
	}

	strategy, err := NewStrategy(StrategyGrid, 0, 0)
	require.NoError(t, err)

	var values []float64
	for {
		assignment, done := strategy.Suggest(space, nil)
		if done {
			break
		}
		values = append(values, assignment["learningRate"].(float64))
	}

	assert.Len(values, floatGridSteps)
	assert.InDelta(0.1, values[0], 1e-9)
	assert.InDelta(1.0, values[len(values)-1], 1e-9)
}

func TestGridStrategy_IntStep(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "batchSize", Type: ParamTypeInt, Min: 32, Max: 128, Step: 32},
	}

	strategy, err := NewStrategy(StrategyGrid, 0, 0)
	require.NoError(t, err)

	var values []int
	for {
		assignment, done := strategy.Suggest(space, nil)
		if done {
			break
		}
		values = append(values, assignment["batchSize"].(int))
	}

	assert.Equal([]int{32, 64, 96, 128}, values)
}

func TestGridStrategy_LogUniformSteps(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "learningRate", Type: ParamTypeLogUniform, Min: 1e-4, Max: 1e-1},
	}

	strategy, err := NewStrategy(StrategyGrid, 0, 0)
	require.NoError(t, err)

	var values []float64
	for {
		assignment, done := strategy.Suggest(space, nil)
		if done {
			break
		}
		values = append(values, assignment["learningRate"].(float64))
	}

	assert.Len(values, floatGridSteps)
	assert.InDelta(1e-4, values[0], 1e-12)
	assert.InDelta(1e-1, values[len(values)-1], 1e-9)
}

func TestRandomStrategy(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "optimizer", Type: ParamTypeChoice, Choices: []any{"sgd", "adam"}},
		{Name: "learningRate", Type: ParamTypeFloat, Min: 0.01, Max: 0.5},
		{Name: "weightDecay", Type: ParamTypeLogUniform, Min: 1e-6, Max: 1e-2},
		{Name: "epochs", Type: ParamTypeInt, Min: 1, Max: 10},
	}

	strategy, err := NewStrategy(StrategyRandom, 42, 0)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		assignment, done := strategy.Suggest(space, nil)
		assert.False(done)
		assert.Contains([]any{"sgd", "adam"}, assignment["optimizer"])

		lr := assignment["learningRate"].(float64)
		assert.GreaterOrEqual(lr, 0.01)
		assert.Less(lr, 0.5)

		wd := assignment["weightDecay"].(float64)
		assert.GreaterOrEqual(wd, 1e-6)
		assert.LessOrEqual(wd, 1e-2)

		epochs := assignment["epochs"].(int)
		assert.GreaterOrEqual(epochs, 1)
		assert.LessOrEqual(epochs, 10)
	}
}

func TestBayesianStrategy(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "learningRate", Type: ParamTypeFloat, Min: 0.0, Max: 1.0},
	}

	strategy, err := NewStrategy(StrategyBayesian, 42, 0)
	require.NoError(t, err)

	// Without history the strategy explores.
	assignment, done := strategy.Suggest(space, nil)
	assert.False(done)
	assert.Contains(assignment, "learningRate")

	// With a best trial, suggestions stay in bounds.
	history := []*Trial{completedTrial(Assignment{"learningRate": 0.5}, 0.9, true)}
	for i := 0; i < 50; i++ {
		assignment, done = strategy.Suggest(space, history)
		assert.False(done)
		lr := assignment["learningRate"].(float64)
		assert.GreaterOrEqual(lr, 0.0)
		assert.LessOrEqual(lr, 1.0)
	}
}

func TestBayesianStrategy_Convergence(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "learningRate", Type: ParamTypeFloat, Min: 0.0, Max: 1.0},
	}

	strategy, err := NewStrategy(StrategyBayesian, 42, 5)
	require.NoError(t, err)

	// Identical recent scores, the search has settled.
	var history []*Trial
	for i := 0; i < 5; i++ {
		history = append(history, completedTrial(Assignment{"learningRate": 0.5}, 0.9, true))
	}

	_, done := strategy.Suggest(space, history)
	assert.True(done)

	// A wider window needs more settled scores.
	strategy, err = NewStrategy(StrategyBayesian, 42, 8)
	require.NoError(t, err)

	_, done = strategy.Suggest(space, history)
	assert.False(done)
}

func TestBayesianStrategy_NoConvergenceWithoutRounds(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "learningRate", Type: ParamTypeFloat, Min: 0.0, Max: 1.0},
	}

	strategy, err := NewStrategy(StrategyBayesian, 42, 0)
	require.NoError(t, err)

	// Identical scores never stop the search when no rounds are
	// configured.
	var history []*Trial
	for i := 0; i < 20; i++ {
		history = append(history, completedTrial(Assignment{"learningRate": 0.5}, 0.5, true))
	}

	for i := 0; i < 10; i++ {
		assignment, done := strategy.Suggest(space, history)
		assert.False(done)
		assert.Contains(assignment, "learningRate")
	}
}

func TestBayesianStrategy_PerParameterExploration(t *testing.T) {
	assert := assert.New(t)
	space := SearchSpace{
		{Name: "alpha", Type: ParamTypeFloat, Min: 0.0, Max: 1.0},
		{Name: "beta", Type: ParamTypeFloat, Min: 0.0, Max: 1.0},
	}

	strategy, err := NewStrategy(StrategyBayesian, 42, 0)
	require.NoError(t, err)

	history := []*Trial{completedTrial(Assignment{"alpha": 0.5, "beta": 0.5}, 0.9, true)}

	// A perturbed value stays near the best trial, a fresh sample lands
	// anywhere in the range. Values far from 0.5 mark fresh samples.
	fresh := func(v float64) bool { return v < 0.2 || v > 0.8 }

	alphaFresh, bothFresh := 0, 0
	for i := 0; i < 2000; i++ {
		assignment, done := strategy.Suggest(space, history)
		require.False(t, done)

		if fresh(assignment["alpha"].(float64)) {
			alphaFresh++
			if fresh(assignment["beta"].(float64)) {
				bothFresh++
			}
		}
	}

	// Roughly explorationRate x the out-of-band mass of a uniform draw.
	assert.Greater(alphaFresh, 80)
	assert.Less(alphaFresh, 250)

	// Each parameter explores on its own draw, so a fresh alpha rarely
	// coincides with a fresh beta.
	assert.Less(float64(bothFresh)/float64(alphaFresh), 0.2)
}

func TestNewStrategy_Unknown(t *testing.T) {
	_, err := NewStrategy("genetic", 0, 0)
	assert.ErrorIs(t, err, mlerrors.ErrValidation)
}

func completedTrial(params Assignment, score float64, maximize bool) *Trial {
	return &Trial{
		ID:       "trial",
		Params:   params,
		maximize: maximize,
		state:    TrialStateCompleted,
		score:    score,
	}
}
