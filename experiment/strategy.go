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
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

const (
	// StrategyGrid enumerates the full cartesian product.
	StrategyGrid = "grid"

	// StrategyRandom samples each parameter independently.
	StrategyRandom = "random"

	// StrategyBayesian exploits the best trial with a random exploration
	// fraction.
	StrategyBayesian = "bayesian"
)

const (
	// explorationRate is the fraction of bayesian suggestions drawn at
	// random.
	explorationRate = 0.2

	// flipProbability is the chance a bayesian suggestion replaces a
	// categorical value.
	flipProbability = 0.1

	// noiseFraction scales gaussian noise to the parameter range.
	noiseFraction = 0.1

	// convergenceVariance is the score variance under which the bayesian
	// strategy stops early.
	convergenceVariance = 0.001

	// floatGridSteps is the number of grid points for a float parameter.
	floatGridSteps = 10
)

const (
	// ParamTypeChoice is a categorical parameter.
	ParamTypeChoice = "choice"

	// ParamTypeInt is an integer range parameter.
	ParamTypeInt = "int"

	// ParamTypeFloat is a float range parameter.
	ParamTypeFloat = "float"

	// ParamTypeLogUniform is a float range parameter sampled uniformly in
	// log space.
	ParamTypeLogUniform = "log_uniform"
)

// ParamSpec is one dimension of the search space.
type ParamSpec struct {
	// Name is the hyperparameter name.
	Name string `json:"name" validate:"required"`

	// Type is choice, int or float.
	Type string `json:"type" validate:"required"`

	// Choices are the values of a choice parameter.
	Choices []any `json:"choices,omitempty"`

	// Min is the inclusive lower bound of a numeric parameter.
	Min float64 `json:"min,omitempty"`

	// Max is the inclusive upper bound of a numeric parameter.
	Max float64 `json:"max,omitempty"`

	// Step is the grid step of an int parameter, 1 when unset.
	Step int `json:"step,omitempty"`
}

// Validate checks one search dimension.
func (s *ParamSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: param spec without name", mlerrors.ErrValidation)
	}

	switch s.Type {
	case ParamTypeChoice:
		if len(s.Choices) == 0 {
			return fmt.Errorf("%w: param %s has no choices", mlerrors.ErrValidation, s.Name)
		}
	case ParamTypeInt, ParamTypeFloat:
		if s.Min >= s.Max {
			return fmt.Errorf("%w: param %s has empty range [%v, %v]", mlerrors.ErrValidation, s.Name, s.Min, s.Max)
		}
	case ParamTypeLogUniform:
		if s.Min <= 0 || s.Min >= s.Max {
			return fmt.Errorf("%w: param %s requires 0 < min < max, got [%v, %v]", mlerrors.ErrValidation, s.Name, s.Min, s.Max)
		}
	default:
		return fmt.Errorf("%w: param %s has unknown type %q", mlerrors.ErrValidation, s.Name, s.Type)
	}

	return nil
}

// gridValues enumerates the grid points of one dimension. Integer ranges
// step by one, float ranges are divided into fixed steps.
func (s *ParamSpec) gridValues() []any {
	switch s.Type {
	case ParamTypeChoice:
		return s.Choices
	case ParamTypeInt:
		step := s.Step
		if step <= 0 {
			step = 1
		}

		var values []any
		for v := int(s.Min); v <= int(s.Max); v += step {
			values = append(values, v)
		}
		return values
	case ParamTypeLogUniform:
		var values []any
		step := (math.Log(s.Max) - math.Log(s.Min)) / float64(floatGridSteps-1)
		for i := 0; i < floatGridSteps; i++ {
			values = append(values, math.Exp(math.Log(s.Min)+step*float64(i)))
		}
		return values
	default:
		var values []any
		step := (s.Max - s.Min) / float64(floatGridSteps-1)
		for i := 0; i < floatGridSteps; i++ {
			values = append(values, s.Min+step*float64(i))
		}
		return values
	}
}

// sample draws one random value from the dimension.
func (s *ParamSpec) sample(rng *rand.Rand) any {
	switch s.Type {
	case ParamTypeChoice:
		return s.Choices[rng.Intn(len(s.Choices))]
	case ParamTypeInt:
		return int(s.Min) + rng.Intn(int(s.Max)-int(s.Min)+1)
	case ParamTypeLogUniform:
		return math.Exp(math.Log(s.Min) + rng.Float64()*(math.Log(s.Max)-math.Log(s.Min)))
	default:
		return s.Min + rng.Float64()*(s.Max-s.Min)
	}
}

// SearchSpace is the hyperparameter space of one experiment.
type SearchSpace []ParamSpec

// Validate checks every dimension.
func (s SearchSpace) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty search space", mlerrors.ErrValidation)
	}

	for i := range s {
		if err := s[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Assignment is one concrete point in the search space.
type Assignment map[string]any

// Strategy suggests the next assignment to evaluate.
type Strategy interface {
	// Name returns the strategy name.
	Name() string

	// Suggest returns the next assignment. done reports that the strategy
	// has nothing further to propose.
	Suggest(space SearchSpace, history []*Trial) (assignment Assignment, done bool)
}

// NewStrategy constructs a strategy by name. earlyStoppingRounds only
// affects the bayesian strategy, zero disables convergence stopping.
func NewStrategy(name string, seed int64, earlyStoppingRounds int) (Strategy, error) {
	switch name {
	case StrategyGrid:
		return &gridStrategy{}, nil
	case StrategyRandom:
		return &randomStrategy{rng: rand.New(rand.NewSource(seed))}, nil
	case StrategyBayesian:
		return &bayesianStrategy{rng: rand.New(rand.NewSource(seed)), earlyStoppingRounds: earlyStoppingRounds}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", mlerrors.ErrValidation, name)
	}
}

// gridStrategy enumerates the cartesian product of all dimensions.
type gridStrategy struct {
	grid []Assignment
	next int
}

func (s *gridStrategy) Name() string { return StrategyGrid }

func (s *gridStrategy) Suggest(space SearchSpace, history []*Trial) (Assignment, bool) {
	if s.grid == nil {
		s.grid = enumerate(space)
	}

	if s.next >= len(s.grid) {
		return nil, true
	}

	assignment := s.grid[s.next]
	s.next++
	return assignment, false
}

func enumerate(space SearchSpace) []Assignment {
	grid := []Assignment{{}}
	for _, spec := range space {
		var expanded []Assignment
		for _, assignment := range grid {
			for _, value := range spec.gridValues() {
				next := Assignment{}
				for k, v := range assignment {
					next[k] = v
				}
				next[spec.Name] = value
				expanded = append(expanded, next)
			}
		}
		grid = expanded
	}

	return grid
}

// randomStrategy samples every dimension independently.
type randomStrategy struct {
	rng *rand.Rand
}

func (s *randomStrategy) Name() string { return StrategyRandom }

func (s *randomStrategy) Suggest(space SearchSpace, history []*Trial) (Assignment, bool) {
	assignment := Assignment{}
	for _, spec := range space {
		assignment[spec.Name] = spec.sample(s.rng)
	}

	return assignment, false
}

// bayesianStrategy perturbs the best completed trial, falling back to a
// fresh sample per parameter for an exploration fraction of draws.
type bayesianStrategy struct {
	rng                 *rand.Rand
	earlyStoppingRounds int
}

func (s *bayesianStrategy) Name() string { return StrategyBayesian }

func (s *bayesianStrategy) Suggest(space SearchSpace, history []*Trial) (Assignment, bool) {
	if converged(history, s.earlyStoppingRounds) {
		return nil, true
	}

	best := bestOf(history)
	assignment := Assignment{}
	for _, spec := range space {
		var current any
		ok := false
		if best != nil {
			current, ok = best.Params[spec.Name]
		}

		// Each parameter explores independently.
		if !ok || s.rng.Float64() < explorationRate {
			assignment[spec.Name] = spec.sample(s.rng)
			continue
		}

		switch spec.Type {
		case ParamTypeChoice:
			if s.rng.Float64() < flipProbability {
				assignment[spec.Name] = spec.Choices[s.rng.Intn(len(spec.Choices))]
			} else {
				assignment[spec.Name] = current
			}
		case ParamTypeInt:
			noise := s.rng.NormFloat64() * noiseFraction * (spec.Max - spec.Min)
			value := int(math.Round(toFloat(current) + noise))
			assignment[spec.Name] = clampInt(value, int(spec.Min), int(spec.Max))
		default:
			noise := s.rng.NormFloat64() * noiseFraction * (spec.Max - spec.Min)
			value := toFloat(current) + noise
			assignment[spec.Name] = math.Min(math.Max(value, spec.Min), spec.Max)
		}
	}

	return assignment, false
}

// converged reports whether the last rounds completed scores have
// settled. A non-positive rounds never converges.
func converged(history []*Trial, rounds int) bool {
	if rounds <= 0 {
		return false
	}

	var scores []float64
	for _, trial := range history {
		if trial.State() == TrialStateCompleted {
			scores = append(scores, trial.Score())
		}
	}

	if len(scores) < rounds {
		return false
	}

	variance, err := stats.Variance(scores[len(scores)-rounds:])
	if err != nil {
		return false
	}

	return variance < convergenceVariance
}

func bestOf(history []*Trial) *Trial {
	var best *Trial
	for _, trial := range history {
		if trial.State() != TrialStateCompleted {
			continue
		}
		if best == nil || trial.better(best) {
			best = trial
		}
	}

	return best
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
