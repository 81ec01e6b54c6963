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
	"fmt"
	"math/rand"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

// ABTestConfig splits traffic between two versions of one model.
type ABTestConfig struct {
	// Name identifies the test.
	Name string `json:"name"`

	// ModelID is the tested model.
	ModelID string `json:"modelId"`

	// VersionA is the control version.
	VersionA string `json:"versionA"`

	// VersionB is the candidate version.
	VersionB string `json:"versionB"`

	// TrafficB is the fraction of requests routed to the candidate, in
	// [0, 1].
	TrafficB float64 `json:"trafficB"`
}

// Validate checks the test definition.
func (c *ABTestConfig) Validate() error {
	if c.Name == "" || c.ModelID == "" || c.VersionA == "" || c.VersionB == "" {
		return fmt.Errorf("%w: ab test requires name, model id and both versions", mlerrors.ErrValidation)
	}

	if c.VersionA == c.VersionB {
		return fmt.Errorf("%w: ab test versions must differ", mlerrors.ErrValidation)
	}

	if c.TrafficB < 0 || c.TrafficB > 1 {
		return fmt.Errorf("%w: trafficB %f out of [0, 1]", mlerrors.ErrValidation, c.TrafficB)
	}

	return nil
}

// ArmResult is the observed outcome of one test arm.
type ArmResult struct {
	Version   string  `json:"version"`
	Requests  int64   `json:"requests"`
	Errors    int64   `json:"errors"`
	MeanScore float64 `json:"meanScore"`

	scoreSum float64
}

// ABTestResult is the snapshot of one running test.
type ABTestResult struct {
	Name string    `json:"name"`
	ArmA ArmResult `json:"armA"`
	ArmB ArmResult `json:"armB"`
}

type abTest struct {
	config *ABTestConfig
	rng    *rand.Rand

	mu   sync.Mutex
	armA ArmResult
	armB ArmResult
}

// ABTester routes predictions between two versions and tracks per arm
// outcomes.
type ABTester struct {
	server *Server
	tests  cmap.ConcurrentMap[string, *abTest]
}

// NewABTester creates an A/B tester over the model server.
func NewABTester(server *Server) *ABTester {
	return &ABTester{
		server: server,
		tests:  cmap.New[*abTest](),
	}
}

// Create starts a test. Both versions must be predictable when the first
// request arrives, not at creation time.
func (t *ABTester) Create(cfg *ABTestConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if !t.tests.SetIfAbsent(cfg.Name, &abTest{
		config: cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		armA:   ArmResult{Version: cfg.VersionA},
		armB:   ArmResult{Version: cfg.VersionB},
	}) {
		return fmt.Errorf("%w: ab test %s already exists", mlerrors.ErrValidation, cfg.Name)
	}

	logger.WithModelID(cfg.ModelID).Infof("ab test %s created, %s vs %s at %.0f%%", cfg.Name, cfg.VersionA, cfg.VersionB, cfg.TrafficB*100)
	return nil
}

// Delete stops a test.
func (t *ABTester) Delete(name string) error {
	if _, ok := t.tests.Get(name); !ok {
		return fmt.Errorf("%w: ab test %s", mlerrors.ErrNotFound, name)
	}

	t.tests.Remove(name)
	return nil
}

// Predict routes a request to one arm and records the outcome.
func (t *ABTester) Predict(ctx context.Context, name string, features []float64) (*Prediction, string, error) {
	test, ok := t.tests.Get(name)
	if !ok {
		return nil, "", fmt.Errorf("%w: ab test %s", mlerrors.ErrNotFound, name)
	}

	test.mu.Lock()
	useB := test.rng.Float64() < test.config.TrafficB
	test.mu.Unlock()

	version := test.config.VersionA
	if useB {
		version = test.config.VersionB
	}

	prediction, err := t.server.Predict(ctx, test.config.ModelID, version, features)

	test.mu.Lock()
	arm := &test.armA
	if useB {
		arm = &test.armB
	}
	arm.Requests++
	if err != nil {
		arm.Errors++
	} else {
		arm.scoreSum += prediction.Score
	}
	test.mu.Unlock()

	if err != nil {
		return nil, version, err
	}

	return prediction, version, nil
}

// Result returns the current snapshot of one test.
func (t *ABTester) Result(name string) (*ABTestResult, error) {
	test, ok := t.tests.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: ab test %s", mlerrors.ErrNotFound, name)
	}

	test.mu.Lock()
	defer test.mu.Unlock()

	result := &ABTestResult{
		Name: name,
		ArmA: test.armA,
		ArmB: test.armB,
	}

	if ok := result.ArmA.Requests - result.ArmA.Errors; ok > 0 {
		result.ArmA.MeanScore = test.armA.scoreSum / float64(ok)
	}
	if ok := result.ArmB.Requests - result.ArmB.Errors; ok > 0 {
		result.ArmB.MeanScore = test.armB.scoreSum / float64(ok)
	}

	return result, nil
}
