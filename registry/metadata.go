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

package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

// ModelType is the kind of security analysis a model performs.
type ModelType string

const (
	// ModelTypeThreatClassifier classifies threat categories.
	ModelTypeThreatClassifier ModelType = "threat-classifier"

	// ModelTypeVulnerabilityPredictor predicts vulnerability likelihood.
	ModelTypeVulnerabilityPredictor ModelType = "vulnerability-predictor"

	// ModelTypeMitigationRecommender recommends mitigations.
	ModelTypeMitigationRecommender ModelType = "mitigation-recommender"

	// ModelTypePatternRecognizer recognizes attack patterns.
	ModelTypePatternRecognizer ModelType = "pattern-recognizer"

	// ModelTypeEnsemble combines several underlying models.
	ModelTypeEnsemble ModelType = "ensemble"
)

// ModelTypes is used to check whether a model type is supported.
var ModelTypes = map[ModelType]struct{}{
	ModelTypeThreatClassifier:       {},
	ModelTypeVulnerabilityPredictor: {},
	ModelTypeMitigationRecommender:  {},
	ModelTypePatternRecognizer:      {},
	ModelTypeEnsemble:               {},
}

// Framework is the runtime a model artifact targets.
type Framework string

const (
	// FrameworkTensorflow is the tensorflow saved model format.
	FrameworkTensorflow Framework = "tensorflow"

	// FrameworkONNX is the onnx format.
	FrameworkONNX Framework = "onnx"

	// FrameworkSklearn is the scikit-learn joblib format.
	FrameworkSklearn Framework = "sklearn"

	// FrameworkNative is the built-in json weight format.
	FrameworkNative Framework = "native"
)

// Frameworks is used to check whether a framework is supported.
var Frameworks = map[Framework]struct{}{
	FrameworkTensorflow: {},
	FrameworkONNX:       {},
	FrameworkSklearn:    {},
	FrameworkNative:     {},
}

// Stage is the deployment lifecycle state of a model version.
type Stage string

const (
	// StageDraft is the initial stage after registration.
	StageDraft Stage = "draft"

	// StageStaging is the pre-production stage.
	StageStaging Stage = "staging"

	// StageProduction is the serving stage.
	StageProduction Stage = "production"

	// StageArchived is the terminal stage. An archived version is never
	// promoted again without re-registration.
	StageArchived Stage = "archived"
)

// Stages is used to check whether a stage is supported.
var Stages = map[Stage]struct{}{
	StageDraft:      {},
	StageStaging:    {},
	StageProduction: {},
	StageArchived:   {},
}

// versionPattern is the strict semantic version pattern.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// TrainingInfo is provenance of one training run.
type TrainingInfo struct {
	DatasetVersion  string         `json:"datasetVersion,omitempty"`
	DatasetSize     int            `json:"datasetSize,omitempty"`
	DurationSeconds float64        `json:"durationSeconds,omitempty"`
	Epochs          int            `json:"epochs,omitempty"`
	BatchSize       int            `json:"batchSize,omitempty"`
	LearningRate    float64        `json:"learningRate,omitempty"`
	Hyperparameters map[string]any `json:"hyperparameters,omitempty"`
}

// DeploymentInfo is the deployment state of one model version.
type DeploymentInfo struct {
	Status     Stage      `json:"status"`
	DeployedAt *time.Time `json:"deployedAt,omitempty"`
}

// ModelMetadata is identity and provenance of one trained artifact.
// Checksum is computed from the artifact bytes at registration time and
// never recomputed.
type ModelMetadata struct {
	ModelID        string             `json:"modelId" validate:"required"`
	ModelName      string             `json:"modelName" validate:"required"`
	Version        string             `json:"version" validate:"required"`
	ModelType      ModelType          `json:"modelType" validate:"required"`
	Framework      Framework          `json:"framework" validate:"required"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	TrainingInfo   TrainingInfo       `json:"trainingInfo"`
	DeploymentInfo DeploymentInfo     `json:"deploymentInfo"`
	Checksum       string             `json:"checksum"`
	CreatedAt      time.Time          `json:"createdAt"`
	CreatedBy      string             `json:"createdBy,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
}

var validate = validator.New()

// Validate checks metadata against the schema before any side effect.
func (m *ModelMetadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	if !versionPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: version %q is not a semantic version", mlerrors.ErrValidation, m.Version)
	}

	if _, ok := ModelTypes[m.ModelType]; !ok {
		return fmt.Errorf("%w: unknown model type %q", mlerrors.ErrValidation, m.ModelType)
	}

	if _, ok := Frameworks[m.Framework]; !ok {
		return fmt.Errorf("%w: unknown framework %q", mlerrors.ErrValidation, m.Framework)
	}

	if m.DeploymentInfo.Status != "" {
		if _, ok := Stages[m.DeploymentInfo.Status]; !ok {
			return fmt.Errorf("%w: unknown stage %q", mlerrors.ErrValidation, m.DeploymentInfo.Status)
		}
	}

	return nil
}

func marshalMetadata(m *ModelMetadata) ([]byte, error) {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal metadata: %v", mlerrors.ErrStorage, err)
	}

	return raw, nil
}

func unmarshalMetadata(raw []byte) (*ModelMetadata, error) {
	metadata := &ModelMetadata{}
	if err := json.Unmarshal(raw, metadata); err != nil {
		return nil, fmt.Errorf("%w: unmarshal metadata: %v", mlerrors.ErrStorage, err)
	}

	return metadata, nil
}
