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

//go:generate mockgen -destination mocks/registry_mock.go -source registry.go -package mocks

package registry

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/metrics"
	"github.com/anubissbe/threat-modeling-mlops/models"
	"github.com/anubissbe/threat-modeling-mlops/pkg/digest"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/storage"
)

// Model is one registered version together with its artifact location.
type Model struct {
	// Metadata is the version's metadata document.
	Metadata *ModelMetadata

	// ArtifactLocation is a backend specific locator for the artifact bytes.
	ArtifactLocation string
}

// Comparison is the metric diff between two versions of the same model.
type Comparison struct {
	// ModelID is the compared model.
	ModelID string `json:"modelId"`

	// Version1 is the baseline version.
	Version1 string `json:"version1"`

	// Version2 is the candidate version.
	Version2 string `json:"version2"`

	// Diff maps each metric present in both versions to version2 minus version1.
	Diff map[string]float64 `json:"diff"`
}

// Registry is the model registry interface.
type Registry interface {
	// Register validates metadata, stores the artifact bytes, computes the
	// sha256 checksum and persists the metadata document.
	Register(ctx context.Context, artifact io.Reader, metadata *ModelMetadata) (*ModelMetadata, error)

	// Get returns one version. An empty version resolves through the stage
	// pointer of the configured default stage.
	Get(ctx context.Context, modelID, version string) (*Model, error)

	// GetStage returns the version currently pointed at by stage.
	GetStage(ctx context.Context, modelID string, stage Stage) (*Model, error)

	// Promote moves a version to stage and updates the stage pointer. The
	// pointer is written last, so a reader never observes a pointer to a
	// version whose metadata does not carry the new stage.
	Promote(ctx context.Context, modelID, version string, stage Stage) (*ModelMetadata, error)

	// List returns all versions of modelID, newest first. An empty modelID
	// lists the latest version of every model.
	List(ctx context.Context, modelID string) ([]*ModelMetadata, error)

	// Compare diffs the metrics of two versions of the same model.
	Compare(ctx context.Context, modelID, version1, version2 string) (*Comparison, error)

	// Delete archives a version. Artifact bytes are retained.
	Delete(ctx context.Context, modelID, version string) error

	// OpenArtifact opens the artifact bytes of one version for reading.
	OpenArtifact(ctx context.Context, modelID, version string) (io.ReadCloser, error)
}

type registry struct {
	storage      storage.Storage
	defaultStage Stage
	db           *gorm.DB
}

// New creates a model registry over the given artifact storage. db may be
// nil, in which case no index rows are mirrored.
func New(cfg *config.RegistryConfig, store storage.Storage, db *gorm.DB) Registry {
	return &registry{
		storage:      store,
		defaultStage: Stage(cfg.DefaultStage),
		db:           db,
	}
}

func (r *registry) Register(ctx context.Context, artifact io.Reader, metadata *ModelMetadata) (*ModelMetadata, error) {
	log := logger.WithModel(metadata.ModelID, metadata.Version)

	if err := metadata.Validate(); err != nil {
		metrics.ModelRegisterFailureCount.WithLabelValues(string(metadata.ModelType)).Inc()
		return nil, err
	}

	if _, err := r.storage.LoadMetadata(ctx, metadata.ModelID, metadata.Version); err == nil {
		metrics.ModelRegisterFailureCount.WithLabelValues(string(metadata.ModelType)).Inc()
		return nil, fmt.Errorf("%w: version %s already registered", mlerrors.ErrValidation, metadata.Version)
	}

	h := sha256.New()
	if _, err := r.storage.SaveArtifact(ctx, metadata.ModelID, metadata.Version, io.TeeReader(artifact, h)); err != nil {
		metrics.ModelRegisterFailureCount.WithLabelValues(string(metadata.ModelType)).Inc()
		return nil, err
	}

	metadata.Checksum = digest.ToHashString(h)
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = time.Now()
	}
	if metadata.DeploymentInfo.Status == "" {
		metadata.DeploymentInfo.Status = StageDraft
	}

	raw, err := marshalMetadata(metadata)
	if err != nil {
		metrics.ModelRegisterFailureCount.WithLabelValues(string(metadata.ModelType)).Inc()
		return nil, err
	}

	if err := r.storage.SaveMetadata(ctx, metadata.ModelID, metadata.Version, raw); err != nil {
		metrics.ModelRegisterFailureCount.WithLabelValues(string(metadata.ModelType)).Inc()
		return nil, err
	}

	r.mirror(metadata)
	metrics.ModelRegisterCount.WithLabelValues(string(metadata.ModelType)).Inc()
	log.Infof("registered model, checksum %s", metadata.Checksum)
	return metadata, nil
}

func (r *registry) Get(ctx context.Context, modelID, version string) (*Model, error) {
	if version == "" {
		return r.GetStage(ctx, modelID, r.defaultStage)
	}

	metadata, err := r.loadMetadata(ctx, modelID, version)
	if err != nil {
		return nil, err
	}

	return &Model{
		Metadata:         metadata,
		ArtifactLocation: r.storage.ArtifactLocation(modelID, version),
	}, nil
}

func (r *registry) GetStage(ctx context.Context, modelID string, stage Stage) (*Model, error) {
	if _, ok := Stages[stage]; !ok {
		return nil, fmt.Errorf("%w: unknown stage %q", mlerrors.ErrValidation, stage)
	}

	version, err := r.storage.GetLatest(ctx, modelID, string(stage))
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, modelID, version)
}

func (r *registry) Promote(ctx context.Context, modelID, version string, stage Stage) (*ModelMetadata, error) {
	log := logger.WithModel(modelID, version)

	if _, ok := Stages[stage]; !ok || stage == StageArchived {
		return nil, fmt.Errorf("%w: cannot promote to stage %q", mlerrors.ErrValidation, stage)
	}

	metadata, err := r.loadMetadata(ctx, modelID, version)
	if err != nil {
		return nil, err
	}

	if metadata.DeploymentInfo.Status == StageArchived {
		return nil, fmt.Errorf("%w: version %s is archived", mlerrors.ErrValidation, version)
	}

	now := time.Now()
	metadata.DeploymentInfo.Status = stage
	metadata.DeploymentInfo.DeployedAt = &now

	raw, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	// Metadata first, pointer last.
	if err := r.storage.SaveMetadata(ctx, modelID, version, raw); err != nil {
		return nil, err
	}

	if err := r.storage.SetLatest(ctx, modelID, string(stage), version, raw); err != nil {
		return nil, err
	}

	r.mirror(metadata)
	metrics.ModelPromoteCount.WithLabelValues(string(stage)).Inc()
	log.Infof("promoted model to %s", stage)
	return metadata, nil
}

func (r *registry) List(ctx context.Context, modelID string) ([]*ModelMetadata, error) {
	if modelID != "" {
		return r.listVersions(ctx, modelID)
	}

	modelIDs, err := r.storage.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	var metadatas []*ModelMetadata
	for _, id := range modelIDs {
		versions, err := r.listVersions(ctx, id)
		if err != nil {
			return nil, err
		}

		if len(versions) > 0 {
			metadatas = append(metadatas, versions[0])
		}
	}

	return metadatas, nil
}

func (r *registry) Compare(ctx context.Context, modelID, version1, version2 string) (*Comparison, error) {
	m1, err := r.loadMetadata(ctx, modelID, version1)
	if err != nil {
		return nil, err
	}

	m2, err := r.loadMetadata(ctx, modelID, version2)
	if err != nil {
		return nil, err
	}

	diff := map[string]float64{}
	for name, v1 := range m1.Metrics {
		if v2, ok := m2.Metrics[name]; ok {
			diff[name] = v2 - v1
		}
	}

	return &Comparison{
		ModelID:  modelID,
		Version1: version1,
		Version2: version2,
		Diff:     diff,
	}, nil
}

func (r *registry) Delete(ctx context.Context, modelID, version string) error {
	metadata, err := r.loadMetadata(ctx, modelID, version)
	if err != nil {
		return err
	}

	metadata.DeploymentInfo.Status = StageArchived

	raw, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	if err := r.storage.SaveMetadata(ctx, modelID, version, raw); err != nil {
		return err
	}

	r.mirror(metadata)
	logger.WithModel(modelID, version).Info("archived model")
	return nil
}

func (r *registry) OpenArtifact(ctx context.Context, modelID, version string) (io.ReadCloser, error) {
	return r.storage.OpenArtifact(ctx, modelID, version)
}

func (r *registry) listVersions(ctx context.Context, modelID string) ([]*ModelMetadata, error) {
	versions, err := r.storage.ListVersions(ctx, modelID)
	if err != nil {
		return nil, err
	}

	metadatas := make([]*ModelMetadata, 0, len(versions))
	for _, version := range versions {
		metadata, err := r.loadMetadata(ctx, modelID, version)
		if err != nil {
			return nil, err
		}

		metadatas = append(metadatas, metadata)
	}

	sort.Slice(metadatas, func(i, j int) bool {
		return metadatas[i].CreatedAt.After(metadatas[j].CreatedAt)
	})

	return metadatas, nil
}

func (r *registry) loadMetadata(ctx context.Context, modelID, version string) (*ModelMetadata, error) {
	raw, err := r.storage.LoadMetadata(ctx, modelID, version)
	if err != nil {
		return nil, err
	}

	return unmarshalMetadata(raw)
}

// mirror upserts the registry index row. Mirroring is best effort, the
// storage backend stays authoritative.
func (r *registry) mirror(metadata *ModelMetadata) {
	if r.db == nil {
		return
	}

	jsonMetrics := models.JSONMap{}
	for name, value := range metadata.Metrics {
		jsonMetrics[name] = value
	}

	row := models.Model{
		ModelID:   metadata.ModelID,
		Version:   metadata.Version,
		Name:      metadata.ModelName,
		Type:      string(metadata.ModelType),
		Framework: string(metadata.Framework),
		Stage:     string(metadata.DeploymentInfo.Status),
		Checksum:  metadata.Checksum,
		Metrics:   jsonMetrics,
		Tags:      models.Array(metadata.Tags),
	}

	if err := r.db.Where(models.Model{ModelID: metadata.ModelID, Version: metadata.Version}).
		Assign(row).FirstOrCreate(&models.Model{}).Error; err != nil {
		logger.WithModel(metadata.ModelID, metadata.Version).Warnf("mirror registry row: %v", err)
	}
}
