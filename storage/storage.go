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

//go:generate mockgen -destination mocks/storage_mock.go -source storage.go -package mocks

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/pkg/objectstorage"
)

const (
	// ArtifactFileName is the file name of the model binary.
	ArtifactFileName = "model.bin"

	// MetadataFileName is the file name of the model metadata.
	MetadataFileName = "metadata.json"

	// LatestPointerPrefix is the prefix of stage pointer names.
	LatestPointerPrefix = "latest-"
)

// Storage is the artifact persistence interface. Implementations must
// provide identical semantics for the local filesystem and object
// storage backends. All operations deal in raw bytes, metadata
// interpretation belongs to the registry.
type Storage interface {
	// SaveArtifact persists the model binary and returns its location.
	SaveArtifact(ctx context.Context, modelID, version string, reader io.Reader) (string, error)

	// OpenArtifact opens the model binary for reading.
	OpenArtifact(ctx context.Context, modelID, version string) (io.ReadCloser, error)

	// ArtifactLocation returns the location of the model binary without
	// touching the backend.
	ArtifactLocation(modelID, version string) string

	// SaveMetadata persists metadata bytes next to the artifact.
	SaveMetadata(ctx context.Context, modelID, version string, metadata []byte) error

	// LoadMetadata returns metadata bytes of the given version.
	LoadMetadata(ctx context.Context, modelID, version string) ([]byte, error)

	// ListVersions returns all versions of the given model.
	ListVersions(ctx context.Context, modelID string) ([]string, error)

	// ListModels returns all model ids.
	ListModels(ctx context.Context) ([]string, error)

	// SetLatest points the stage pointer at the given version. The
	// pointer write is the last and smallest write of a promotion and
	// must be atomic, but promotion as a whole is not transactional
	// across metadata and pointer.
	SetLatest(ctx context.Context, modelID, stage, version string, metadata []byte) error

	// GetLatest resolves the stage pointer to a version.
	GetLatest(ctx context.Context, modelID, stage string) (string, error)

	// Delete removes the artifact and metadata of one version.
	Delete(ctx context.Context, modelID, version string) error
}

// New returns a storage backend for the given configuration.
func New(cfg *config.ArtifactStorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal:
		return NewLocal(cfg.BaseDir)
	case config.StorageBackendS3, config.StorageBackendOSS:
		client, err := objectstorage.New(cfg.Backend, cfg.Region, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey)
		if err != nil {
			return nil, err
		}

		return NewObject(client, cfg.Bucket), nil
	}

	return nil, fmt.Errorf("unknow storage backend %s", cfg.Backend)
}
