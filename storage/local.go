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

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

// local is the filesystem backed storage. Layout:
//
//	<base>/<modelID>/<version>/model.bin
//	<base>/<modelID>/<version>/metadata.json
//	<base>/<modelID>/latest-<stage>
//
// The stage pointer is a small file holding the version, replaced with
// an atomic rename so readers never observe a partial write.
type local struct {
	baseDir string
}

// NewLocal returns a filesystem backed storage rooted at baseDir.
func NewLocal(baseDir string) (Storage, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create base dir: %v", mlerrors.ErrStorage, err)
	}

	return &local{baseDir: baseDir}, nil
}

// SaveArtifact persists the model binary and returns its location.
func (l *local) SaveArtifact(ctx context.Context, modelID, version string, reader io.Reader) (string, error) {
	dir := l.versionDir(modelID, version)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("%w: create version dir: %v", mlerrors.ErrStorage, err)
	}

	path := filepath.Join(dir, ArtifactFileName)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("%w: open artifact: %v", mlerrors.ErrStorage, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("%w: remove partial artifact: %v", mlerrors.ErrStorage, err)
		}

		return "", fmt.Errorf("%w: write artifact: %v", mlerrors.ErrStorage, err)
	}

	return path, nil
}

// OpenArtifact opens the model binary for reading.
func (l *local) OpenArtifact(ctx context.Context, modelID, version string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(l.versionDir(modelID, version), ArtifactFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: artifact of %s:%s", mlerrors.ErrNotFound, modelID, version)
		}

		return nil, fmt.Errorf("%w: open artifact: %v", mlerrors.ErrStorage, err)
	}

	return file, nil
}

// ArtifactLocation returns the artifact path.
func (l *local) ArtifactLocation(modelID, version string) string {
	return filepath.Join(l.versionDir(modelID, version), ArtifactFileName)
}

// SaveMetadata persists metadata bytes next to the artifact.
func (l *local) SaveMetadata(ctx context.Context, modelID, version string, metadata []byte) error {
	dir := l.versionDir(modelID, version)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: create version dir: %v", mlerrors.ErrStorage, err)
	}

	if err := atomicWrite(filepath.Join(dir, MetadataFileName), metadata); err != nil {
		return fmt.Errorf("%w: write metadata: %v", mlerrors.ErrStorage, err)
	}

	return nil
}

// LoadMetadata returns metadata bytes of the given version.
func (l *local) LoadMetadata(ctx context.Context, modelID, version string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(l.versionDir(modelID, version), MetadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: metadata of %s:%s", mlerrors.ErrNotFound, modelID, version)
		}

		return nil, fmt.Errorf("%w: read metadata: %v", mlerrors.ErrStorage, err)
	}

	return b, nil
}

// ListVersions returns all versions of the given model.
func (l *local) ListVersions(ctx context.Context, modelID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.baseDir, modelID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: model %s", mlerrors.ErrNotFound, modelID)
		}

		return nil, fmt.Errorf("%w: list versions: %v", mlerrors.ErrStorage, err)
	}

	var versions []string
	for _, entry := range entries {
		if entry.IsDir() {
			versions = append(versions, entry.Name())
		}
	}

	return versions, nil
}

// ListModels returns all model ids.
func (l *local) ListModels(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %v", mlerrors.ErrStorage, err)
	}

	var modelIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			modelIDs = append(modelIDs, entry.Name())
		}
	}

	return modelIDs, nil
}

// SetLatest points the stage pointer at the given version.
func (l *local) SetLatest(ctx context.Context, modelID, stage, version string, metadata []byte) error {
	if err := atomicWrite(l.pointerPath(modelID, stage), []byte(version)); err != nil {
		return fmt.Errorf("%w: write stage pointer: %v", mlerrors.ErrStorage, err)
	}

	return nil
}

// GetLatest resolves the stage pointer to a version.
func (l *local) GetLatest(ctx context.Context, modelID, stage string) (string, error) {
	b, err := os.ReadFile(l.pointerPath(modelID, stage))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: no %s pointer for model %s", mlerrors.ErrNotFound, stage, modelID)
		}

		return "", fmt.Errorf("%w: read stage pointer: %v", mlerrors.ErrStorage, err)
	}

	return strings.TrimSpace(string(b)), nil
}

// Delete removes the artifact and metadata of one version.
func (l *local) Delete(ctx context.Context, modelID, version string) error {
	if err := os.RemoveAll(l.versionDir(modelID, version)); err != nil {
		return fmt.Errorf("%w: delete version: %v", mlerrors.ErrStorage, err)
	}

	return nil
}

func (l *local) versionDir(modelID, version string) string {
	return filepath.Join(l.baseDir, modelID, version)
}

func (l *local) pointerPath(modelID, stage string) string {
	return filepath.Join(l.baseDir, modelID, LatestPointerPrefix+stage)
}

// atomicWrite replaces path with the given content via a temp file and
// rename, so concurrent readers see either the old or the new content.
func atomicWrite(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}
