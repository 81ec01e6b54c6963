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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/anubissbe/threat-modeling-mlops/pkg/digest"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/pkg/objectstorage"
)

const (
	// objectKeyPrefix is the key prefix of all model objects.
	objectKeyPrefix = "models"

	// listLimit is the page size of list requests.
	listLimit = 1000
)

// object is the object storage backed storage. Layout:
//
//	models/<modelID>/<version>/model.bin
//	models/<modelID>/<version>/metadata.json
//	models/<modelID>/latest-<stage>.json
//
// The stage pointer is a small JSON object holding the version and a
// copy of the metadata, replaced with a single PUT.
type object struct {
	client objectstorage.ObjectStorage
	bucket string
}

// pointerObject is the content of a stage pointer object.
type pointerObject struct {
	Version  string          `json:"version"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// NewObject returns an object storage backed storage.
func NewObject(client objectstorage.ObjectStorage, bucket string) Storage {
	return &object{
		client: client,
		bucket: bucket,
	}
}

// SaveArtifact persists the model binary and returns its location.
func (o *object) SaveArtifact(ctx context.Context, modelID, version string, reader io.Reader) (string, error) {
	// Object storage needs a seekable body, buffer the artifact.
	b, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: read artifact: %v", mlerrors.ErrStorage, err)
	}

	key := o.artifactKey(modelID, version)
	if err := o.client.PutObject(ctx, o.bucket, key, digest.Sha256Bytes(b), bytes.NewReader(b)); err != nil {
		return "", fmt.Errorf("%w: put artifact: %v", mlerrors.ErrStorage, err)
	}

	return key, nil
}

// OpenArtifact opens the model binary for reading.
func (o *object) OpenArtifact(ctx context.Context, modelID, version string) (io.ReadCloser, error) {
	key := o.artifactKey(modelID, version)
	isExist, err := o.client.IsObjectExist(ctx, o.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%w: head artifact: %v", mlerrors.ErrStorage, err)
	}

	if !isExist {
		return nil, fmt.Errorf("%w: artifact of %s:%s", mlerrors.ErrNotFound, modelID, version)
	}

	reader, err := o.client.GetObject(ctx, o.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%w: get artifact: %v", mlerrors.ErrStorage, err)
	}

	return reader, nil
}

// ArtifactLocation returns the artifact object key.
func (o *object) ArtifactLocation(modelID, version string) string {
	return o.artifactKey(modelID, version)
}

// SaveMetadata persists metadata bytes next to the artifact.
func (o *object) SaveMetadata(ctx context.Context, modelID, version string, metadata []byte) error {
	key := o.metadataKey(modelID, version)
	if err := o.client.PutObject(ctx, o.bucket, key, digest.Sha256Bytes(metadata), bytes.NewReader(metadata)); err != nil {
		return fmt.Errorf("%w: put metadata: %v", mlerrors.ErrStorage, err)
	}

	return nil
}

// LoadMetadata returns metadata bytes of the given version.
func (o *object) LoadMetadata(ctx context.Context, modelID, version string) ([]byte, error) {
	key := o.metadataKey(modelID, version)
	isExist, err := o.client.IsObjectExist(ctx, o.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%w: head metadata: %v", mlerrors.ErrStorage, err)
	}

	if !isExist {
		return nil, fmt.Errorf("%w: metadata of %s:%s", mlerrors.ErrNotFound, modelID, version)
	}

	reader, err := o.client.GetObject(ctx, o.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%w: get metadata: %v", mlerrors.ErrStorage, err)
	}
	defer reader.Close()

	b, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", mlerrors.ErrStorage, err)
	}

	return b, nil
}

// ListVersions returns all versions of the given model.
func (o *object) ListVersions(ctx context.Context, modelID string) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s/", objectKeyPrefix, modelID)
	metadatas, err := o.client.ListObjectMetadatas(ctx, o.bucket, prefix, "", listLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: list versions: %v", mlerrors.ErrStorage, err)
	}

	seen := map[string]struct{}{}
	var versions []string
	for _, metadata := range metadatas {
		rest := strings.TrimPrefix(metadata.Key, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			// Stage pointer objects live directly under the model prefix.
			continue
		}

		if _, ok := seen[parts[0]]; !ok {
			seen[parts[0]] = struct{}{}
			versions = append(versions, parts[0])
		}
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: model %s", mlerrors.ErrNotFound, modelID)
	}

	sort.Strings(versions)
	return versions, nil
}

// ListModels returns all model ids.
func (o *object) ListModels(ctx context.Context) ([]string, error) {
	prefix := objectKeyPrefix + "/"
	metadatas, err := o.client.ListObjectMetadatas(ctx, o.bucket, prefix, "", listLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %v", mlerrors.ErrStorage, err)
	}

	seen := map[string]struct{}{}
	var modelIDs []string
	for _, metadata := range metadatas {
		rest := strings.TrimPrefix(metadata.Key, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 0 || parts[0] == "" {
			continue
		}

		if _, ok := seen[parts[0]]; !ok {
			seen[parts[0]] = struct{}{}
			modelIDs = append(modelIDs, parts[0])
		}
	}

	sort.Strings(modelIDs)
	return modelIDs, nil
}

// SetLatest points the stage pointer at the given version.
func (o *object) SetLatest(ctx context.Context, modelID, stage, version string, metadata []byte) error {
	b, err := json.Marshal(pointerObject{
		Version:  version,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal stage pointer: %v", mlerrors.ErrStorage, err)
	}

	key := o.pointerKey(modelID, stage)
	if err := o.client.PutObject(ctx, o.bucket, key, digest.Sha256Bytes(b), bytes.NewReader(b)); err != nil {
		return fmt.Errorf("%w: put stage pointer: %v", mlerrors.ErrStorage, err)
	}

	return nil
}

// GetLatest resolves the stage pointer to a version.
func (o *object) GetLatest(ctx context.Context, modelID, stage string) (string, error) {
	key := o.pointerKey(modelID, stage)
	isExist, err := o.client.IsObjectExist(ctx, o.bucket, key)
	if err != nil {
		return "", fmt.Errorf("%w: head stage pointer: %v", mlerrors.ErrStorage, err)
	}

	if !isExist {
		return "", fmt.Errorf("%w: no %s pointer for model %s", mlerrors.ErrNotFound, stage, modelID)
	}

	reader, err := o.client.GetObject(ctx, o.bucket, key)
	if err != nil {
		return "", fmt.Errorf("%w: get stage pointer: %v", mlerrors.ErrStorage, err)
	}
	defer reader.Close()

	var pointer pointerObject
	if err := json.NewDecoder(reader).Decode(&pointer); err != nil {
		return "", fmt.Errorf("%w: decode stage pointer: %v", mlerrors.ErrStorage, err)
	}

	return pointer.Version, nil
}

// Delete removes the artifact and metadata of one version.
func (o *object) Delete(ctx context.Context, modelID, version string) error {
	for _, key := range []string{o.artifactKey(modelID, version), o.metadataKey(modelID, version)} {
		if err := o.client.DeleteObject(ctx, o.bucket, key); err != nil {
			return fmt.Errorf("%w: delete object %s: %v", mlerrors.ErrStorage, key, err)
		}
	}

	return nil
}

func (o *object) artifactKey(modelID, version string) string {
	return fmt.Sprintf("%s/%s/%s/%s", objectKeyPrefix, modelID, version, ArtifactFileName)
}

func (o *object) metadataKey(modelID, version string) string {
	return fmt.Sprintf("%s/%s/%s/%s", objectKeyPrefix, modelID, version, MetadataFileName)
}

func (o *object) pointerKey(modelID, stage string) string {
	return fmt.Sprintf("%s/%s/%s%s.json", objectKeyPrefix, modelID, LatestPointerPrefix, stage)
}
