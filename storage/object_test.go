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
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/pkg/objectstorage"
)

// fakeObjectStorage is an in-memory object storage client.
type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: map[string][]byte{}}
}

func (f *fakeObjectStorage) GetBucketMetadata(ctx context.Context, bucketName string) (*objectstorage.BucketMetadata, error) {
	return &objectstorage.BucketMetadata{Name: bucketName, CreateAt: time.Now()}, nil
}

func (f *fakeObjectStorage) CreateBucket(ctx context.Context, bucketName string) error {
	return nil
}

func (f *fakeObjectStorage) GetObjectMetadata(ctx context.Context, bucketName, objectKey string) (*objectstorage.ObjectMetadata, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[objectKey]
	if !ok {
		return nil, false, nil
	}

	return &objectstorage.ObjectMetadata{Key: objectKey, ContentLength: int64(len(b))}, true, nil
}

func (f *fakeObjectStorage) GetObject(ctx context.Context, bucketName, objectKey string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[objectKey]
	if !ok {
		return nil, io.EOF
	}

	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeObjectStorage) PutObject(ctx context.Context, bucketName, objectKey, digest string, reader io.Reader) error {
	b, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey] = b
	return nil
}

func (f *fakeObjectStorage) DeleteObject(ctx context.Context, bucketName, objectKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectKey)
	return nil
}

func (f *fakeObjectStorage) ListObjectMetadatas(ctx context.Context, bucketName, prefix, marker string, limit int64) ([]*objectstorage.ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var metadatas []*objectstorage.ObjectMetadata
	for _, key := range keys {
		metadatas = append(metadatas, &objectstorage.ObjectMetadata{Key: key, ContentLength: int64(len(f.objects[key]))})
	}

	return metadatas, nil
}

func (f *fakeObjectStorage) IsObjectExist(ctx context.Context, bucketName, objectKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[objectKey]
	return ok, nil
}

func TestObject_ArtifactRoundTrip(t *testing.T) {
	s := NewObject(newFakeObjectStorage(), "mlops-models")
	ctx := context.Background()

	location, err := s.SaveArtifact(ctx, "threat_classifier", "1.0.0", strings.NewReader("model-bytes"))
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Equal("models/threat_classifier/1.0.0/model.bin", location)
	assert.Equal(location, s.ArtifactLocation("threat_classifier", "1.0.0"))

	reader, err := s.OpenArtifact(ctx, "threat_classifier", "1.0.0")
	require.NoError(t, err)
	defer reader.Close()

	b, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal("model-bytes", string(b))

	_, err = s.OpenArtifact(ctx, "threat_classifier", "9.9.9")
	assert.ErrorIs(err, mlerrors.ErrNotFound)
}

func TestObject_MetadataAndListing(t *testing.T) {
	s := NewObject(newFakeObjectStorage(), "mlops-models")
	ctx := context.Background()

	require.NoError(t, s.SaveMetadata(ctx, "threat_classifier", "1.0.0", []byte("{}")))
	require.NoError(t, s.SaveMetadata(ctx, "threat_classifier", "2.0.0", []byte("{}")))
	require.NoError(t, s.SaveMetadata(ctx, "vuln_predictor", "1.0.0", []byte("{}")))
	require.NoError(t, s.SetLatest(ctx, "threat_classifier", "production", "2.0.0", []byte("{}")))

	versions, err := s.ListVersions(ctx, "threat_classifier")
	require.NoError(t, err)

	assert := assert.New(t)
	// Pointer objects live under the model prefix and must be excluded.
	assert.Equal([]string{"1.0.0", "2.0.0"}, versions)

	modelIDs, err := s.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal([]string{"threat_classifier", "vuln_predictor"}, modelIDs)

	_, err = s.ListVersions(ctx, "unknown_model")
	assert.ErrorIs(err, mlerrors.ErrNotFound)
}

func TestObject_StagePointer(t *testing.T) {
	s := NewObject(newFakeObjectStorage(), "mlops-models")
	ctx := context.Background()

	assert := assert.New(t)
	_, err := s.GetLatest(ctx, "threat_classifier", "production")
	assert.ErrorIs(err, mlerrors.ErrNotFound)

	require.NoError(t, s.SetLatest(ctx, "threat_classifier", "production", "1.0.0", []byte(`{"version":"1.0.0"}`)))
	version, err := s.GetLatest(ctx, "threat_classifier", "production")
	require.NoError(t, err)
	assert.Equal("1.0.0", version)

	require.NoError(t, s.SetLatest(ctx, "threat_classifier", "production", "2.0.0", nil))
	version, err = s.GetLatest(ctx, "threat_classifier", "production")
	require.NoError(t, err)
	assert.Equal("2.0.0", version)
}

func TestObject_Delete(t *testing.T) {
	s := NewObject(newFakeObjectStorage(), "mlops-models")
	ctx := context.Background()

	_, err := s.SaveArtifact(ctx, "threat_classifier", "1.0.0", strings.NewReader("model-bytes"))
	require.NoError(t, err)
	require.NoError(t, s.SaveMetadata(ctx, "threat_classifier", "1.0.0", []byte("{}")))

	require.NoError(t, s.Delete(ctx, "threat_classifier", "1.0.0"))

	_, err = s.OpenArtifact(ctx, "threat_classifier", "1.0.0")
	assert.ErrorIs(t, err, mlerrors.ErrNotFound)
}
