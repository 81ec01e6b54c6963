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

package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCSV(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		labelColumn string
		expect      func(t *testing.T, dataset *Dataset, err error)
	}{
		{
			name:    "load dataset",
			content: "severity,exposure,label\n0.9,0.8,1\n0.1,0.2,0\n",
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal([]string{"exposure", "severity"}, dataset.FeatureNames)
				assert.Equal(2, dataset.Len())
				assert.Equal([]float64{0.8, 0.9}, dataset.Features[0])
				assert.Equal([]float64{1, 0}, dataset.Labels)
			},
		},
		{
			name:        "custom label column",
			content:     "severity,threat\n0.9,1\n",
			labelColumn: "threat",
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal([]string{"severity"}, dataset.FeatureNames)
			},
		},
		{
			name:    "missing label column",
			content: "severity,exposure\n0.9,0.8\n",
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.ErrorIs(err, mlerrors.ErrValidation)
			},
		},
		{
			name:    "non numeric feature",
			content: "severity,label\nhigh,1\n",
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.ErrorIs(err, mlerrors.ErrValidation)
			},
		},
		{
			name:    "empty dataset",
			content: "severity,label\n",
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.ErrorIs(err, mlerrors.ErrValidation)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dataset, err := LoadCSV(writeDataset(t, tc.content), tc.labelColumn)
			tc.expect(t, dataset, err)
		})
	}
}

func TestLoadCSV_MissingFile(t *testing.T) {
	assert := assert.New(t)
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), "")
	assert.ErrorIs(err, mlerrors.ErrNotFound)
}

func TestDataset_Split(t *testing.T) {
	dataset := &Dataset{FeatureNames: []string{"x"}}
	for i := 0; i < 10; i++ {
		dataset.Features = append(dataset.Features, []float64{float64(i)})
		dataset.Labels = append(dataset.Labels, float64(i%2))
	}

	assert := assert.New(t)
	train, validation := dataset.Split(0.2, 42)
	assert.Equal(8, train.Len())
	assert.Equal(2, validation.Len())

	// Same seed, same split.
	train2, validation2 := dataset.Split(0.2, 42)
	assert.Equal(train.Features, train2.Features)
	assert.Equal(validation.Features, validation2.Features)

	// Zero fraction keeps everything.
	train3, validation3 := dataset.Split(0, 42)
	assert.Equal(10, train3.Len())
	assert.Nil(validation3)
}
