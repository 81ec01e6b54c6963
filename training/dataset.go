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
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

// DefaultLabelColumn is the csv column holding the label when the job
// does not name one.
const DefaultLabelColumn = "label"

// Dataset is a labeled feature matrix.
type Dataset struct {
	// FeatureNames are the csv columns used as features, in matrix order.
	FeatureNames []string

	// Features is the row major feature matrix.
	Features [][]float64

	// Labels holds one label per row.
	Labels []float64
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Features)
}

// Split shuffles the rows with the given seed and splits off the last
// fraction as the validation set. fraction zero returns d unchanged with
// a nil validation set.
func (d *Dataset) Split(fraction float64, seed int64) (*Dataset, *Dataset) {
	if fraction <= 0 {
		return d, nil
	}

	indexes := rand.New(rand.NewSource(seed)).Perm(d.Len())
	cut := d.Len() - int(float64(d.Len())*fraction)
	if cut <= 0 || cut >= d.Len() {
		return d, nil
	}

	train := &Dataset{FeatureNames: d.FeatureNames}
	validation := &Dataset{FeatureNames: d.FeatureNames}
	for i, index := range indexes {
		if i < cut {
			train.Features = append(train.Features, d.Features[index])
			train.Labels = append(train.Labels, d.Labels[index])
		} else {
			validation.Features = append(validation.Features, d.Features[index])
			validation.Labels = append(validation.Labels, d.Labels[index])
		}
	}

	return train, validation
}

// LoadCSV loads a csv dataset. Every column except labelColumn becomes a
// feature and must parse as a float.
func LoadCSV(path, labelColumn string) (*Dataset, error) {
	if labelColumn == "" {
		labelColumn = DefaultLabelColumn
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: dataset %s", mlerrors.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: open dataset: %v", mlerrors.ErrStorage, err)
	}
	defer f.Close()

	rows, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dataset %s: %v", mlerrors.ErrValidation, path, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: dataset %s is empty", mlerrors.ErrValidation, path)
	}

	if _, ok := rows[0][labelColumn]; !ok {
		return nil, fmt.Errorf("%w: dataset %s has no column %q", mlerrors.ErrValidation, path, labelColumn)
	}

	var featureNames []string
	for name := range rows[0] {
		if name != labelColumn {
			featureNames = append(featureNames, name)
		}
	}
	sort.Strings(featureNames)

	dataset := &Dataset{FeatureNames: featureNames}
	for i, row := range rows {
		label, err := strconv.ParseFloat(row[labelColumn], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: label %q: %v", mlerrors.ErrValidation, i+1, row[labelColumn], err)
		}

		features := make([]float64, 0, len(featureNames))
		for _, name := range featureNames {
			value, err := strconv.ParseFloat(row[name], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: column %q: %v", mlerrors.ErrValidation, i+1, name, err)
			}
			features = append(features, value)
		}

		dataset.Features = append(dataset.Features, features)
		dataset.Labels = append(dataset.Labels, label)
	}

	return dataset, nil
}
