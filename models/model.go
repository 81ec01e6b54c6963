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

package models

// Model is the database index of one registered model version. The
// authoritative metadata lives next to the artifact in the storage
// backend, this row only accelerates listing and search.
type Model struct {
	BaseModel
	ModelID   string  `gorm:"column:model_id;type:varchar(256);index:uk_model_version,unique;not null;comment:model id" json:"model_id"`
	Name      string  `gorm:"column:name;type:varchar(256);not null;comment:name" json:"name"`
	Version   string  `gorm:"column:version;type:varchar(256);index:uk_model_version,unique;not null;comment:model version" json:"version"`
	Type      string  `gorm:"column:type;type:varchar(256);not null;comment:model type" json:"type"`
	Framework string  `gorm:"column:framework;type:varchar(256);not null;comment:framework" json:"framework"`
	Stage     string  `gorm:"column:stage;type:varchar(256);default:'draft';comment:deployment stage" json:"stage"`
	Checksum  string  `gorm:"column:checksum;type:varchar(256);not null;comment:artifact sha256" json:"checksum"`
	Metrics   JSONMap `gorm:"column:metrics;comment:evaluation metrics" json:"metrics"`
	Tags      Array   `gorm:"column:tags;comment:tags" json:"tags"`
}
