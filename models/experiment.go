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

import "time"

type Experiment struct {
	BaseModel
	ExperimentID string  `gorm:"column:experiment_id;type:varchar(256);uniqueIndex;not null;comment:experiment id" json:"experiment_id"`
	Name         string  `gorm:"column:name;type:varchar(256);not null;comment:name" json:"name"`
	State        string  `gorm:"column:state;type:varchar(256);not null;default:'created';comment:experiment state" json:"state"`
	Config       JSONMap `gorm:"column:config;not null;comment:experiment config" json:"config"`
	BestTrialID  string  `gorm:"column:best_trial_id;type:varchar(256);comment:best trial id" json:"best_trial_id"`
	Trials       []Trial `gorm:"foreignKey:ExperimentID;references:ExperimentID" json:"trials"`
}

type Trial struct {
	BaseModel
	TrialID      string     `gorm:"column:trial_id;type:varchar(256);uniqueIndex;not null;comment:trial id" json:"trial_id"`
	ExperimentID string     `gorm:"column:experiment_id;type:varchar(256);index;not null;comment:experiment id" json:"experiment_id"`
	State        string     `gorm:"column:state;type:varchar(256);not null;default:'pending';comment:trial state" json:"state"`
	Parameters   JSONMap    `gorm:"column:parameters;not null;comment:search parameters" json:"parameters"`
	Metrics      JSONMap    `gorm:"column:metrics;comment:final metrics" json:"metrics"`
	ModelID      string     `gorm:"column:model_id;type:varchar(256);comment:registered model id" json:"model_id"`
	Error        string     `gorm:"column:error;type:varchar(1024);comment:failure reason" json:"error"`
	StartedAt    *time.Time `gorm:"column:started_at;comment:start time" json:"started_at"`
	FinishedAt   *time.Time `gorm:"column:finished_at;comment:finish time" json:"finished_at"`
}
