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

type Job struct {
	BaseModel
	JobID      string     `gorm:"column:job_id;type:varchar(256);uniqueIndex;not null;comment:job id" json:"job_id"`
	ModelType  string     `gorm:"column:model_type;type:varchar(256);not null;comment:model type" json:"model_type"`
	Experiment string     `gorm:"column:experiment;type:varchar(256);index;comment:experiment name" json:"experiment"`
	State      string     `gorm:"column:state;type:varchar(256);not null;default:'queued';comment:job state" json:"state"`
	Args       JSONMap    `gorm:"column:args;not null;comment:training config" json:"args"`
	Result     JSONMap    `gorm:"column:result;comment:job result" json:"result"`
	Error      string     `gorm:"column:error;type:varchar(1024);comment:failure reason" json:"error"`
	StartedAt  *time.Time `gorm:"column:started_at;comment:start time" json:"started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at;comment:finish time" json:"finished_at"`
}
