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

package job

import "encoding/json"

// TrainRequest defines the request parameters for a distributed training job.
// Config carries the serialized training config so that this package does not
// depend on the training package.
type TrainRequest struct {
	JobID  string          `json:"job_id" validate:"required"`
	Config json.RawMessage `json:"config" validate:"required"`
}

// TrainResponse defines the response parameters for a distributed training job.
type TrainResponse struct {
	JobID     string `json:"job_id"`
	ModelID   string `json:"model_id"`
	Version   string `json:"version"`
	ModelPath string `json:"model_path"`
}
