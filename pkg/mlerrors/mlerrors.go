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

// Package mlerrors defines the error taxonomy shared by the mlops
// components. Callers classify failures with errors.Is.
package mlerrors

import "errors"

var (
	// ErrValidation indicates bad config or metadata, rejected before
	// any side effect.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates an unknown model, version, job or experiment.
	ErrNotFound = errors.New("not found")

	// ErrStorage indicates an I/O failure against the artifact backend.
	// Retried by the caller, not internally.
	ErrStorage = errors.New("storage error")

	// ErrUnsupportedType indicates an unknown model type, framework or
	// search strategy. Fatal, not retried.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrTraining indicates a failure inside a trainer. Captured on the
	// job, the pipeline continues.
	ErrTraining = errors.New("training error")

	// ErrAlertChannel indicates one alert channel failed. Logged, other
	// channels are still attempted.
	ErrAlertChannel = errors.New("alert channel error")
)
