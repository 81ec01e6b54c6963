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

import (
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
)

// MachineryLogger is a machinery logger bridge to the core logger.
type MachineryLogger struct{}

// Print sends to logger.Info.
func (m *MachineryLogger) Print(args ...any) {
	logger.JobLogger.Info(args...)
}

// Printf sends to logger.Infof.
func (m *MachineryLogger) Printf(format string, args ...any) {
	logger.JobLogger.Infof(format, args...)
}

// Println sends to logger.Info.
func (m *MachineryLogger) Println(args ...any) {
	logger.JobLogger.Info(args...)
}

// Fatal sends to logger.Fatal.
func (m *MachineryLogger) Fatal(args ...any) {
	logger.JobLogger.Fatal(args...)
}

// Fatalf sends to logger.Fatalf.
func (m *MachineryLogger) Fatalf(format string, args ...any) {
	logger.JobLogger.Fatalf(format, args...)
}

// Fatalln sends to logger.Fatal.
func (m *MachineryLogger) Fatalln(args ...any) {
	logger.JobLogger.Fatal(args...)
}

// Panic sends to logger.Panic.
func (m *MachineryLogger) Panic(args ...any) {
	logger.JobLogger.Panic(args...)
}

// Panicf sends to logger.Panic.
func (m *MachineryLogger) Panicf(format string, args ...any) {
	logger.JobLogger.Panic(args...)
}

// Panicln sends to logger.Panic.
func (m *MachineryLogger) Panicln(args ...any) {
	logger.JobLogger.Panic(args...)
}
