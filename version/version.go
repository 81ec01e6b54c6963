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

package version

import (
	"fmt"
	"runtime"
)

var (
	// Major is major version.
	Major = "1"

	// Minor is minor version.
	Minor = "0"

	// GitVersion is semantic version, injected at build time.
	GitVersion = "v1.0.0"

	// GitCommit is git commit, injected at build time.
	GitCommit = "unknown"

	// Platform is os and arch of the build.
	Platform = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)

	// BuildTime is build time, injected at build time.
	BuildTime = "unknown"

	// GoVersion is the go version used to build.
	GoVersion = runtime.Version()

	// Gotags is go build tags, injected at build time.
	Gotags = "none"

	// Gogcflags is go build gcflags, injected at build time.
	Gogcflags = "none"
)

// Version returns the full version string.
func Version() string {
	return fmt.Sprintf("%s-%s, built at %s with %s", GitVersion, GitCommit, BuildTime, GoVersion)
}
