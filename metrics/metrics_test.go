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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anubissbe/threat-modeling-mlops/config"
)

func TestNew(t *testing.T) {
	assert := assert.New(t)
	srv := New(&config.MetricsConfig{Addr: ":8000"})
	assert.Equal(":8000", srv.Addr)

	// Both spellings of the health endpoint answer.
	for _, path := range []string{"/health", "/healthy"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(http.StatusOK, rec.Code)
		assert.Equal("application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(`{"status":"healthy"}`, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(http.StatusOK, rec.Code)
}
