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

package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Run calls f up to maxAttempts times with randomized exponential backoff
// between attempts. f reports cancel to stop retrying regardless of error.
func Run(ctx context.Context,
	initBackoff float64,
	maxBackoff float64,
	maxAttempts int,
	f func() (data any, cancel bool, err error)) (any, bool, error) {
	var (
		res    any
		cancel bool
		cause  error
	)
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			time.Sleep(RandBackoffSeconds(initBackoff, maxBackoff, 2.0, i))
		}

		res, cancel, cause = f()
		if cause == nil || cancel {
			break
		}
		select {
		case <-ctx.Done():
			return nil, cancel, ctx.Err()
		default:
		}
	}

	return res, cancel, cause
}

// RandBackoffSeconds returns a jittered exponential backoff duration.
func RandBackoffSeconds(initBackoff float64, maxBackoff float64, multiple float64, attempt int) time.Duration {
	backoff := initBackoff * math.Pow(multiple, float64(attempt))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	// Jitter in [backoff/2, backoff).
	backoff = backoff/2 + rand.Float64()*backoff/2
	return time.Duration(backoff * float64(time.Second))
}
