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

// Queue is the name of a machinery queue.
type Queue string

func (q Queue) String() string {
	return string(q)
}

const (
	// TrainingQueue is the queue for distributed training jobs.
	TrainingQueue Queue = "training"
)

const (
	// TrainJobName is the signature name of the training job.
	TrainJobName = "train"
)

const (
	// DefaultResultsExpireIn is the expiration time of job results.
	DefaultResultsExpireIn = 86400

	// DefaultRedisMaxIdle is the maximum number of idle redis connections.
	DefaultRedisMaxIdle = 10

	// DefaultRedisIdleTimeout is the timeout of idle redis connections in seconds.
	DefaultRedisIdleTimeout = 300

	// DefaultRedisReadTimeout is the read timeout of redis connections in seconds.
	DefaultRedisReadTimeout = 60

	// DefaultRedisWriteTimeout is the write timeout of redis connections in seconds.
	DefaultRedisWriteTimeout = 60

	// DefaultRedisConnectTimeout is the connect timeout of redis connections in seconds.
	DefaultRedisConnectTimeout = 30
)
