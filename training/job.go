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

package training

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/looplab/fsm"

	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/registry"
)

const (
	// JobStateQueued is the initial state, the job waits for a worker.
	JobStateQueued = "queued"

	// JobStateRunning is the state when a worker picked the job up.
	JobStateRunning = "running"

	// JobStateCompleted is the terminal success state.
	JobStateCompleted = "completed"

	// JobStateFailed is the terminal failure state.
	JobStateFailed = "failed"

	// JobStateCancelled is the terminal state of a cancelled job. Only
	// queued jobs can be cancelled.
	JobStateCancelled = "cancelled"
)

const (
	// JobEventRun is the event when a worker picks the job up.
	JobEventRun = "run"

	// JobEventSucceed is the event when training and registration succeed.
	JobEventSucceed = "succeed"

	// JobEventFail is the event when training fails after all attempts.
	JobEventFail = "fail"

	// JobEventCancel is the event when the job is cancelled.
	JobEventCancel = "cancel"
)

var validate = validator.New()

// EarlyStoppingConfig stops training when the validation loss has not
// improved by MinDelta for Patience epochs.
type EarlyStoppingConfig struct {
	Patience int     `json:"patience" validate:"gte=1"`
	MinDelta float64 `json:"minDelta" validate:"gte=0"`
}

// JobConfig is the request of one training job.
type JobConfig struct {
	ModelID         string               `json:"modelId" validate:"required"`
	ModelName       string               `json:"modelName"`
	ModelType       registry.ModelType   `json:"modelType" validate:"required"`
	DatasetPath     string               `json:"datasetPath" validate:"required"`
	DatasetVersion  string               `json:"datasetVersion"`
	LabelColumn     string               `json:"labelColumn"`
	ValidationSplit float64              `json:"validationSplit" validate:"gte=0,lt=1"`
	Seed            int64                `json:"seed"`
	Epochs          int                  `json:"epochs" validate:"gte=1"`
	BatchSize       int                  `json:"batchSize"`
	LearningRate    float64              `json:"learningRate" validate:"gt=0"`
	Hyperparameters map[string]any       `json:"hyperparameters"`
	EarlyStopping   *EarlyStoppingConfig `json:"earlyStopping"`
	PromoteStage    registry.Stage       `json:"promoteStage"`
	Tags            []string             `json:"tags"`
}

// Validate checks the job config before it is queued.
func (c *JobConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	if _, ok := registry.ModelTypes[c.ModelType]; !ok {
		return fmt.Errorf("%w: unknown model type %q", mlerrors.ErrValidation, c.ModelType)
	}

	if c.PromoteStage != "" {
		if _, ok := registry.Stages[c.PromoteStage]; !ok || c.PromoteStage == registry.StageArchived {
			return fmt.Errorf("%w: cannot promote to stage %q", mlerrors.ErrValidation, c.PromoteStage)
		}
	}

	return nil
}

// Job is one training job tracked by the pipeline.
type Job struct {
	// ID is a generated uuid.
	ID string

	// Config is the validated job config.
	Config *JobConfig

	// FSM is the job state machine.
	FSM *fsm.FSM

	// Log is a logger with the job id attached.
	Log *logger.SugaredLoggerOnWith

	// CreatedAt is the enqueue time.
	CreatedAt time.Time

	mu         sync.Mutex
	progress   Progress
	metadata   *registry.ModelMetadata
	err        error
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
}

func newJob(id string, cfg *JobConfig) *Job {
	j := &Job{
		ID:        id,
		Config:    cfg,
		Log:       logger.WithJobID(id),
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	j.FSM = fsm.NewFSM(
		JobStateQueued,
		fsm.Events{
			{Name: JobEventRun, Src: []string{JobStateQueued}, Dst: JobStateRunning},
			{Name: JobEventSucceed, Src: []string{JobStateRunning}, Dst: JobStateCompleted},
			{Name: JobEventFail, Src: []string{JobStateRunning}, Dst: JobStateFailed},
			{Name: JobEventCancel, Src: []string{JobStateQueued}, Dst: JobStateCancelled},
		},
		fsm.Callbacks{
			JobEventRun: func(e *fsm.Event) {
				j.mu.Lock()
				j.startedAt = time.Now()
				j.mu.Unlock()
				j.Log.Infof("job state is %s", e.FSM.Current())
			},
			JobEventSucceed: func(e *fsm.Event) {
				j.finish()
				j.Log.Infof("job state is %s", e.FSM.Current())
			},
			JobEventFail: func(e *fsm.Event) {
				j.finish()
				j.Log.Infof("job state is %s", e.FSM.Current())
			},
			JobEventCancel: func(e *fsm.Event) {
				j.finish()
				j.Log.Infof("job state is %s", e.FSM.Current())
			},
		},
	)

	return j
}

func (j *Job) finish() {
	j.mu.Lock()
	j.finishedAt = time.Now()
	j.mu.Unlock()
	close(j.done)
}

// State returns the current job state.
func (j *Job) State() string {
	return j.FSM.Current()
}

// Progress returns the last reported epoch progress.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *Job) setProgress(p Progress) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

// Result returns the registered metadata of a completed job, or the
// terminal error of a failed one.
func (j *Job) Result() (*registry.ModelMetadata, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metadata, j.err
}

func (j *Job) setResult(metadata *registry.ModelMetadata, err error) {
	j.mu.Lock()
	j.metadata = metadata
	j.err = err
	j.mu.Unlock()
}

// Duration returns the wall clock run time of a finished job.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() || j.finishedAt.IsZero() {
		return 0
	}
	return j.finishedAt.Sub(j.startedAt)
}

// Done returns a channel closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}
