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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"gorm.io/gorm"

	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	internaljob "github.com/anubissbe/threat-modeling-mlops/internal/job"
	"github.com/anubissbe/threat-modeling-mlops/metrics"
	"github.com/anubissbe/threat-modeling-mlops/models"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/pkg/retry"
	"github.com/anubissbe/threat-modeling-mlops/registry"
)

// Pipeline runs training jobs on a bounded worker pool and registers the
// resulting artifacts.
type Pipeline struct {
	config   *config.TrainingConfig
	registry registry.Registry
	jobs     cmap.ConcurrentMap[string, *Job]
	queue    chan *Job
	db       *gorm.DB
	job      *internaljob.Job
	wg       sync.WaitGroup
	done     chan struct{}
}

// New creates a training pipeline. db may be nil, in which case job rows
// are not mirrored. ij may be nil, in which case jobs only run in
// process.
func New(cfg *config.TrainingConfig, reg registry.Registry, db *gorm.DB, ij *internaljob.Job) (*Pipeline, error) {
	p := &Pipeline{
		config:   cfg,
		registry: reg,
		jobs:     cmap.New[*Job](),
		queue:    make(chan *Job, cfg.QueueDepth),
		db:       db,
		job:      ij,
		done:     make(chan struct{}),
	}

	if cfg.Distributed && ij != nil {
		if err := ij.RegisterJob(map[string]any{
			internaljob.TrainJobName: p.train,
		}); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Serve starts the worker pool. In distributed mode it also launches the
// machinery worker consuming the training queue.
func (p *Pipeline) Serve() error {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	if p.config.Distributed && p.job != nil {
		return p.job.LaunchWorker("mlops-training-worker", p.config.Workers)
	}

	return nil
}

// Stop drains the worker pool. Queued jobs that have not started stay
// queued in their mirror rows and are lost from memory.
func (p *Pipeline) Stop() {
	close(p.done)
	p.wg.Wait()
	logger.Infof("training pipeline stopped")
}

// Submit validates the config synchronously and enqueues a job. A full
// queue is an immediate error, not a blocking wait.
func (p *Pipeline) Submit(ctx context.Context, cfg *JobConfig) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if _, err := NewTrainer(cfg.ModelType); err != nil {
		return nil, err
	}

	job := newJob(uuid.NewString(), cfg)
	p.jobs.Set(job.ID, job)
	p.mirror(job)

	if p.config.Distributed && p.job != nil {
		if err := p.dispatch(ctx, job); err != nil {
			return nil, err
		}
		metrics.TrainStartedCount.WithLabelValues(string(cfg.ModelType)).Inc()
		return job, nil
	}

	select {
	case p.queue <- job:
	default:
		p.jobs.Remove(job.ID)
		return nil, fmt.Errorf("%w: training queue is full", mlerrors.ErrTraining)
	}

	metrics.TrainStartedCount.WithLabelValues(string(cfg.ModelType)).Inc()
	job.Log.Infof("job queued for model %s", cfg.ModelID)
	return job, nil
}

// Get returns a tracked job.
func (p *Pipeline) Get(jobID string) (*Job, error) {
	job, ok := p.jobs.Get(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: job %s", mlerrors.ErrNotFound, jobID)
	}

	return job, nil
}

// List returns all tracked jobs.
func (p *Pipeline) List() []*Job {
	jobs := make([]*Job, 0, p.jobs.Count())
	for _, job := range p.jobs.Items() {
		jobs = append(jobs, job)
	}

	return jobs
}

// Cancel cancels a queued job. A job that already started is not
// interrupted.
func (p *Pipeline) Cancel(jobID string) error {
	job, err := p.Get(jobID)
	if err != nil {
		return err
	}

	if err := job.FSM.Event(JobEventCancel); err != nil {
		return fmt.Errorf("%w: job %s is %s", mlerrors.ErrValidation, jobID, job.State())
	}

	job.setResult(nil, fmt.Errorf("%w: job cancelled", mlerrors.ErrTraining))
	p.mirror(job)
	return nil
}

// Wait blocks until a job reaches a terminal state or ctx is done.
func (p *Pipeline) Wait(ctx context.Context, jobID string) (*Job, error) {
	job, err := p.Get(jobID)
	if err != nil {
		return nil, err
	}

	select {
	case <-job.Done():
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case job := <-p.queue:
			if job.State() != JobStateQueued {
				continue
			}

			if err := job.FSM.Event(JobEventRun); err != nil {
				continue
			}

			p.runJob(context.Background(), job)
		}
	}
}

// train is the machinery task handler for distributed mode.
func (p *Pipeline) train(rawRequest string) (string, error) {
	request := internaljob.TrainRequest{}
	if err := internaljob.UnmarshalRequest(rawRequest, &request); err != nil {
		return "", err
	}

	cfg := &JobConfig{}
	if err := json.Unmarshal(request.Config, cfg); err != nil {
		return "", fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	if err := cfg.Validate(); err != nil {
		return "", err
	}

	job, ok := p.jobs.Get(request.JobID)
	if !ok {
		// The job was submitted on another instance.
		job = newJob(request.JobID, cfg)
		p.jobs.Set(job.ID, job)
	}

	if err := job.FSM.Event(JobEventRun); err != nil {
		return "", fmt.Errorf("%w: job %s is %s", mlerrors.ErrTraining, job.ID, job.State())
	}

	p.runJob(context.Background(), job)

	metadata, err := job.Result()
	if err != nil {
		return "", err
	}

	return internaljob.MarshalResponse(&internaljob.TrainResponse{
		JobID:   job.ID,
		ModelID: metadata.ModelID,
		Version: metadata.Version,
	})
}

func (p *Pipeline) dispatch(ctx context.Context, job *Job) error {
	rawConfig, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	args, err := internaljob.MarshalRequest(&internaljob.TrainRequest{
		JobID:  job.ID,
		Config: rawConfig,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", mlerrors.ErrTraining, err)
	}

	task := internaljob.NewSignature(internaljob.TrainJobName, internaljob.TrainingQueue, args)
	if _, err := p.job.Server.SendTaskWithContext(ctx, task); err != nil {
		return fmt.Errorf("%w: %v", mlerrors.ErrTraining, err)
	}

	job.Log.Infof("job dispatched to queue %s", internaljob.TrainingQueue)
	return nil
}

func (p *Pipeline) runJob(ctx context.Context, job *Job) {
	cfg := job.Config
	start := time.Now()

	metadata, err := p.execute(ctx, job)
	if err != nil {
		job.setResult(nil, err)
		if ferr := job.FSM.Event(JobEventFail); ferr != nil {
			job.Log.Errorf("job state transition: %v", ferr)
		}
		metrics.TrainFinishedFailureCount.WithLabelValues(string(cfg.ModelType)).Inc()
		p.mirror(job)
		job.Log.Errorf("job failed: %v", err)
		return
	}

	job.setResult(metadata, nil)
	if ferr := job.FSM.Event(JobEventSucceed); ferr != nil {
		job.Log.Errorf("job state transition: %v", ferr)
	}
	metrics.TrainFinishedCount.WithLabelValues(string(cfg.ModelType)).Inc()
	metrics.TrainDuration.WithLabelValues(string(cfg.ModelType)).Observe(time.Since(start).Seconds())
	p.mirror(job)
	job.Log.Infof("job completed, registered %s version %s", metadata.ModelID, metadata.Version)
}

func (p *Pipeline) execute(ctx context.Context, job *Job) (*registry.ModelMetadata, error) {
	cfg := job.Config

	dataset, err := LoadCSV(cfg.DatasetPath, cfg.LabelColumn)
	if err != nil {
		return nil, err
	}

	train, validation := dataset.Split(cfg.ValidationSplit, cfg.Seed)

	trainer, err := NewTrainer(cfg.ModelType)
	if err != nil {
		return nil, err
	}

	callback := p.epochCallback(job, trainer)
	params := Params{
		Epochs:          cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		LearningRate:    cfg.LearningRate,
		Hyperparameters: cfg.Hyperparameters,
	}

	// Transient trainer errors are retried with jittered backoff,
	// validation errors are not.
	result, _, err := retry.Run(ctx, p.config.InitBackoff, p.config.MaxBackoff, p.config.MaxAttempts, func() (any, bool, error) {
		result, err := trainer.Train(ctx, train, validation, params, callback)
		if err != nil {
			return nil, isPermanent(err), err
		}

		return result, false, nil
	})
	if err != nil {
		return nil, err
	}

	trained := result.(*Result)
	metadata := &registry.ModelMetadata{
		ModelID:   cfg.ModelID,
		ModelName: cfg.ModelName,
		Version:   trainVersion(time.Now()),
		ModelType: cfg.ModelType,
		Framework: trained.Framework,
		Metrics:   trained.Metrics,
		TrainingInfo: registry.TrainingInfo{
			DatasetVersion:  cfg.DatasetVersion,
			DatasetSize:     dataset.Len(),
			DurationSeconds: time.Since(job.CreatedAt).Seconds(),
			Epochs:          trained.Epochs,
			BatchSize:       cfg.BatchSize,
			LearningRate:    cfg.LearningRate,
			Hyperparameters: cfg.Hyperparameters,
		},
		Tags: cfg.Tags,
	}

	if metadata.ModelName == "" {
		metadata.ModelName = cfg.ModelID
	}

	registered, err := p.registry.Register(ctx, bytes.NewReader(trained.Artifact), metadata)
	if err != nil {
		return nil, err
	}

	if cfg.PromoteStage != "" {
		if _, err := p.registry.Promote(ctx, registered.ModelID, registered.Version, cfg.PromoteStage); err != nil {
			return nil, err
		}
	}

	return registered, nil
}

// epochCallback tracks progress and applies early stopping when the
// trainer supports interruption.
func (p *Pipeline) epochCallback(job *Job, trainer Trainer) EpochCallback {
	es := job.Config.EarlyStopping
	interruptible := trainer.Capabilities().Interruptible
	if es != nil && !interruptible {
		job.Log.Warnf("trainer for %s is not interruptible, early stopping degrades to progress reporting", job.Config.ModelType)
	}

	bestLoss := 0.0
	stale := 0
	seen := false

	return func(progress Progress) bool {
		job.setProgress(progress)

		if es == nil || !interruptible {
			return true
		}

		if !seen || bestLoss-progress.Loss > es.MinDelta {
			bestLoss = progress.Loss
			seen = true
			stale = 0
			return true
		}

		stale++
		if stale >= es.Patience {
			job.Log.Infof("early stopping after epoch %d, best loss %f", progress.Epoch, bestLoss)
			return false
		}

		return true
	}
}

// mirror upserts the job row. Mirroring is best effort, memory stays
// authoritative.
func (p *Pipeline) mirror(job *Job) {
	if p.db == nil {
		return
	}

	args := models.JSONMap{}
	if raw, err := json.Marshal(job.Config); err == nil {
		_ = json.Unmarshal(raw, (*map[string]any)(&args))
	}

	row := models.Job{
		JobID:     job.ID,
		ModelType: string(job.Config.ModelType),
		State:     job.State(),
		Args:      args,
	}

	if metadata, err := job.Result(); err != nil {
		row.Error = err.Error()
	} else if metadata != nil {
		row.Result = models.JSONMap{
			"model_id": metadata.ModelID,
			"version":  metadata.Version,
		}
	}

	if err := p.db.Where(models.Job{JobID: job.ID}).Assign(row).FirstOrCreate(&models.Job{}).Error; err != nil {
		job.Log.Warnf("mirror job row: %v", err)
	}
}

// trainVersion derives the artifact version from the training date.
func trainVersion(now time.Time) string {
	return fmt.Sprintf("1.0.%s", now.Format("20060102"))
}

func isPermanent(err error) bool {
	return errors.Is(err, mlerrors.ErrValidation) ||
		errors.Is(err, mlerrors.ErrNotFound) ||
		errors.Is(err, mlerrors.ErrUnsupportedType)
}
