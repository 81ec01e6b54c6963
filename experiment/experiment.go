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

package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	cmap "github.com/orcaman/concurrent-map/v2"
	"gorm.io/gorm"

	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/metrics"
	"github.com/anubissbe/threat-modeling-mlops/models"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
	"github.com/anubissbe/threat-modeling-mlops/training"
)

const (
	// ExperimentStateCreated is the initial state.
	ExperimentStateCreated = "created"

	// ExperimentStateRunning is the state while trials run.
	ExperimentStateRunning = "running"

	// ExperimentStateCompleted is the terminal success state. At least
	// one trial completed.
	ExperimentStateCompleted = "completed"

	// ExperimentStateFailed is the terminal state when every trial
	// failed.
	ExperimentStateFailed = "failed"
)

const (
	// ExperimentEventRun starts the trial loop.
	ExperimentEventRun = "run"

	// ExperimentEventSucceed finishes the experiment.
	ExperimentEventSucceed = "succeed"

	// ExperimentEventFail fails the experiment.
	ExperimentEventFail = "fail"
)

const (
	// TrialStatePending is the initial trial state.
	TrialStatePending = "pending"

	// TrialStateRunning is the state while the training job runs.
	TrialStateRunning = "running"

	// TrialStateCompleted is the terminal success state.
	TrialStateCompleted = "completed"

	// TrialStateFailed is the terminal failure state. A failed trial
	// never becomes the best trial.
	TrialStateFailed = "failed"
)

var validate = validator.New()

// Config is the definition of one experiment.
type Config struct {
	// Name identifies the experiment.
	Name string `json:"name" validate:"required"`

	// BaseJob is the training job template every trial starts from.
	BaseJob *training.JobConfig `json:"baseJob" validate:"required"`

	// Space is the hyperparameter search space.
	Space SearchSpace `json:"space" validate:"required"`

	// Strategy is grid, random or bayesian.
	Strategy string `json:"strategy" validate:"required"`

	// MaxTrials bounds the number of trials. The grid strategy stops
	// earlier when the grid is exhausted.
	MaxTrials int `json:"maxTrials" validate:"gte=1"`

	// Timeout bounds the wall clock time of the whole experiment. Zero
	// means no timeout.
	Timeout time.Duration `json:"timeout"`

	// Metric is the metric optimized over trials.
	Metric string `json:"metric" validate:"required"`

	// Maximize reports whether Metric is maximized or minimized.
	Maximize bool `json:"maximize"`

	// EarlyStoppingRounds stops the bayesian strategy once the last N
	// completed scores stop moving. Zero disables convergence stopping.
	EarlyStoppingRounds int `json:"earlyStoppingRounds" validate:"gte=0"`

	// Seed seeds the random and bayesian strategies.
	Seed int64 `json:"seed"`
}

// Validate checks the experiment definition.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", mlerrors.ErrValidation, err)
	}

	if err := c.Space.Validate(); err != nil {
		return err
	}

	if err := c.BaseJob.Validate(); err != nil {
		return err
	}

	if _, err := NewStrategy(c.Strategy, c.Seed, c.EarlyStoppingRounds); err != nil {
		return err
	}

	return nil
}

// Trial is one hyperparameter evaluation.
type Trial struct {
	// ID is a generated uuid.
	ID string

	// Params is the evaluated assignment.
	Params Assignment

	maximize bool

	mu      sync.Mutex
	state   string
	score   float64
	modelID string
	version string
	err     error
}

// State returns the trial state.
func (t *Trial) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Score returns the observed metric of a completed trial.
func (t *Trial) Score() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.score
}

// Model returns the registered model of a completed trial.
func (t *Trial) Model() (modelID, version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modelID, t.version
}

// Err returns the terminal error of a failed trial.
func (t *Trial) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// better reports whether t strictly beats other. Equal scores keep the
// earlier trial.
func (t *Trial) better(other *Trial) bool {
	if t.maximize {
		return t.Score() > other.Score()
	}
	return t.Score() < other.Score()
}

// Experiment is one tracked experiment run.
type Experiment struct {
	// ID is a generated uuid.
	ID string

	// Config is the validated definition.
	Config *Config

	// FSM is the experiment state machine.
	FSM *fsm.FSM

	// Log is a logger with the experiment id attached.
	Log *logger.SugaredLoggerOnWith

	// CreatedAt is the creation time.
	CreatedAt time.Time

	mu     sync.Mutex
	trials []*Trial
	best   *Trial
}

// Trials returns a snapshot of all trials.
func (e *Experiment) Trials() []*Trial {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Trial(nil), e.trials...)
}

// BestTrial returns the best completed trial, or nil when no trial
// completed.
func (e *Experiment) BestTrial() *Trial {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.best
}

// State returns the current experiment state.
func (e *Experiment) State() string {
	return e.FSM.Current()
}

func (e *Experiment) addTrial(trial *Trial) {
	e.mu.Lock()
	e.trials = append(e.trials, trial)
	e.mu.Unlock()
}

func (e *Experiment) observe(trial *Trial) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if trial.State() != TrialStateCompleted {
		return
	}
	if e.best == nil || trial.better(e.best) {
		e.best = trial
	}
}

// Snapshot is the best trial summary of one compared experiment.
type Snapshot struct {
	ExperimentID string  `json:"experimentId"`
	Name         string  `json:"name"`
	Trials       int     `json:"trials"`
	Completed    int     `json:"completed"`
	BestScore    float64 `json:"bestScore"`
	BestTrialID  string  `json:"bestTrialId"`
	ModelID      string  `json:"modelId"`
	Version      string  `json:"version"`
}

// Comparison aggregates the best trials of several experiments.
type Comparison struct {
	// Metric is the shared optimization metric.
	Metric string `json:"metric"`

	// WinnerID is the experiment whose best trial wins overall.
	WinnerID string `json:"winnerId"`

	// Snapshots holds one entry per compared experiment, in input order.
	Snapshots []Snapshot `json:"snapshots"`
}

// Manager runs experiments over the training pipeline.
type Manager struct {
	config      *config.ExperimentConfig
	pipeline    *training.Pipeline
	experiments cmap.ConcurrentMap[string, *Experiment]
	db          *gorm.DB
}

// NewManager creates an experiment manager. db may be nil, in which case
// experiment rows are not mirrored.
func NewManager(cfg *config.ExperimentConfig, pipeline *training.Pipeline, db *gorm.DB) *Manager {
	return &Manager{
		config:      cfg,
		pipeline:    pipeline,
		experiments: cmap.New[*Experiment](),
		db:          db,
	}
}

// Get returns a tracked experiment.
func (m *Manager) Get(experimentID string) (*Experiment, error) {
	experiment, ok := m.experiments.Get(experimentID)
	if !ok {
		return nil, fmt.Errorf("%w: experiment %s", mlerrors.ErrNotFound, experimentID)
	}

	return experiment, nil
}

// List returns all tracked experiments.
func (m *Manager) List() []*Experiment {
	experiments := make([]*Experiment, 0, m.experiments.Count())
	for _, experiment := range m.experiments.Items() {
		experiments = append(experiments, experiment)
	}

	return experiments
}

// CompareExperiments aggregates the best trials of the given experiments
// and picks the overall winner. Every experiment must optimize the same
// metric and have at least one completed trial.
func (m *Manager) CompareExperiments(experimentIDs ...string) (*Comparison, error) {
	if len(experimentIDs) < 2 {
		return nil, fmt.Errorf("%w: comparison needs at least 2 experiments", mlerrors.ErrValidation)
	}

	comparison := &Comparison{}
	var winner *Trial
	for _, id := range experimentIDs {
		experiment, err := m.Get(id)
		if err != nil {
			return nil, err
		}

		if comparison.Metric == "" {
			comparison.Metric = experiment.Config.Metric
		} else if experiment.Config.Metric != comparison.Metric {
			return nil, fmt.Errorf("%w: experiment %s optimizes %s, not %s",
				mlerrors.ErrValidation, id, experiment.Config.Metric, comparison.Metric)
		}

		best := experiment.BestTrial()
		if best == nil {
			return nil, fmt.Errorf("%w: experiment %s has no completed trials", mlerrors.ErrValidation, id)
		}

		trials := experiment.Trials()
		completed := 0
		for _, trial := range trials {
			if trial.State() == TrialStateCompleted {
				completed++
			}
		}

		modelID, version := best.Model()
		comparison.Snapshots = append(comparison.Snapshots, Snapshot{
			ExperimentID: id,
			Name:         experiment.Config.Name,
			Trials:       len(trials),
			Completed:    completed,
			BestScore:    best.Score(),
			BestTrialID:  best.ID,
			ModelID:      modelID,
			Version:      version,
		})

		if winner == nil || best.better(winner) {
			winner = best
			comparison.WinnerID = id
		}
	}

	return comparison, nil
}

// Run validates the definition and runs the experiment to completion.
// Trials run on a bounded pool of parallelTrials workers.
func (m *Manager) Run(ctx context.Context, cfg *Config) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategy, err := NewStrategy(cfg.Strategy, cfg.Seed, cfg.EarlyStoppingRounds)
	if err != nil {
		return nil, err
	}

	experiment := newExperiment(uuid.NewString(), cfg)
	m.experiments.Set(experiment.ID, experiment)
	m.mirror(experiment)

	// The timeout only gates starting new trials, an in-flight trial
	// runs to completion on the caller context.
	deadline := ctx.Done()
	if cfg.Timeout > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		deadline = timeoutCtx.Done()
	}

	if err := experiment.FSM.Event(ExperimentEventRun); err != nil {
		return nil, fmt.Errorf("%w: experiment is %s", mlerrors.ErrValidation, experiment.State())
	}
	m.mirror(experiment)

	parallel := m.config.ParallelTrials
	if parallel <= 0 {
		parallel = 1
	}

	var (
		wg    sync.WaitGroup
		slots = make(chan struct{}, parallel)
		smu   sync.Mutex
	)

loop:
	for i := 0; i < cfg.MaxTrials; i++ {
		// Checked up front so a free slot cannot race an expired
		// deadline.
		select {
		case <-deadline:
			experiment.Log.Warnf("experiment timed out after %d trials", i)
			break loop
		default:
		}

		select {
		case <-deadline:
			experiment.Log.Warnf("experiment timed out after %d trials", i)
			break loop
		case slots <- struct{}{}:
		}

		smu.Lock()
		assignment, done := strategy.Suggest(cfg.Space, experiment.Trials())
		smu.Unlock()
		if done {
			<-slots
			break
		}

		trial := &Trial{
			ID:       uuid.NewString(),
			Params:   assignment,
			maximize: cfg.Maximize,
			state:    TrialStatePending,
		}
		experiment.addTrial(trial)

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			defer func() { <-slots }()
			m.runTrial(ctx, experiment, trial, n)
			experiment.observe(trial)
			m.mirrorTrial(experiment, trial)
		}(i)
	}

	wg.Wait()

	if experiment.BestTrial() == nil {
		if err := experiment.FSM.Event(ExperimentEventFail); err != nil {
			experiment.Log.Errorf("experiment state transition: %v", err)
		}
		metrics.ExperimentCount.WithLabelValues(cfg.Strategy, experiment.State()).Inc()
		m.mirror(experiment)
		return experiment, fmt.Errorf("%w: no trial completed", mlerrors.ErrTraining)
	}

	if err := experiment.FSM.Event(ExperimentEventSucceed); err != nil {
		experiment.Log.Errorf("experiment state transition: %v", err)
	}
	metrics.ExperimentCount.WithLabelValues(cfg.Strategy, experiment.State()).Inc()
	m.mirror(experiment)

	best := experiment.BestTrial()
	experiment.Log.Infof("experiment completed, best %s %f with %v", cfg.Metric, best.Score(), best.Params)
	return experiment, nil
}

func newExperiment(id string, cfg *Config) *Experiment {
	e := &Experiment{
		ID:        id,
		Config:    cfg,
		Log:       logger.WithExperiment(cfg.Name),
		CreatedAt: time.Now(),
	}

	e.FSM = fsm.NewFSM(
		ExperimentStateCreated,
		fsm.Events{
			{Name: ExperimentEventRun, Src: []string{ExperimentStateCreated}, Dst: ExperimentStateRunning},
			{Name: ExperimentEventSucceed, Src: []string{ExperimentStateRunning}, Dst: ExperimentStateCompleted},
			{Name: ExperimentEventFail, Src: []string{ExperimentStateRunning}, Dst: ExperimentStateFailed},
		},
		fsm.Callbacks{
			ExperimentEventRun: func(event *fsm.Event) {
				e.Log.Infof("experiment state is %s", event.FSM.Current())
			},
			ExperimentEventSucceed: func(event *fsm.Event) {
				e.Log.Infof("experiment state is %s", event.FSM.Current())
			},
			ExperimentEventFail: func(event *fsm.Event) {
				e.Log.Infof("experiment state is %s", event.FSM.Current())
			},
		},
	)

	return e
}

// runTrial merges the assignment into the base job and waits for the
// training job.
func (m *Manager) runTrial(ctx context.Context, experiment *Experiment, trial *Trial, n int) {
	cfg := experiment.Config
	log := logger.WithExperimentAndTrialID(cfg.Name, trial.ID)

	trial.mu.Lock()
	trial.state = TrialStateRunning
	trial.mu.Unlock()

	jobConfig := mergeJobConfig(cfg.BaseJob, trial.Params, n)
	job, err := m.pipeline.Submit(ctx, jobConfig)
	if err != nil {
		m.failTrial(experiment, trial, err)
		return
	}

	job, err = m.pipeline.Wait(ctx, job.ID)
	if err != nil {
		m.failTrial(experiment, trial, err)
		return
	}

	metadata, err := job.Result()
	if err != nil {
		m.failTrial(experiment, trial, err)
		return
	}

	score, ok := metadata.Metrics[cfg.Metric]
	if !ok {
		m.failTrial(experiment, trial, fmt.Errorf("%w: metric %q not reported", mlerrors.ErrValidation, cfg.Metric))
		return
	}

	trial.mu.Lock()
	trial.state = TrialStateCompleted
	trial.score = score
	trial.modelID = metadata.ModelID
	trial.version = metadata.Version
	trial.mu.Unlock()

	metrics.TrialCount.WithLabelValues(cfg.Strategy, TrialStateCompleted).Inc()
	log.Infof("trial completed, %s %f with %v", cfg.Metric, score, trial.Params)
}

func (m *Manager) failTrial(experiment *Experiment, trial *Trial, err error) {
	trial.mu.Lock()
	trial.state = TrialStateFailed
	trial.err = err
	trial.mu.Unlock()

	metrics.TrialCount.WithLabelValues(experiment.Config.Strategy, TrialStateFailed).Inc()
	logger.WithExperimentAndTrialID(experiment.Config.Name, trial.ID).Errorf("trial failed: %v", err)
}

// mergeJobConfig copies the base job and applies the assignment. Known
// training fields map directly, everything else lands in
// hyperparameters. Each trial registers under its own model id to keep
// versions apart.
func mergeJobConfig(base *training.JobConfig, assignment Assignment, n int) *training.JobConfig {
	merged := *base
	merged.ModelID = fmt.Sprintf("%s-trial-%d", base.ModelID, n)
	merged.Hyperparameters = map[string]any{}
	for k, v := range base.Hyperparameters {
		merged.Hyperparameters[k] = v
	}

	for name, value := range assignment {
		switch name {
		case "epochs":
			merged.Epochs = int(toFloat(value))
		case "batchSize":
			merged.BatchSize = int(toFloat(value))
		case "learningRate":
			merged.LearningRate = toFloat(value)
		default:
			merged.Hyperparameters[name] = value
		}
	}

	return &merged
}

// mirror upserts the experiment row. Mirroring is best effort, memory
// stays authoritative.
func (m *Manager) mirror(experiment *Experiment) {
	if m.db == nil {
		return
	}

	cfg := models.JSONMap{}
	if raw, err := json.Marshal(experiment.Config); err == nil {
		_ = json.Unmarshal(raw, (*map[string]any)(&cfg))
	}

	row := models.Experiment{
		ExperimentID: experiment.ID,
		Name:         experiment.Config.Name,
		State:        experiment.State(),
		Config:       cfg,
	}

	if best := experiment.BestTrial(); best != nil {
		row.BestTrialID = best.ID
	}

	if err := m.db.Where(models.Experiment{ExperimentID: experiment.ID}).
		Assign(row).FirstOrCreate(&models.Experiment{}).Error; err != nil {
		experiment.Log.Warnf("mirror experiment row: %v", err)
	}
}

func (m *Manager) mirrorTrial(experiment *Experiment, trial *Trial) {
	if m.db == nil {
		return
	}

	params := models.JSONMap{}
	for k, v := range trial.Params {
		params[k] = v
	}

	modelID, version := trial.Model()
	row := models.Trial{
		TrialID:      trial.ID,
		ExperimentID: experiment.ID,
		State:        trial.State(),
		Parameters:   params,
		ModelID:      modelID,
	}

	if trial.State() == TrialStateCompleted {
		row.Metrics = models.JSONMap{experiment.Config.Metric: trial.Score(), "version": version}
	}

	if err := trial.Err(); err != nil {
		row.Error = err.Error()
	}

	if dberr := m.db.Where(models.Trial{TrialID: trial.ID}).
		Assign(row).FirstOrCreate(&models.Trial{}).Error; dberr != nil {
		experiment.Log.Warnf("mirror trial row: %v", dberr)
	}
}
