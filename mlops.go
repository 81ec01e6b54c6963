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

package mlops

import (
	"context"
	"net/http"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/database"
	"github.com/anubissbe/threat-modeling-mlops/experiment"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	internaljob "github.com/anubissbe/threat-modeling-mlops/internal/job"
	"github.com/anubissbe/threat-modeling-mlops/metrics"
	"github.com/anubissbe/threat-modeling-mlops/monitoring"
	"github.com/anubissbe/threat-modeling-mlops/registry"
	"github.com/anubissbe/threat-modeling-mlops/serving"
	"github.com/anubissbe/threat-modeling-mlops/storage"
	"github.com/anubissbe/threat-modeling-mlops/training"
	"gorm.io/gorm"
)

// Server wires the mlops control plane together.
type Server struct {
	// Server configuration.
	config *config.Config

	// Registry is the model registry.
	Registry registry.Registry

	// Pipeline is the training pipeline.
	Pipeline *training.Pipeline

	// Experiments is the experiment manager.
	Experiments *experiment.Manager

	// Serving is the model server.
	Serving *serving.Server

	// ABTests routes traffic between model versions.
	ABTests *serving.ABTester

	// Monitor watches serving and raises alerts.
	Monitor *monitoring.Monitor

	// Metrics server.
	metricsServer *http.Server

	// Database holds the optional relational mirror.
	database *database.Database
}

// New builds a server from config. Optional pieces (database, redis,
// metrics, monitoring) are wired only when configured.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{config: cfg}

	// Initialize artifact storage and registry.
	store, err := storage.New(&cfg.Registry.Storage)
	if err != nil {
		return nil, err
	}

	var db *gorm.DB
	if cfg.Database.Type != "" {
		s.database, err = database.New(cfg)
		if err != nil {
			return nil, err
		}
		db = s.database.DB
	}

	s.Registry = registry.New(&cfg.Registry, store, db)

	// Initialize training pipeline, optionally backed by the
	// distributed queue.
	var ij *internaljob.Job
	if cfg.Training.Distributed {
		ij, err = internaljob.New(&internaljob.Config{
			Addrs:      cfg.Database.Redis.Addrs,
			MasterName: cfg.Database.Redis.MasterName,
			Username:   cfg.Database.Redis.Username,
			Password:   cfg.Database.Redis.Password,
			BrokerDB:   cfg.Database.Redis.BrokerDB,
			BackendDB:  cfg.Database.Redis.BackendDB,
		}, internaljob.TrainingQueue)
		if err != nil {
			return nil, err
		}
	}

	s.Pipeline, err = training.New(&cfg.Training, s.Registry, db, ij)
	if err != nil {
		return nil, err
	}

	// Initialize experiment manager.
	s.Experiments = experiment.NewManager(&cfg.Experiment, s.Pipeline, db)

	// Initialize model server.
	s.Serving = serving.New(&cfg.Serving, s.Registry)
	s.ABTests = serving.NewABTester(s.Serving)

	// Initialize monitoring.
	if cfg.Monitoring.Enable {
		s.Monitor = monitoring.New(&cfg.Monitoring)
		s.Monitor.SetHealthSource(s.Serving.Health)
		s.Serving.AddObserver(s.Monitor)
	}

	// Initialize metrics.
	if cfg.Metrics.Enable {
		s.metricsServer = metrics.New(&cfg.Metrics)
	}

	return s, nil
}

// Serve starts the background components.
func (s *Server) Serve() error {
	// Started metrics server.
	if s.metricsServer != nil {
		go func() {
			logger.Infof("started metrics server at %s", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil {
				if err == http.ErrServerClosed {
					return
				}

				logger.Fatalf("metrics server closed unexpect: %s", err.Error())
			}
		}()
	}

	if s.Monitor != nil {
		s.Monitor.Serve()
	}

	if err := s.Serving.Warmup(context.Background()); err != nil {
		logger.Warnf("model warmup: %v", err)
	}

	return s.Pipeline.Serve()
}

// Stop drains the background components.
func (s *Server) Stop() {
	s.Pipeline.Stop()

	if s.Monitor != nil {
		s.Monitor.Stop()
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(context.Background()); err != nil {
			logger.Errorf("metrics server shutdown: %v", err)
		}
	}

	logger.Info("server stopped")
}
