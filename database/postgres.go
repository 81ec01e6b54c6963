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

package database

import (
	"fmt"

	driverpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"moul.io/zapgorm2"

	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
)

func newPostgres(cfg *config.Config) (*gorm.DB, error) {
	postgresCfg := &cfg.Database.Postgres

	sslMode := postgresCfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		postgresCfg.Host, postgresCfg.User, postgresCfg.Password, postgresCfg.DBName, postgresCfg.Port, sslMode)

	// Initialize gorm logger.
	logLevel := gormlogger.Info
	if !cfg.Verbose {
		logLevel = gormlogger.Warn
	}
	gormLogger := zapgorm2.New(logger.CoreLogger.Desugar()).LogMode(logLevel)

	// Connect to postgres.
	db, err := gorm.Open(driverpostgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// Run migration.
	if postgresCfg.Migrate {
		if err := migrate(db); err != nil {
			return nil, err
		}
	}

	return db, nil
}
