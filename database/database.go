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

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/models"
)

// Database holds the relational database and redis clients.
type Database struct {
	DB  *gorm.DB
	RDB redis.UniversalClient
}

// New database instance.
func New(cfg *config.Config) (*Database, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Type {
	case config.DatabaseTypeMysql:
		db, err = newMysql(cfg)
	case config.DatabaseTypePostgres:
		db, err = newPostgres(cfg)
	default:
		return nil, fmt.Errorf("unknow database type %s", cfg.Database.Type)
	}
	if err != nil {
		return nil, err
	}

	return &Database{
		DB:  db,
		RDB: NewRedis(&cfg.Database.Redis),
	}, nil
}

// NewRedis redis client instance.
func NewRedis(cfg *config.RedisConfig) redis.UniversalClient {
	if len(cfg.Addrs) == 0 {
		return nil
	}

	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		MasterName: cfg.MasterName,
		Username:   cfg.Username,
		Password:   cfg.Password,
	})
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Model{},
		&models.Job{},
		&models.Experiment{},
		&models.Trial{},
	)
}
