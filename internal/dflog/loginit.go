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

package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// CoreLogFileName is the log file name of core logger.
	CoreLogFileName = "core.log"
)

// LogRotateConfig is the configuration of log file rotation.
type LogRotateConfig struct {
	// MaxSize is the maximum size in megabytes of log files before rotation.
	MaxSize int

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int

	// MaxBackups is the maximum number of old log files to keep.
	MaxBackups int
}

// Init initializes the mlops service loggers. When console is true,
// logs are written to stderr instead of rotated files.
func Init(verbose, console bool, logDir string, rotateConfig LogRotateConfig) error {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	levels = append(levels, level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if console {
		sink = zapcore.Lock(os.Stderr)
	} else {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return err
		}

		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, CoreLogFileName),
			MaxSize:    rotateConfig.MaxSize,
			MaxAge:     rotateConfig.MaxAge,
			MaxBackups: rotateConfig.MaxBackups,
		})
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, level)
	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1))

	sugar := log.Sugar()
	SetCoreLogger(sugar)
	SetJobLogger(sugar)
	return nil
}
