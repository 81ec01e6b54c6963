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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	mlops "github.com/anubissbe/threat-modeling-mlops"
	"github.com/anubissbe/threat-modeling-mlops/cmd/dependency"
	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/version"
)

var (
	cfg     *config.Config
	cfgFile string
)

// rootCmd represents the mlops command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mlops",
	Short: "the control plane for threat modeling machine learning models",
	Long: `Mlops is a long-running process and is mainly responsible for registering and versioning
threat modeling models, running training jobs and hyperparameter experiments, serving predictions
with weighted A/B routing, and monitoring served models for data drift and error spikes.`,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load config.
		if err := loadConfig(); err != nil {
			return err
		}

		// Validate config.
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rotateConfig := logger.LogRotateConfig{
			MaxSize:    cfg.Server.LogMaxSize,
			MaxAge:     cfg.Server.LogMaxAge,
			MaxBackups: cfg.Server.LogMaxBackups}

		// Initialize logger.
		if err := logger.Init(cfg.Verbose, cfg.Console, cfg.Server.LogDir, rotateConfig); err != nil {
			return fmt.Errorf("init mlops logger: %w", err)
		}

		return runMlops(ctx)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func init() {
	// Initialize default mlops config.
	cfg = config.New()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "the path of mlops configuration file")
	flags.Bool("verbose", cfg.Verbose, "whether to enable debug level logs")
	flags.Bool("console", cfg.Console, "whether to write logs to stderr instead of rotated files")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Errorf("bind mlops flags to viper: %w", err))
	}

	rootCmd.AddCommand(dependency.VersionCmd)
}

// loadConfig reads the yaml configuration file into cfg. A missing file
// is only an error when --config names it explicitly.
func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mlops")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mlops")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return viper.Unmarshal(cfg)
		}
		return fmt.Errorf("read config file: %w", err)
	}

	return viper.Unmarshal(cfg)
}

func runMlops(ctx context.Context) error {
	logger.Infof("version:\n%s", version.Version())

	svr, err := mlops.New(ctx, cfg)
	if err != nil {
		return err
	}

	setupQuitSignalHandler(func() { svr.Stop() })
	return svr.Serve()
}

func setupQuitSignalHandler(handler func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		var done bool
		for sig := range signals {
			logger.Warnf("receive signal: %v", sig)
			if !done {
				done = true
				handler()
				logger.Warnf("handle signal: %v finish", sig)
			}
		}
	}()
}
