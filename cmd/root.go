// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"runtime/trace"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/config"
	"github.com/penny-vault/pv-optimal/observability/opentelemetry"
)

var Profile bool
var Trace bool

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pvopt/pvopt.toml)")

	// Logging configuration
	viper.BindEnv("log.level", "PVOPT_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "PVOPT_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "PVOPT_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stderr", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	viper.BindEnv("log.pretty", "PVOPT_LOG_PRETTY")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "Pretty print log messages")
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))

	// Tracing
	viper.BindEnv("otlp.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP collector to send traces to, if blank tracing is disabled")
	viper.BindPFlag("otlp.endpoint", rootCmd.PersistentFlags().Lookup("otlp-endpoint"))

	viper.BindEnv("otlp.http", "PVOPT_OTLP_HTTP")
	rootCmd.PersistentFlags().Bool("otlp-http", false, "Use HTTP(s) instead of gRPC for the OTLP connection")
	viper.BindPFlag("otlp.http", rootCmd.PersistentFlags().Lookup("otlp-http"))

	rootCmd.PersistentFlags().BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	rootCmd.PersistentFlags().BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")

	config.SetDefaults(viper.GetViper())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(common.ProgramName)
		viper.SetConfigType("toml")
		viper.AddConfigPath("/etc/pvopt/")
		viper.AddConfigPath("$HOME/.config/pvopt")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("PVOPT")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	common.SetupLogging()

	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			log.Fatal().Err(err).Msg("could not read config file")
		}
		log.Debug().Msg("no config file found; using defaults")
	} else {
		log.Debug().Str("ConfigFile", viper.ConfigFileUsed()).Msg("loaded config file")
	}
}

var rootCmd = &cobra.Command{
	Use:     common.ProgramName,
	Version: common.CurrentVersion.String(),
	Short:   "Rolling portfolio optimization backtester",
	Long: `Backtest portfolio construction rules over a price history without
look-ahead: at every rebalancing date a covariance estimate is built from
earlier prices only and weights are chosen by a constrained optimizer.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if Profile {
			fh, err := os.Create("profile.out")
			if err != nil {
				return err
			}
			if err := pprof.StartCPUProfile(fh); err != nil {
				return err
			}
		}
		if Trace {
			fh, err := os.Create("trace.out")
			if err != nil {
				return err
			}
			if err := trace.Start(fh); err != nil {
				return err
			}
		}

		shutdown, err := opentelemetry.Setup()
		if err != nil {
			log.Warn().Err(err).Msg("could not setup opentelemetry; tracing disabled")
			return nil
		}
		shutdownTracing = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Profile {
			pprof.StopCPUProfile()
		}
		if Trace {
			trace.Stop()
		}
		if shutdownTracing != nil {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Warn().Err(err).Msg("could not flush traces")
			}
		}
	},
}

var shutdownTracing func(context.Context) error

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
