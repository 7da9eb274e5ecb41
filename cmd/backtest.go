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
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-optimal/config"
	"github.com/penny-vault/pv-optimal/data"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/rolling"
)

var (
	pricesFile    string
	groupsFile    string
	benchmarkFile string
	outputFormat  string
	outputFile    string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&pricesFile, "prices", "", "csv file of asset prices (required)")
	backtestCmd.Flags().StringVar(&groupsFile, "groups", "", "csv file mapping assets to groups")
	backtestCmd.Flags().StringVar(&benchmarkFile, "benchmark", "", "csv file of benchmark prices")
	backtestCmd.Flags().StringVar(&outputFormat, "format", "table", "output format: table or json")
	backtestCmd.Flags().StringVar(&outputFile, "output", "", "write results to file instead of stdout")
	backtestCmd.MarkFlagRequired("prices")

	backtestCmd.Flags().String("objective", "", "override the configured objective (name or shortcode)")
	viper.BindPFlag("objective", backtestCmd.Flags().Lookup("objective"))

	backtestCmd.Flags().String("rebalance", "", "override the configured rebalancing frequency")
	viper.BindPFlag("rebalance", backtestCmd.Flags().Lookup("rebalance"))

	backtestCmd.Flags().Int("workers", 0, "number of rebalancing dates computed concurrently")
	viper.BindPFlag("workers", backtestCmd.Flags().Lookup("workers"))
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a rolling optimization backtest over a price history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat != "table" && outputFormat != "json" {
			return fmt.Errorf("unknown output format %q", outputFormat)
		}

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			log.Error().Err(err).Msg("invalid configuration")
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		prices, err := loadPrices(ctx, pricesFile)
		if err != nil {
			return err
		}

		var groups map[string]string
		if groupsFile != "" {
			fh, err := os.Open(groupsFile)
			if err != nil {
				return err
			}
			defer fh.Close()
			groups, err = data.LoadGroups(ctx, fh)
			if err != nil {
				log.Error().Err(err).Str("File", groupsFile).Msg("could not load groups")
				return err
			}
		}

		var benchmark *dataframe.DataFrame
		if benchmarkFile != "" {
			benchmark, err = loadPrices(ctx, benchmarkFile)
			if err != nil {
				return err
			}
		}

		plan, err := cfg.Resolve(prices.ColNames, groups)
		if err != nil {
			log.Error().Err(err).Msg("could not resolve configuration")
			return err
		}

		res, err := plan.Scheduler.Run(ctx, prices)
		if err != nil {
			log.Error().Err(err).Msg("backtest failed")
			return err
		}

		for _, diag := range res.Diagnostics {
			log.Warn().Time("Date", diag.Date).Str("Kind", diag.Kind.String()).Str("Action", string(diag.Action)).Msg(diag.Message)
		}

		var out io.Writer = os.Stdout
		if outputFile != "" {
			fh, err := os.Create(outputFile)
			if err != nil {
				return err
			}
			defer fh.Close()
			out = fh
		}

		rep := rolling.NewReport(res, groups, benchmark)
		if outputFormat == "json" {
			return rep.WriteJSON(out)
		}
		_, err = fmt.Fprintln(out, rep.Table())
		return err
	},
}

func loadPrices(ctx context.Context, fn string) (*dataframe.DataFrame, error) {
	fh, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	prices, err := data.LoadPrices(ctx, fh)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not load prices")
		return nil, err
	}
	return prices, nil
}
