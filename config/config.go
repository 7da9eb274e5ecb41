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

package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Backtest is the complete configuration of a backtest run
type Backtest struct {
	Objective   string      `mapstructure:"objective" toml:"objective"`
	Rebalance   string      `mapstructure:"rebalance" toml:"rebalance"`
	Workers     int         `mapstructure:"workers" toml:"workers"`
	Estimation  Estimation  `mapstructure:"estimation" toml:"estimation"`
	Constraints Constraints `mapstructure:"constraints" toml:"constraints"`
	Solver      Solver      `mapstructure:"solver" toml:"solver"`
	Params      Params      `mapstructure:"params" toml:"params"`
}

type Estimation struct {
	Policy              string  `mapstructure:"policy" toml:"policy"`
	Span                float64 `mapstructure:"span" toml:"span"`
	Length              int     `mapstructure:"length" toml:"length"`
	MinObservations     int     `mapstructure:"min_observations" toml:"min_observations"`
	ConditionThreshold  float64 `mapstructure:"condition_threshold" toml:"condition_threshold"`
	Shrinkage           float64 `mapstructure:"shrinkage" toml:"shrinkage"`
	VarianceFloor       float64 `mapstructure:"variance_floor" toml:"variance_floor"`
	SqueezeFactor       float64 `mapstructure:"squeeze_factor" toml:"squeeze_factor"`
	AnnualizationFactor float64 `mapstructure:"annualization_factor" toml:"annualization_factor"`
	LogReturns          bool    `mapstructure:"log_returns" toml:"log_returns"`
	ReturnsFrequency    string  `mapstructure:"returns_frequency" toml:"returns_frequency"`
	ExpectedReturns     string  `mapstructure:"expected_returns" toml:"expected_returns"`
	Reentry             string  `mapstructure:"reentry" toml:"reentry"`
	CacheSize           int     `mapstructure:"cache_size" toml:"cache_size"`
}

// Bound limits the weight of one asset
type Bound struct {
	Min float64 `mapstructure:"min" toml:"min"`
	Max float64 `mapstructure:"max" toml:"max"`
}

type Constraints struct {
	LongOnly           bool             `mapstructure:"long_only" toml:"long_only"`
	GrossNotionalOne   bool             `mapstructure:"gross_notional_one" toml:"gross_notional_one"`
	EnforceBudget      bool             `mapstructure:"enforce_budget" toml:"enforce_budget"`
	Budget             float64          `mapstructure:"budget" toml:"budget"`
	Min                float64          `mapstructure:"min" toml:"min"`
	Max                float64          `mapstructure:"max" toml:"max"`
	Bounds             map[string]Bound `mapstructure:"bounds" toml:"bounds,omitempty"`
	Groups             map[string]Bound `mapstructure:"groups" toml:"groups,omitempty"`
	RescaleOnExclusion bool             `mapstructure:"rescale_on_exclusion" toml:"rescale_on_exclusion"`
}

type Solver struct {
	MaxIterations        int     `mapstructure:"max_iterations" toml:"max_iterations"`
	Tolerance            float64 `mapstructure:"tolerance" toml:"tolerance"`
	MixtureMaxIterations int     `mapstructure:"mixture_max_iterations" toml:"mixture_max_iterations"`
	MixtureTolerance     float64 `mapstructure:"mixture_tolerance" toml:"mixture_tolerance"`
}

// Params holds the objective specific arguments listed by the objective
// descriptors
type Params struct {
	RiskAversion      float64            `mapstructure:"risk_aversion" toml:"risk_aversion"`
	RiskFreeRate      float64            `mapstructure:"risk_free_rate" toml:"risk_free_rate"`
	Carra             float64            `mapstructure:"carra" toml:"carra"`
	MixtureComponents int                `mapstructure:"mixture_components" toml:"mixture_components"`
	MixtureFile       string             `mapstructure:"mixture_file" toml:"mixture_file,omitempty"`
	RiskBudget        map[string]float64 `mapstructure:"risk_budget" toml:"risk_budget,omitempty"`
}

// SetDefaults registers the default value of every setting
func SetDefaults(v *viper.Viper) {
	v.SetDefault("objective", "MinVariance")
	v.SetDefault("rebalance", "MonthEnd")
	v.SetDefault("workers", 1)

	v.SetDefault("estimation.policy", "ewm")
	v.SetDefault("estimation.span", 60.0)
	v.SetDefault("estimation.length", 60)
	v.SetDefault("estimation.min_observations", 20)
	v.SetDefault("estimation.condition_threshold", 1e6)
	v.SetDefault("estimation.shrinkage", 0.1)
	v.SetDefault("estimation.variance_floor", 1e-8)
	v.SetDefault("estimation.squeeze_factor", 0.0)
	v.SetDefault("estimation.annualization_factor", 1.0)
	v.SetDefault("estimation.log_returns", true)
	v.SetDefault("estimation.returns_frequency", "Daily")
	v.SetDefault("estimation.expected_returns", "mean")
	v.SetDefault("estimation.reentry", "reenter")
	v.SetDefault("estimation.cache_size", 256)

	v.SetDefault("constraints.long_only", true)
	v.SetDefault("constraints.gross_notional_one", true)
	v.SetDefault("constraints.enforce_budget", true)
	v.SetDefault("constraints.budget", 1.0)
	v.SetDefault("constraints.min", 0.0)
	v.SetDefault("constraints.max", 1.0)
	v.SetDefault("constraints.rescale_on_exclusion", true)

	v.SetDefault("solver.max_iterations", 20000)
	v.SetDefault("solver.tolerance", 1e-10)
	v.SetDefault("solver.mixture_max_iterations", 500)
	v.SetDefault("solver.mixture_tolerance", 1e-8)

	v.SetDefault("params.risk_aversion", 2.0)
	v.SetDefault("params.risk_free_rate", 0.0)
	v.SetDefault("params.carra", 1.0)
	v.SetDefault("params.mixture_components", 2)
}

// Load decodes the backtest configuration from v
func Load(v *viper.Viper) (*Backtest, error) {
	cfg := &Backtest{}
	if err := v.Unmarshal(cfg); err != nil {
		log.Error().Err(err).Msg("could not decode configuration")
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// TOML renders the configuration as a toml document
func (cfg *Backtest) TOML() (string, error) {
	doc, err := toml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(doc), nil
}
