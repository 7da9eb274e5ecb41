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
	"math"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/data"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/estimation"
	"github.com/penny-vault/pv-optimal/optimizer"
	"github.com/penny-vault/pv-optimal/rolling"
	"github.com/penny-vault/pv-optimal/tradecron"
)

// Plan is a configuration resolved against a set of assets
type Plan struct {
	Engine      *estimation.Engine
	Estimator   rolling.Estimator
	Solver      optimizer.Solver
	Constraints *constraints.Set
	Schedule    *tradecron.TradeCron
	Scheduler   *rolling.Scheduler
}

// Resolve builds every component of a backtest over assets. groups maps
// assets to the names used by group limits and may be nil when no group
// limits are configured. All configuration errors surface here.
func (cfg *Backtest) Resolve(assets []string, groups map[string]string) (*Plan, error) {
	plan := &Plan{}

	policy, err := estimation.ParsePolicy(cfg.Estimation.Policy, cfg.Estimation.Span, cfg.Estimation.Length)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	plan.Engine, err = estimation.NewEngine(policy, cfg.engineConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	plan.Estimator = plan.Engine
	if cfg.Estimation.CacheSize > 0 {
		plan.Estimator, err = estimation.NewCachedEngine(plan.Engine, cfg.Estimation.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
		}
	}

	plan.Solver, err = cfg.solver(assets)
	if err != nil {
		return nil, err
	}

	plan.Constraints, err = cfg.constraintSet(assets, groups)
	if err != nil {
		return nil, err
	}

	plan.Schedule, err = dataframe.Frequency(cfg.Rebalance).Schedule()
	if err != nil {
		return nil, fmt.Errorf("%w: rebalance %q: %s", ErrInvalidConfig, cfg.Rebalance, err)
	}

	plan.Scheduler, err = rolling.New(plan.Estimator, plan.Solver, plan.Constraints, plan.Schedule, rolling.Options{
		Workers:            cfg.Workers,
		RescaleOnExclusion: cfg.Constraints.RescaleOnExclusion,
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("Objective", plan.Solver.Objective().String()).Str("Policy", policy.String()).
		Str("Rebalance", cfg.Rebalance).Int("NumAssets", len(assets)).Msg("resolved configuration")
	return plan, nil
}

func (cfg *Backtest) engineConfig() estimation.Config {
	est := cfg.Estimation
	return estimation.Config{
		MinObservations:     est.MinObservations,
		ConditionThreshold:  est.ConditionThreshold,
		Shrinkage:           est.Shrinkage,
		VarianceFloor:       est.VarianceFloor,
		SqueezeFactor:       est.SqueezeFactor,
		AnnualizationFactor: est.AnnualizationFactor,
		LogReturns:          est.LogReturns,
		ReturnsFrequency:    dataframe.Frequency(est.ReturnsFrequency),
		ExpectedReturns:     estimation.ExpectedReturns(strings.ToLower(est.ExpectedReturns)),
		Reentry:             estimation.Reentry(strings.ToLower(est.Reentry)),
	}
}

func (cfg *Backtest) solver(assets []string) (optimizer.Solver, error) {
	objective, err := optimizer.ParseObjective(cfg.Objective)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	params := optimizer.Params{
		RiskAversion:      cfg.Params.RiskAversion,
		RiskFreeRate:      cfg.Params.RiskFreeRate,
		CaraGamma:         cfg.Params.Carra,
		MixtureComponents: cfg.Params.MixtureComponents,
	}

	if len(cfg.Params.RiskBudget) > 0 {
		params.RiskBudget, err = byAsset(cfg.Params.RiskBudget, assets, "risk budget")
		if err != nil {
			return nil, err
		}
	}

	if objective == optimizer.MaxCaraGaussianMixture && cfg.Params.MixtureFile != "" {
		fh, err := os.Open(cfg.Params.MixtureFile)
		if err != nil {
			return nil, fmt.Errorf("%w: mixture_file: %s", ErrInvalidConfig, err)
		}
		defer fh.Close()
		params.Mixture, err = data.LoadMixture(fh)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
		}
	}

	solver, err := optimizer.New(objective, params, optimizer.Settings{
		MaxIterations:        cfg.Solver.MaxIterations,
		Tolerance:            cfg.Solver.Tolerance,
		MixtureMaxIterations: cfg.Solver.MixtureMaxIterations,
		MixtureTolerance:     cfg.Solver.MixtureTolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return solver, nil
}

// constraintSet builds the constraint set over assets. Configuration keys
// are case insensitive so asset names are matched ignoring case.
func (cfg *Backtest) constraintSet(assets []string, groups map[string]string) (*constraints.Set, error) {
	c := cfg.Constraints
	cs := constraints.Uniform(assets, c.Min, c.Max)
	cs.LongOnly = c.LongOnly
	cs.EnforceBudget = c.EnforceBudget
	cs.Budget = c.Budget
	if c.GrossNotionalOne {
		cs.EnforceBudget = true
		cs.Budget = 1
	}

	bounds, err := byAsset(c.Bounds, assets, "bounds")
	if err != nil {
		return nil, err
	}
	for idx, name := range assets {
		if b, ok := bounds[name]; ok {
			cs.Lower[idx] = b.Min
			cs.Upper[idx] = b.Max
		}
		if cs.LongOnly && cs.Lower[idx] < 0 {
			log.Warn().Str("Asset", name).Float64("Min", cs.Lower[idx]).Msg("raising negative lower bound to zero for long only portfolio")
			cs.Lower[idx] = 0
		}
	}

	groupNames := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	for _, name := range groupNames {
		limit := c.Groups[name]
		members := make([]string, 0)
		for _, asset := range assets {
			if strings.EqualFold(groups[asset], name) {
				members = append(members, asset)
			}
		}
		if len(members) == 0 {
			return nil, common.Errorf(common.KindInvalidConstraint, "group %s has no members among the priced assets", name)
		}
		cs.Groups = append(cs.Groups, constraints.Group{
			Name:   name,
			Assets: members,
			Min:    limit.Min,
			Max:    limit.Max,
		})
	}

	if err := cs.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid constraints")
		return nil, err
	}
	return cs, nil
}

// byAsset re-keys a configuration map by the matching asset name
func byAsset[T any](vals map[string]T, assets []string, what string) (map[string]T, error) {
	out := make(map[string]T, len(vals))
	for key, val := range vals {
		found := false
		for _, asset := range assets {
			if strings.EqualFold(key, asset) {
				out[asset] = val
				found = true
				break
			}
		}
		if !found {
			return nil, common.Errorf(common.KindInvalidConstraint, "%s given for unknown asset %s", what, key)
		}
	}
	return out, nil
}

// Validate checks the parts of the configuration that do not depend on the
// price data
func (cfg *Backtest) Validate() error {
	if _, err := optimizer.ParseObjective(cfg.Objective); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if _, err := dataframe.Frequency(cfg.Rebalance).Schedule(); err != nil {
		return fmt.Errorf("%w: rebalance %q: %s", ErrInvalidConfig, cfg.Rebalance, err)
	}
	if math.IsNaN(cfg.Constraints.Min) || math.IsNaN(cfg.Constraints.Max) {
		return common.Errorf(common.KindInvalidConstraint, "default bounds must be numbers")
	}
	return nil
}
