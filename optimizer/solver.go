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

package optimizer

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/estimation"
)

var (
	ErrInvalidParameter = errors.New("invalid objective parameter")
)

// Params holds objective specific inputs
type Params struct {
	// RiskAversion is λ in w'μ - (λ/2) w'Σw
	RiskAversion float64

	// RiskFreeRate is subtracted from the expected portfolio return in the
	// Sharpe ratio
	RiskFreeRate float64

	// CaraGamma is the absolute risk aversion of the exponential utility
	CaraGamma float64

	// Mixture is a fixed return distribution for the CARA objective; when
	// nil a mixture with MixtureComponents components is fitted per date
	Mixture           *estimation.GaussianMixture
	MixtureComponents int

	// RiskBudget maps assets to their share of risk for the ERC objective;
	// nil means equal budgets
	RiskBudget map[string]float64
}

// Settings are the numerical controls shared by all solvers
type Settings struct {
	MaxIterations        int
	Tolerance            float64
	MixtureMaxIterations int
	MixtureTolerance     float64
}

func DefaultSettings() Settings {
	return Settings{
		MaxIterations:        20000,
		Tolerance:            1e-10,
		MixtureMaxIterations: 500,
		MixtureTolerance:     1e-8,
	}
}

// Solver computes portfolio weights for an estimate. The returned weights
// are ordered like est.Assets and satisfy every constraint in cs, which must
// be defined over exactly those assets.
type Solver interface {
	Objective() Objective
	Solve(est *estimation.Estimate, cs *constraints.Set) ([]float64, error)
}

// solverFunc minimizes an objective over cs starting from the feasible point x0
type solverFunc func(est *estimation.Estimate, cs *constraints.Set, x0 []float64) ([]float64, error)

type solver struct {
	objective Objective
	params    Params
	settings  Settings
	fn        solverFunc
}

// New returns the solver for the objective. Parameters are checked here so
// configuration errors surface before any date is processed.
func New(objective Objective, params Params, settings Settings) (Solver, error) {
	if settings.MaxIterations < 1 {
		return nil, fmt.Errorf("%w: max_iterations must be >= 1", ErrInvalidParameter)
	}
	if !(settings.Tolerance > 0) {
		return nil, fmt.Errorf("%w: tolerance must be > 0", ErrInvalidParameter)
	}

	for asset, b := range params.RiskBudget {
		if !(b > 0) {
			return nil, fmt.Errorf("%w: risk budget of %s must be > 0", ErrInvalidParameter, asset)
		}
	}

	s := &solver{
		objective: objective,
		params:    params,
		settings:  settings,
	}

	switch objective {
	case MinVariance:
		s.fn = minVariance(settings)
	case MaxQuadraticUtility:
		if !(params.RiskAversion > 0) {
			return nil, fmt.Errorf("%w: risk_aversion must be > 0", ErrInvalidParameter)
		}
		s.fn = maxQuadraticUtility(params.RiskAversion, settings)
	case EqualRiskContribution:
		s.fn = equalRiskContribution(params.RiskBudget, settings)
	case MaxDiversification:
		s.fn = maxDiversification(settings)
	case MaxSharpeRatio:
		s.fn = maxSharpe(params.RiskFreeRate, settings)
	case MaxCaraGaussianMixture:
		if !(params.CaraGamma > 0) {
			return nil, fmt.Errorf("%w: carra must be > 0", ErrInvalidParameter)
		}
		if params.Mixture != nil {
			if err := params.Mixture.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err)
			}
		} else if params.MixtureComponents < 1 {
			return nil, fmt.Errorf("%w: mixture_components must be >= 1", ErrInvalidParameter)
		}
		s.fn = maxCara(params, settings)
	default:
		return nil, fmt.Errorf("%w: unknown objective %d", ErrInvalidParameter, int(objective))
	}

	return s, nil
}

func (s *solver) Objective() Objective {
	return s.objective
}

func (s *solver) Solve(est *estimation.Estimate, cs *constraints.Set) ([]float64, error) {
	n := len(est.Assets)
	if cs == nil || len(cs.Assets) != n {
		return nil, common.Errorf(common.KindInvalidConstraint, "constraint set does not match the %d estimated assets", n)
	}
	for idx, name := range est.Assets {
		if cs.Assets[idx] != name {
			return nil, common.Errorf(common.KindInvalidConstraint, "constraint asset %s does not match estimated asset %s", cs.Assets[idx], name)
		}
	}

	// scale invariant objectives are normalized to one without a budget
	if s.objective.ScaleInvariant() && !cs.EnforceBudget {
		budgeted := *cs
		budgeted.EnforceBudget = true
		budgeted.Budget = 1
		cs = &budgeted
	}

	if cs.IsPinned() {
		w := make([]float64, n)
		copy(w, cs.Lower)
		if v := cs.Violation(w); v > constraints.Tolerance {
			return nil, common.Errorf(common.KindInfeasible, "pinned weights violate the constraints by %g", v)
		}
		return w, nil
	}

	x0, err := cs.FeasiblePoint()
	if err != nil {
		return nil, err
	}

	w, err := s.fn(est, cs, x0)
	if err != nil {
		return nil, err
	}

	w = cs.Polish(w)
	for idx, x := range w {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, common.Errorf(common.KindConvergence, "%s produced a non-finite weight for %s", s.objective, est.Assets[idx])
		}
	}
	if v := cs.Violation(w); v > constraints.Tolerance {
		return nil, common.Errorf(common.KindInfeasible, "%s solution violates the constraints by %g", s.objective, v)
	}

	log.Trace().Time("AsOf", est.AsOf).Str("Objective", s.objective.String()).Floats64("Weights", w).Msg("solved")
	return w, nil
}
