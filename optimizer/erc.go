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
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/estimation"
)

// ercDispersion is the largest accepted gap between an asset's share of
// risk and its budget
const ercDispersion = 1e-6

// equalRiskContribution finds weights whose risk contributions match the
// risk budgets. The unconstrained problem is solved in log space; when its
// solution violates the constraints the squared budget error is minimized
// over the constraint set instead.
func equalRiskContribution(riskBudget map[string]float64, settings Settings) solverFunc {
	return func(est *estimation.Estimate, cs *constraints.Set, x0 []float64) ([]float64, error) {
		budget, err := riskBudgets(riskBudget, est.Assets)
		if err != nil {
			return nil, err
		}

		if w, ok := spinu(est.Covariance, budget, cs.Total(), settings); ok && cs.Violation(w) <= constraints.Tolerance {
			return w, nil
		}

		log.Debug().Time("AsOf", est.AsOf).Msg("risk parity solution violates the constraints; minimizing budget error")
		return budgetError(est.Covariance, budget, cs, x0, settings)
	}
}

// riskBudgets returns the budgets of assets normalized to sum to one. Equal
// budgets are used when none are configured.
func riskBudgets(riskBudget map[string]float64, assets []string) ([]float64, error) {
	budget := make([]float64, len(assets))
	if len(riskBudget) == 0 {
		for idx := range budget {
			budget[idx] = 1 / float64(len(assets))
		}
		return budget, nil
	}

	for idx, name := range assets {
		b, ok := riskBudget[name]
		if !ok {
			return nil, fmt.Errorf("%w: no risk budget for %s", ErrInvalidParameter, name)
		}
		budget[idx] = b
	}
	floats.Scale(1/floats.Sum(budget), budget)
	return budget, nil
}

// spinu minimizes ½ y'Σy - Σ b_i log(y_i) with y = exp(x); the minimizer has
// risk contributions proportional to b. The result is scaled to total.
func spinu(cov *mat.SymDense, budget []float64, total float64, settings Settings) ([]float64, bool) {
	n := len(budget)
	y := make([]float64, n)
	sy := make([]float64, n)

	p := optimize.Problem{
		Func: func(x []float64) float64 {
			var logs float64
			for idx := range x {
				y[idx] = math.Exp(x[idx])
				logs += budget[idx] * x[idx]
			}
			return 0.5*quadForm(cov, y) - logs
		},
		Grad: func(grad, x []float64) {
			for idx := range x {
				y[idx] = math.Exp(x[idx])
			}
			mulVec(sy, cov, y)
			for idx := range grad {
				grad[idx] = y[idx]*sy[idx] - budget[idx]
			}
		},
	}

	// start from inverse volatility which is exact for uncorrelated assets
	start := make([]float64, n)
	sigma := volatilities(cov)
	for idx := range start {
		if !(sigma[idx] > 0) {
			return nil, false
		}
		start[idx] = math.Log(math.Sqrt(budget[idx]) / sigma[idx])
	}

	result, err := optimize.Minimize(p, start, &optimize.Settings{
		GradientThreshold: 1e-14,
		MajorIterations:   settings.MaxIterations,
	}, &optimize.BFGS{})
	if err != nil && result == nil {
		log.Debug().Err(err).Msg("risk parity log space solve failed")
		return nil, false
	}

	w := make([]float64, n)
	for idx := range w {
		w[idx] = math.Exp(result.X[idx])
	}
	floats.Scale(total/floats.Sum(w), w)

	if d := dispersion(cov, w, budget); !(d <= ercDispersion) {
		log.Debug().Float64("Dispersion", d).Msg("risk parity log space solve did not equalize contributions")
		return nil, false
	}
	return w, true
}

// riskContributions returns each asset's share of portfolio variance
func riskContributions(cov *mat.SymDense, w []float64) []float64 {
	v := make([]float64, len(w))
	mulVec(v, cov, w)
	s := floats.Dot(w, v)
	rc := make([]float64, len(w))
	for idx := range rc {
		rc[idx] = w[idx] * v[idx] / s
	}
	return rc
}

func dispersion(cov *mat.SymDense, w, budget []float64) float64 {
	rc := riskContributions(cov, w)
	var worst float64
	for idx := range rc {
		worst = math.Max(worst, math.Abs(rc[idx]-budget[idx]))
	}
	return worst
}

// budgetError minimizes Σ (r_i - b_i)² over the constraint set where r_i is
// the share of variance contributed by asset i
func budgetError(cov *mat.SymDense, budget []float64, cs *constraints.Set, x0 []float64, settings Settings) ([]float64, error) {
	n := len(budget)
	v := make([]float64, n)
	u := make([]float64, n)
	su := make([]float64, n)

	p := problem{
		value: func(w []float64) float64 {
			mulVec(v, cov, w)
			s := floats.Dot(w, v)
			if !(s > 0) {
				return math.Inf(1)
			}
			var f float64
			for idx := range w {
				e := w[idx]*v[idx]/s - budget[idx]
				f += e * e
			}
			return f
		},
		gradient: func(grad, w []float64) {
			mulVec(v, cov, w)
			s := floats.Dot(w, v)
			if !(s > 0) {
				for idx := range grad {
					grad[idx] = 0
				}
				return
			}
			var c float64
			for idx := range w {
				e := w[idx]*v[idx]/s - budget[idx]
				u[idx] = e * w[idx]
				c += u[idx] * v[idx]
			}
			mulVec(su, cov, u)
			for idx := range grad {
				e := w[idx]*v[idx]/s - budget[idx]
				grad[idx] = 2 * ((e*v[idx]+su[idx])/s - 2*v[idx]*c/(s*s))
			}
		},
		project: cs.Project,
	}

	return minimize(p, x0, settings)
}
