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
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
)

// maxRatio maximizes a'w / sqrt(w'Σw) over cs.
//
// When the set is a plain simplex the ratio is scale invariant and the
// problem reduces to minimizing y'Σy over {y >= 0, a'y = 1}, a convex
// program whose solution is rescaled to the budget. Otherwise the ratio is
// minimized directly from several starting points and the best is kept.
func maxRatio(a []float64, cov *mat.SymDense, cs *constraints.Set, x0 []float64, settings Settings) ([]float64, error) {
	if cs.Homogeneous() {
		w, err := maxRatioSimplex(a, cov, cs.Total(), settings)
		if err == nil {
			return w, nil
		}
		log.Debug().Err(err).Msg("ratio substitution failed; falling back to direct search")
	}

	n := len(a)
	q := make([]float64, n)
	p := problem{
		value: func(w []float64) float64 {
			v := quadForm(cov, w)
			if !(v > 0) {
				return math.Inf(1)
			}
			return -floats.Dot(a, w) / math.Sqrt(v)
		},
		gradient: func(grad, w []float64) {
			mulVec(q, cov, w)
			v := floats.Dot(w, q)
			if !(v > 0) {
				for idx := range grad {
					grad[idx] = 0
				}
				return
			}
			num := floats.Dot(a, w)
			sd := math.Sqrt(v)
			for idx := range grad {
				grad[idx] = -a[idx]/sd + num*q[idx]/(v*sd)
			}
		},
		project: cs.Project,
	}

	total := cs.Total()
	sigma := volatilities(cov)
	invVol := make([]float64, n)
	equal := make([]float64, n)
	for idx := range invVol {
		equal[idx] = total / float64(n)
		if sigma[idx] > 0 {
			invVol[idx] = 1 / sigma[idx]
		}
	}
	if s := floats.Sum(invVol); s > 0 {
		floats.Scale(total/s, invVol)
	} else {
		copy(invVol, equal)
	}

	starts := [][]float64{x0, cs.Project(invVol), cs.Project(equal)}

	var best []float64
	bestValue := math.Inf(1)
	var lastErr error
	for _, start := range starts {
		w, err := minimize(p, start, settings)
		if err != nil {
			lastErr = err
			continue
		}
		// replace only on a strict improvement so ties keep the earliest start
		if f := p.value(w); f < bestValue-1e-12*math.Max(1, math.Abs(bestValue)) || best == nil {
			best, bestValue = w, f
		}
	}

	if best == nil {
		return nil, lastErr
	}
	return best, nil
}

// maxRatioSimplex solves min y'Σy s.t. a'y = 1, y >= 0 and returns
// y / sum(y) scaled to total
func maxRatioSimplex(a []float64, cov *mat.SymDense, total float64, settings Settings) ([]float64, error) {
	n := len(a)
	y0 := make([]float64, n)
	var norm float64
	for idx := range a {
		y0[idx] = math.Max(a[idx], 0)
		norm += y0[idx] * y0[idx]
	}
	if !(norm > 0) {
		return nil, common.Errorf(common.KindDegenerateObjective, "no asset has a positive ratio coefficient")
	}
	floats.Scale(1/norm, y0)

	var projErr error
	p := problem{
		value: func(y []float64) float64 {
			return quadForm(cov, y)
		},
		gradient: func(grad, y []float64) {
			mulVec(grad, cov, y)
			for idx := range grad {
				grad[idx] *= 2
			}
		},
		project: func(z []float64) []float64 {
			y, err := constraints.ProjectWeightedSimplex(z, a)
			if err != nil {
				projErr = err
				return z
			}
			return y
		},
	}

	y, err := minimize(p, y0, settings)
	if err != nil {
		return nil, err
	}
	if projErr != nil {
		return nil, common.Wrap(common.KindConvergence, projErr, "weighted simplex projection failed")
	}

	s := floats.Sum(y)
	if !(s > 0) {
		return nil, common.Errorf(common.KindDegenerateObjective, "ratio substitution produced an empty portfolio")
	}
	floats.Scale(total/s, y)
	return y, nil
}
