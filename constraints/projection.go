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

package constraints

import (
	"math"

	"github.com/rs/zerolog/log"
)

const (
	maxProjectionIterations = 10000
	projectionTolerance     = 1e-13
)

// Project returns the euclidean projection of y onto the set. Without
// groups the projection onto the box and budget is exact; group limits are
// added with Dykstra's alternating projections.
func (cs *Set) Project(y []float64) []float64 {
	if len(cs.Groups) == 0 {
		return cs.projectBoxBudget(y)
	}

	groups := make([][]int, len(cs.Groups))
	for idx, g := range cs.Groups {
		groups[idx] = cs.indices(g)
	}

	n := len(y)
	x := make([]float64, n)
	copy(x, y)

	// one correction vector per convex set
	corrections := make([][]float64, len(groups)+1)
	for idx := range corrections {
		corrections[idx] = make([]float64, n)
	}

	z := make([]float64, n)
	prev := make([]float64, n)
	for iter := 0; iter < maxProjectionIterations; iter++ {
		copy(prev, x)

		for setIdx := range corrections {
			p := corrections[setIdx]
			for ii := range z {
				z[ii] = x[ii] + p[ii]
			}

			var next []float64
			if setIdx == 0 {
				next = cs.projectBoxBudget(z)
			} else {
				g := cs.Groups[setIdx-1]
				next = projectSlab(z, groups[setIdx-1], g.Min, g.Max)
			}

			for ii := range z {
				p[ii] = z[ii] - next[ii]
			}
			x = next
		}

		var change float64
		for ii := range x {
			change = math.Max(change, math.Abs(x[ii]-prev[ii]))
		}
		if change <= projectionTolerance {
			return x
		}
	}

	log.Debug().Int("Iterations", maxProjectionIterations).Msg("alternating projection hit iteration limit")
	return x
}

// projectBoxBudget projects y onto {l <= w <= u, sum(w) = budget}; the
// solution has the form clip(y - tau, l, u) where tau is found by root
// finding. Without a budget it is a clip.
func (cs *Set) projectBoxBudget(y []float64) []float64 {
	w := make([]float64, len(y))
	clip := func(tau float64) {
		for idx := range y {
			w[idx] = math.Min(math.Max(y[idx]-tau, cs.Lower[idx]), cs.Upper[idx])
		}
	}

	if !cs.EnforceBudget {
		clip(0)
		return w
	}

	// g is non-increasing in tau; at tauLow every weight sits on its upper
	// bound and at tauHigh on its lower bound
	tauLow, tauHigh := math.Inf(1), math.Inf(-1)
	for idx := range y {
		tauLow = math.Min(tauLow, y[idx]-cs.Upper[idx])
		tauHigh = math.Max(tauHigh, y[idx]-cs.Lower[idx])
	}

	g := func(tau float64) float64 {
		clip(tau)
		return sum(w) - cs.Budget
	}

	scale := math.Max(1, math.Abs(tauHigh)+math.Abs(tauLow))
	tau, err := fsolve(g, tauLow, tauHigh, 1e-15*scale, 1e-15*math.Max(1, math.Abs(cs.Budget)))
	if err != nil {
		log.Debug().Err(err).Float64("TauLow", tauLow).Float64("TauHigh", tauHigh).Msg("budget projection did not converge")
	}
	clip(tau)
	return cs.Polish(w)
}

// projectSlab projects y onto {min <= sum(y[members]) <= max}
func projectSlab(y []float64, members []int, lo, hi float64) []float64 {
	w := make([]float64, len(y))
	copy(w, y)

	var s float64
	for _, idx := range members {
		s += y[idx]
	}

	var shift float64
	switch {
	case s > hi:
		shift = (hi - s) / float64(len(members))
	case s < lo:
		shift = (lo - s) / float64(len(members))
	default:
		return w
	}

	for _, idx := range members {
		w[idx] += shift
	}
	return w
}

// Polish clips w to the asset bounds and, when a budget is enforced, moves
// the residual onto the assets with room in the needed direction in
// proportion to that room. Group limits are not revisited.
func (cs *Set) Polish(w []float64) []float64 {
	out := make([]float64, len(w))
	for idx, x := range w {
		out[idx] = math.Min(math.Max(x, cs.Lower[idx]), cs.Upper[idx])
	}

	if !cs.EnforceBudget {
		return out
	}

	for pass := 0; pass < 3; pass++ {
		residual := cs.Budget - sum(out)
		if math.Abs(residual) <= 1e-15*math.Max(1, math.Abs(cs.Budget)) {
			break
		}

		var room float64
		for idx, x := range out {
			if residual > 0 {
				room += cs.Upper[idx] - x
			} else {
				room += x - cs.Lower[idx]
			}
		}
		if room <= 0 {
			break
		}

		frac := math.Min(1, math.Abs(residual)/room)
		for idx, x := range out {
			if residual > 0 {
				out[idx] = math.Min(x+frac*(cs.Upper[idx]-x), cs.Upper[idx])
			} else {
				out[idx] = math.Max(x-frac*(x-cs.Lower[idx]), cs.Lower[idx])
			}
		}
	}

	return out
}

// ProjectWeightedSimplex projects z onto {y >= 0, a'y = 1}. The set must be
// non-empty, i.e. some a[i] > 0.
func ProjectWeightedSimplex(z, a []float64) ([]float64, error) {
	y := make([]float64, len(z))
	eval := func(tau float64) float64 {
		var s float64
		for idx := range z {
			y[idx] = math.Max(z[idx]-tau*a[idx], 0)
			s += a[idx] * y[idx]
		}
		return s - 1
	}

	// h is non-increasing in tau; expand the bracket until it changes sign
	lo, hi := -1.0, 1.0
	for iter := 0; eval(lo) < 0 && iter < 200; iter++ {
		lo *= 2
	}
	for iter := 0; eval(hi) > 0 && iter < 200; iter++ {
		hi *= 2
	}

	tau, err := fsolve(eval, lo, hi, 1e-15*math.Max(math.Abs(lo), math.Abs(hi)), 1e-15)
	if residual := eval(tau); math.Abs(residual) > 1e-9 {
		if err == nil {
			err = ErrDidNotConverge
		}
		return nil, err
	}
	return y, nil
}
