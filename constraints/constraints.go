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
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-optimal/common"
)

// Tolerance is the largest constraint violation accepted in a solution
const Tolerance = 1e-6

// Group bounds the total weight of a set of assets
type Group struct {
	Name   string
	Assets []string
	Min    float64
	Max    float64
}

// Set describes the feasible region of portfolio weights: per asset bounds,
// an optional budget (sum of weights), a long only flag and group limits.
type Set struct {
	Assets        []string
	Lower         []float64
	Upper         []float64
	Budget        float64
	EnforceBudget bool
	LongOnly      bool
	Groups        []Group
}

// Uniform creates a long only, fully invested set with identical bounds for
// every asset
func Uniform(assets []string, lower, upper float64) *Set {
	cs := &Set{
		Assets:        append([]string{}, assets...),
		Lower:         make([]float64, len(assets)),
		Upper:         make([]float64, len(assets)),
		Budget:        1,
		EnforceBudget: true,
		LongOnly:      true,
	}
	for idx := range assets {
		cs.Lower[idx] = lower
		cs.Upper[idx] = upper
	}
	return cs
}

func invalid(format string, args ...interface{}) error {
	return common.Errorf(common.KindInvalidConstraint, format, args...)
}

func infeasible(format string, args ...interface{}) error {
	return common.Errorf(common.KindInfeasible, format, args...)
}

// Validate checks the set for internal consistency; every failure is an
// InvalidConstraint error
func (cs *Set) Validate() error {
	n := len(cs.Assets)
	if n == 0 {
		return invalid("constraint set has no assets")
	}
	if len(cs.Lower) != n || len(cs.Upper) != n {
		return invalid("expected %d lower and upper bounds, got %d and %d", n, len(cs.Lower), len(cs.Upper))
	}

	pos := make(map[string]int, n)
	for idx, name := range cs.Assets {
		if _, ok := pos[name]; ok {
			return invalid("asset %s is listed more than once", name)
		}
		pos[name] = idx

		lo, hi := cs.Lower[idx], cs.Upper[idx]
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return invalid("bounds of %s must be finite", name)
		}
		if lo > hi {
			return invalid("lower bound %g of %s exceeds upper bound %g", lo, name, hi)
		}
		if cs.LongOnly && lo < 0 {
			return invalid("lower bound of %s is negative in a long only set", name)
		}
	}

	if cs.EnforceBudget {
		if math.IsNaN(cs.Budget) || math.IsInf(cs.Budget, 0) {
			return invalid("budget must be finite")
		}
		sumLower, sumUpper := sum(cs.Lower), sum(cs.Upper)
		if sumLower > cs.Budget+Tolerance {
			return invalid("lower bounds sum to %g which exceeds the budget %g", sumLower, cs.Budget)
		}
		if sumUpper < cs.Budget-Tolerance {
			return invalid("upper bounds sum to %g which is less than the budget %g", sumUpper, cs.Budget)
		}
	}

	for _, g := range cs.Groups {
		if len(g.Assets) == 0 {
			return invalid("group %s has no assets", g.Name)
		}
		if math.IsNaN(g.Min) || math.IsNaN(g.Max) || g.Min > g.Max {
			return invalid("group %s has min %g greater than max %g", g.Name, g.Min, g.Max)
		}
		var lo, hi float64
		for _, name := range g.Assets {
			idx, ok := pos[name]
			if !ok {
				return invalid("group %s references unknown asset %s", g.Name, name)
			}
			lo += cs.Lower[idx]
			hi += cs.Upper[idx]
		}
		if g.Min > hi+Tolerance || g.Max < lo-Tolerance {
			return invalid("group %s cannot be met by member bounds [%g, %g]", g, lo, hi)
		}
	}

	return nil
}

// Total is the sum the weights are normalized to: the budget when enforced
// and 1 otherwise
func (cs *Set) Total() float64 {
	if cs.EnforceBudget {
		return cs.Budget
	}
	return 1
}

// Restrict returns the set limited to the active assets, in that order.
// When rescale is true and assets were dropped, upper bounds are multiplied
// by len(Assets) / len(active), capped at the total, so the remaining assets
// can still absorb the budget. Groups with no active member are dropped; it
// is infeasible to drop a group with a positive minimum.
func (cs *Set) Restrict(active []string, rescale bool) (*Set, error) {
	pos := make(map[string]int, len(cs.Assets))
	for idx, name := range cs.Assets {
		pos[name] = idx
	}

	sub := &Set{
		Assets:        append([]string{}, active...),
		Lower:         make([]float64, len(active)),
		Upper:         make([]float64, len(active)),
		Budget:        cs.Budget,
		EnforceBudget: cs.EnforceBudget,
		LongOnly:      cs.LongOnly,
		Groups:        make([]Group, 0, len(cs.Groups)),
	}

	ratio := 1.0
	if rescale && len(active) > 0 && len(active) < len(cs.Assets) {
		ratio = float64(len(cs.Assets)) / float64(len(active))
	}

	activeSet := make(map[string]bool, len(active))
	for idx, name := range active {
		p, ok := pos[name]
		if !ok {
			return nil, invalid("asset %s has no bounds", name)
		}
		activeSet[name] = true
		sub.Lower[idx] = cs.Lower[p]
		sub.Upper[idx] = cs.Upper[p]
		if ratio != 1 && sub.Upper[idx] > 0 {
			sub.Upper[idx] = math.Max(sub.Lower[idx], math.Min(sub.Upper[idx]*ratio, cs.Total()))
		}
	}

	for _, g := range cs.Groups {
		members := make([]string, 0, len(g.Assets))
		for _, name := range g.Assets {
			if activeSet[name] {
				members = append(members, name)
			}
		}
		if len(members) == 0 {
			if g.Min > Tolerance {
				return nil, infeasible("group %s requires a minimum weight of %g but has no active assets", g.Name, g.Min)
			}
			continue
		}
		sub.Groups = append(sub.Groups, Group{Name: g.Name, Assets: members, Min: g.Min, Max: g.Max})
	}

	if sub.EnforceBudget && len(active) > 0 {
		if sum(sub.Upper) < sub.Budget-Tolerance {
			return nil, infeasible("upper bounds of the %d active assets sum to %g, less than the budget %g", len(active), sum(sub.Upper), sub.Budget)
		}
		if sum(sub.Lower) > sub.Budget+Tolerance {
			return nil, infeasible("lower bounds of the %d active assets sum to %g, more than the budget %g", len(active), sum(sub.Lower), sub.Budget)
		}
	}

	if ratio != 1 {
		log.Debug().Int("NumActive", len(active)).Int("NumAssets", len(cs.Assets)).Float64("Ratio", ratio).Msg("rescaled upper bounds for excluded assets")
	}

	return sub, nil
}

// IsPinned reports whether every lower bound equals its upper bound
func (cs *Set) IsPinned() bool {
	for idx := range cs.Lower {
		if math.Abs(cs.Upper[idx]-cs.Lower[idx]) > 1e-12 {
			return false
		}
	}
	return true
}

// Homogeneous reports whether the set is a plain scaled simplex: every lower
// bound is zero, no upper bound binds below the total and there are no
// groups. Ratio objectives are scale invariant on such a set.
func (cs *Set) Homogeneous() bool {
	if len(cs.Groups) > 0 || !(cs.Total() > 0) {
		return false
	}
	for idx := range cs.Lower {
		if cs.Lower[idx] != 0 || cs.Upper[idx] < cs.Total()-1e-12 {
			return false
		}
	}
	return true
}

// Violation returns the largest amount by which w violates any constraint
func (cs *Set) Violation(w []float64) float64 {
	var worst float64
	for idx, x := range w {
		worst = math.Max(worst, cs.Lower[idx]-x)
		worst = math.Max(worst, x-cs.Upper[idx])
	}
	if cs.EnforceBudget {
		worst = math.Max(worst, math.Abs(sum(w)-cs.Budget))
	}
	for _, g := range cs.Groups {
		s := cs.groupSum(g, w)
		worst = math.Max(worst, g.Min-s)
		worst = math.Max(worst, s-g.Max)
	}
	return worst
}

// FeasiblePoint returns a point inside the set: the lower bounds plus the
// remaining budget distributed in proportion to each asset's slack, then
// projected onto the group limits. An error is returned if the set is empty.
func (cs *Set) FeasiblePoint() ([]float64, error) {
	n := len(cs.Assets)
	w := make([]float64, n)
	if cs.EnforceBudget {
		remaining := cs.Budget - sum(cs.Lower)
		slack := sum(cs.Upper) - sum(cs.Lower)
		for idx := range w {
			w[idx] = cs.Lower[idx]
			if slack > 0 {
				w[idx] += remaining * (cs.Upper[idx] - cs.Lower[idx]) / slack
			}
		}
	} else {
		for idx := range w {
			w[idx] = 0.5 * (cs.Lower[idx] + cs.Upper[idx])
		}
	}

	if len(cs.Groups) > 0 {
		w = cs.Project(w)
	}

	if v := cs.Violation(w); v > Tolerance {
		return nil, infeasible("no point satisfies the constraints (violation %g)", v)
	}
	return w, nil
}

func (cs *Set) groupSum(g Group, w []float64) float64 {
	var s float64
	for _, idx := range cs.indices(g) {
		s += w[idx]
	}
	return s
}

func (cs *Set) indices(g Group) []int {
	idx := make([]int, 0, len(g.Assets))
	for _, name := range g.Assets {
		for ii, asset := range cs.Assets {
			if asset == name {
				idx = append(idx, ii)
				break
			}
		}
	}
	return idx
}

func sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}

func (g Group) String() string {
	return fmt.Sprintf("%s[%g, %g]", g.Name, g.Min, g.Max)
}
