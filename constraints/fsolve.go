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
	"errors"
	"math"
)

var (
	ErrDidNotConverge = errors.New("did not converge")
)

type objectiveFunc func(float64) float64

// fsolve uses a combination of bisection and false position to find a
// root of a function within the bracket [x1, x2]; f(x1) and f(x2) must
// have opposite signs (or one of them be zero). This is guaranteed to
// converge and always keeps a bounding interval, unlike Newton's method.
// Iteration stops when the bracket is narrower than xtol or |f| <= ftol.
func fsolve(f objectiveFunc, x1, x2, xtol, ftol float64) (float64, error) {
	// The false position steps are either unmodified, or modified with the
	// Anderson-Bjorck method as appropriate. Theoretically, this has a "speed of
	// convergence" of 1.7 (bisection is 1, Newton is 2).

	const (
		maxIterations = 500
		bisectIter    = 4
		bisectWidth   = 1.0
	)

	const (
		bisect = iota + 1
		falseP
	)

	f1 := f(x1)
	if math.Abs(f1) <= ftol {
		return x1, nil
	}
	f2 := f(x2)
	if math.Abs(f2) <= ftol {
		return x2, nil
	}
	if f1*f2 > 0 {
		return x1, ErrDidNotConverge
	}

	var state uint8 = falseP
	gamma := 1.0

	w := math.Abs(x2 - x1)
	lastBisectWidth := w

	var nFalseP int
	var x3, f3 float64
	for i := 0; i < maxIterations; i++ {
		switch state {
		case bisect:
			x3 = 0.5 * (x1 + x2)
			if x3 == x1 || x3 == x2 {
				// i.e., x1 and x2 are successive floating-point numbers
				return x3, nil
			}

			f3 = f(x3)
			if math.Abs(f3) <= ftol {
				return x3, nil
			}

			if f3*f2 < 0 {
				x1 = x2
				f1 = f2
			}
			x2 = x3
			f2 = f3
			w = math.Abs(x2 - x1)
			lastBisectWidth = w
			gamma = 1.0
			nFalseP = 0
			state = falseP
		case falseP:
			s12 := (f2 - gamma*f1) / (x2 - x1)
			x3 = x2 - f2/s12
			if math.IsNaN(x3) || math.IsInf(x3, 0) {
				state = bisect
				continue
			}
			f3 = f(x3)
			if math.Abs(f3) <= ftol {
				return x3, nil
			}

			nFalseP++
			if f3*f2 < 0 {
				gamma = 1.0
				x1 = x2
				f1 = f2
			} else {
				// Anderson-Bjorck method
				g := 1.0 - f3/f2
				if g <= 0 {
					g = 0.5
				}
				gamma *= g
			}
			x2 = x3
			f2 = f3
			w = math.Abs(x2 - x1)

			// For every 4 false position steps check that the interval shrinks
			// at least as fast as bisection would, otherwise bisect.
			if nFalseP > bisectIter {
				if w*bisectWidth > lastBisectWidth {
					state = bisect
				}
				nFalseP = 0
				lastBisectWidth = w
			}
		}

		if w <= xtol {
			if math.Abs(f1) < math.Abs(f2) {
				return x1, nil
			}
			return x2, nil
		}
	}

	return x2, ErrDidNotConverge
}
