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

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/penny-vault/pv-optimal/common"
)

// problem is a smooth objective minimized over a convex set given by its
// euclidean projection
type problem struct {
	value    func(w []float64) float64
	gradient func(grad, w []float64)
	project  func(y []float64) []float64
}

// minimize runs accelerated projected gradient descent (FISTA) with
// backtracking on the step size and a restart whenever the objective
// increases. It converges when successive iterates differ by less than the
// tolerance.
func minimize(p problem, x0 []float64, settings Settings) ([]float64, error) {
	n := len(x0)
	x := p.project(x0)
	fx := p.value(x)

	y := make([]float64, n)
	copy(y, x)
	grad := make([]float64, n)
	step := make([]float64, n)

	lipschitz := 1.0
	t := 1.0
	for iter := 0; iter < settings.MaxIterations; iter++ {
		fy := p.value(y)
		p.gradient(grad, y)

		// allow the step to grow before backtracking
		lipschitz *= 0.5

		var z []float64
		var fz float64
		for bt := 0; bt < 200; bt++ {
			for idx := range step {
				step[idx] = y[idx] - grad[idx]/lipschitz
			}
			z = p.project(step)
			fz = p.value(z)

			var lin, dist float64
			for idx := range z {
				d := z[idx] - y[idx]
				lin += grad[idx] * d
				dist += d * d
			}
			if fz <= fy+lin+0.5*lipschitz*dist+1e-14*math.Abs(fy) {
				break
			}
			lipschitz *= 2
		}

		if math.IsNaN(fz) {
			return nil, common.Errorf(common.KindConvergence, "objective is not finite after %d iterations", iter)
		}

		if fz > fx {
			if t == 1 {
				// no progress possible from x itself
				return x, nil
			}
			t = 1
			copy(y, x)
			continue
		}

		tNext := 0.5 * (1 + math.Sqrt(1+4*t*t))
		var change float64
		for idx := range z {
			change = math.Max(change, math.Abs(z[idx]-x[idx]))
			y[idx] = z[idx] + ((t-1)/tNext)*(z[idx]-x[idx])
		}
		x, fx, t = z, fz, tNext

		if change <= settings.Tolerance*math.Max(1, floats.Norm(x, math.Inf(1))) {
			return x, nil
		}
	}

	return nil, common.Errorf(common.KindConvergence, "projected gradient did not converge in %d iterations", settings.MaxIterations)
}

// quadForm returns w'Σw
func quadForm(cov *mat.SymDense, w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, cov, v)
}

// mulVec stores Σw in dst
func mulVec(dst []float64, cov *mat.SymDense, w []float64) {
	out := mat.NewVecDense(len(dst), dst)
	out.MulVec(cov, mat.NewVecDense(len(w), w))
}

// volatilities returns the square root of the diagonal of cov
func volatilities(cov *mat.SymDense) []float64 {
	n := cov.SymmetricDim()
	sigma := make([]float64, n)
	for idx := 0; idx < n; idx++ {
		sigma[idx] = math.Sqrt(math.Max(cov.At(idx, idx), 0))
	}
	return sigma
}
