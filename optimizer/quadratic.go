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
	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/estimation"
)

// minVariance minimizes w'Σw
func minVariance(settings Settings) solverFunc {
	return func(est *estimation.Estimate, cs *constraints.Set, x0 []float64) ([]float64, error) {
		cov := est.Covariance
		p := problem{
			value: func(w []float64) float64 {
				return quadForm(cov, w)
			},
			gradient: func(grad, w []float64) {
				mulVec(grad, cov, w)
				for idx := range grad {
					grad[idx] *= 2
				}
			},
			project: cs.Project,
		}
		return minimize(p, x0, settings)
	}
}

// maxQuadraticUtility maximizes w'μ - (λ/2) w'Σw
func maxQuadraticUtility(riskAversion float64, settings Settings) solverFunc {
	return func(est *estimation.Estimate, cs *constraints.Set, x0 []float64) ([]float64, error) {
		cov := est.Covariance
		mu := est.ExpectedReturns
		p := problem{
			value: func(w []float64) float64 {
				var ret float64
				for idx := range w {
					ret += mu[idx] * w[idx]
				}
				return -ret + 0.5*riskAversion*quadForm(cov, w)
			},
			gradient: func(grad, w []float64) {
				mulVec(grad, cov, w)
				for idx := range grad {
					grad[idx] = riskAversion*grad[idx] - mu[idx]
				}
			},
			project: cs.Project,
		}
		return minimize(p, x0, settings)
	}
}
