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
	"gonum.org/v1/gonum/floats"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/estimation"
)

// maxSharpe maximizes (w'μ - r_f) / sqrt(w'Σw). The weights always sum to
// the total so the risk free rate is spread over the assets as excess
// returns.
func maxSharpe(riskFreeRate float64, settings Settings) solverFunc {
	return func(est *estimation.Estimate, cs *constraints.Set, x0 []float64) ([]float64, error) {
		total := cs.Total()
		excess := make([]float64, len(est.ExpectedReturns))
		anyPositive := false
		for idx, mu := range est.ExpectedReturns {
			excess[idx] = mu - riskFreeRate/total
			if excess[idx] > 0 {
				anyPositive = true
			}
		}

		if !anyPositive && longOnly(cs) {
			return nil, common.Errorf(common.KindDegenerateObjective, "no asset has an expected return above the risk free rate %g", riskFreeRate)
		}

		w, err := maxRatio(excess, est.Covariance, cs, x0, settings)
		if err != nil {
			return nil, err
		}

		if floats.Dot(excess, w) <= 0 {
			return nil, common.Errorf(common.KindDegenerateObjective, "best portfolio has no excess return over the risk free rate %g", riskFreeRate)
		}
		return w, nil
	}
}

func longOnly(cs *constraints.Set) bool {
	if cs.LongOnly {
		return true
	}
	for _, lo := range cs.Lower {
		if lo < 0 {
			return false
		}
	}
	return true
}
