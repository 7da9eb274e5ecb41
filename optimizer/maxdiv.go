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

// maxDiversification maximizes σ'w / sqrt(w'Σw)
func maxDiversification(settings Settings) solverFunc {
	return func(est *estimation.Estimate, cs *constraints.Set, x0 []float64) ([]float64, error) {
		return maxRatio(volatilities(est.Covariance), est.Covariance, cs, x0, settings)
	}
}
