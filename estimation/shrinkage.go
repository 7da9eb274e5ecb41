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

package estimation

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// eigenvalues returns the ascending eigenvalues of a; ok is false if the
// decomposition failed or a contains non-finite values
func eigenvalues(a *mat.SymDense) ([]float64, bool) {
	n := a.SymmetricDim()
	for ii := 0; ii < n; ii++ {
		for jj := ii; jj < n; jj++ {
			v := a.At(ii, jj)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, false
			}
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(a, false); !ok {
		return nil, false
	}
	return es.Values(nil), true
}

// IsPositiveDefinite reports whether every eigenvalue of a is strictly positive
func IsPositiveDefinite(a *mat.SymDense) bool {
	vals, ok := eigenvalues(a)
	return ok && len(vals) > 0 && vals[0] > 0
}

// ConditionNumber returns the ratio of the largest to the smallest
// eigenvalue of a; +Inf if a is not positive definite
func ConditionNumber(a *mat.SymDense) float64 {
	vals, ok := eigenvalues(a)
	if !ok || len(vals) == 0 || vals[0] <= 0 {
		return math.Inf(1)
	}
	return vals[len(vals)-1] / vals[0]
}

// squeeze pulls every eigenvalue of a towards their mean by factor
func squeeze(a *mat.SymDense, factor float64) *mat.SymDense {
	var es mat.EigenSym
	if ok := es.Factorize(a, true); !ok {
		return a
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	n := len(vals)
	squeezed := mat.NewSymDense(n, nil)
	for ii := 0; ii < n; ii++ {
		for jj := ii; jj < n; jj++ {
			var sum float64
			for k, v := range vals {
				lambda := (1-factor)*v + factor*mean
				sum += vecs.At(ii, k) * lambda * vecs.At(jj, k)
			}
			squeezed.SetSym(ii, jj, sum)
		}
	}
	return squeezed
}

// shrinkageTarget is a diagonal matrix of the asset variances. Variances at
// or below the floor are replaced by the average variance, or the floor
// itself when no asset has a usable variance.
func shrinkageTarget(a *mat.SymDense, floor float64) *mat.SymDense {
	n := a.SymmetricDim()
	var sum float64
	var cnt int
	for ii := 0; ii < n; ii++ {
		if v := a.At(ii, ii); v > floor && !math.IsInf(v, 0) {
			sum += v
			cnt++
		}
	}
	fill := floor
	if cnt > 0 {
		fill = sum / float64(cnt)
	}

	target := mat.NewSymDense(n, nil)
	for ii := 0; ii < n; ii++ {
		v := a.At(ii, ii)
		if !(v > floor) || math.IsInf(v, 0) {
			v = fill
		}
		target.SetSym(ii, ii, v)
	}
	return target
}

// condition shrinks a towards a diagonal target when there are fewer
// observations than assets, when a is not positive definite or when its
// condition number exceeds the configured threshold. The intensity starts at
// cfg.Shrinkage and doubles until the blend is well conditioned; at full
// intensity the target itself is returned. The applied intensity is
// returned along with the matrix.
func condition(a *mat.SymDense, observations int, cfg Config) (*mat.SymDense, float64) {
	n := a.SymmetricDim()
	vals, ok := eigenvalues(a)
	if ok && observations >= n && vals[0] > 0 && vals[n-1]/vals[0] <= cfg.ConditionThreshold {
		return a, 0
	}

	// non-finite entries carry no usable information
	if !ok {
		clean := mat.NewSymDense(n, nil)
		for ii := 0; ii < n; ii++ {
			for jj := ii; jj < n; jj++ {
				if v := a.At(ii, jj); !math.IsNaN(v) && !math.IsInf(v, 0) {
					clean.SetSym(ii, jj, v)
				}
			}
		}
		a = clean
	}

	target := shrinkageTarget(a, cfg.VarianceFloor)
	delta := cfg.Shrinkage
	for {
		if delta >= 1 {
			return target, 1
		}

		blended := mat.NewSymDense(n, nil)
		blended.ScaleSym(1-delta, a)
		var scaled mat.SymDense
		scaled.ScaleSym(delta, target)
		blended.AddSym(blended, &scaled)

		if vals, ok := eigenvalues(blended); ok && vals[0] > 0 && vals[n-1]/vals[0] <= cfg.ConditionThreshold {
			return blended, delta
		}

		delta = math.Min(1, 2*delta)
	}
}
