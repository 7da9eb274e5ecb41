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
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/dataframe"
)

var (
	ErrInvalidMixture = errors.New("invalid gaussian mixture")
)

// GaussianMixture is a K component multivariate normal mixture over a named
// set of assets
type GaussianMixture struct {
	Assets      []string
	Weights     []float64
	Means       [][]float64
	Covariances []*mat.SymDense
}

type MixtureFitConfig struct {
	Components    int
	MaxIterations int
	Tolerance     float64
	Regularizer   float64
}

func DefaultMixtureFitConfig() MixtureFitConfig {
	return MixtureFitConfig{
		Components:    2,
		MaxIterations: 500,
		Tolerance:     1e-8,
		Regularizer:   1e-8,
	}
}

// Components returns the number of mixture components
func (gm *GaussianMixture) Components() int {
	return len(gm.Weights)
}

// Validate checks dimensions, that weights form a probability vector and
// that every covariance is positive definite
func (gm *GaussianMixture) Validate() error {
	k := len(gm.Weights)
	n := len(gm.Assets)
	if k == 0 {
		return fmt.Errorf("%w: no components", ErrInvalidMixture)
	}
	if len(gm.Means) != k || len(gm.Covariances) != k {
		return fmt.Errorf("%w: expected %d means and covariances", ErrInvalidMixture, k)
	}

	var total float64
	for idx, w := range gm.Weights {
		if !(w > 0) {
			return fmt.Errorf("%w: component %d weight must be > 0", ErrInvalidMixture, idx)
		}
		total += w
	}
	if math.Abs(total-1) > 1e-8 {
		return fmt.Errorf("%w: component weights sum to %g", ErrInvalidMixture, total)
	}

	for idx := 0; idx < k; idx++ {
		if len(gm.Means[idx]) != n {
			return fmt.Errorf("%w: component %d mean has %d entries, expected %d", ErrInvalidMixture, idx, len(gm.Means[idx]), n)
		}
		if gm.Covariances[idx] == nil || gm.Covariances[idx].SymmetricDim() != n {
			return fmt.Errorf("%w: component %d covariance must be %dx%d", ErrInvalidMixture, idx, n, n)
		}
		if !IsPositiveDefinite(gm.Covariances[idx]) {
			return fmt.Errorf("%w: component %d covariance is not positive definite", ErrInvalidMixture, idx)
		}
	}

	return nil
}

// Subset restricts the mixture to the named assets in the given order
func (gm *GaussianMixture) Subset(assets []string) (*GaussianMixture, error) {
	pos := make(map[string]int, len(gm.Assets))
	for idx, name := range gm.Assets {
		pos[name] = idx
	}
	sel := make([]int, len(assets))
	for idx, name := range assets {
		p, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("%w: asset %s is not part of the mixture", ErrInvalidMixture, name)
		}
		sel[idx] = p
	}

	sub := &GaussianMixture{
		Assets:      append([]string{}, assets...),
		Weights:     append([]float64{}, gm.Weights...),
		Means:       make([][]float64, len(gm.Means)),
		Covariances: make([]*mat.SymDense, len(gm.Covariances)),
	}
	for k := range gm.Means {
		sub.Means[k] = make([]float64, len(sel))
		cov := mat.NewSymDense(len(sel), nil)
		for ii, pi := range sel {
			sub.Means[k][ii] = gm.Means[k][pi]
			for jj := ii; jj < len(sel); jj++ {
				cov.SetSym(ii, jj, gm.Covariances[k].At(pi, sel[jj]))
			}
		}
		sub.Covariances[k] = cov
	}
	return sub, nil
}

// Scale multiplies every mean and covariance by factor
func (gm *GaussianMixture) Scale(factor float64) *GaussianMixture {
	scaled := &GaussianMixture{
		Assets:      gm.Assets,
		Weights:     gm.Weights,
		Means:       make([][]float64, len(gm.Means)),
		Covariances: make([]*mat.SymDense, len(gm.Covariances)),
	}
	for k := range gm.Means {
		scaled.Means[k] = make([]float64, len(gm.Means[k]))
		floats.ScaleTo(scaled.Means[k], factor, gm.Means[k])
		cov := mat.NewSymDense(gm.Covariances[k].SymmetricDim(), nil)
		cov.ScaleSym(factor, gm.Covariances[k])
		scaled.Covariances[k] = cov
	}
	return scaled
}

// FitMixture fits a gaussian mixture to the complete rows of rets with
// expectation maximization. Initialization is deterministic: rows are
// ordered by their equal weighted return and split into contiguous blocks,
// one per component.
func FitMixture(rets *dataframe.DataFrame, cfg MixtureFitConfig) (*GaussianMixture, error) {
	if cfg.Components < 1 {
		return nil, fmt.Errorf("%w: components must be >= 1", ErrInvalidConfig)
	}

	n := rets.ColCount()
	rows := make([][]float64, 0, rets.Len())
	for rowIdx := range rets.Dates {
		row := rets.Row(rowIdx)
		if !floats.HasNaN(row) {
			rows = append(rows, row)
		}
	}

	k := cfg.Components
	if len(rows) < k*2 || len(rows) < 2 {
		return nil, common.Errorf(common.KindInsufficientData, "mixture with %d components needs at least %d complete observations, have %d", k, k*2, len(rows))
	}

	sort.SliceStable(rows, func(i, j int) bool { return floats.Sum(rows[i]) < floats.Sum(rows[j]) })
	x := mat.NewDense(len(rows), n, nil)
	for idx, row := range rows {
		x.SetRow(idx, row)
	}
	m := len(rows)

	// responsibilities from the initial partition
	resp := mat.NewDense(m, k, nil)
	for idx := 0; idx < m; idx++ {
		resp.Set(idx, idx*k/m, 1)
	}

	gm := &GaussianMixture{
		Assets:      append([]string{}, rets.ColNames...),
		Weights:     make([]float64, k),
		Means:       make([][]float64, k),
		Covariances: make([]*mat.SymDense, k),
	}

	prevLL := math.Inf(-1)
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := gm.maximize(x, resp, cfg.Regularizer); err != nil {
			return nil, err
		}

		ll, err := gm.expect(x, resp)
		if err != nil {
			return nil, err
		}

		if math.Abs(ll-prevLL) <= cfg.Tolerance*math.Max(1, math.Abs(ll)) {
			log.Debug().Int("Iterations", iter+1).Float64("LogLikelihood", ll).Int("Components", k).Msg("mixture fit converged")
			return gm, nil
		}
		prevLL = ll
	}

	return nil, common.Errorf(common.KindConvergence, "mixture fit did not converge in %d iterations", cfg.MaxIterations)
}

// maximize updates weights, means and covariances from the responsibilities
func (gm *GaussianMixture) maximize(x *mat.Dense, resp *mat.Dense, reg float64) error {
	m, n := x.Dims()
	_, k := resp.Dims()
	for c := 0; c < k; c++ {
		r := mat.Col(nil, c, resp)
		nk := floats.Sum(r)
		if nk <= 0 {
			return common.Errorf(common.KindConvergence, "mixture component %d collapsed", c)
		}

		gm.Weights[c] = nk / float64(m)

		mean := make([]float64, n)
		for j := 0; j < n; j++ {
			mean[j] = stat.Mean(mat.Col(nil, j, x), r)
		}
		gm.Means[c] = mean

		cov := mat.NewSymDense(n, nil)
		for ii := 0; ii < n; ii++ {
			for jj := ii; jj < n; jj++ {
				var sum float64
				for row := 0; row < m; row++ {
					sum += r[row] * (x.At(row, ii) - mean[ii]) * (x.At(row, jj) - mean[jj])
				}
				val := sum / nk
				if ii == jj {
					val += reg
				}
				cov.SetSym(ii, jj, val)
			}
		}
		gm.Covariances[c] = cov
	}
	return nil
}

// expect fills resp with the posterior component probabilities and returns
// the mean log likelihood
func (gm *GaussianMixture) expect(x *mat.Dense, resp *mat.Dense) (float64, error) {
	m, n := x.Dims()
	k := len(gm.Weights)

	chols := make([]*mat.Cholesky, k)
	logNorm := make([]float64, k)
	for c := 0; c < k; c++ {
		var chol mat.Cholesky
		if ok := chol.Factorize(gm.Covariances[c]); !ok {
			return 0, common.Errorf(common.KindConvergence, "mixture component %d covariance is singular", c)
		}
		chols[c] = &chol
		logNorm[c] = math.Log(gm.Weights[c]) - 0.5*(float64(n)*math.Log(2*math.Pi)+chol.LogDet())
	}

	var total float64
	logp := make([]float64, k)
	diff := mat.NewVecDense(n, nil)
	var sol mat.VecDense
	for row := 0; row < m; row++ {
		for c := 0; c < k; c++ {
			for j := 0; j < n; j++ {
				diff.SetVec(j, x.At(row, j)-gm.Means[c][j])
			}
			if err := chols[c].SolveVecTo(&sol, diff); err != nil {
				return 0, common.Wrap(common.KindConvergence, err, "mixture likelihood")
			}
			logp[c] = logNorm[c] - 0.5*mat.Dot(diff, &sol)
		}
		lse := floats.LogSumExp(logp)
		total += lse
		for c := 0; c < k; c++ {
			resp.Set(row, c, math.Exp(logp[c]-lse))
		}
	}

	return total / float64(m), nil
}
