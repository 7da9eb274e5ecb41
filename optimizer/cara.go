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

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/estimation"
)

// maxCara maximizes the expected exponential utility -E[exp(-γ w'r)] of a
// portfolio whose returns follow a gaussian mixture. For component k the
// expectation is π_k exp(-γ w'm_k + ½γ² w'S_k w), so the log of the total is
// minimized as a log-sum-exp.
func maxCara(params Params, settings Settings) solverFunc {
	gamma := params.CaraGamma
	return func(est *estimation.Estimate, cs *constraints.Set, x0 []float64) ([]float64, error) {
		gm, err := mixtureFor(est, params, settings)
		if err != nil {
			return nil, err
		}

		k := gm.Components()
		n := len(est.Assets)
		logPi := make([]float64, k)
		for idx, pi := range gm.Weights {
			logPi[idx] = math.Log(pi)
		}

		terms := make([]float64, k)
		sw := make([][]float64, k)
		for idx := range sw {
			sw[idx] = make([]float64, n)
		}

		eval := func(w []float64) {
			for c := 0; c < k; c++ {
				mulVec(sw[c], gm.Covariances[c], w)
				terms[c] = logPi[c] - gamma*floats.Dot(gm.Means[c], w) + 0.5*gamma*gamma*floats.Dot(w, sw[c])
			}
		}

		p := problem{
			value: func(w []float64) float64 {
				eval(w)
				return floats.LogSumExp(terms)
			},
			gradient: func(grad, w []float64) {
				eval(w)
				lse := floats.LogSumExp(terms)
				for idx := range grad {
					grad[idx] = 0
				}
				for c := 0; c < k; c++ {
					pc := math.Exp(terms[c] - lse)
					for idx := range grad {
						grad[idx] += pc * (-gamma*gm.Means[c][idx] + gamma*gamma*sw[c][idx])
					}
				}
			},
			project: cs.Project,
		}

		return minimize(p, x0, settings)
	}
}

// mixtureFor returns the fixed mixture restricted to the estimate's assets
// or fits one to the estimate's returns
func mixtureFor(est *estimation.Estimate, params Params, settings Settings) (*estimation.GaussianMixture, error) {
	if params.Mixture != nil {
		gm, err := params.Mixture.Subset(est.Assets)
		if err != nil {
			return nil, common.Wrap(common.KindInsufficientData, err, "mixture does not cover the active assets")
		}
		return gm, nil
	}

	gm, err := estimation.FitMixture(est.Returns, estimation.MixtureFitConfig{
		Components:    params.MixtureComponents,
		MaxIterations: settings.MixtureMaxIterations,
		Tolerance:     settings.MixtureTolerance,
		Regularizer:   1e-8,
	})
	if err != nil {
		return nil, err
	}

	if est.AnnualizationFactor != 1 && est.AnnualizationFactor > 0 {
		gm = gm.Scale(est.AnnualizationFactor)
	}

	log.Debug().Time("AsOf", est.AsOf).Int("Components", gm.Components()).Floats64("Weights", gm.Weights).Msg("fitted return mixture")
	return gm, nil
}

