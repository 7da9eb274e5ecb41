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

package data

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/penny-vault/pv-optimal/estimation"
)

type mixtureComponent struct {
	Weight     float64     `json:"weight"`
	Mean       []float64   `json:"mean"`
	Covariance [][]float64 `json:"covariance"`
}

type mixtureDocument struct {
	Assets     []string           `json:"assets"`
	Components []mixtureComponent `json:"components"`
}

// LoadMixture reads a gaussian mixture from json:
//
//	{
//	  "assets": ["SPY", "TLT"],
//	  "components": [
//	    {"weight": 0.8, "mean": [0.0004, 0.0002], "covariance": [[1e-4, 0], [0, 4e-5]]},
//	    {"weight": 0.2, "mean": [-0.002, 0.001], "covariance": [[9e-4, 0], [0, 1e-4]]}
//	  ]
//	}
func LoadMixture(r io.Reader) (*estimation.GaussianMixture, error) {
	var doc mixtureDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMixture, err)
	}

	n := len(doc.Assets)
	if n == 0 {
		return nil, fmt.Errorf("%w: no assets", ErrMalformedMixture)
	}

	gm := &estimation.GaussianMixture{
		Assets:      doc.Assets,
		Weights:     make([]float64, len(doc.Components)),
		Means:       make([][]float64, len(doc.Components)),
		Covariances: make([]*mat.SymDense, len(doc.Components)),
	}

	for k, comp := range doc.Components {
		if len(comp.Covariance) != n {
			return nil, fmt.Errorf("%w: component %d covariance has %d rows, expected %d", ErrMalformedMixture, k, len(comp.Covariance), n)
		}
		cov := mat.NewSymDense(n, nil)
		for ii, row := range comp.Covariance {
			if len(row) != n {
				return nil, fmt.Errorf("%w: component %d covariance row %d has %d entries, expected %d", ErrMalformedMixture, k, ii, len(row), n)
			}
			for jj := ii; jj < n; jj++ {
				if row[jj] != comp.Covariance[jj][ii] {
					return nil, fmt.Errorf("%w: component %d covariance is not symmetric", ErrMalformedMixture, k)
				}
				cov.SetSym(ii, jj, row[jj])
			}
		}
		gm.Weights[k] = comp.Weight
		gm.Means[k] = comp.Mean
		gm.Covariances[k] = cov
	}

	if err := gm.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMixture, err)
	}

	log.Debug().Strs("Assets", gm.Assets).Int("Components", gm.Components()).Msg("loaded mixture")
	return gm, nil
}
