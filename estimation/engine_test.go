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

package estimation_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/estimation"
)

func expectSymEqual(a, b *mat.SymDense, tol float64) {
	Expect(a.SymmetricDim()).To(Equal(b.SymmetricDim()))
	n := a.SymmetricDim()
	for ii := 0; ii < n; ii++ {
		for jj := 0; jj < n; jj++ {
			Expect(a.At(ii, jj)).To(BeNumerically("~", b.At(ii, jj), tol))
		}
	}
}

var _ = Describe("Engine", func() {
	var (
		prices *dataframe.DataFrame
		cfg    estimation.Config
	)

	BeforeEach(func() {
		prices = randomPrices(7, day(2020, 1, 1), 300, []string{"A", "B", "C"}, []float64{0.01, 0.02, 0.03})
		cfg = estimation.DefaultConfig()
	})

	Describe("policies", func() {
		It("computes the ewm decay from the span", func() {
			p := estimation.EWM{Span: 3}
			Expect(p.Lambda()).To(BeNumerically("~", 0.5, 1e-15))
			Expect(p.Weights(3)).To(Equal([]float64{0.25, 0.5, 1}))
			Expect(p.Window()).To(Equal(0))
		})

		It("gives equal weights to a fixed window", func() {
			p := estimation.FixedWindow{Length: 4}
			Expect(p.Weights(4)).To(Equal([]float64{1, 1, 1, 1}))
			Expect(p.Required(2)).To(Equal(4))
		})

		It("parses policies by name", func() {
			p, err := estimation.ParsePolicy("EWM", 52, 0)
			Expect(err).To(BeNil())
			Expect(p).To(Equal(estimation.EWM{Span: 52}))

			_, err = estimation.ParsePolicy("fixed", 0, 0)
			Expect(err).To(MatchError(estimation.ErrInvalidPolicy))

			_, err = estimation.ParsePolicy("kalman", 0, 0)
			Expect(err).To(MatchError(estimation.ErrInvalidPolicy))
		})
	})

	It("rejects invalid configuration", func() {
		cfg.Shrinkage = 0
		_, err := estimation.NewEngine(estimation.EWM{Span: 10}, cfg)
		Expect(err).To(MatchError(estimation.ErrInvalidConfig))

		cfg = estimation.DefaultConfig()
		cfg.ReturnsFrequency = "@fortnightly"
		_, err = estimation.NewEngine(estimation.EWM{Span: 10}, cfg)
		Expect(err).To(MatchError(estimation.ErrInvalidConfig))
	})

	Context("with a fixed window", func() {
		It("matches the sample covariance of the window", func() {
			engine, err := estimation.NewEngine(estimation.FixedWindow{Length: 60}, cfg)
			Expect(err).To(BeNil())

			asOf := prices.Dates[200]
			est, err := engine.Estimate(prices, asOf)
			Expect(err).To(BeNil())
			Expect(est.Assets).To(Equal([]string{"A", "B", "C"}))
			Expect(est.Observations).To(Equal(60))
			Expect(est.Shrinkage).To(Equal(0.0))

			rets := prices.Before(asOf).Returns(false)
			x := mat.NewDense(60, 3, nil)
			for col := 0; col < 3; col++ {
				x.SetCol(col, rets.Vals[col][rets.Len()-60:])
			}
			expected := mat.NewSymDense(3, nil)
			stat.CovarianceMatrix(expected, x, nil)
			expectSymEqual(est.Covariance, expected, 1e-14)
			Expect(est.ExpectedReturns[1]).To(BeNumerically("~", stat.Mean(mat.Col(nil, 1, x), nil), 1e-14))
		})

		It("excludes assets without a full window", func() {
			for row := 0; row < 250; row++ {
				prices.Vals[2][row] = math.NaN()
			}
			engine, err := estimation.NewEngine(estimation.FixedWindow{Length: 60}, cfg)
			Expect(err).To(BeNil())

			est, err := engine.Estimate(prices, prices.Dates[280])
			Expect(err).To(BeNil())
			Expect(est.Assets).To(Equal([]string{"A", "B"}))
			Expect(est.Excluded).To(Equal([]string{"C"}))
			Expect(est.Covariance.SymmetricDim()).To(Equal(2))
		})

		It("fails with insufficient data when no asset qualifies", func() {
			engine, err := estimation.NewEngine(estimation.FixedWindow{Length: 60}, cfg)
			Expect(err).To(BeNil())

			_, err = engine.Estimate(prices, prices.Dates[30])
			Expect(err).To(MatchError(common.ErrInsufficientData))
			Expect(common.KindOf(err)).To(Equal(common.KindInsufficientData))
		})
	})

	Context("with an exponential window", func() {
		It("normalizes by the weight mass available to each pair", func() {
			cfg.MinObservations = 3
			small := &dataframe.DataFrame{
				Dates:    []time.Time{day(2021, 1, 1), day(2021, 1, 2), day(2021, 1, 3), day(2021, 1, 4), day(2021, 1, 5)},
				ColNames: []string{"A", "B"},
				Vals: [][]float64{
					{100, 101, 98.98, 101.9494, 100},
					{50, math.NaN(), 50, 51, 52},
				},
			}
			engine, err := estimation.NewEngine(estimation.EWM{Span: 3}, cfg)
			Expect(err).To(BeNil())

			est, err := engine.Estimate(small, day(2021, 1, 5))
			Expect(err).To(BeNil())
			// B only has a single valid return before the estimation date
			Expect(est.Assets).To(Equal([]string{"A"}))

			rets := small.Before(day(2021, 1, 5)).Returns(false).Vals[0]
			w := []float64{0.25, 0.5, 1}
			var sw, sw2, sx float64
			for idx := range w {
				sw += w[idx]
				sw2 += w[idx] * w[idx]
				sx += w[idx] * rets[idx]
			}
			mean := sx / sw
			var ss float64
			for idx := range w {
				ss += w[idx] * (rets[idx] - mean) * (rets[idx] - mean)
			}
			Expect(est.ExpectedReturns[0]).To(BeNumerically("~", mean, 1e-14))
			Expect(est.Covariance.At(0, 0)).To(BeNumerically("~", ss*sw/(sw*sw-sw2), 1e-14))
		})

		It("never looks at prices on or after the estimation date", func() {
			cfg.MinObservations = 20
			engine, err := estimation.NewEngine(estimation.EWM{Span: 30}, cfg)
			Expect(err).To(BeNil())

			asOf := prices.Dates[150]
			before, err := engine.Estimate(prices, asOf)
			Expect(err).To(BeNil())

			perturbed := prices.Copy()
			for col := range perturbed.Vals {
				for row := 150; row < perturbed.Len(); row++ {
					perturbed.Vals[col][row] *= 1 + 0.5*float64(col+1)
				}
			}
			after, err := engine.Estimate(perturbed, asOf)
			Expect(err).To(BeNil())
			expectSymEqual(after.Covariance, before.Covariance, 0)
			Expect(after.ExpectedReturns).To(Equal(before.ExpectedReturns))

			truncated := prices.Trim(prices.Start(), prices.Dates[149])
			again, err := engine.Estimate(truncated, asOf)
			Expect(err).To(BeNil())
			expectSymEqual(again.Covariance, before.Covariance, 0)
		})

		It("samples returns at the configured frequency", func() {
			cfg.ReturnsFrequency = dataframe.WeekEnd
			cfg.MinObservations = 10
			engine, err := estimation.NewEngine(estimation.EWM{Span: 52}, cfg)
			Expect(err).To(BeNil())

			est, err := engine.Estimate(prices, prices.End())
			Expect(err).To(BeNil())
			Expect(est.Observations).To(BeNumerically("<", 50))
			Expect(est.Observations).To(BeNumerically(">", 40))
		})

		It("scales by the annualization factor", func() {
			engine, err := estimation.NewEngine(estimation.EWM{Span: 30}, cfg)
			Expect(err).To(BeNil())
			base, err := engine.Estimate(prices, prices.End())
			Expect(err).To(BeNil())

			cfg.AnnualizationFactor = 252
			annual, err := estimation.NewEngine(estimation.EWM{Span: 30}, cfg)
			Expect(err).To(BeNil())
			est, err := annual.Estimate(prices, prices.End())
			Expect(err).To(BeNil())
			Expect(est.Covariance.At(1, 2)).To(BeNumerically("~", 252*base.Covariance.At(1, 2), 1e-12))
			Expect(est.ExpectedReturns[0]).To(BeNumerically("~", 252*base.ExpectedReturns[0], 1e-12))
		})

		It("scores momentum from the trailing window only", func() {
			trending := prices.Copy()
			drift := []float64{0.004, 0, -0.004}
			for col := range trending.Vals {
				for row := range trending.Vals[col] {
					trending.Vals[col][row] *= math.Exp(drift[col] * float64(row))
				}
			}

			cfg.ExpectedReturns = estimation.MomentumReturns
			cfg.AnnualizationFactor = 252
			engine, err := estimation.NewEngine(estimation.FixedWindow{Length: 60}, cfg)
			Expect(err).To(BeNil())

			asOf := trending.Dates[200]
			est, err := engine.Estimate(trending, asOf)
			Expect(err).To(BeNil())
			scores := est.ExpectedReturns
			Expect(scores[0]).To(BeNumerically(">", scores[1]))
			Expect(scores[1]).To(BeNumerically(">", scores[2]))
			Expect(scores[0] + scores[1] + scores[2]).To(BeNumerically("~", 0, 1e-12))
			Expect(math.Abs(scores[0])).To(BeNumerically("<", 2))

			for row := 200; row < trending.Len(); row++ {
				trending.Vals[0][row] *= 0.5
			}
			after, err := engine.Estimate(trending, asOf)
			Expect(err).To(BeNil())
			Expect(after.ExpectedReturns).To(Equal(scores))
		})

		It("computes geometric expected returns", func() {
			cfg.ExpectedReturns = estimation.GeometricReturns
			engine, err := estimation.NewEngine(estimation.FixedWindow{Length: 2}, cfg)
			Expect(err).To(BeNil())
			small := &dataframe.DataFrame{
				Dates:    []time.Time{day(2021, 1, 1), day(2021, 1, 2), day(2021, 1, 3)},
				ColNames: []string{"A"},
				Vals:     [][]float64{{100, 200, 100}},
			}
			est, err := engine.Estimate(small, day(2021, 1, 4))
			Expect(err).To(BeNil())
			Expect(est.ExpectedReturns[0]).To(BeNumerically("~", 0, 1e-12))
		})
	})

	Context("when re-entry is not allowed", func() {
		It("drops an asset permanently after a gap", func() {
			prices.Vals[1][100] = math.NaN()
			cfg.Reentry = estimation.PermanentExclusion
			engine, err := estimation.NewEngine(estimation.EWM{Span: 20}, cfg)
			Expect(err).To(BeNil())

			est, err := engine.Estimate(prices, prices.Dates[90])
			Expect(err).To(BeNil())
			Expect(est.Assets).To(ContainElement("B"))

			est, err = engine.Estimate(prices, prices.Dates[250])
			Expect(err).To(BeNil())
			Expect(est.Assets).ToNot(ContainElement("B"))

			cfg.Reentry = estimation.Reenter
			engine, err = estimation.NewEngine(estimation.EWM{Span: 20}, cfg)
			Expect(err).To(BeNil())
			est, err = engine.Estimate(prices, prices.Dates[250])
			Expect(err).To(BeNil())
			Expect(est.Assets).To(ContainElement("B"))
		})
	})

	Context("when the covariance is ill conditioned", func() {
		It("shrinks a single observation of two assets to a positive definite matrix", func() {
			cfg.MinObservations = 1
			engine, err := estimation.NewEngine(estimation.EWM{Span: 10}, cfg)
			Expect(err).To(BeNil())
			small := &dataframe.DataFrame{
				Dates:    []time.Time{day(2021, 1, 1), day(2021, 1, 2)},
				ColNames: []string{"A", "B"},
				Vals:     [][]float64{{100, 101}, {100, 99}},
			}
			est, err := engine.Estimate(small, day(2021, 1, 3))
			Expect(err).To(BeNil())
			Expect(est.Observations).To(Equal(1))
			Expect(est.Shrinkage).To(BeNumerically(">", 0))
			Expect(estimation.IsPositiveDefinite(est.Covariance)).To(BeTrue())

			var es mat.EigenSym
			Expect(es.Factorize(est.Covariance, false)).To(BeTrue())
			for _, v := range es.Values(nil) {
				Expect(v).To(BeNumerically(">", 0))
			}
		})

		It("shrinks perfectly correlated assets until the condition threshold holds", func() {
			prices.Vals[1] = make([]float64, prices.Len())
			for idx, p := range prices.Vals[0] {
				prices.Vals[1][idx] = 2 * p
			}
			engine, err := estimation.NewEngine(estimation.EWM{Span: 30}, cfg)
			Expect(err).To(BeNil())
			est, err := engine.Estimate(prices, prices.End())
			Expect(err).To(BeNil())
			Expect(est.Shrinkage).To(BeNumerically(">", 0))
			Expect(estimation.ConditionNumber(est.Covariance)).To(BeNumerically("<=", cfg.ConditionThreshold))
		})

		It("squeezes eigenvalues towards their mean", func() {
			engine, err := estimation.NewEngine(estimation.EWM{Span: 30}, cfg)
			Expect(err).To(BeNil())
			base, err := engine.Estimate(prices, prices.End())
			Expect(err).To(BeNil())

			cfg.SqueezeFactor = 0.5
			squeezed, err := estimation.NewEngine(estimation.EWM{Span: 30}, cfg)
			Expect(err).To(BeNil())
			est, err := squeezed.Estimate(prices, prices.End())
			Expect(err).To(BeNil())

			Expect(estimation.ConditionNumber(est.Covariance)).To(BeNumerically("<", estimation.ConditionNumber(base.Covariance)))
			Expect(mat.Trace(est.Covariance)).To(BeNumerically("~", mat.Trace(base.Covariance), 1e-12))
		})
	})
})
