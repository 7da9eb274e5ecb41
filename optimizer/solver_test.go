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

package optimizer_test

import (
	"errors"
	"math"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/estimation"
	"github.com/penny-vault/pv-optimal/optimizer"
)

// crashReturns simulates an asset A that gains steadily but loses heavily on
// every tenth row, next to a steady asset B
func crashReturns(rows int) *dataframe.DataFrame {
	rnd := rand.New(rand.NewSource(3))
	df := &dataframe.DataFrame{
		Dates:    make([]time.Time, rows),
		ColNames: []string{"A", "B"},
		Vals:     [][]float64{make([]float64, rows), make([]float64, rows)},
	}
	for row := 0; row < rows; row++ {
		df.Dates[row] = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, row)
		if row%10 == 9 {
			df.Vals[0][row] = -0.30 + 0.01*rnd.NormFloat64()
		} else {
			df.Vals[0][row] = 0.06 + 0.01*rnd.NormFloat64()
		}
		df.Vals[1][row] = 0.01 + 0.02*rnd.NormFloat64()
	}
	return df
}

// sampleEstimate summarizes returns by their sample mean and covariance
func sampleEstimate(rets *dataframe.DataFrame) *estimation.Estimate {
	x := mat.NewDense(rets.Len(), rets.ColCount(), nil)
	mu := make([]float64, rets.ColCount())
	for col, vals := range rets.Vals {
		x.SetCol(col, vals)
		mu[col] = stat.Mean(vals, nil)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)

	est := estimate(rets.ColNames, nil, mu)
	est.Covariance = &cov
	est.Returns = rets
	est.Observations = rets.Len()
	return est
}

func sharpeRatio(est *estimation.Estimate, rf float64, w []float64) float64 {
	var v mat.VecDense
	v.MulVec(est.Covariance, mat.NewVecDense(len(w), w))
	return (floats.Dot(est.ExpectedReturns, w) - rf*floats.Sum(w)) / math.Sqrt(floats.Dot(w, v.RawVector().Data))
}

var _ = Describe("Solver", func() {
	var (
		assets []string
		cs     *constraints.Set
	)

	solve := func(obj optimizer.Objective, params optimizer.Params, est *estimation.Estimate, cs *constraints.Set) []float64 {
		solver, err := optimizer.New(obj, params, optimizer.DefaultSettings())
		Expect(err).To(BeNil())
		w, err := solver.Solve(est, cs)
		Expect(err).To(BeNil())
		Expect(cs.Violation(w)).To(BeNumerically("<=", constraints.Tolerance))
		return w
	}

	BeforeEach(func() {
		assets = []string{"A", "B", "C"}
		cs = constraints.Uniform(assets, 0, 1)
	})

	DescribeTable("gives identical uncorrelated assets equal weights",
		func(obj optimizer.Objective) {
			names := []string{"A", "B", "C", "D"}
			est := estimate(names, diagonal(0.04, 0.04, 0.04, 0.04), nil)
			w := solve(obj, optimizer.Params{}, est, constraints.Uniform(names, 0, 1))
			for idx := range w {
				Expect(w[idx]).To(BeNumerically("~", 0.25, 1e-8))
			}
		},
		Entry("minimum variance", optimizer.MinVariance),
		Entry("equal risk contribution", optimizer.EqualRiskContribution),
	)

	Context("minimum variance", func() {
		It("weights uncorrelated assets by inverse variance", func() {
			est := estimate(assets, diagonal(0.01, 0.04, 0.09), nil)
			w := solve(optimizer.MinVariance, optimizer.Params{}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 100.0/(100+25+100.0/9), 1e-6))
			Expect(w[1]).To(BeNumerically("~", 25.0/(100+25+100.0/9), 1e-6))
			Expect(w[2]).To(BeNumerically("~", (100.0/9)/(100+25+100.0/9), 1e-6))
		})

		It("gives identical assets identical weights", func() {
			est := estimate(assets, []float64{
				0.04, 0.01, 0.01,
				0.01, 0.04, 0.01,
				0.01, 0.01, 0.04,
			}, nil)
			w := solve(optimizer.MinVariance, optimizer.Params{}, est, cs)
			for idx := range w {
				Expect(w[idx]).To(BeNumerically("~", 1.0/3, 1e-8))
			}
		})

		It("respects upper bounds", func() {
			cs = constraints.Uniform(assets, 0, 0.5)
			est := estimate(assets, diagonal(0.01, 0.04, 0.09), nil)
			w := solve(optimizer.MinVariance, optimizer.Params{}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 0.5, 1e-6))
			Expect(w[1]).To(BeNumerically("~", 0.5*25/(25+100.0/9), 1e-6))
			Expect(w[2]).To(BeNumerically("~", 0.5*(100.0/9)/(25+100.0/9), 1e-6))
		})

		It("respects group limits", func() {
			cs.Groups = []constraints.Group{{Name: "bonds", Assets: []string{"A", "B"}, Min: 0, Max: 0.6}}
			est := estimate(assets, diagonal(0.01, 0.04, 0.09), nil)
			w := solve(optimizer.MinVariance, optimizer.Params{}, est, cs)
			Expect(w[0] + w[1]).To(BeNumerically("<=", 0.6+constraints.Tolerance))
			Expect(w[2]).To(BeNumerically("~", 0.4, 1e-6))
		})

		It("returns the lower bounds of a pinned set", func() {
			cs.Lower = []float64{0.2, 0.3, 0.5}
			cs.Upper = []float64{0.2, 0.3, 0.5}
			est := estimate(assets, diagonal(0.01, 0.04, 0.09), nil)
			w := solve(optimizer.MinVariance, optimizer.Params{}, est, cs)
			Expect(w).To(Equal([]float64{0.2, 0.3, 0.5}))
		})
	})

	Context("maximum quadratic utility", func() {
		It("matches the closed form interior solution", func() {
			est := estimate(assets, diagonal(0.04, 0.04, 0.04), []float64{0.1, 0.05, 0.02})
			w := solve(optimizer.MaxQuadraticUtility, optimizer.Params{RiskAversion: 10}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 0.17667/0.4, 1e-4))
			Expect(w[1]).To(BeNumerically("~", 0.12667/0.4, 1e-4))
			Expect(w[2]).To(BeNumerically("~", 0.09667/0.4, 1e-4))
		})

		It("rejects a non-positive risk aversion", func() {
			_, err := optimizer.New(optimizer.MaxQuadraticUtility, optimizer.Params{}, optimizer.DefaultSettings())
			Expect(errors.Is(err, optimizer.ErrInvalidParameter)).To(BeTrue())
		})
	})

	Context("equal risk contribution", func() {
		It("weights uncorrelated assets by inverse volatility", func() {
			est := estimate(assets, diagonal(0.01, 0.04, 0.16), nil)
			w := solve(optimizer.EqualRiskContribution, optimizer.Params{}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 10/17.5, 1e-6))
			Expect(w[1]).To(BeNumerically("~", 5/17.5, 1e-6))
			Expect(w[2]).To(BeNumerically("~", 2.5/17.5, 1e-6))
		})

		It("equalizes risk contributions of correlated assets", func() {
			est := estimate(assets, []float64{
				0.04, 0.006, 0.002,
				0.006, 0.09, 0.018,
				0.002, 0.018, 0.01,
			}, nil)
			w := solve(optimizer.EqualRiskContribution, optimizer.Params{}, est, cs)
			for _, rc := range riskShares(est.Covariance, w) {
				Expect(rc).To(BeNumerically("~", 1.0/3, 1e-6))
			}
		})

		It("follows custom risk budgets", func() {
			est := estimate(assets, diagonal(0.01, 0.04, 0.16), nil)
			w := solve(optimizer.EqualRiskContribution, optimizer.Params{RiskBudget: map[string]float64{"A": 2, "B": 1, "C": 1}}, est, cs)
			shares := riskShares(est.Covariance, w)
			Expect(shares[0]).To(BeNumerically("~", 0.5, 1e-6))
			Expect(shares[1]).To(BeNumerically("~", 0.25, 1e-6))
			Expect(shares[2]).To(BeNumerically("~", 0.25, 1e-6))
		})

		It("normalizes to one when no budget is enforced", func() {
			cs.EnforceBudget = false
			est := estimate(assets, diagonal(0.01, 0.04, 0.16), nil)
			solver, err := optimizer.New(optimizer.EqualRiskContribution, optimizer.Params{}, optimizer.DefaultSettings())
			Expect(err).To(BeNil())
			w, err := solver.Solve(est, cs)
			Expect(err).To(BeNil())
			Expect(sum(w)).To(BeNumerically("~", 1, 1e-9))
		})

		It("stays within bounds when parity is not attainable", func() {
			cs = constraints.Uniform(assets, 0, 0.4)
			est := estimate(assets, diagonal(0.01, 0.04, 0.16), nil)
			w := solve(optimizer.EqualRiskContribution, optimizer.Params{}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 0.4, 1e-6))
			Expect(sum(w)).To(BeNumerically("~", 1, 1e-6))
		})
	})

	Context("maximum diversification", func() {
		It("weights uncorrelated assets by inverse volatility", func() {
			est := estimate(assets, diagonal(0.01, 0.04, 0.16), nil)
			w := solve(optimizer.MaxDiversification, optimizer.Params{}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 10/17.5, 1e-6))
			Expect(w[1]).To(BeNumerically("~", 5/17.5, 1e-6))
			Expect(w[2]).To(BeNumerically("~", 2.5/17.5, 1e-6))
		})

		It("searches directly when bounds bind", func() {
			cs = constraints.Uniform(assets, 0.1, 0.5)
			est := estimate(assets, diagonal(0.01, 0.04, 0.16), nil)
			w := solve(optimizer.MaxDiversification, optimizer.Params{}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 0.5, 1e-6))
			Expect(w[2]).To(BeNumerically(">=", 0.1-1e-9))
		})
	})

	Context("maximum sharpe ratio", func() {
		It("weights uncorrelated assets with equal risk by expected return", func() {
			est := estimate(assets, diagonal(0.04, 0.04, 0.04), []float64{0.1, 0.05, 0.02})
			w := solve(optimizer.MaxSharpeRatio, optimizer.Params{}, est, cs)
			Expect(w[0]).To(BeNumerically("~", 0.1/0.17, 1e-6))
			Expect(w[1]).To(BeNumerically("~", 0.05/0.17, 1e-6))
			Expect(w[2]).To(BeNumerically("~", 0.02/0.17, 1e-6))
		})

		It("improves on the feasible start and the clipped simplex answer inside a box", func() {
			rf := 0.02
			est := estimate(assets, []float64{
				0.04, 0.012, 0.004,
				0.012, 0.03, 0.006,
				0.004, 0.006, 0.02,
			}, []float64{0.15, 0.07, 0.04})
			box := constraints.Uniform(assets, 0.1, 0.5)
			Expect(box.Homogeneous()).To(BeFalse())

			w := solve(optimizer.MaxSharpeRatio, optimizer.Params{RiskFreeRate: rf}, est, box)
			Expect(sum(w)).To(BeNumerically("~", 1, 1e-6))

			start, err := box.FeasiblePoint()
			Expect(err).To(BeNil())
			Expect(sharpeRatio(est, rf, w)).To(BeNumerically(">=", sharpeRatio(est, rf, start)-1e-7))

			simplex := solve(optimizer.MaxSharpeRatio, optimizer.Params{RiskFreeRate: rf}, est, cs)
			clipped := box.Polish(simplex)
			Expect(box.Violation(clipped)).To(BeNumerically("<=", constraints.Tolerance))
			Expect(sharpeRatio(est, rf, w)).To(BeNumerically(">=", sharpeRatio(est, rf, clipped)-1e-7))
		})

		It("fails when no asset beats the risk free rate", func() {
			est := estimate(assets, diagonal(0.04, 0.04, 0.04), []float64{0.01, 0.02, 0.03})
			solver, err := optimizer.New(optimizer.MaxSharpeRatio, optimizer.Params{RiskFreeRate: 0.05}, optimizer.DefaultSettings())
			Expect(err).To(BeNil())
			_, err = solver.Solve(est, cs)
			Expect(errors.Is(err, common.ErrDegenerateObjective)).To(BeTrue())
			Expect(common.KindOf(err)).To(Equal(common.KindDegenerateObjective))
		})
	})

	Context("maximum CARA utility", func() {
		It("matches quadratic utility for a single gaussian", func() {
			mu := []float64{0.1, 0.05, 0.02}
			cov := []float64{
				0.04, 0.006, 0.002,
				0.006, 0.09, 0.018,
				0.002, 0.018, 0.01,
			}
			est := estimate(assets, cov, mu)
			gm := &estimation.GaussianMixture{
				Assets:      assets,
				Weights:     []float64{1},
				Means:       [][]float64{mu},
				Covariances: []*mat.SymDense{mat.NewSymDense(3, append([]float64{}, cov...))},
			}

			cara := solve(optimizer.MaxCaraGaussianMixture, optimizer.Params{CaraGamma: 3, Mixture: gm}, est, cs)
			mqu := solve(optimizer.MaxQuadraticUtility, optimizer.Params{RiskAversion: 3}, est, cs)
			for idx := range cara {
				Expect(cara[idx]).To(BeNumerically("~", mqu[idx], 1e-6))
			}
		})

		It("fits a mixture per date and avoids assets that crash", func() {
			names := []string{"A", "B"}
			est := sampleEstimate(crashReturns(200))
			box := constraints.Uniform(names, 0, 1)

			cara := solve(optimizer.MaxCaraGaussianMixture, optimizer.Params{CaraGamma: 2, MixtureComponents: 2}, est, box)
			mqu := solve(optimizer.MaxQuadraticUtility, optimizer.Params{RiskAversion: 2}, est, box)

			Expect(sum(cara)).To(BeNumerically("~", 1, 1e-6))
			Expect(mqu[0]).To(BeNumerically(">", 0.5))
			Expect(cara[0]).To(BeNumerically("<", mqu[0]-0.03))
		})

		It("requires a mixture or a component count", func() {
			_, err := optimizer.New(optimizer.MaxCaraGaussianMixture, optimizer.Params{CaraGamma: 1}, optimizer.DefaultSettings())
			Expect(errors.Is(err, optimizer.ErrInvalidParameter)).To(BeTrue())
		})
	})

	It("rejects constraints over different assets", func() {
		est := estimate(assets, diagonal(0.01, 0.04, 0.09), nil)
		solver, err := optimizer.New(optimizer.MinVariance, optimizer.Params{}, optimizer.DefaultSettings())
		Expect(err).To(BeNil())
		_, err = solver.Solve(est, constraints.Uniform([]string{"A", "C", "B"}, 0, 1))
		Expect(common.KindOf(err)).To(Equal(common.KindInvalidConstraint))
	})
})
