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

package constraints_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
)

func sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}

var _ = Describe("Set", func() {
	var cs *constraints.Set

	BeforeEach(func() {
		cs = constraints.Uniform([]string{"A", "B", "C", "D"}, 0, 0.5)
	})

	Describe("validation", func() {
		It("accepts a consistent set", func() {
			Expect(cs.Validate()).To(BeNil())
		})

		DescribeTable("rejects inconsistent sets",
			func(mutate func(cs *constraints.Set)) {
				mutate(cs)
				err := cs.Validate()
				Expect(err).To(MatchError(common.ErrInvalidConstraint))
				Expect(common.KindOf(err)).To(Equal(common.KindInvalidConstraint))
			},
			Entry("lower above upper", func(cs *constraints.Set) { cs.Lower[1] = 0.6 }),
			Entry("negative lower bound when long only", func(cs *constraints.Set) { cs.Lower[0] = -0.1 }),
			Entry("upper bounds below budget", func(cs *constraints.Set) {
				for idx := range cs.Upper {
					cs.Upper[idx] = 0.2
				}
			}),
			Entry("lower bounds above budget", func(cs *constraints.Set) {
				for idx := range cs.Lower {
					cs.Lower[idx] = 0.3
				}
			}),
			Entry("mismatched bound lengths", func(cs *constraints.Set) { cs.Lower = cs.Lower[:2] }),
			Entry("duplicate asset", func(cs *constraints.Set) { cs.Assets[1] = "A" }),
			Entry("group with unknown asset", func(cs *constraints.Set) {
				cs.Groups = []constraints.Group{{Name: "bonds", Assets: []string{"Z"}, Min: 0, Max: 1}}
			}),
			Entry("group min above max", func(cs *constraints.Set) {
				cs.Groups = []constraints.Group{{Name: "bonds", Assets: []string{"A"}, Min: 0.4, Max: 0.3}}
			}),
			Entry("group min above member upper bounds", func(cs *constraints.Set) {
				cs.Groups = []constraints.Group{{Name: "bonds", Assets: []string{"A"}, Min: 0.6, Max: 0.8}}
			}),
		)

		It("allows short positions when not long only", func() {
			cs.LongOnly = false
			cs.Lower[0] = -0.2
			Expect(cs.Validate()).To(BeNil())
		})
	})

	Describe("restriction", func() {
		It("keeps bounds of active assets", func() {
			sub, err := cs.Restrict([]string{"C", "A", "B"}, false)
			Expect(err).To(BeNil())
			Expect(sub.Assets).To(Equal([]string{"C", "A", "B"}))
			Expect(sub.Upper).To(Equal([]float64{0.5, 0.5, 0.5}))
		})

		It("rescales upper bounds by the fraction of active assets", func() {
			cs = constraints.Uniform([]string{"A", "B", "C", "D"}, 0, 0.3)
			sub, err := cs.Restrict([]string{"A", "B"}, true)
			Expect(err).To(BeNil())
			Expect(sub.Upper[0]).To(BeNumerically("~", 0.6, 1e-15))

			sub, err = cs.Restrict([]string{"A"}, true)
			Expect(err).To(BeNil())
			Expect(sub.Upper[0]).To(BeNumerically("~", 1.0, 1e-15))
		})

		It("is infeasible when the active assets cannot absorb the budget", func() {
			cs = constraints.Uniform([]string{"A", "B", "C", "D"}, 0, 0.3)
			_, err := cs.Restrict([]string{"A", "B"}, false)
			Expect(common.KindOf(err)).To(Equal(common.KindInfeasible))
		})

		It("drops groups without active members", func() {
			cs.Groups = []constraints.Group{
				{Name: "bonds", Assets: []string{"C", "D"}, Min: 0, Max: 0.4},
				{Name: "equity", Assets: []string{"A", "B"}, Min: 0.2, Max: 0.8},
			}
			sub, err := cs.Restrict([]string{"A", "B"}, true)
			Expect(err).To(BeNil())
			Expect(sub.Groups).To(HaveLen(1))
			Expect(sub.Groups[0].Name).To(Equal("equity"))

			_, err = cs.Restrict([]string{"C", "D"}, true)
			Expect(common.KindOf(err)).To(Equal(common.KindInfeasible))
		})

		It("rejects assets without bounds", func() {
			_, err := cs.Restrict([]string{"Z"}, true)
			Expect(common.KindOf(err)).To(Equal(common.KindInvalidConstraint))
		})
	})

	Describe("feasible point", func() {
		It("distributes the budget in proportion to slack", func() {
			cs.Lower = []float64{0.1, 0, 0, 0}
			cs.Upper = []float64{0.5, 0.5, 0.2, 0.2}
			w, err := cs.FeasiblePoint()
			Expect(err).To(BeNil())
			Expect(sum(w)).To(BeNumerically("~", 1, 1e-12))
			// remaining 0.9 over slack 1.3
			Expect(w[0]).To(BeNumerically("~", 0.1+0.9*0.4/1.3, 1e-12))
			Expect(w[2]).To(BeNumerically("~", 0.9*0.2/1.3, 1e-12))
		})

		It("honors group limits", func() {
			cs.Groups = []constraints.Group{{Name: "bonds", Assets: []string{"C", "D"}, Min: 0.7, Max: 0.9}}
			w, err := cs.FeasiblePoint()
			Expect(err).To(BeNil())
			Expect(cs.Violation(w)).To(BeNumerically("<=", constraints.Tolerance))
			Expect(w[2] + w[3]).To(BeNumerically(">=", 0.7-constraints.Tolerance))
		})

		It("detects pinned sets", func() {
			cs.Lower = []float64{0.25, 0.25, 0.25, 0.25}
			cs.Upper = []float64{0.25, 0.25, 0.25, 0.25}
			Expect(cs.IsPinned()).To(BeTrue())
			w, err := cs.FeasiblePoint()
			Expect(err).To(BeNil())
			Expect(w).To(Equal([]float64{0.25, 0.25, 0.25, 0.25}))
		})
	})

	Describe("projection", func() {
		It("projects onto the box and budget", func() {
			w := cs.Project([]float64{0.9, 0.4, 0.1, -0.2})
			Expect(sum(w)).To(BeNumerically("~", 1, 1e-12))
			Expect(cs.Violation(w)).To(BeNumerically("<=", 1e-12))
			// tau = 0.1: clip(0.8, 0.3, 0, -0.3) = 0.5 + 0.3 + 0 + 0 = 0.8 < 1
			// tau = 0: 0.5 + 0.4 + 0.1 + 0 = 1.0
			Expect(w[0]).To(BeNumerically("~", 0.5, 1e-12))
			Expect(w[1]).To(BeNumerically("~", 0.4, 1e-12))
			Expect(w[2]).To(BeNumerically("~", 0.1, 1e-12))
			Expect(w[3]).To(BeNumerically("~", 0.0, 1e-12))
		})

		It("leaves feasible points unchanged", func() {
			y := []float64{0.25, 0.25, 0.3, 0.2}
			w := cs.Project(y)
			for idx := range y {
				Expect(w[idx]).To(BeNumerically("~", y[idx], 1e-12))
			}
		})

		It("clips when no budget is enforced", func() {
			cs.EnforceBudget = false
			Expect(cs.Project([]float64{0.9, 0.4, 0.1, -0.2})).To(Equal([]float64{0.5, 0.4, 0.1, 0}))
			Expect(cs.Total()).To(Equal(1.0))
		})

		It("satisfies group limits with alternating projections", func() {
			cs.Groups = []constraints.Group{{Name: "bonds", Assets: []string{"A", "B"}, Min: 0, Max: 0.4}}
			w := cs.Project([]float64{0.5, 0.5, 0, 0})
			Expect(cs.Violation(w)).To(BeNumerically("<=", 1e-9))
			Expect(w[0]).To(BeNumerically("~", 0.2, 1e-9))
			Expect(w[1]).To(BeNumerically("~", 0.2, 1e-9))
			Expect(w[2]).To(BeNumerically("~", 0.3, 1e-9))
			Expect(w[3]).To(BeNumerically("~", 0.3, 1e-9))
		})

		It("polishes by clipping and renormalizing", func() {
			w := cs.Polish([]float64{0.6, 0.3, 0.2, 0.1})
			Expect(sum(w)).To(BeNumerically("~", 1, 1e-15))
			// clipped to 0.5 then scaled down with the others by 1/1.1
			Expect(w[0]).To(BeNumerically("~", 0.5/1.1, 1e-15))
			Expect(w[3]).To(BeNumerically("~", 0.1/1.1, 1e-15))
			Expect(cs.Violation(w)).To(BeNumerically("<=", 1e-15))
		})

		It("projects onto a weighted simplex", func() {
			y, err := constraints.ProjectWeightedSimplex([]float64{1, 1, -1}, []float64{1, 2, 1})
			Expect(err).To(BeNil())
			Expect(y[2]).To(Equal(0.0))
			Expect(y[0] + 2*y[1]).To(BeNumerically("~", 1, 1e-12))
			// y = max(z - tau*a, 0) with tau = 0.4
			Expect(y[0]).To(BeNumerically("~", 0.6, 1e-12))
			Expect(y[1]).To(BeNumerically("~", 0.2, 1e-12))
		})
	})

	It("identifies homogeneous sets", func() {
		cs = constraints.Uniform([]string{"A", "B"}, 0, 1)
		Expect(cs.Homogeneous()).To(BeTrue())
		cs.Upper[1] = 0.6
		Expect(cs.Homogeneous()).To(BeFalse())
	})
})
