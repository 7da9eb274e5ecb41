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

package rolling_test

import (
	"bytes"
	"context"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/optimizer"
	"github.com/penny-vault/pv-optimal/rolling"
	"github.com/penny-vault/pv-optimal/tradecron"
)

var _ = Describe("Report", func() {
	var (
		res   *rolling.Result
		names []string
	)

	BeforeEach(func() {
		names = []string{"SPY", "TLT", "GLD"}
		prices := randomPrices(11, day(2021, 1, 1), 120, names, []float64{0.01, 0.02, 0.03})
		monthEnd, err := tradecron.New(tradecron.AtMonthEnd)
		Expect(err).To(BeNil())
		solver, err := optimizer.New(optimizer.MinVariance, optimizer.Params{}, optimizer.DefaultSettings())
		Expect(err).To(BeNil())
		est := &fixedEstimator{assets: names, variances: []float64{0.01, 0.04, 0.09}}

		scheduler, err := rolling.New(est, solver, constraints.Uniform(names, 0, 1), monthEnd, rolling.DefaultOptions())
		Expect(err).To(BeNil())
		res, err = scheduler.Run(context.Background(), prices)
		Expect(err).To(BeNil())
	})

	It("aggregates weights by group", func() {
		groups := map[string]string{"SPY": "equity", "TLT": "bonds", "GLD": "bonds"}
		rep := rolling.NewReport(res, groups, nil)
		Expect(rep.Rebalances).To(HaveLen(res.History.Len()))
		row := rep.Rebalances[0]
		Expect(row.GroupWeights["equity"]).To(BeNumerically("~", row.Weights["SPY"], 1e-12))
		Expect(row.GroupWeights["bonds"]).To(BeNumerically("~", row.Weights["TLT"]+row.Weights["GLD"], 1e-12))
	})

	It("attaches the latest benchmark price", func() {
		bench := randomPrices(12, day(2021, 1, 1), 120, []string{"BENCH"}, []float64{0.01})
		rep := rolling.NewReport(res, nil, bench)
		row := rep.Rebalances[0]
		Expect(row.Date).To(Equal("2021-01-31"))
		Expect(row.Benchmark["BENCH"]).To(Equal(bench.Vals[0][30]))
	})

	It("writes json", func() {
		rep := rolling.NewReport(res, nil, nil)
		buf := &bytes.Buffer{}
		Expect(rep.WriteJSON(buf)).To(Succeed())

		var doc map[string]interface{}
		Expect(json.Unmarshal(buf.Bytes(), &doc)).To(Succeed())
		Expect(doc["objective"]).To(Equal("MinVariance"))
		Expect(doc["assets"]).To(HaveLen(3))
		Expect(doc["rebalances"]).To(HaveLen(res.History.Len()))
		Expect(doc["build"]).To(HaveKeyWithValue("program", "pvopt"))
	})

	It("renders tables", func() {
		out := rolling.NewReport(res, nil, nil).Table()
		Expect(out).To(ContainSubstring("SPY"))
		Expect(out).To(ContainSubstring("AVERAGE WEIGHT"))
	})

	It("orders average weights largest first", func() {
		avg := res.AverageWeights()
		Expect(avg[0].Key).To(Equal("SPY"))
		Expect(avg[2].Key).To(Equal("GLD"))
	})
})
