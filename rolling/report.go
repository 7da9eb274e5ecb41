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

package rolling

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/optimizer"
)

// Report bundles a result with the inputs that downstream consumers need
// alongside it. Groups and benchmark prices are not used by the backtest.
type Report struct {
	RunID       string              `json:"run_id"`
	Objective   optimizer.Objective `json:"objective"`
	Assets      []string            `json:"assets"`
	Rebalances  []Rebalance         `json:"rebalances"`
	Diagnostics []Diagnostic        `json:"diagnostics"`
	Groups      map[string]string   `json:"groups,omitempty"`
	Build       common.BuildInfo    `json:"build"`

	result *Result
}

// Rebalance is one row of the weight history
type Rebalance struct {
	Date         string             `json:"date"`
	Weights      map[string]float64 `json:"weights"`
	Excluded     []string           `json:"excluded,omitempty"`
	GroupWeights map[string]float64 `json:"group_weights,omitempty"`
	Benchmark    map[string]float64 `json:"benchmark,omitempty"`
}

// NewReport builds a report from a result. groups maps assets to a
// category and benchmark holds prices of one or more reference series;
// either may be nil.
func NewReport(res *Result, groups map[string]string, benchmark *dataframe.DataFrame) *Report {
	rep := &Report{
		RunID:       res.RunID.String(),
		Objective:   res.Objective,
		Assets:      res.History.ColNames,
		Rebalances:  make([]Rebalance, res.History.Len()),
		Diagnostics: res.Diagnostics,
		Groups:      groups,
		Build:       common.CurrentBuild(),
		result:      res,
	}

	for rowIdx, date := range res.History.Dates {
		row := Rebalance{
			Date:     date.Format(common.DateFormat),
			Weights:  make(map[string]float64, len(res.History.ColNames)),
			Excluded: res.Excluded[date],
		}
		for colIdx, name := range res.History.ColNames {
			row.Weights[name] = res.History.Vals[colIdx][rowIdx]
		}

		if len(groups) > 0 {
			row.GroupWeights = make(map[string]float64)
			for name, w := range row.Weights {
				if group, ok := groups[name]; ok {
					row.GroupWeights[group] += w
				}
			}
		}

		if benchmark != nil {
			// last benchmark price on or before the rebalancing date
			hist := benchmark.Before(date.AddDate(0, 0, 1))
			if hist.Len() > 0 {
				row.Benchmark = make(map[string]float64, benchmark.ColCount())
				last := hist.Len() - 1
				for colIdx, name := range hist.ColNames {
					if v := hist.Vals[colIdx][last]; !math.IsNaN(v) {
						row.Benchmark[name] = v
					}
				}
			}
		}

		rep.Rebalances[rowIdx] = row
	}

	return rep
}

// WriteJSON writes the report as indented json
func (rep *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// Table renders the weight history, average weights and diagnostics as
// ASCII tables
func (rep *Report) Table() string {
	res := rep.result
	s := &strings.Builder{}
	s.WriteString(res.History.Table())
	s.WriteString("\n")

	avg := tablewriter.NewWriter(s)
	avg.SetHeader([]string{"Asset", "Average Weight"})
	avg.SetBorder(false)
	for _, pair := range res.AverageWeights() {
		avg.Append([]string{pair.Key, fmt.Sprintf("%.4f", pair.Value)})
	}
	avg.Render()

	if len(rep.Diagnostics) == 0 {
		return s.String()
	}

	s.WriteString("\n")
	diag := tablewriter.NewWriter(s)
	diag.SetHeader([]string{"Date", "Kind", "Action", "Message"})
	diag.SetBorder(false)
	diag.SetAutoWrapText(false)
	for _, d := range rep.Diagnostics {
		diag.Append([]string{d.Date.Format(common.DateFormat), d.Kind.String(), string(d.Action), d.Message})
	}

	counts := res.DiagnosticCounts()
	kinds := make([]string, 0, len(counts))
	for kind, cnt := range counts {
		kinds = append(kinds, fmt.Sprintf("%s=%d", kind, cnt))
	}
	sort.Strings(kinds)
	diag.SetFooter([]string{"Total", fmt.Sprintf("%d", len(rep.Diagnostics)), "", strings.Join(kinds, " ")})
	diag.Render()

	return s.String()
}
