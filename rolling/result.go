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
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/optimizer"
)

// Action records how the scheduler recovered from a failed date
type Action string

const (
	// Skipped dates failed before any weights existed and are absent from
	// the history
	Skipped Action = "skipped"

	// CarriedForward dates repeat the previous weights
	CarriedForward Action = "carried_forward"
)

// Diagnostic describes one degraded rebalancing date
type Diagnostic struct {
	Date    time.Time        `json:"date"`
	Kind    common.ErrorKind `json:"kind"`
	Action  Action           `json:"action"`
	Message string           `json:"message"`
	Err     error            `json:"-"`
}

// Result is the output of a backtest run
type Result struct {
	RunID     uuid.UUID
	Objective optimizer.Objective

	// History has one row per rebalancing date and one column per asset
	// that was weighted on any date; assets not active on a date are 0
	History *dataframe.DataFrame

	// Excluded lists, per rebalancing date, the assets left out of the
	// estimate
	Excluded map[time.Time][]string

	Diagnostics []Diagnostic
}

// assemble orders date results into a weight history, skipping leading
// failures and carrying weights forward over later ones
func assemble(runID uuid.UUID, objective optimizer.Objective, universe []string, results []*dateResult) *Result {
	res := &Result{
		RunID:       runID,
		Objective:   objective,
		Excluded:    make(map[time.Time][]string),
		Diagnostics: make([]Diagnostic, 0),
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].date.Before(results[j].date) })

	// columns are every asset that was weighted at least once, in price order
	active := make(map[string]bool)
	for _, r := range results {
		if r.err == nil {
			for _, name := range r.assets {
				active[name] = true
			}
		}
	}
	cols := make([]string, 0, len(active))
	for _, name := range universe {
		if active[name] {
			cols = append(cols, name)
		}
	}

	pos := make(map[string]int, len(cols))
	for idx, name := range cols {
		pos[name] = idx
	}

	history := &dataframe.DataFrame{
		Dates:    make([]time.Time, 0, len(results)),
		ColNames: cols,
		Vals:     make([][]float64, len(cols)),
	}
	for idx := range history.Vals {
		history.Vals[idx] = make([]float64, 0, len(results))
	}

	var prev []float64
	for _, r := range results {
		if r.excluded != nil {
			res.Excluded[r.date] = r.excluded
		}

		if r.err != nil {
			diag := Diagnostic{
				Date:    r.date,
				Kind:    common.KindOf(r.err),
				Action:  CarriedForward,
				Message: r.err.Error(),
				Err:     r.err,
			}
			if prev == nil {
				diag.Action = Skipped
			}
			res.Diagnostics = append(res.Diagnostics, diag)
			if prev == nil {
				continue
			}
		} else {
			prev = make([]float64, len(cols))
			for idx, name := range r.assets {
				prev[pos[name]] = r.weights[idx]
			}
		}

		history.Dates = append(history.Dates, r.date)
		for idx := range cols {
			history.Vals[idx] = append(history.Vals[idx], prev[idx])
		}
	}

	res.History = history
	return res
}

// Failed reports whether any date was skipped or carried forward
func (res *Result) Failed() bool {
	return len(res.Diagnostics) > 0
}

// Weights returns the weights in effect on date keyed by asset
func (res *Result) Weights(date time.Time) map[string]float64 {
	idx := sort.Search(len(res.History.Dates), func(i int) bool {
		return res.History.Dates[i].After(date)
	}) - 1
	if idx < 0 {
		return nil
	}
	out := make(map[string]float64, len(res.History.ColNames))
	for colIdx, name := range res.History.ColNames {
		out[name] = res.History.Vals[colIdx][idx]
	}
	return out
}

// AverageWeights returns each asset's mean weight over the history, largest
// first
func (res *Result) AverageWeights() common.PairList {
	pairs := make(common.PairList, 0, len(res.History.ColNames))
	n := float64(res.History.Len())
	for colIdx, name := range res.History.ColNames {
		var total float64
		for _, w := range res.History.Vals[colIdx] {
			total += w
		}
		if n > 0 {
			total /= n
		}
		pairs = append(pairs, common.Pair{Key: name, Value: total})
	}
	sort.Sort(sort.Reverse(pairs))
	return pairs
}

// DiagnosticCounts tallies diagnostics by error kind
func (res *Result) DiagnosticCounts() map[common.ErrorKind]int {
	counts := make(map[common.ErrorKind]int)
	for _, diag := range res.Diagnostics {
		counts[diag.Kind]++
	}
	return counts
}
