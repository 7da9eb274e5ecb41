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

package dataframe

import (
	"math"
	"time"
)

// Count creates a new dataframe with the number of columns where the expression lambda func(float64) bool evaluates to true is placed
// in the `count` column
func (df *DataFrame) Count(lambda func(x float64) bool) *DataFrame {
	res := &DataFrame{
		Dates:    df.Dates,
		Vals:     [][]float64{make([]float64, df.Len())},
		ColNames: []string{"count"},
	}

	for rowIdx := range df.Dates {
		cnt := 0
		for _, col := range df.Vals {
			if lambda(col[rowIdx]) {
				cnt++
			}
		}
		res.Vals[0][rowIdx] = float64(cnt)
	}

	return res
}

// Returns computes period over period returns of every column. The first
// row is dropped. A return is NaN when either price is missing or not
// strictly positive. If logReturns is true log(p1/p0) is returned instead of
// p1/p0 - 1.
func (df *DataFrame) Returns(logReturns bool) *DataFrame {
	if df.Len() < 2 {
		return New([]time.Time{}, copyStrings(df.ColNames))
	}

	res := &DataFrame{
		Dates:    make([]time.Time, df.Len()-1),
		ColNames: copyStrings(df.ColNames),
		Vals:     make([][]float64, len(df.Vals)),
	}
	copy(res.Dates, df.Dates[1:])

	for colIdx, col := range df.Vals {
		rets := make([]float64, len(col)-1)
		for rowIdx := 1; rowIdx < len(col); rowIdx++ {
			p0 := col[rowIdx-1]
			p1 := col[rowIdx]
			switch {
			case math.IsNaN(p0) || math.IsNaN(p1) || p0 <= 0 || p1 <= 0:
				rets[rowIdx-1] = math.NaN()
			case logReturns:
				rets[rowIdx-1] = math.Log(p1 / p0)
			default:
				rets[rowIdx-1] = p1/p0 - 1
			}
		}
		res.Vals[colIdx] = rets
	}

	return res
}

// ValidCount returns the number of non-NaN values in each column
func (df *DataFrame) ValidCount() []int {
	counts := make([]int, len(df.Vals))
	for colIdx, col := range df.Vals {
		for _, val := range col {
			if !math.IsNaN(val) {
				counts[colIdx]++
			}
		}
	}
	return counts
}

func copyStrings(s []string) []string {
	s2 := make([]string, len(s))
	copy(s2, s)
	return s2
}
