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
	"sort"
	"time"
)

type DataFrameMap map[string]*DataFrame

// Index returns the sorted union of all dates in the map
func (dfMap DataFrameMap) Index() []time.Time {
	seen := make(map[int64]time.Time)
	for _, df := range dfMap {
		for _, dt := range df.Dates {
			seen[dt.UnixNano()] = dt
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for _, dt := range seen {
		dates = append(dates, dt)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// DataFrame converts each item in the map to columns in a single dataframe
// indexed by the union of all dates. Values missing from an item's index are
// NaN. Items are appended in keyOrder; when keyOrder is empty the keys are
// sorted.
func (dfMap DataFrameMap) DataFrame(keyOrder ...string) *DataFrame {
	if len(keyOrder) == 0 {
		keyOrder = make([]string, 0, len(dfMap))
		for k := range dfMap {
			keyOrder = append(keyOrder, k)
		}
		sort.Strings(keyOrder)
	}

	dates := dfMap.Index()
	rowOf := make(map[int64]int, len(dates))
	for idx, dt := range dates {
		rowOf[dt.UnixNano()] = idx
	}

	df := &DataFrame{
		Dates:    dates,
		ColNames: make([]string, 0, len(dfMap)),
		Vals:     make([][]float64, 0, len(dfMap)),
	}

	for _, k := range keyOrder {
		v, ok := dfMap[k]
		if !ok {
			continue
		}
		for colIdx, colName := range v.ColNames {
			col := make([]float64, len(dates))
			for ii := range col {
				col[ii] = math.NaN()
			}
			for rowIdx, dt := range v.Dates {
				col[rowOf[dt.UnixNano()]] = v.Vals[colIdx][rowIdx]
			}
			df.ColNames = append(df.ColNames, colName)
			df.Vals = append(df.Vals, col)
		}
	}

	return df
}
