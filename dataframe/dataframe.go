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
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-optimal/tradecron"
)

// New creates a dataframe with the given index and column names filled with NaN
func New(dates []time.Time, colNames []string) *DataFrame {
	df := &DataFrame{
		Dates:    dates,
		ColNames: colNames,
		Vals:     make([][]float64, len(colNames)),
	}
	for idx := range df.Vals {
		col := make([]float64, len(dates))
		for ii := range col {
			col[ii] = math.NaN()
		}
		df.Vals[idx] = col
	}
	return df
}

// Validate checks that every column matches the date index and that the
// index is strictly increasing
func (df *DataFrame) Validate() error {
	if len(df.Vals) != len(df.ColNames) {
		return ErrColumnLengthInvalid
	}
	for _, col := range df.Vals {
		if len(col) != len(df.Dates) {
			return ErrColumnLengthInvalid
		}
	}
	for idx := 1; idx < len(df.Dates); idx++ {
		if !df.Dates[idx].After(df.Dates[idx-1]) {
			return fmt.Errorf("%w: %s follows %s", ErrDatesNotAscending, df.Dates[idx].Format("2006-01-02"), df.Dates[idx-1].Format("2006-01-02"))
		}
	}
	return nil
}

// Get index of specified column; returns -1 if column doesn't exist
func (df *DataFrame) ColIndex(colName string) int {
	for idx, val := range df.ColNames {
		if colName == val {
			return idx
		}
	}

	return -1
}

// ColCount returns the number of columns in the dataframe
func (df *DataFrame) ColCount() int {
	return len(df.ColNames)
}

// Copy creates a deep copy of the dataframe
func (df *DataFrame) Copy() *DataFrame {
	df2 := &DataFrame{
		ColNames: make([]string, len(df.ColNames)),
		Dates:    make([]time.Time, len(df.Dates)),
		Vals:     make([][]float64, len(df.Vals)),
	}

	copy(df2.ColNames, df.ColNames)
	copy(df2.Dates, df.Dates)

	for idx := range df2.Vals {
		df2.Vals[idx] = make([]float64, len(df.Vals[idx]))
		copy(df2.Vals[idx], df.Vals[idx])
	}

	return df2
}

// Start returns the first time in the DataFrame
func (df *DataFrame) Start() time.Time {
	if len(df.Dates) == 0 {
		return time.Time{}
	}
	return df.Dates[0]
}

// End returns the last time in the DataFrame
func (df *DataFrame) End() time.Time {
	if len(df.Dates) == 0 {
		return time.Time{}
	}
	return df.Dates[len(df.Dates)-1]
}

// Len returns the number of rows in the dataframe
func (df *DataFrame) Len() int {
	return len(df.Dates)
}

// Row returns the values of every column at row idx
func (df *DataFrame) Row(idx int) []float64 {
	row := make([]float64, len(df.Vals))
	for colIdx, col := range df.Vals {
		row[colIdx] = col[idx]
	}
	return row
}

// InsertMap appends a row to the dataframe; columns not present in vals are
// set to NaN and keys that are not columns are ignored
func (df *DataFrame) InsertMap(date time.Time, vals map[string]float64) *DataFrame {
	if len(df.Dates) != 0 && !date.After(df.End()) {
		log.Panic().Time("Date", date).Time("End", df.End()).Msg("rows must be appended in increasing date order")
	}

	df.Dates = append(df.Dates, date)
	for colIdx, colName := range df.ColNames {
		val, ok := vals[colName]
		if !ok {
			val = math.NaN()
		}
		df.Vals[colIdx] = append(df.Vals[colIdx], val)
	}
	return df
}

// Select returns a copy of the dataframe restricted to the named columns in
// the order given. Unknown columns are ignored.
func (df *DataFrame) Select(colNames ...string) *DataFrame {
	df2 := &DataFrame{
		Dates:    make([]time.Time, len(df.Dates)),
		ColNames: make([]string, 0, len(colNames)),
		Vals:     make([][]float64, 0, len(colNames)),
	}
	copy(df2.Dates, df.Dates)
	for _, name := range colNames {
		idx := df.ColIndex(name)
		if idx == -1 {
			continue
		}
		col := make([]float64, len(df.Vals[idx]))
		copy(col, df.Vals[idx])
		df2.ColNames = append(df2.ColNames, name)
		df2.Vals = append(df2.Vals, col)
	}
	return df2
}

// Before returns the rows strictly before t. The returned dataframe shares
// memory with df.
func (df *DataFrame) Before(t time.Time) *DataFrame {
	endIdx := sort.Search(len(df.Dates), func(i int) bool {
		return !df.Dates[i].Before(t)
	})

	df2 := &DataFrame{
		ColNames: df.ColNames,
		Dates:    df.Dates[:endIdx],
		Vals:     make([][]float64, len(df.Vals)),
	}
	for colIdx, col := range df.Vals {
		df2.Vals[colIdx] = col[:endIdx]
	}
	return df2
}

// Frequency returns a data frame sampled at the requested frequency; note
// this is not an in-place function but creates a copy of the data. The last
// row is always retained.
func (df *DataFrame) Frequency(frequency Frequency) *DataFrame {
	schedule, err := frequency.Schedule()
	if err != nil {
		log.Panic().Err(err).Str("Frequency", string(frequency)).Msg("could not build tradecron schedule")
	}
	return df.Resample(schedule)
}

// Resample returns a copy of the dataframe with only the rows selected by
// schedule.Sample
func (df *DataFrame) Resample(schedule *tradecron.TradeCron) *DataFrame {
	if schedule == nil {
		return df.Copy()
	}

	keep := schedule.Sample(df.Dates)
	df2 := &DataFrame{
		ColNames: make([]string, len(df.ColNames)),
		Dates:    make([]time.Time, 0, len(keep)),
		Vals:     make([][]float64, len(df.Vals)),
	}
	copy(df2.ColNames, df.ColNames)

	keepIdx := 0
	for rowIdx, dt := range df.Dates {
		if keepIdx >= len(keep) {
			break
		}
		if !dt.Equal(keep[keepIdx]) {
			continue
		}
		keepIdx++
		df2.Dates = append(df2.Dates, dt)
		for colIdx, col := range df.Vals {
			df2.Vals[colIdx] = append(df2.Vals[colIdx], col[rowIdx])
		}
	}

	return df2
}

// Table prints an ASCII formatted table to stdout
func (df *DataFrame) Table() string {
	if len(df.Dates) == 0 {
		return "<NO DATA>" // nothing to do as there is no data available in the dataframe
	}

	// construct table header
	tableCols := append([]string{"Date"}, df.ColNames...)

	// initialize table
	s := &strings.Builder{}
	table := tablewriter.NewWriter(s)
	table.SetHeader(tableCols)
	footer := make([]string, len(tableCols))
	footer[0] = "Num Rows"
	if len(footer) > 1 {
		footer[1] = fmt.Sprintf("%d", df.Len())
	}
	table.SetFooter(footer)
	table.SetBorder(false) // Set Border to false

	for rowIdx, date := range df.Dates {
		row := make([]string, 0, len(df.Vals)+1)
		row = append(row, date.Format("2006-01-02"))
		for _, col := range df.Vals {
			row = append(row, fmt.Sprintf("%.4f", col[rowIdx]))
		}
		table.Append(row)
	}

	table.Render()
	return s.String()
}

// Trim the dataframe to the specified date range (inclusive). The returned
// dataframe shares memory with df.
func (df *DataFrame) Trim(begin, end time.Time) *DataFrame {
	df2 := &DataFrame{
		ColNames: df.ColNames,
		Dates:    df.Dates,
		Vals:     make([][]float64, len(df.Vals)),
	}
	copy(df2.Vals, df.Vals)

	// special case 0: requested range is invalid
	if end.Before(begin) || len(df.Dates) == 0 || end.Before(df.Start()) || begin.After(df.End()) {
		df2.Dates = []time.Time{}
		for colIdx := range df2.Vals {
			df2.Vals[colIdx] = []float64{}
		}
		return df2
	}

	// Use binary search to find the index corresponding to the start and end times
	beginIdx := sort.Search(len(df.Dates), func(i int) bool {
		return !df.Dates[i].Before(begin)
	})

	endIdx := sort.Search(len(df.Dates), func(i int) bool {
		return df.Dates[i].After(end)
	})

	df2.Dates = df.Dates[beginIdx:endIdx]
	for colIdx, col := range df.Vals {
		df2.Vals[colIdx] = col[beginIdx:endIdx]
	}

	return df2
}
