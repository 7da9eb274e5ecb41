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
	"errors"
	"strings"
	"time"

	"github.com/penny-vault/pv-optimal/tradecron"
)

// DataFrame stores a table of values organized by date
// the vals array is column major - e.g.,
// SPY    TLT
// 1      4
// 2      5
// 3      6
//
// Vals[0][0] = 1
// Vals[0][1] = 2
// Vals[1][0] = 4
//
// Missing values are stored as NaN.
type DataFrame struct {
	Dates    []time.Time
	ColNames []string
	Vals     [][]float64
}

// Defines a time period - typically used to filter a dataframe
type Frequency string

const (
	Daily        Frequency = "Daily"
	WeekBegin    Frequency = "WeekBegin"
	WeekEnd      Frequency = "WeekEnd"
	Weekly       Frequency = "WeekEnd"
	MonthBegin   Frequency = "MonthBegin"
	MonthEnd     Frequency = "MonthEnd"
	Monthly      Frequency = "MonthEnd"
	QuarterBegin Frequency = "QuarterBegin"
	QuarterEnd   Frequency = "QuarterEnd"
	Quarterly    Frequency = "QuarterEnd"
	YearBegin    Frequency = "YearBegin"
	YearEnd      Frequency = "YearEnd"
	Annually     Frequency = "YearEnd"
)

var frequencySpecs = map[string]string{
	"daily":        tradecron.AtDaily,
	"weekbegin":    tradecron.AtWeekBegin,
	"weekend":      tradecron.AtWeekEnd,
	"weekly":       tradecron.AtWeekEnd,
	"monthbegin":   tradecron.AtMonthBegin,
	"monthend":     tradecron.AtMonthEnd,
	"monthly":      tradecron.AtMonthEnd,
	"quarterbegin": tradecron.AtQuarterBegin,
	"quarterend":   tradecron.AtQuarterEnd,
	"quarterly":    tradecron.AtQuarterEnd,
	"yearbegin":    tradecron.AtYearBegin,
	"yearend":      tradecron.AtYearEnd,
	"annually":     tradecron.AtYearEnd,
}

var (
	ErrDateIndexNotAligned = errors.New("date index does not align")
	ErrColumnLengthInvalid = errors.New("column length does not match date index")
	ErrDatesNotAscending   = errors.New("dates must be strictly increasing")
)

// Spec returns the tradecron schedule string of the frequency. Values that
// are not one of the named frequencies are treated as a tradecron spec.
func (f Frequency) Spec() string {
	if spec, ok := frequencySpecs[strings.ToLower(strings.TrimSpace(string(f)))]; ok {
		return spec
	}
	return string(f)
}

// Schedule builds the tradecron schedule for the frequency
func (f Frequency) Schedule() (*tradecron.TradeCron, error) {
	return tradecron.New(f.Spec())
}
