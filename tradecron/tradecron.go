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

package tradecron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	AtDaily        = "@daily"
	AtWeekBegin    = "@weekbegin"
	AtWeekEnd      = "@weekend"
	AtMonthBegin   = "@monthbegin"
	AtMonthEnd     = "@monthend"
	AtQuarterBegin = "@quarterbegin"
	AtQuarterEnd   = "@quarterend"
	AtYearBegin    = "@yearbegin"
	AtYearEnd      = "@yearend"
)

type TradeCron struct {
	Schedule       cron.Schedule
	ScheduleString string
	TimeSpec       string
	DateFlag       string
}

// TradeCron selects dates out of an ordered date index. The schedule is a
// CRON date spec of: DayOfMonth(DoM) Month(M) DayOfWeek(DoW)
// See: https://en.wikipedia.org/wiki/Cron
//
// Minutes and hours are fixed at midnight; the index is daily or coarser.
// Omitted fields are filled with '*'.
//
// Period modifiers pick the first or last date of each calendar period that
// is present in the index:
//
//	@daily        - every date in the index
//	@weekbegin    - first date of each week
//	@weekend      - last date of each week
//	@monthbegin   - first date of each month
//	@monthend     - last date of each month
//	@quarterbegin - first date of each quarter
//	@quarterend   - last date of each quarter
//	@yearbegin    - first date of each year
//	@yearend      - last date of each year
//
// Examples:
//   - every wednesday: * * 3
//   - last date of each month: @monthend
//   - last date of march and september: @monthend * 3,9
//   - last date of each week falling on a friday: @weekend * * 5
func New(cronSpec string) (*TradeCron, error) {
	specParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	scheduleStr := strings.TrimSpace(cronSpec)
	if scheduleStr == "" {
		return nil, ErrEmptySpec
	}
	scheduleStr = expandBriefFormat(scheduleStr)

	// separate special tokens from timespec
	tokens := strings.Fields(scheduleStr)

	timeSpecTokens := make([]string, 0, 5)
	specialTokens := make([]string, 0, 2)
	for _, token := range tokens {
		if token[0] == '@' {
			specialTokens = append(specialTokens, strings.ToLower(token))
		} else {
			timeSpecTokens = append(timeSpecTokens, token)
		}
	}

	var dateFlag string
	for _, token := range specialTokens {
		switch token {
		case AtDaily, AtWeekBegin, AtWeekEnd, AtMonthBegin, AtMonthEnd, AtQuarterBegin, AtQuarterEnd, AtYearBegin, AtYearEnd:
			if dateFlag != "" {
				return nil, ErrConflictingModifiers
			}
			dateFlag = token
		default:
			return nil, ErrUnknownModifier
		}
	}

	if dateFlag == AtDaily {
		dateFlag = ""
	}

	timeSpec := "0 0 " + strings.Join(timeSpecTokens, " ")
	schedule, err := specParser.Parse(timeSpec)
	if err != nil {
		log.Error().Err(err).Str("TimeSpec", timeSpec).Str("TradeCronSpec", cronSpec).Msg("robfig/cron could not parse timespec")
		return nil, fmt.Errorf("%w: %s", ErrMalformedTimeSpec, err)
	}

	tc := &TradeCron{
		Schedule:       schedule,
		ScheduleString: cronSpec,
		TimeSpec:       timeSpec,
		DateFlag:       dateFlag,
	}

	return tc, nil
}

// IsTradeDay evaluates the calendar portion of the schedule for the given
// date. Period modifiers are not considered since they depend on the index.
func (tc *TradeCron) IsTradeDay(forDate time.Time) bool {
	t1 := time.Date(forDate.Year(), forDate.Month(), forDate.Day(), 0, 0, 0, 0, forDate.Location())
	next := tc.Schedule.Next(t1.Add(-time.Nanosecond))
	return next.Equal(t1)
}

// Filter returns the dates from the ascending index that satisfy the schedule.
// The first date of the index never counts as a period begin. The last date
// counts as a period end only when it is the last weekday of its period.
func (tc *TradeCron) Filter(dates []time.Time) []time.Time {
	return tc.filter(dates, false)
}

// Sample is Filter except that the final date of the index is always
// retained. It is used to resample a price history whose last row is the
// most recent observation.
func (tc *TradeCron) Sample(dates []time.Time) []time.Time {
	return tc.filter(dates, true)
}

func (tc *TradeCron) filter(dates []time.Time, keepLast bool) []time.Time {
	selected := make([]time.Time, 0, len(dates))
	last := len(dates) - 1
	for idx, dt := range dates {
		if keepLast && idx == last {
			selected = append(selected, dt)
			continue
		}
		if !tc.onPeriodBoundary(dates, idx) {
			continue
		}
		if tc.IsTradeDay(dt) {
			selected = append(selected, dt)
		}
	}
	return selected
}

func (tc *TradeCron) onPeriodBoundary(dates []time.Time, idx int) bool {
	switch tc.DateFlag {
	case AtWeekBegin:
		return idx > 0 && weekKey(dates[idx-1]) != weekKey(dates[idx])
	case AtWeekEnd:
		return periodEnd(dates, idx, weekKey)
	case AtMonthBegin:
		return idx > 0 && monthKey(dates[idx-1]) != monthKey(dates[idx])
	case AtMonthEnd:
		return periodEnd(dates, idx, monthKey)
	case AtQuarterBegin:
		return idx > 0 && quarterKey(dates[idx-1]) != quarterKey(dates[idx])
	case AtQuarterEnd:
		return periodEnd(dates, idx, quarterKey)
	case AtYearBegin:
		return idx > 0 && yearKey(dates[idx-1]) != yearKey(dates[idx])
	case AtYearEnd:
		return periodEnd(dates, idx, yearKey)
	default:
		return true
	}
}

// periodEnd reports whether dates[idx] closes its period. Past the end of the
// index the next weekday stands in for the next observation.
func periodEnd(dates []time.Time, idx int, key func(time.Time) int) bool {
	if idx < len(dates)-1 {
		return key(dates[idx+1]) != key(dates[idx])
	}
	return key(nextWeekday(dates[idx])) != key(dates[idx])
}
