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
	"strings"
	"time"
)

// expandBriefFormat expands a date spec that has fields ommitted for brevity
func expandBriefFormat(spec string) string {
	tokens := strings.Fields(spec)

	// count the number of special tokens
	special := 0
	for _, token := range tokens {
		if token[0] == '@' {
			special++
		}
	}

	expectedLength := 3 + special
	for len(tokens) < expectedLength {
		tokens = append(tokens, "*")
	}

	return strings.Join(tokens, " ")
}

func weekKey(t time.Time) int {
	year, week := t.ISOWeek()
	return year*100 + week
}

func monthKey(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}

func quarterKey(t time.Time) int {
	return t.Year()*10 + (int(t.Month())-1)/3
}

func yearKey(t time.Time) int {
	return t.Year()
}

// nextWeekday returns the first monday through friday after t
func nextWeekday(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
