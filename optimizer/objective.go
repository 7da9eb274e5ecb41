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

package optimizer

import (
	"fmt"
	"strings"
)

// Objective selects the portfolio construction rule
type Objective int

const (
	MinVariance Objective = iota
	MaxQuadraticUtility
	EqualRiskContribution
	MaxDiversification
	MaxSharpeRatio
	MaxCaraGaussianMixture
)

var objectiveNames = map[Objective]string{
	MinVariance:            "MinVariance",
	MaxQuadraticUtility:    "MaxQuadraticUtility",
	EqualRiskContribution:  "EqualRiskContribution",
	MaxDiversification:     "MaxDiversification",
	MaxSharpeRatio:         "MaxSharpeRatio",
	MaxCaraGaussianMixture: "MaxCaraGaussianMixture",
}

func (o Objective) String() string {
	if name, ok := objectiveNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Objective(%d)", int(o))
}

// MarshalText renders the objective by name
func (o Objective) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an objective name or shortcode
func (o *Objective) UnmarshalText(text []byte) error {
	obj, err := ParseObjective(string(text))
	if err != nil {
		return err
	}
	*o = obj
	return nil
}

// ScaleInvariant reports whether multiplying the weights by a positive
// constant leaves the objective unchanged
func (o Objective) ScaleInvariant() bool {
	switch o {
	case EqualRiskContribution, MaxDiversification, MaxSharpeRatio:
		return true
	default:
		return false
	}
}

// ParseObjective accepts an objective name (case insensitive) or the
// shortcode of a registered objective descriptor
func ParseObjective(s string) (Objective, error) {
	s = strings.TrimSpace(s)
	for obj, name := range objectiveNames {
		if strings.EqualFold(name, s) {
			return obj, nil
		}
	}

	if desc, err := Lookup(s); err == nil {
		return desc.Objective, nil
	}

	return 0, fmt.Errorf("%w: unknown objective %q", ErrInvalidParameter, s)
}
