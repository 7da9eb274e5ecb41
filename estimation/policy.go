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

package estimation

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidPolicy = errors.New("invalid window policy")
	ErrInvalidConfig = errors.New("invalid estimation configuration")
)

type PolicyKind int

const (
	PolicyEWM PolicyKind = iota
	PolicyFixedWindow
)

// Policy determines which past returns contribute to an estimate and how
// they are weighted
type Policy interface {
	fmt.Stringer

	Kind() PolicyKind

	// Window is the number of most recent returns considered; 0 means the
	// entire history before the estimation date
	Window() int

	// Weights returns a sample weight for each of n returns ordered oldest
	// first
	Weights(n int) []float64

	// Required is the number of valid returns an asset needs to be included
	Required(minObservations int) int

	Validate() error
}

// EWM weights observations with exponential decay lambda = 2 / (span + 1).
// The most recent return has weight 1 and a return k periods older has
// weight (1 - lambda)^k.
type EWM struct {
	Span float64
}

// FixedWindow gives equal weight to the most recent Length returns
type FixedWindow struct {
	Length int
}

// ParsePolicy builds a policy from its name: ewm or fixed
func ParsePolicy(name string, span float64, length int) (Policy, error) {
	var p Policy
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ewm", "ewma", "exponential":
		p = EWM{Span: span}
	case "fixed", "fixed_window", "fixedwindow", "rolling":
		p = FixedWindow{Length: length}
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidPolicy, name)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p EWM) Kind() PolicyKind { return PolicyEWM }

func (p EWM) String() string {
	return fmt.Sprintf("EWM(span=%g)", p.Span)
}

// Lambda is the decay rate of the policy
func (p EWM) Lambda() float64 {
	return 2.0 / (p.Span + 1.0)
}

func (p EWM) Window() int { return 0 }

func (p EWM) Weights(n int) []float64 {
	weights := make([]float64, n)
	keep := 1.0 - p.Lambda()
	w := 1.0
	for idx := n - 1; idx >= 0; idx-- {
		weights[idx] = w
		w *= keep
	}
	return weights
}

func (p EWM) Required(minObservations int) int {
	if minObservations < 1 {
		return 1
	}
	return minObservations
}

func (p EWM) Validate() error {
	if math.IsNaN(p.Span) || p.Span < 1 {
		return fmt.Errorf("%w: span must be >= 1, got %g", ErrInvalidPolicy, p.Span)
	}
	return nil
}

func (p FixedWindow) Kind() PolicyKind { return PolicyFixedWindow }

func (p FixedWindow) String() string {
	return fmt.Sprintf("FixedWindow(length=%d)", p.Length)
}

func (p FixedWindow) Window() int { return p.Length }

func (p FixedWindow) Weights(n int) []float64 {
	weights := make([]float64, n)
	for idx := range weights {
		weights[idx] = 1
	}
	return weights
}

// Required is the window length; an asset must be observed over the whole
// window
func (p FixedWindow) Required(int) int { return p.Length }

func (p FixedWindow) Validate() error {
	if p.Length < 1 {
		return fmt.Errorf("%w: length must be >= 1, got %d", ErrInvalidPolicy, p.Length)
	}
	return nil
}
