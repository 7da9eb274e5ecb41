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

package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that can happen while computing weights for
// a single rebalancing date.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInsufficientData
	KindInvalidConstraint
	KindInfeasible
	KindConvergence
	KindDegenerateObjective
)

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrInvalidConstraint   = errors.New("invalid constraint")
	ErrInfeasible          = errors.New("infeasible")
	ErrConvergence         = errors.New("did not converge")
	ErrDegenerateObjective = errors.New("degenerate objective")
)

func (k ErrorKind) String() string {
	switch k {
	case KindInsufficientData:
		return "InsufficientData"
	case KindInvalidConstraint:
		return "InvalidConstraint"
	case KindInfeasible:
		return "Infeasible"
	case KindConvergence:
		return "Convergence"
	case KindDegenerateObjective:
		return "DegenerateObjective"
	default:
		return "Unknown"
	}
}

// MarshalText renders the kind by name in reports
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInsufficientData:
		return ErrInsufficientData
	case KindInvalidConstraint:
		return ErrInvalidConstraint
	case KindInfeasible:
		return ErrInfeasible
	case KindConvergence:
		return ErrConvergence
	case KindDegenerateObjective:
		return ErrDegenerateObjective
	default:
		return nil
	}
}

// Error is a classified failure. errors.Is matches it against the sentinel
// of its kind and against the wrapped cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind.sentinel(), e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.sentinel(), e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Errorf builds a classified error with a formatted message
func Errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind
func Wrap(kind ErrorKind, cause error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the classification of err or KindUnknown
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for _, k := range []ErrorKind{KindInsufficientData, KindInvalidConstraint, KindInfeasible, KindConvergence, KindDegenerateObjective} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return KindUnknown
}
