// Copyright (C) 2023 Quern Labs, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package rowexpr

import (
	"fmt"
)

// ErrorCode classifies domain evaluation failures.
type ErrorCode int

const (
	// ErrGeneric is an unclassified user error.
	ErrGeneric ErrorCode = iota
	// ErrDivisionByZero is integer or modulo division by zero.
	ErrDivisionByZero
	// ErrInvalidCast is a cast whose input has no representation
	// in the target type.
	ErrInvalidCast
	// ErrNumericOverflow is arithmetic outside the value range.
	ErrNumericOverflow
	// ErrInvalidArgument is a function argument outside the
	// function's domain.
	ErrInvalidArgument
	// ErrFailed is an error raised deliberately by the fail()
	// function, carrying a user-chosen payload.
	ErrFailed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrGeneric:
		return "GENERIC_USER_ERROR"
	case ErrDivisionByZero:
		return "DIVISION_BY_ZERO"
	case ErrInvalidCast:
		return "INVALID_CAST_ARGUMENT"
	case ErrNumericOverflow:
		return "NUMERIC_VALUE_OUT_OF_RANGE"
	case ErrInvalidArgument:
		return "INVALID_FUNCTION_ARGUMENT"
	case ErrFailed:
		return "FAILED_EXPRESSION"
	default:
		return "UNKNOWN_ERROR"
	}
}

// EvalError is a failure produced by evaluating a well-formed
// expression on some input: division by zero, a bad cast, an
// explicit fail() call, and so on. The evaluator may capture an
// EvalError raised under speculative evaluation and defer it into
// the residual expression instead of propagating it.
//
// Errors that are not EvalErrors are treated as programming
// contract violations and are never deferred.
type EvalError struct {
	Code  ErrorCode
	Msg   string
	Cause error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *EvalError) Unwrap() error { return e.Cause }

// Evalf constructs an EvalError with a formatted message.
func Evalf(code ErrorCode, f string, args ...any) *EvalError {
	return &EvalError{Code: code, Msg: fmt.Sprintf(f, args...)}
}

// ShapeError is returned when an expression tree violates the
// structural preconditions of the IR: wrong special-form arity,
// a WHEN clause outside SWITCH, a constant whose value does not
// inhabit its declared type, and similar defects. Trees with
// shape errors are rejected, never evaluated around.
type ShapeError struct {
	At  Node
	Msg string
}

func (s *ShapeError) Error() string {
	return fmt.Sprintf("%q is malformed: %s", ToString(s.At), s.Msg)
}

func errshape(at Node, msg string) *ShapeError {
	return &ShapeError{At: at, Msg: msg}
}

func errshapef(at Node, f string, args ...any) *ShapeError {
	return &ShapeError{At: at, Msg: fmt.Sprintf(f, args...)}
}
