/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package x

// This file contains some functions for error handling.
// Some common use cases are:
// (1) You receive an error from external lib, and would like to check/log fatal.
//     For this, use x.Check, x.Checkf. These are meant for the CLI entry points
//     only; library packages return errors.
// (2) You receive an error from external lib, and would like to pass on with some
//     stack trace information. In this case, use x.Wrapf or errors.Wrapf.
// (3) You want to generate a new error with stack trace info. Use errors.Errorf.

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Check logs fatal if err != nil.
func Check(err error) {
	if err != nil {
		glog.Fatalf("%+v", errors.Wrap(err, ""))
	}
}

// Checkf is Check with extra info.
func Checkf(err error, format string, args ...interface{}) {
	if err != nil {
		glog.Fatalf("%+v", errors.Wrapf(err, format, args...))
	}
}

// Wrapf is errors.Wrapf that returns nil for a nil error.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Ignore function is used to ignore errors deliberately, while keeping the
// linter happy.
func Ignore(_ error) {
	// Do nothing.
}

// Location is a position in a GraphQL document.
type Location struct {
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// GqlError is a single entry of the "errors" list of a GraphQL response.
type GqlError struct {
	Message    string                 `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GqlErrorList is the "errors" list of a GraphQL response.
type GqlErrorList []*GqlError

// GqlErrorf creates a GqlError with the given message.
func GqlErrorf(message string, args ...interface{}) *GqlError {
	return &GqlError{Message: fmt.Sprintf(message, args...)}
}

func (gqlErr *GqlError) Error() string {
	var buf strings.Builder
	if gqlErr == nil {
		return ""
	}

	buf.WriteString(gqlErr.Message)

	if len(gqlErr.Locations) > 0 {
		buf.WriteString(" (Locations: [")
		for i, loc := range gqlErr.Locations {
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(&buf, "{Line: %v, Column: %v}", loc.Line, loc.Column)
		}
		buf.WriteString("])")
	}
	return buf.String()
}

func (errList GqlErrorList) Error() string {
	var buf strings.Builder
	for i, gqlErr := range errList {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(gqlErr.Error())
	}
	return buf.String()
}

// Contains reports whether any error in the list mentions substr.
func (errList GqlErrorList) Contains(substr string) bool {
	for _, gqlErr := range errList {
		if gqlErr != nil && strings.Contains(gqlErr.Message, substr) {
			return true
		}
	}
	return false
}
