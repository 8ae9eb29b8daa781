/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

// Package match checks a decoded JSON value against an expected partial shape.
//
// Objects match when every expected key is present in the actual object and its
// value matches; keys only present in the actual object are ignored. Lists match
// element by element and must have the same length. Scalars must be equal, with
// all numbers compared as float64. A Matcher in the expected tree accepts any
// value it matches, e.g. Any(String) for a generated id.
package match

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// ErrMismatch is wrapped by every error returned from Object.
var ErrMismatch = errors.New("value does not match expected shape")

// Matcher accepts or rejects a single decoded JSON value.
type Matcher interface {
	Match(actual interface{}) bool
	String() string
}

// Kind is a JSON value kind.
type Kind string

const (
	String Kind = "string"
	Number Kind = "number"
	Bool   Kind = "bool"
	Object Kind = "object"
	Array  Kind = "array"
)

type anyOf struct {
	kind Kind
}

// Any matches any non-null value of the given kind.
func Any(kind Kind) Matcher {
	return anyOf{kind: kind}
}

func (a anyOf) Match(actual interface{}) bool {
	return kindOf(actual) == a.kind
}

func (a anyOf) String() string {
	return "<any " + string(a.kind) + ">"
}

func kindOf(v interface{}) Kind {
	switch v.(type) {
	case string:
		return String
	case bool:
		return Bool
	case map[string]interface{}:
		return Object
	case []interface{}:
		return Array
	}
	if _, ok := toFloat(v); ok {
		return Number
	}
	return ""
}

// Mismatch describes where a value diverged from the expected shape.
type Mismatch struct {
	Path   string
	Reason string
	Diff   string
}

func (m *Mismatch) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s: %s", ErrMismatch.Error(), m.Path, m.Reason)
	if m.Diff != "" {
		fmt.Fprintf(&b, "\n(-want +got):\n%s", m.Diff)
	}
	return b.String()
}

func (m *Mismatch) Unwrap() error {
	return ErrMismatch
}

// Shape checks actual against the expected partial shape and returns a *Mismatch
// for the first difference found.
func Shape(expected, actual interface{}) error {
	path, reason := walk("$", expected, actual)
	if reason == "" {
		return nil
	}
	return &Mismatch{
		Path:   path,
		Reason: reason,
		Diff:   cmp.Diff(render(expected), actual),
	}
}

func walk(path string, expected, actual interface{}) (string, string) {
	switch want := expected.(type) {
	case Matcher:
		if !want.Match(actual) {
			return path, fmt.Sprintf("want %s, got %s", want, describe(actual))
		}
		return "", ""
	case map[string]interface{}:
		got, ok := actual.(map[string]interface{})
		if !ok {
			return path, fmt.Sprintf("want object, got %s", describe(actual))
		}
		keys := make([]string, 0, len(want))
		for k := range want {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := path + "." + k
			v, ok := got[k]
			if !ok {
				return child, "missing key"
			}
			if p, r := walk(child, want[k], v); r != "" {
				return p, r
			}
		}
		return "", ""
	case []interface{}:
		got, ok := actual.([]interface{})
		if !ok {
			return path, fmt.Sprintf("want list, got %s", describe(actual))
		}
		if len(want) != len(got) {
			return path, fmt.Sprintf("want %d elements, got %d", len(want), len(got))
		}
		for i := range want {
			if p, r := walk(path+"["+strconv.Itoa(i)+"]", want[i], got[i]); r != "" {
				return p, r
			}
		}
		return "", ""
	case nil:
		if actual != nil {
			return path, fmt.Sprintf("want null, got %s", describe(actual))
		}
		return "", ""
	}

	if wf, ok := toFloat(expected); ok {
		gf, ok := toFloat(actual)
		if !ok || wf != gf {
			return path, fmt.Sprintf("want %v, got %s", expected, describe(actual))
		}
		return "", ""
	}
	if !reflect.DeepEqual(expected, actual) {
		return path, fmt.Sprintf("want %#v, got %s", expected, describe(actual))
	}
	return "", ""
}

func describe(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "list"
	}
	return fmt.Sprintf("%#v", v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// render replaces matchers with their descriptions so the tree can be diffed.
func render(v interface{}) interface{} {
	switch t := v.(type) {
	case Matcher:
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = render(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = render(e)
		}
		return out
	}
	return v
}

// Compile turns a decoded expectation (from YAML or JSON) into a tree Shape
// understands. A mapping with the single key "$any" becomes Any of the named kind.
func Compile(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		if kind, ok := t["$any"]; ok {
			if len(t) != 1 {
				return nil, errors.Errorf("$any must be the only key of its mapping")
			}
			k, _ := kind.(string)
			switch Kind(k) {
			case String, Number, Bool, Object, Array:
				return Any(Kind(k)), nil
			}
			return nil, errors.Errorf("unknown kind %v for $any", kind)
		}
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			c, err := Compile(e)
			if err != nil {
				return nil, errors.Wrapf(err, "at %s", k)
			}
			out[k] = c
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			c, err := Compile(e)
			if err != nil {
				return nil, errors.Wrapf(err, "at [%d]", i)
			}
			out[i] = c
		}
		return out, nil
	}
	return v, nil
}
