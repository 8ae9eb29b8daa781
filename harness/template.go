/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package harness

import (
	"regexp"

	"github.com/pkg/errors"

	"github.com/afreakk/tenantgraph/later"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expand returns a copy of v with every ${key} replaced by the stored value.
func expand(v interface{}, values *later.Values[string]) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return expandString(t, values)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			ex, err := expand(e, values)
			if err != nil {
				return nil, errors.Wrapf(err, "at %s", k)
			}
			out[k] = ex
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			ex, err := expand(e, values)
			if err != nil {
				return nil, errors.Wrapf(err, "at [%d]", i)
			}
			out[i] = ex
		}
		return out, nil
	}
	return v, nil
}

func expandString(s string, values *later.Values[string]) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		val, err := values.Get(key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func expandVariables(vars map[string]interface{},
	values *later.Values[string]) (map[string]interface{}, error) {

	if vars == nil {
		return nil, nil
	}
	ex, err := expand(vars, values)
	if err != nil {
		return nil, err
	}
	return ex.(map[string]interface{}), nil
}
