/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package match

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) interface{} {
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

const addTenantResp = `{
	"addTenant": {
		"numUids": 5,
		"tenant": [{
			"id": "0x2711",
			"admins": [{"userId": "k3j9a", "id": "0x2712"}]
		}]
	}
}`

func TestShapeIgnoresExtraKeys(t *testing.T) {
	want := map[string]interface{}{
		"addTenant": map[string]interface{}{
			"tenant": []interface{}{
				map[string]interface{}{
					"id":     Any(String),
					"admins": []interface{}{map[string]interface{}{"userId": "k3j9a"}},
				},
			},
		},
	}
	require.NoError(t, Shape(want, decode(t, addTenantResp)))
}

func TestShapeMismatch(t *testing.T) {
	tests := []struct {
		name string
		want interface{}
		path string
	}{
		{
			name: "wrong scalar",
			want: map[string]interface{}{"addTenant": map[string]interface{}{
				"tenant": []interface{}{map[string]interface{}{
					"admins": []interface{}{map[string]interface{}{"userId": "other"}},
				}}}},
			path: "$.addTenant.tenant[0].admins[0].userId",
		},
		{
			name: "missing key",
			want: map[string]interface{}{"addLol": nil},
			path: "$.addLol",
		},
		{
			name: "list length",
			want: map[string]interface{}{"addTenant": map[string]interface{}{
				"tenant": []interface{}{}}},
			path: "$.addTenant.tenant",
		},
		{
			name: "any kind",
			want: map[string]interface{}{"addTenant": map[string]interface{}{
				"numUids": Any(String)}},
			path: "$.addTenant.numUids",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Shape(tc.want, decode(t, addTenantResp))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMismatch))
			var m *Mismatch
			require.True(t, errors.As(err, &m))
			require.Equal(t, tc.path, m.Path)
		})
	}
}

func TestShapeNumbers(t *testing.T) {
	want := map[string]interface{}{"addTenant": map[string]interface{}{"numUids": 5}}
	require.NoError(t, Shape(want, decode(t, addTenantResp)))
}

func TestAnyRejectsNull(t *testing.T) {
	require.Error(t, Shape(Any(String), nil))
	require.NoError(t, Shape(Any(Array), []interface{}{}))
	require.NoError(t, Shape(Any(Number), float64(1)))
}

func TestCompile(t *testing.T) {
	raw := decode(t, `{"tenant": [{"id": {"$any": "string"}, "name": "lambo"}]}`)
	compiled, err := Compile(raw)
	require.NoError(t, err)

	ok := decode(t, `{"tenant": [{"id": "0x1", "name": "lambo"}]}`)
	require.NoError(t, Shape(compiled, ok))
	bad := decode(t, `{"tenant": [{"id": 1, "name": "lambo"}]}`)
	require.Error(t, Shape(compiled, bad))

	_, err = Compile(decode(t, `{"id": {"$any": "uuid"}}`))
	require.Error(t, err)
	_, err = Compile(decode(t, `{"id": {"$any": "string", "x": 1}}`))
	require.Error(t, err)
}
