/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

// Package scenarios embeds the scenarios run by default against the tenant model.
package scenarios

import (
	"embed"

	"github.com/afreakk/tenantgraph/harness"
)

//go:embed *.yaml
var files embed.FS

// Builtin returns the embedded scenarios in file name order.
func Builtin() ([]*harness.Scenario, error) {
	return harness.LoadScenarios(files, "*.yaml")
}

// Select returns the scenarios whose names are in names, in the order of all.
// An empty names selects everything.
func Select(all []*harness.Scenario, names []string) []*harness.Scenario {
	if len(names) == 0 {
		return all
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*harness.Scenario
	for _, sc := range all {
		if want[sc.Name] {
			out = append(out, sc)
		}
	}
	return out
}
