/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package harness

import (
	"io/fs"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/afreakk/tenantgraph/auth"
)

// UserIDKey is the key under which every scenario finds its generated user id.
const UserIDKey = "myUserId"

// Step is one GraphQL operation of a scenario.
//
// Strings of the form ${key} anywhere in Variables, JWT or Expect are replaced by
// the value stored under key before the step runs. A key that was never stored
// fails the step before anything is sent.
type Step struct {
	Name          string                 `yaml:"name"`
	Query         string                 `yaml:"query"`
	OperationName string                 `yaml:"operationName,omitempty"`
	Variables     map[string]interface{} `yaml:"variables,omitempty"`

	// JWT is the authorization context of the request. When nil the id is taken
	// from the runner's UserIDFunc; Anonymous sends no token at all.
	JWT       *auth.JWT `yaml:"jwt,omitempty"`
	Anonymous bool      `yaml:"anonymous,omitempty"`

	// Expect is the partial shape "data" must match. A mapping {$any: kind}
	// accepts any value of that kind.
	Expect interface{} `yaml:"expect,omitempty"`
	// ExpectError makes the step pass only if the response carries a GraphQL
	// error containing this text.
	ExpectError string `yaml:"expectError,omitempty"`

	// Capture stores values out of "data" for later steps: key -> gjson path.
	Capture map[string]string `yaml:"capture,omitempty"`
}

// Scenario is an ordered list of steps sharing one value store.
type Scenario struct {
	Name string `yaml:"name"`
	// Fresh wipes the store before the scenario, on top of the wipe done once per run.
	Fresh bool   `yaml:"fresh,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Validate checks the scenario is runnable.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return errors.Errorf("scenario has no name")
	}
	if len(sc.Steps) == 0 {
		return errors.Errorf("scenario %q has no steps", sc.Name)
	}
	for i, st := range sc.Steps {
		if st.Name == "" {
			return errors.Errorf("scenario %q: step %d has no name", sc.Name, i)
		}
		if st.Query == "" {
			return errors.Errorf("scenario %q: step %q has no query", sc.Name, st.Name)
		}
		if st.Anonymous && st.JWT != nil {
			return errors.Errorf("scenario %q: step %q is anonymous but sets a jwt",
				sc.Name, st.Name)
		}
		if st.ExpectError != "" && len(st.Capture) > 0 {
			return errors.Errorf("scenario %q: step %q expects an error but captures values",
				sc.Name, st.Name)
		}
		if st.ExpectError != "" && st.Expect != nil {
			return errors.Errorf("scenario %q: step %q expects both an error and data",
				sc.Name, st.Name)
		}
		if _, ok := st.Capture[UserIDKey]; ok {
			return errors.Errorf("scenario %q: step %q overwrites %s", sc.Name, st.Name, UserIDKey)
		}
	}
	return nil
}

// ParseScenario decodes one YAML scenario.
func ParseScenario(b []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, errors.Wrap(err, "while decoding scenario")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadScenarios decodes every file of fsys matching pattern, in file name order.
func LoadScenarios(fsys fs.FS, pattern string) ([]*Scenario, error) {
	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "bad pattern %q", pattern)
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no scenario matches %q", pattern)
	}
	sort.Strings(names)

	scenarios := make([]*Scenario, 0, len(names))
	seen := make(map[string]string)
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, errors.Wrapf(err, "while reading %s", name)
		}
		sc, err := ParseScenario(b)
		if err != nil {
			return nil, errors.Wrapf(err, "in %s", name)
		}
		if prev, ok := seen[sc.Name]; ok {
			return nil, errors.Errorf("scenario %q is defined in both %s and %s", sc.Name, prev, name)
		}
		seen[sc.Name] = name
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// LoadScenarioDir loads every *.yaml file of dir.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	return LoadScenarios(os.DirFS(dir), "*.yaml")
}
