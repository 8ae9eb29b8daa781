/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

// Package harness runs ordered GraphQL scenarios against a schema-generated API.
// Steps pass values to later steps through a later.Values store, and each
// response is checked against a partial expected shape.
package harness

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/afreakk/tenantgraph/auth"
	"github.com/afreakk/tenantgraph/dgraphapi"
	"github.com/afreakk/tenantgraph/gqlschema"
	"github.com/afreakk/tenantgraph/later"
	"github.com/afreakk/tenantgraph/match"
	"github.com/afreakk/tenantgraph/x"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Took     time.Duration
	Response *dgraphapi.GraphQLResponse
	Err      error
}

// Result is the outcome of one scenario. Steps after a failed one are not run.
type Result struct {
	Scenario string
	UserID   string
	Steps    []StepResult
	Values   *later.Values[string]
	Err      error
}

// Failed reports whether the scenario failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// Runner executes scenarios in order, never concurrently: they share one store.
type Runner struct {
	Exec Executor
	// DB is wiped and given the schema by Prepare. May be nil when the store is
	// managed elsewhere.
	DB Database
	// Schema, when set, is applied by Prepare and used to check every operation
	// before it is sent.
	Schema *gqlschema.Schema
	// UserID is the context callback resolving the current user id for steps
	// without an explicit jwt id. Defaults to auth.UserIDFromContext.
	UserID auth.UserIDFunc
	// NewUserID generates the per scenario user id. Defaults to NewUserID.
	NewUserID func() string
}

// NewUserID returns a short random user id.
func NewUserID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
}

// Prepare wipes the store and applies the schema.
func (r *Runner) Prepare(ctx context.Context) error {
	if r.DB == nil {
		return nil
	}
	if err := r.DB.Wipe(ctx); err != nil {
		return errors.Wrap(err, "while wiping the store")
	}
	if r.Schema == nil {
		return nil
	}
	return errors.Wrap(r.DB.ApplySchema(ctx, r.Schema.Source), "while applying the schema")
}

// Run prepares the store once and runs every scenario.
func (r *Runner) Run(ctx context.Context, scenarios []*Scenario) ([]*Result, error) {
	if err := r.Prepare(ctx); err != nil {
		return nil, err
	}
	results := make([]*Result, 0, len(scenarios))
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.RunScenario(ctx, sc)
		if res.Failed() {
			glog.Errorf("Scenario %q failed: %v", sc.Name, res.Err)
		} else {
			glog.Infof("Scenario %q passed", sc.Name)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunScenario runs the steps of sc in order with a fresh value store.
func (r *Runner) RunScenario(ctx context.Context, sc *Scenario) *Result {
	ctx, span := x.Tracer().Start(ctx, "scenario")
	span.SetAttributes(attribute.String("scenario", sc.Name))
	defer span.End()

	res := &Result{Scenario: sc.Name, Values: later.New[string]()}
	if err := sc.Validate(); err != nil {
		res.Err = err
		return res
	}
	if sc.Fresh && r.DB != nil {
		if err := r.DB.Wipe(ctx); err != nil {
			res.Err = errors.Wrap(err, "while wiping the store")
			return res
		}
	}

	newID := r.NewUserID
	if newID == nil {
		newID = NewUserID
	}
	res.UserID = newID()
	res.Values.Set(UserIDKey, res.UserID)
	ctx = auth.NewContext(ctx, &auth.JWT{ID: res.UserID})

	for i := range sc.Steps {
		st := &sc.Steps[i]
		start := time.Now()
		resp, err := r.runStep(ctx, st, res.Values)
		took := time.Since(start)
		x.RecordStep(ctx, sc.Name, took, err)

		res.Steps = append(res.Steps, StepResult{Name: st.Name, Took: took, Response: resp, Err: err})
		if err != nil {
			res.Err = errors.Wrapf(err, "step %q", st.Name)
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "scenario failed")
			return res
		}
		glog.V(1).Infof("Scenario %q: step %q passed in %s", sc.Name, st.Name, took)
	}
	return res
}

func (r *Runner) runStep(ctx context.Context, st *Step,
	values *later.Values[string]) (*dgraphapi.GraphQLResponse, error) {

	ctx, span := x.Tracer().Start(ctx, "step")
	span.SetAttributes(attribute.String("step", st.Name))
	defer span.End()

	op, err := gqlschema.ParseOperation(st.Query, st.OperationName)
	if err != nil {
		return nil, err
	}
	if r.Schema != nil {
		if err := r.Schema.Check(op); err != nil {
			return nil, err
		}
	}

	vars, err := expandVariables(st.Variables, values)
	if err != nil {
		return nil, errors.Wrap(err, "while filling variables")
	}
	jwt, err := r.resolveJWT(ctx, st, values)
	if err != nil {
		return nil, err
	}

	resp, err := r.Exec.Execute(ctx, Operation{
		Name:      st.OperationName,
		Query:     st.Query,
		Variables: vars,
	}, Context{JWT: jwt})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if st.ExpectError != "" {
		if len(resp.Errors) == 0 {
			return resp, errors.Errorf("expected an error containing %q, got none", st.ExpectError)
		}
		if !resp.Errors.Contains(st.ExpectError) {
			return resp, errors.Errorf("expected an error containing %q, got: %v",
				st.ExpectError, resp.Errors)
		}
		return resp, nil
	}
	if len(resp.Errors) > 0 {
		return resp, errors.Wrap(resp.Errors, "response carries GraphQL errors")
	}

	if st.Expect != nil {
		if err := checkExpect(st.Expect, resp.Data, values); err != nil {
			return resp, err
		}
	}
	return resp, capture(st.Capture, resp.Data, values)
}

func (r *Runner) resolveJWT(ctx context.Context, st *Step,
	values *later.Values[string]) (*auth.JWT, error) {

	if st.Anonymous {
		return nil, nil
	}
	jwt := &auth.JWT{}
	if st.JWT != nil {
		id, err := expandString(st.JWT.ID, values)
		if err != nil {
			return nil, errors.Wrap(err, "while filling jwt id")
		}
		jwt.ID = id
		for _, role := range st.JWT.Roles {
			role, err := expandString(role, values)
			if err != nil {
				return nil, errors.Wrap(err, "while filling jwt roles")
			}
			jwt.Roles = append(jwt.Roles, role)
		}
	}
	if jwt.ID == "" {
		userID := r.UserID
		if userID == nil {
			userID = auth.UserIDFromContext
		}
		id, err := userID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "while resolving the current user id")
		}
		jwt.ID = id
	}
	return jwt, nil
}

func checkExpect(expect interface{}, data json.RawMessage, values *later.Values[string]) error {
	want, err := expand(expect, values)
	if err != nil {
		return errors.Wrap(err, "while filling expectation")
	}
	if want, err = match.Compile(want); err != nil {
		return errors.Wrap(err, "while compiling expectation")
	}
	var got interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &got); err != nil {
			return errors.Wrap(err, "error unmarshalling data")
		}
	}
	return match.Shape(want, got)
}

func capture(paths map[string]string, data json.RawMessage, values *later.Values[string]) error {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	captured := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		p := paths[key]
		res := gjson.GetBytes(data, p)
		if !res.Exists() {
			return errors.Errorf("capture %s: nothing at %q", key, p)
		}
		captured[key] = res.Value()
	}
	// All or nothing: a bad value leaves the store as it was.
	if err := values.SetAll(captured); err != nil {
		return errors.Wrap(err, "while capturing")
	}
	for _, key := range keys {
		glog.V(2).Infof("Captured %s = %v", key, captured[key])
	}
	return nil
}
