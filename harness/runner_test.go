/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package harness

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/afreakk/tenantgraph/auth"
	"github.com/afreakk/tenantgraph/dgraphapi"
	"github.com/afreakk/tenantgraph/gqlschema"
	"github.com/afreakk/tenantgraph/later"
	"github.com/afreakk/tenantgraph/match"
	"github.com/afreakk/tenantgraph/x"
)

type call struct {
	op Operation
	rc Context
}

// fakeExec answers every operation with the next canned response.
type fakeExec struct {
	calls     []call
	responses []string
	err       error
}

func (f *fakeExec) Execute(_ context.Context, op Operation,
	rc Context) (*dgraphapi.GraphQLResponse, error) {

	f.calls = append(f.calls, call{op: op, rc: rc})
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &dgraphapi.GraphQLResponse{Data: json.RawMessage(`{}`)}, nil
	}
	var resp dgraphapi.GraphQLResponse
	if err := json.Unmarshal([]byte(f.responses[0]), &resp); err != nil {
		return nil, err
	}
	f.responses = f.responses[1:]
	return &resp, nil
}

type fakeDB struct {
	wipes   int
	schemas []string
	wipeErr error
}

func (f *fakeDB) Wipe(context.Context) error {
	f.wipes++
	return f.wipeErr
}

func (f *fakeDB) ApplySchema(_ context.Context, sch string) error {
	f.schemas = append(f.schemas, sch)
	return nil
}

const addTenant = `mutation addTenant($input: [AddTenantInput!]!) {
	addTenant(input: $input) { tenant { id admins { userId } } }
}`

const addLol = `mutation addLol($input: [AddLolInput!]!) {
	addLol(input: $input) { lol { id } }
}`

func fixedID() string { return "abcde" }

func TestRunScenarioCapturesAcrossSteps(t *testing.T) {
	exec := &fakeExec{responses: []string{
		`{"data":{"addTenant":{"tenant":[{"id":"0x1","admins":[{"userId":"abcde"}]}]}}}`,
		`{"data":{"addLol":{"lol":[{"id":"0x2"}]}}}`,
	}}
	r := &Runner{Exec: exec, NewUserID: fixedID}
	sc := &Scenario{Name: "chain", Steps: []Step{
		{
			Name:      "tenant",
			Query:     addTenant,
			Variables: map[string]interface{}{"input": []interface{}{map[string]interface{}{}}},
			Expect: map[string]interface{}{
				"addTenant": map[string]interface{}{
					"tenant": []interface{}{map[string]interface{}{
						"id":     map[string]interface{}{"$any": "string"},
						"admins": []interface{}{map[string]interface{}{"userId": "${myUserId}"}},
					}},
				},
			},
			Capture: map[string]string{"tenantId": "addTenant.tenant.0.id"},
		},
		{
			Name:  "lol",
			Query: addLol,
			Variables: map[string]interface{}{"input": []interface{}{
				map[string]interface{}{"host": map[string]interface{}{"id": "${tenantId}"}},
			}},
		},
	}}

	res := r.RunScenario(context.Background(), sc)
	require.NoError(t, res.Err)
	require.Equal(t, "abcde", res.UserID)
	require.Len(t, res.Steps, 2)
	require.Equal(t, "0x1", res.Values.MustGet("tenantId"))

	require.Len(t, exec.calls, 2)
	input := exec.calls[1].op.Variables["input"].([]interface{})
	host := input[0].(map[string]interface{})["host"].(map[string]interface{})
	require.Equal(t, "0x1", host["id"])

	// The jwt id comes from the context callback.
	require.Equal(t, &auth.JWT{ID: "abcde"}, exec.calls[0].rc.JWT)
}

func TestMissingReferenceNeverReachesExecutor(t *testing.T) {
	exec := &fakeExec{}
	r := &Runner{Exec: exec, NewUserID: fixedID}
	sc := &Scenario{Name: "missing", Steps: []Step{{
		Name:  "lol",
		Query: addLol,
		Variables: map[string]interface{}{"input": []interface{}{
			map[string]interface{}{"host": map[string]interface{}{"id": "${tenantId}"}},
		}},
	}}}

	res := r.RunScenario(context.Background(), sc)
	require.True(t, res.Failed())
	require.ErrorIs(t, res.Err, later.ErrMissingKey)
	require.Empty(t, exec.calls)
}

func TestStopsAtFirstFailedStep(t *testing.T) {
	exec := &fakeExec{responses: []string{
		`{"errors":[{"message":"mutation failed because authorization failed"}]}`,
	}}
	r := &Runner{Exec: exec, NewUserID: fixedID}
	sc := &Scenario{Name: "stop", Steps: []Step{
		{Name: "one", Query: addLol},
		{Name: "two", Query: addLol},
	}}

	res := r.RunScenario(context.Background(), sc)
	require.True(t, res.Failed())
	require.Contains(t, res.Err.Error(), "authorization failed")
	require.Len(t, res.Steps, 1)
	require.Len(t, exec.calls, 1)
}

func TestExpectError(t *testing.T) {
	exec := &fakeExec{responses: []string{
		`{"errors":[{"message":"mutation failed because authorization failed"}]}`,
		`{"data":{"addLol":{"lol":[]}}}`,
		`{"errors":[{"message":"something else"}]}`,
	}}
	r := &Runner{Exec: exec, NewUserID: fixedID}

	ok := &Scenario{Name: "rejected", Steps: []Step{
		{Name: "denied", Query: addLol, ExpectError: "authorization failed"},
	}}
	require.NoError(t, r.RunScenario(context.Background(), ok).Err)

	noErr := &Scenario{Name: "accepted", Steps: []Step{
		{Name: "denied", Query: addLol, ExpectError: "authorization failed"},
	}}
	res := r.RunScenario(context.Background(), noErr)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "got none")

	other := &Scenario{Name: "other", Steps: []Step{
		{Name: "denied", Query: addLol, ExpectError: "authorization failed"},
	}}
	res = r.RunScenario(context.Background(), other)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "something else")
}

func TestExpectMismatch(t *testing.T) {
	exec := &fakeExec{responses: []string{
		`{"data":{"addTenant":{"tenant":[{"id":"0x1","admins":[{"userId":"other"}]}]}}}`,
	}}
	r := &Runner{Exec: exec, NewUserID: fixedID}
	sc := &Scenario{Name: "mismatch", Steps: []Step{{
		Name:  "tenant",
		Query: addTenant,
		Expect: map[string]interface{}{"addTenant": map[string]interface{}{
			"tenant": []interface{}{map[string]interface{}{
				"admins": []interface{}{map[string]interface{}{"userId": "${myUserId}"}},
			}},
		}},
	}}}

	res := r.RunScenario(context.Background(), sc)
	require.ErrorIs(t, res.Err, match.ErrMismatch)
}

func TestCaptureErrors(t *testing.T) {
	exec := &fakeExec{responses: []string{
		`{"data":{"addLol":{"lol":[{"id":"0x2","count":3}]}}}`,
		`{"data":{"addLol":{"lol":[]}}}`,
	}}
	r := &Runner{Exec: exec, NewUserID: fixedID}

	wrongType := &Scenario{Name: "type", Steps: []Step{{
		Name: "lol", Query: addLol,
		Capture: map[string]string{"count": "addLol.lol.0.count"},
	}}}
	res := r.RunScenario(context.Background(), wrongType)
	require.ErrorIs(t, res.Err, later.ErrTypeMismatch)
	require.False(t, res.Values.Has("count"))

	nothing := &Scenario{Name: "nothing", Steps: []Step{{
		Name: "lol", Query: addLol,
		Capture: map[string]string{"lolId": "addLol.lol.0.id"},
	}}}
	res = r.RunScenario(context.Background(), nothing)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "nothing at")
}

func TestResolveJWT(t *testing.T) {
	exec := &fakeExec{}
	r := &Runner{Exec: exec, NewUserID: fixedID, UserID: auth.StaticUserID("static")}
	sc := &Scenario{Name: "jwt", Steps: []Step{
		{Name: "callback", Query: addLol},
		{Name: "explicit", Query: addLol,
			JWT: &auth.JWT{ID: "${myUserId}", Roles: []string{"ADMIN"}}},
		{Name: "roles only", Query: addLol, JWT: &auth.JWT{Roles: []string{"ADMIN"}}},
		{Name: "anonymous", Query: addLol, Anonymous: true},
	}}

	res := r.RunScenario(context.Background(), sc)
	require.NoError(t, res.Err)
	require.Len(t, exec.calls, 4)
	require.Equal(t, &auth.JWT{ID: "static"}, exec.calls[0].rc.JWT)
	require.Equal(t, &auth.JWT{ID: "abcde", Roles: []string{"ADMIN"}}, exec.calls[1].rc.JWT)
	require.Equal(t, &auth.JWT{ID: "static", Roles: []string{"ADMIN"}}, exec.calls[2].rc.JWT)
	require.Nil(t, exec.calls[3].rc.JWT)
}

func TestUserIDCallbackError(t *testing.T) {
	exec := &fakeExec{}
	failing := func(context.Context) (string, error) { return "", auth.ErrNoUser }
	r := &Runner{Exec: exec, NewUserID: fixedID, UserID: failing}
	sc := &Scenario{Name: "nouser", Steps: []Step{{Name: "lol", Query: addLol}}}

	res := r.RunScenario(context.Background(), sc)
	require.ErrorIs(t, res.Err, auth.ErrNoUser)
	require.Empty(t, exec.calls)
}

func TestSchemaCheckRejectsUnknownField(t *testing.T) {
	sch, err := gqlschema.Load("../testdata/schema.graphql")
	require.NoError(t, err)

	exec := &fakeExec{}
	r := &Runner{Exec: exec, Schema: sch, NewUserID: fixedID}
	sc := &Scenario{Name: "casing", Steps: []Step{{
		Name:  "lols",
		Query: `mutation { createLOLs(input: []) { numUids } }`,
	}}}

	res := r.RunScenario(context.Background(), sc)
	require.Error(t, res.Err)
	require.Empty(t, exec.calls)

	syntax := &Scenario{Name: "syntax", Steps: []Step{{Name: "bad", Query: `mutation {`}}}
	res = r.RunScenario(context.Background(), syntax)
	require.Error(t, res.Err)
	require.Empty(t, exec.calls)
}

func TestRunPreparesOnce(t *testing.T) {
	sch, err := gqlschema.Load("../testdata/schema.graphql")
	require.NoError(t, err)

	db := &fakeDB{}
	exec := &fakeExec{}
	r := &Runner{Exec: exec, DB: db, Schema: sch, NewUserID: fixedID}
	results, err := r.Run(context.Background(), []*Scenario{
		{Name: "a", Steps: []Step{{Name: "s", Query: `query { queryTenant { id } }`}}},
		{Name: "b", Fresh: true, Steps: []Step{{Name: "s", Query: `query { queryLol { id } }`}}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.False(t, res.Failed(), "%s: %v", res.Scenario, res.Err)
	}
	require.Equal(t, 2, db.wipes)
	require.Equal(t, []string{sch.Source}, db.schemas)
}

func TestRunFailsWhenWipeFails(t *testing.T) {
	db := &fakeDB{wipeErr: errors.New("unavailable")}
	r := &Runner{Exec: &fakeExec{}, DB: db}
	_, err := r.Run(context.Background(), []*Scenario{
		{Name: "a", Steps: []Step{{Name: "s", Query: `query { queryTenant { id } }`}}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "while wiping the store")
}

func TestTransportErrorFailsStep(t *testing.T) {
	r := &Runner{Exec: &fakeExec{err: errors.New("connection refused")}, NewUserID: fixedID}
	res := r.RunScenario(context.Background(), &Scenario{Name: "down", Steps: []Step{
		{Name: "s", Query: addLol},
	}})
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "connection refused")
}

func TestNewUserID(t *testing.T) {
	id := NewUserID()
	require.Len(t, id, 5)
	require.NotEqual(t, id, NewUserID())
}

func TestDgraphExecutorSignsJWT(t *testing.T) {
	meta, err := auth.ParseMeta(`# Dgraph.Authorization {"VerificationKey":"secret",` +
		`"Header":"X-Test-Auth","Namespace":"https://example.com/claims","Algo":"HS256"}`)
	require.NoError(t, err)

	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("X-Test-Auth"))
		_, _ = w.Write([]byte(`{"data":{"queryTenant":[]}}`))
	}))
	defer srv.Close()

	e := &DgraphExecutor{Client: dgraphapi.NewHTTPClient(srv.URL, time.Second), Auth: meta}
	op := Operation{Query: `query { queryTenant { id } }`}

	_, err = e.Execute(context.Background(), op, Context{JWT: &auth.JWT{ID: "u1", Roles: []string{"ADMIN"}}})
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), op, Context{})
	require.NoError(t, err)

	require.Len(t, tokens, 2)
	got, err := meta.Verify(tokens[0])
	require.NoError(t, err)
	require.Equal(t, &auth.JWT{ID: "u1", Roles: []string{"ADMIN"}}, got)
	require.Empty(t, tokens[1])
}

func TestDgraphExecutorWithoutAuthMeta(t *testing.T) {
	e := &DgraphExecutor{Client: dgraphapi.NewHTTPClient("localhost:1", time.Second)}
	_, err := e.Execute(context.Background(), Operation{Query: `{ a }`},
		Context{JWT: &auth.JWT{ID: "u1"}})
	require.Error(t, err)
}

func TestResponseErrorsAreTyped(t *testing.T) {
	exec := &fakeExec{responses: []string{`{"errors":[{"message":"boom"}]}`}}
	r := &Runner{Exec: exec, NewUserID: fixedID}
	res := r.RunScenario(context.Background(), &Scenario{Name: "typed", Steps: []Step{
		{Name: "s", Query: addLol},
	}})
	var list x.GqlErrorList
	require.ErrorAs(t, res.Err, &list)
	require.True(t, list.Contains("boom"))
}

func TestCaptureLeavesStoreUntouchedOnMismatch(t *testing.T) {
	exec := &fakeExec{responses: []string{
		`{"data":{"addLol":{"lol":[{"id":"0x2","count":3}]}}}`,
	}}
	r := &Runner{Exec: exec, NewUserID: fixedID}
	sc := &Scenario{Name: "partial", Steps: []Step{{
		Name: "lol", Query: addLol,
		Capture: map[string]string{
			"a": "addLol.lol.0.id",
			"b": "addLol.lol.0.count",
		},
	}}}

	res := r.RunScenario(context.Background(), sc)
	require.ErrorIs(t, res.Err, later.ErrTypeMismatch)
	require.Equal(t, []string{UserIDKey}, res.Values.Keys())
}

func TestExpectWithExpectErrorIsRejected(t *testing.T) {
	exec := &fakeExec{}
	r := &Runner{Exec: exec, NewUserID: fixedID}
	res := r.RunScenario(context.Background(), &Scenario{Name: "both", Steps: []Step{{
		Name: "lol", Query: addLol, ExpectError: "authorization failed",
		Expect: map[string]interface{}{"addLol": nil},
	}}})
	require.Error(t, res.Err)
	require.Empty(t, exec.calls)
}
