/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package dgraphapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/afreakk/tenantgraph/x"
)

const (
	accessTokenHeader  = "X-Dgraph-AccessToken"
	waitDurBeforeRetry = time.Second
	maxSchemaRetries   = 10
)

var retryableUpdateGQLSchemaErrors = []string{
	"errIndexingInProgress",
	"is already running",
	"retry again, server is not ready", // given by Dgraph while applying the snapshot
	"Unavailable: Server not ready",    // given by GraphQL layer, during init on admin server
}

// GraphQLParams are used for making graphql requests to dgraph
type GraphQLParams struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

type GraphQLResponse struct {
	Data       json.RawMessage        `json:"data,omitempty"`
	Errors     x.GqlErrorList         `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

type GqlSchema struct {
	Id              string
	Schema          string
	GeneratedSchema string
}

type ProbeGraphQLResp struct {
	Healthy             bool `json:"-"`
	Status              string
	SchemaUpdateCounter uint64
}

// HTTPClient allows doing operations on Dgraph over http
type HTTPClient struct {
	// AccessJwt is sent on admin requests once logged in.
	AccessJwt string

	adminURL   string
	graphqlURL string
	probeURL   string
	client     *http.Client
}

// NewHTTPClient returns a client for the alpha serving HTTP on alphaAddr (host:port).
func NewHTTPClient(alphaAddr string, timeout time.Duration) *HTTPClient {
	base := alphaAddr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	base = strings.TrimSuffix(base, "/")
	return &HTTPClient{
		adminURL:   base + "/admin",
		graphqlURL: base + "/graphql",
		probeURL:   base + "/probe/graphql",
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (hc *HTTPClient) doReq(req *http.Request) ([]byte, int, error) {
	resp, err := hc.client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "error performing HTTP request")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			glog.Warningf("error closing response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrapf(err, "error reading response body: url: [%v]", req.URL)
	}
	return respBody, resp.StatusCode, nil
}

// doPost makes a post request to the 'url' endpoint
func (hc *HTTPClient) doPost(ctx context.Context, body []byte, url string,
	header http.Header) ([]byte, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.Wrapf(err, "error building req for endpoint [%v]", url)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := hc.doReq(req)
	if err != nil {
		return nil, err
	}
	// GraphQL errors come back with a 200; anything else is a transport problem,
	// except a 400 that still carries a GraphQL error list.
	if status != http.StatusOK && status != http.StatusBadRequest {
		return nil, errors.Errorf("got non 200 resp: %v", string(respBody))
	}
	return respBody, nil
}

// Execute sends params to the /graphql endpoint with the given extra headers.
// GraphQL errors are returned in the response, not as an error.
func (hc *HTTPClient) Execute(ctx context.Context, params GraphQLParams,
	header http.Header) (*GraphQLResponse, error) {

	return hc.run(ctx, params, header, hc.graphqlURL, "graphql")
}

func (hc *HTTPClient) run(ctx context.Context, params GraphQLParams, header http.Header,
	url, endpoint string) (*GraphQLResponse, error) {

	reqBody, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "error while marshalling params")
	}
	glog.V(3).Infof("POST %s: %s", url, reqBody)

	respBody, err := hc.doPost(ctx, reqBody, url, header)
	x.RecordRequest(ctx, endpoint, err)
	if err != nil {
		return nil, errors.Wrap(err, "error while running graphql query")
	}
	glog.V(3).Infof("Response from %s: %s", url, respBody)

	var gqlResp GraphQLResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling GQL response")
	}
	return &gqlResp, nil
}

// RunAdminQuery makes a request to the /admin endpoint and turns GraphQL errors
// into an error.
func (hc *HTTPClient) RunAdminQuery(ctx context.Context, params GraphQLParams) ([]byte, error) {
	header := make(http.Header)
	if hc.AccessJwt != "" {
		header.Set(accessTokenHeader, hc.AccessJwt)
	}
	gqlResp, err := hc.run(ctx, params, header, hc.adminURL, "admin")
	if err != nil {
		return nil, err
	}
	if len(gqlResp.Errors) > 0 {
		return nil, errors.Wrapf(gqlResp.Errors, "error while running admin query, resp: %v",
			string(gqlResp.Data))
	}
	return gqlResp.Data, nil
}

// Login logs into the root namespace. The access JWT is kept for admin requests.
func (hc *HTTPClient) Login(ctx context.Context, user, password string) error {
	q := `mutation login($userId: String, $password: String) {
		login(userId: $userId, password: $password) {
			response {
				accessJWT
				refreshJWT
			}
		}
	}`
	params := GraphQLParams{
		Query: q,
		Variables: map[string]interface{}{
			"userId":   user,
			"password": password,
		},
	}
	resp, err := hc.RunAdminQuery(ctx, params)
	if err != nil {
		return err
	}
	var r struct {
		Login struct {
			Response struct {
				AccessJWT  string
				RefreshJwt string
			}
		}
	}
	if err := json.Unmarshal(resp, &r); err != nil {
		return errors.Wrap(err, "error unmarshalling response into object")
	}
	if r.Login.Response.AccessJWT == "" {
		return errors.Errorf("no access JWT found in the response")
	}
	hc.AccessJwt = r.Login.Response.AccessJWT
	return nil
}

// UpdateGQLSchema updates the GraphQL schema, retrying while the cluster reports
// a retryable error.
func (hc *HTTPClient) UpdateGQLSchema(ctx context.Context, sch string) (*GqlSchema, error) {
	const query = `mutation updateGQLSchema($sch: String!) {
		updateGQLSchema(input: { set: { schema: $sch }}) {
			gqlSchema {
				id
				schema
			}
		}
	}`
	params := GraphQLParams{
		Query:     query,
		Variables: map[string]interface{}{"sch": sch},
	}

	var resp []byte
	var err error
	for i := 0; i < maxSchemaRetries; i++ {
		resp, err = hc.RunAdminQuery(ctx, params)
		if err == nil || !containsRetryableUpdateGQLSchemaError(err.Error()) {
			break
		}
		glog.Warningf("Got error while updateGQLSchema: %v. Retrying...", err)
		if err := sleep(ctx, waitDurBeforeRetry); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	var updateResult struct {
		UpdateGQLSchema struct {
			GqlSchema *GqlSchema
		}
	}
	if err := json.Unmarshal(resp, &updateResult); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal updateGQLSchema response")
	}
	if updateResult.UpdateGQLSchema.GqlSchema == nil {
		return nil, errors.Errorf("updateGQLSchema returned no schema")
	}
	return updateResult.UpdateGQLSchema.GqlSchema, nil
}

// GetGQLSchema returns the GraphQL schema the cluster currently serves.
func (hc *HTTPClient) GetGQLSchema(ctx context.Context) (*GqlSchema, error) {
	const query = `query {
		getGQLSchema {
			id
			schema
			generatedSchema
		}
	}`
	resp, err := hc.RunAdminQuery(ctx, GraphQLParams{Query: query})
	if err != nil {
		return nil, err
	}
	var r struct {
		GetGQLSchema *GqlSchema
	}
	if err := json.Unmarshal(resp, &r); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal getGQLSchema response")
	}
	if r.GetGQLSchema == nil {
		return &GqlSchema{}, nil
	}
	return r.GetGQLSchema, nil
}

func containsRetryableUpdateGQLSchemaError(str string) bool {
	for _, retryableErr := range retryableUpdateGQLSchemaErrors {
		if strings.Contains(str, retryableErr) {
			return true
		}
	}
	return false
}

// ProbeGraphQL reads the health of the GraphQL layer.
func (hc *HTTPClient) ProbeGraphQL(ctx context.Context) (*ProbeGraphQLResp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.probeURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "error building req for endpoint [%v]", hc.probeURL)
	}
	body, status, err := hc.doReq(req)
	if err != nil {
		return nil, err
	}

	probeResp := ProbeGraphQLResp{Healthy: status == http.StatusOK}
	if err := json.Unmarshal(body, &probeResp); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling probe response")
	}
	return &probeResp, nil
}

// WaitForSchemaUpdate returns once the GraphQL layer is healthy and has seen a
// schema update after oldCounter, so requests are served with the new schema.
func (hc *HTTPClient) WaitForSchemaUpdate(ctx context.Context, oldCounter uint64) error {
	for i := 0; i < maxSchemaRetries; i++ {
		resp, err := hc.ProbeGraphQL(ctx)
		if err == nil && resp.Healthy && resp.SchemaUpdateCounter > oldCounter {
			return nil
		}
		if err != nil {
			glog.V(2).Infof("Probe failed: %v", err)
		}
		if err := sleep(ctx, waitDurBeforeRetry); err != nil {
			return err
		}
	}
	return errors.Errorf("GraphQL layer did not pick up the schema update after %d probes",
		maxSchemaRetries)
}

// ApplySchema updates the GraphQL schema and waits until it is served. A schema
// the cluster already serves is left alone.
func (hc *HTTPClient) ApplySchema(ctx context.Context, sch string) (*GqlSchema, error) {
	if cur, err := hc.GetGQLSchema(ctx); err != nil {
		glog.V(2).Infof("Could not read the current GraphQL schema: %v", err)
	} else if cur.Schema == sch {
		glog.Infof("GraphQL schema %s is already served", cur.Id)
		return cur, nil
	}
	var oldCounter uint64
	if resp, err := hc.ProbeGraphQL(ctx); err == nil {
		oldCounter = resp.SchemaUpdateCounter
	}
	gqlSchema, err := hc.UpdateGQLSchema(ctx, sch)
	if err != nil {
		return nil, err
	}
	if err := hc.WaitForSchemaUpdate(ctx, oldCounter); err != nil {
		return nil, err
	}
	glog.Infof("Applied GraphQL schema %s", gqlSchema.Id)
	return gqlSchema, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
