/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const schema = `type Tenant {
	id: ID!
}
# Dgraph.Authorization {"VerificationKey":"secretkey","Header":"X-Tenantgraph-Auth","Namespace":"https://tenantgraph.dev/jwt/claims","Algo":"HS256","ClosedByDefault":false}
`

func TestParseMeta(t *testing.T) {
	meta, err := ParseMeta(schema)
	require.NoError(t, err)
	require.Equal(t, "secretkey", meta.VerificationKey)
	require.Equal(t, "X-Tenantgraph-Auth", meta.Header)
	require.Equal(t, "https://tenantgraph.dev/jwt/claims", meta.Namespace)
	require.Equal(t, HMAC256, meta.Algo)
	require.False(t, meta.ClosedByDefault)
}

func TestParseMetaErrors(t *testing.T) {
	_, err := ParseMeta("type Tenant { id: ID! }")
	require.True(t, errors.Is(err, ErrNoMeta))

	_, err = ParseMeta(`# Dgraph.Authorization {"Header":"X","Namespace":"ns","Algo":"ES256"}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid jwt algorithm")

	_, err = ParseMeta(`# Dgraph.Authorization {"Namespace":"ns","Algo":"HS256"}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "`Header`")

	_, err = ParseMeta(`# Dgraph.Authorization X-Test-Auth`)
	require.Error(t, err)
}

func TestApplyTo(t *testing.T) {
	meta, err := ParseMeta(schema)
	require.NoError(t, err)

	replaced, err := meta.WithVerificationKey("another").ApplyTo(schema)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(replaced, authLinePrefix))
	got, err := ParseMeta(replaced)
	require.NoError(t, err)
	require.Equal(t, "another", got.VerificationKey)
	require.True(t, strings.HasPrefix(replaced, "type Tenant {"))

	appended, err := meta.ApplyTo("type Tenant { id: ID! }")
	require.NoError(t, err)
	got, err = ParseMeta(appended)
	require.NoError(t, err)
	require.Equal(t, "secretkey", got.VerificationKey)
}

func TestSignAndVerify(t *testing.T) {
	meta, err := ParseMeta(schema)
	require.NoError(t, err)

	token, err := meta.Sign(&JWT{ID: "k3j9a", Roles: []string{"ADMIN"}}, time.Minute)
	require.NoError(t, err)

	j, err := meta.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "k3j9a", j.ID)
	require.Equal(t, []string{"ADMIN"}, j.Roles)

	_, err = meta.WithVerificationKey("wrong").Verify(token)
	require.Error(t, err)
}

func TestSignWithoutExpiry(t *testing.T) {
	meta, err := ParseMeta(schema)
	require.NoError(t, err)
	token, err := meta.Sign(&JWT{ID: "k3j9a"}, -1)
	require.NoError(t, err)
	// Non-positive expiry means no exp claim at all.
	j, err := meta.Verify(token)
	require.NoError(t, err)
	require.Nil(t, j.Roles)
}

func TestHTTPHeader(t *testing.T) {
	meta, err := ParseMeta(schema)
	require.NoError(t, err)

	h, err := meta.HTTPHeader(nil, time.Minute)
	require.NoError(t, err)
	require.Empty(t, h)

	h, err = meta.HTTPHeader(&JWT{ID: "k3j9a"}, time.Minute)
	require.NoError(t, err)
	require.Len(t, h, 1)

	// The token travels under the header named by the authorization line.
	token := h.Get(meta.Header)
	require.NotEmpty(t, token)
	j, err := meta.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "k3j9a", j.ID)
}

func TestRS256NeedsPrivateKey(t *testing.T) {
	meta := &Meta{Header: "X", Namespace: "ns", Algo: RSA256}
	_, err := meta.Sign(&JWT{ID: "a"}, time.Minute)
	require.Error(t, err)
	_, err = meta.WithPrivateKey([]byte("not a pem")).Sign(&JWT{ID: "a"}, time.Minute)
	require.Error(t, err)
}

func TestUserIDFromContext(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	require.True(t, errors.Is(err, ErrNoUser))

	ctx := NewContext(context.Background(), &JWT{ID: "k3j9a"})
	id, err := UserIDFromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, "k3j9a", id)

	id, err = StaticUserID("hi")(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hi", id)
}
