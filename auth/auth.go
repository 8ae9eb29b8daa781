/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

// Package auth turns the per-request jwt context object ({id, roles}) into a
// signed token the GraphQL layer verifies against the schema's
// "# Dgraph.Authorization" line.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	authLinePrefix = "# Dgraph.Authorization"

	HMAC256 = "HS256"
	RSA256  = "RS256"
)

var (
	// ErrNoMeta is returned when a schema carries no authorization line.
	ErrNoMeta = errors.New("schema has no Dgraph.Authorization line")
	// ErrNoUser is returned by UserIDFromContext when the context carries no jwt.
	ErrNoUser = errors.New("no jwt in context")
)

// Meta is the JSON object of the "# Dgraph.Authorization" line.
type Meta struct {
	VerificationKey string   `json:"VerificationKey"`
	Header          string   `json:"Header"`
	Namespace       string   `json:"Namespace"`
	Algo            string   `json:"Algo"`
	Audience        []string `json:"Audience,omitempty"`
	ClosedByDefault bool     `json:"ClosedByDefault"`

	// privateKey signs RS256 tokens. It never appears in the schema.
	privateKey []byte
}

// ParseMeta extracts the authorization metadata from the last
// "# Dgraph.Authorization" line of schema.
func ParseMeta(schema string) (*Meta, error) {
	idx := strings.LastIndex(schema, authLinePrefix)
	if idx == -1 {
		return nil, ErrNoMeta
	}
	line := schema[idx+len(authLinePrefix):]
	if nl := strings.IndexByte(line, '\n'); nl != -1 {
		line = line[:nl]
	}

	var meta Meta
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &meta); err != nil {
		return nil, errors.Wrapf(err, "while parsing jwt authorization info")
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *Meta) validate() error {
	switch {
	case m.Header == "":
		return errors.Errorf("required field missing in Dgraph.Authorization: `Header`")
	case m.Namespace == "":
		return errors.Errorf("required field missing in Dgraph.Authorization: `Namespace`")
	case m.Algo != HMAC256 && m.Algo != RSA256:
		return errors.Errorf(
			"invalid jwt algorithm: found %s, but supported options are HS256 or RS256", m.Algo)
	}
	return nil
}

// WithVerificationKey returns a copy of m using key, for schemas that keep a
// placeholder key on disk.
func (m *Meta) WithVerificationKey(key string) *Meta {
	cp := *m
	cp.VerificationKey = key
	return &cp
}

// WithPrivateKey returns a copy of m that signs RS256 tokens with the PEM encoded key.
func (m *Meta) WithPrivateKey(pem []byte) *Meta {
	cp := *m
	cp.privateKey = pem
	return &cp
}

// Line renders m as a schema authorization line.
func (m *Meta) Line() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "while marshalling authorization info")
	}
	return authLinePrefix + " " + string(b), nil
}

// ApplyTo returns schema with its authorization line replaced by m, or with m
// appended when schema has none.
func (m *Meta) ApplyTo(schema string) (string, error) {
	line, err := m.Line()
	if err != nil {
		return "", err
	}
	idx := strings.LastIndex(schema, authLinePrefix)
	if idx == -1 {
		if !strings.HasSuffix(schema, "\n") {
			schema += "\n"
		}
		return schema + line + "\n", nil
	}
	rest := schema[idx:]
	tail := ""
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		tail = rest[nl:]
	}
	return schema[:idx] + line + tail, nil
}

// JWT is the authorization context of one request. Its fields become the claims
// under the Meta namespace and are visible to @auth rules as $id and $roles.
type JWT struct {
	ID    string   `json:"id" yaml:"id"`
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

func (j *JWT) vars() map[string]interface{} {
	vars := map[string]interface{}{"id": j.ID}
	if len(j.Roles) > 0 {
		vars["roles"] = j.Roles
	}
	return vars
}

type customClaims struct {
	Namespace     string
	AuthVariables map[string]interface{}
	jwt.RegisteredClaims
}

func (c customClaims) MarshalJSON() ([]byte, error) {
	m, err := json.Marshal(c.RegisteredClaims)
	if err != nil {
		return nil, err
	}
	var b map[string]interface{}
	if err := json.Unmarshal(m, &b); err != nil {
		return nil, errors.Wrap(err, "while marshalling custom claim json")
	}
	if b == nil {
		b = make(map[string]interface{})
	}
	b[c.Namespace] = c.AuthVariables
	return json.Marshal(b)
}

// Sign returns a token carrying j. A non-positive expireAfter produces a token
// without expiry.
func (m *Meta) Sign(j *JWT, expireAfter time.Duration) (string, error) {
	if j == nil {
		return "", errors.Errorf("nil jwt")
	}
	claims := customClaims{
		Namespace:     m.Namespace,
		AuthVariables: j.vars(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "tenantgraph",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if len(m.Audience) > 0 {
		claims.Audience = jwt.ClaimStrings(m.Audience)
	}
	if expireAfter > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(expireAfter))
	}

	switch m.Algo {
	case HMAC256:
		if m.VerificationKey == "" {
			return "", errors.Errorf("empty verification key for %s", HMAC256)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		s, err := token.SignedString([]byte(m.VerificationKey))
		return s, errors.Wrap(err, "while signing jwt")
	case RSA256:
		if len(m.privateKey) == 0 {
			return "", errors.Errorf("no private key to sign %s tokens", RSA256)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(m.privateKey)
		if err != nil {
			return "", errors.Wrap(err, "unable to parse private key")
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		s, err := token.SignedString(key)
		return s, errors.Wrap(err, "while signing jwt")
	}
	return "", errors.Errorf("unsupported jwt algorithm %q", m.Algo)
}

// HTTPHeader returns the HTTP header carrying a token for j. A nil j yields an
// empty header, i.e. an anonymous request.
func (m *Meta) HTTPHeader(j *JWT, expireAfter time.Duration) (http.Header, error) {
	h := make(http.Header)
	if j == nil {
		return h, nil
	}
	token, err := m.Sign(j, expireAfter)
	if err != nil {
		return nil, err
	}
	h.Set(m.Header, token)
	return h, nil
}

// Verify parses an HS256 token signed for m and returns its jwt context.
func (m *Meta) Verify(token string) (*JWT, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.Algo {
			return nil, errors.Errorf("unexpected signing method in token: %v", t.Header["alg"])
		}
		if m.Algo != HMAC256 {
			return nil, errors.Errorf("only %s tokens can be verified", HMAC256)
		}
		return []byte(m.VerificationKey), nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse jwt token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.Errorf("claims in jwt token is not map claims")
	}
	ns, ok := claims[m.Namespace].(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("no claims under namespace %q", m.Namespace)
	}

	var j JWT
	j.ID, _ = ns["id"].(string)
	if roles, ok := ns["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				j.Roles = append(j.Roles, s)
			}
		}
	}
	return &j, nil
}

type ctxKey struct{}

// NewContext returns ctx carrying j.
func NewContext(ctx context.Context, j *JWT) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the jwt carried by ctx.
func FromContext(ctx context.Context) (*JWT, bool) {
	j, ok := ctx.Value(ctxKey{}).(*JWT)
	return j, ok && j != nil
}

// UserIDFunc resolves the current user id from the request context.
type UserIDFunc func(ctx context.Context) (string, error)

// UserIDFromContext is the default UserIDFunc. It reads the id of the jwt
// carried by ctx.
func UserIDFromContext(ctx context.Context) (string, error) {
	j, ok := FromContext(ctx)
	if !ok || j.ID == "" {
		return "", ErrNoUser
	}
	return j.ID, nil
}

// StaticUserID returns a UserIDFunc that always resolves to id.
func StaticUserID(id string) UserIDFunc {
	return func(context.Context) (string, error) {
		return id, nil
	}
}
