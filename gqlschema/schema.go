/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

// Package gqlschema loads the GraphQL type definitions handed to the database and
// knows which API the database derives from them, so operations can be checked
// before they are sent.
package gqlschema

import (
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/dgraph-io/gqlparser/v2/parser"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/afreakk/tenantgraph/auth"
	"github.com/afreakk/tenantgraph/x"
)

// Field is a field of a declared type.
type Field struct {
	Name    string
	Type    string
	List    bool
	NonNull bool
}

// Type is an object or interface declared in the type definitions.
type Type struct {
	Name   string
	Fields []Field
}

// Field returns the named field, or nil.
func (t *Type) Field(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// Edge is a field whose type is another declared type.
type Edge struct {
	From  string
	Field string
	To    string
}

// Schema is a parsed type definitions file.
type Schema struct {
	Source string
	Auth   *auth.Meta
	Types  map[string]*Type
}

// Load reads path as UTF-8 and parses it.
func Load(path string) (*Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "while reading schema %s", path)
	}
	sch, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "while loading schema %s", path)
	}
	glog.V(2).Infof("Loaded schema %s with %d types", path, len(sch.Types))
	return sch, nil
}

// Parse parses the type definitions in b.
func Parse(b []byte) (*Schema, error) {
	if !utf8.Valid(b) {
		return nil, errors.Errorf("schema is not valid UTF-8")
	}
	src := string(b)
	doc, gqlErr := parser.ParseSchema(&ast.Source{Input: src})
	if gqlErr != nil {
		return nil, errors.Wrap(gqlErr, "while parsing schema")
	}

	sch := &Schema{Source: src, Types: make(map[string]*Type)}
	for _, defn := range doc.Definitions {
		if defn.Kind != ast.Object && defn.Kind != ast.Interface {
			continue
		}
		if _, ok := sch.Types[defn.Name]; ok {
			return nil, errors.Errorf("type %s is defined more than once", defn.Name)
		}
		typ := &Type{Name: defn.Name}
		for _, fd := range defn.Fields {
			typ.Fields = append(typ.Fields, Field{
				Name:    fd.Name,
				Type:    fd.Type.Name(),
				List:    fd.Type.Elem != nil,
				NonNull: fd.Type.NonNull,
			})
		}
		sch.Types[defn.Name] = typ
	}
	if len(sch.Types) == 0 {
		return nil, errors.Errorf("schema does not define any types")
	}

	meta, err := auth.ParseMeta(src)
	switch {
	case errors.Is(err, auth.ErrNoMeta):
		// Without the line every rule-free type is open and @auth rules are rejected
		// by the database; leave Auth nil.
	case err != nil:
		return nil, err
	default:
		sch.Auth = meta
	}
	return sch, nil
}

// Edges returns every field linking two declared types, sorted.
func (s *Schema) Edges() []Edge {
	var edges []Edge
	for _, typ := range s.Types {
		for _, f := range typ.Fields {
			if _, ok := s.Types[f.Type]; ok {
				edges = append(edges, Edge{From: typ.Name, Field: f.Name, To: f.Type})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].Field < edges[j].Field
	})
	return edges
}

// Require checks that every edge in want is declared.
func (s *Schema) Require(want []Edge) error {
	var missing []string
	for _, e := range want {
		from, ok := s.Types[e.From]
		if !ok {
			missing = append(missing, "type "+e.From)
			continue
		}
		f := from.Field(e.Field)
		if f == nil || f.Type != e.To {
			missing = append(missing, e.From+"."+e.Field+": "+e.To)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("schema is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// WithAuthKey returns a copy of s whose authorization line uses key.
func (s *Schema) WithAuthKey(key string) (*Schema, error) {
	if s.Auth == nil {
		return nil, errors.Errorf("schema has no authorization line to set a key on")
	}
	meta := s.Auth.WithVerificationKey(key)
	src, err := meta.ApplyTo(s.Source)
	if err != nil {
		return nil, err
	}
	cp := *s
	cp.Source = src
	cp.Auth = meta
	return &cp, nil
}

// TenantModel is the entity graph the scenarios assume.
var TenantModel = []Edge{
	{From: "Tenant", Field: "admins", To: "Admin"},
	{From: "Tenant", Field: "settings", To: "Settings"},
	{From: "Settings", Field: "openingDays", To: "OpeningDay"},
	{From: "Settings", Field: "workspace", To: "Workspace"},
	{From: "OpeningDay", Field: "settings", To: "Settings"},
	{From: "OpeningDay", Field: "open", To: "OpenSlot"},
	{From: "Lol", Field: "host", To: "Tenant"},
	{From: "Lol", Field: "openingDays", To: "OpeningDay"},
}

// LoadTenantSchema loads opts.SchemaPath, applies opts.AuthKey when set, and
// checks that the tenant model is declared.
func LoadTenantSchema(opts x.Options) (*Schema, error) {
	sch, err := Load(opts.SchemaPath)
	if err != nil {
		return nil, err
	}
	if len(opts.AuthKey) > 0 {
		if sch, err = sch.WithAuthKey(string(opts.AuthKey)); err != nil {
			return nil, err
		}
	}
	if err := sch.Require(TenantModel); err != nil {
		return nil, errors.Wrapf(err, "in %s", opts.SchemaPath)
	}
	return sch, nil
}
