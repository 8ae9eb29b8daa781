/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package gqlschema

import (
	"sort"
	"strings"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/dgraph-io/gqlparser/v2/parser"
	"github.com/pkg/errors"

	"github.com/afreakk/tenantgraph/x"
)

// Operation is what the harness needs to know about a parsed GraphQL document.
type Operation struct {
	Name string
	// Kind is "query", "mutation" or "subscription".
	Kind ast.Operation
	// RootFields are the top level fields selected, aliases resolved to field names.
	RootFields []string
}

// ParseOperation parses query and returns its single operation, or the one named
// operationName when the document holds several.
func ParseOperation(query, operationName string) (*Operation, error) {
	doc, gqlErr := parser.ParseQuery(&ast.Source{Input: query})
	if gqlErr != nil {
		return nil, errors.Wrap(gqlErr, "while parsing operation")
	}
	if len(doc.Operations) == 0 {
		return nil, errors.Errorf("document has no operation")
	}
	if len(doc.Operations) > 1 && operationName == "" {
		return nil, errors.Errorf("operation name is required for a document with %d operations",
			len(doc.Operations))
	}
	od := doc.Operations[0]
	if operationName != "" {
		od = doc.Operations.ForName(operationName)
		if od == nil {
			return nil, errors.Errorf("document has no operation named %q", operationName)
		}
	}

	op := &Operation{Name: od.Name, Kind: od.Operation}
	for _, sel := range od.SelectionSet {
		if f, ok := sel.(*ast.Field); ok {
			op.RootFields = append(op.RootFields, f.Name)
		}
	}
	return op, nil
}

// RootFields returns the query and mutation fields the database derives from the
// declared object types: get/query/aggregate and add/update/delete per type.
func (s *Schema) RootFields() map[ast.Operation][]string {
	fields := map[ast.Operation][]string{}
	for name := range s.Types {
		fields[ast.Query] = append(fields[ast.Query],
			"get"+name, "query"+name, "aggregate"+name)
		fields[ast.Mutation] = append(fields[ast.Mutation],
			"add"+name, "update"+name, "delete"+name)
	}
	for _, v := range fields {
		sort.Strings(v)
	}
	return fields
}

// Check verifies that every root field of op exists in the API derived from s.
func (s *Schema) Check(op *Operation) error {
	known := make(map[string]bool)
	for _, f := range s.RootFields()[op.Kind] {
		known[f] = true
	}
	var unknown []string
	for _, f := range op.RootFields {
		if strings.HasPrefix(f, "__") || known[f] {
			continue
		}
		unknown = append(unknown, f)
	}
	if len(unknown) > 0 {
		return x.GqlErrorf("%s %q selects fields the schema does not provide: %s",
			op.Kind, op.Name, strings.Join(unknown, ", "))
	}
	return nil
}
