/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

// Package later holds values produced by one step of a scenario so that a later
// step can use them, typically ids generated by the database.
package later

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrMissingKey is returned by Get for a key that was never set.
	ErrMissingKey = errors.New("value was never set")
	// ErrTypeMismatch is returned by SetAny and SetAll when the value is not of the store's type.
	ErrTypeMismatch = errors.New("value has the wrong type")
)

// Values maps keys to values of type T. The zero value is an empty store.
type Values[T any] struct {
	sync.RWMutex
	m map[string]T
}

// New returns an empty store whose values must be of type T.
func New[T any]() *Values[T] {
	return &Values[T]{m: make(map[string]T)}
}

// Set stores v under key, replacing any earlier value.
func (v *Values[T]) Set(key string, val T) {
	v.Lock()
	defer v.Unlock()
	v.set(key, val)
}

func (v *Values[T]) set(key string, val T) {
	if v.m == nil {
		v.m = make(map[string]T)
	}
	v.m[key] = val
}

// SetAny stores val under key if it is a T. The check happens here, at the point
// of storage, so a bad value never reaches a step that reads it.
func (v *Values[T]) SetAny(key string, val interface{}) error {
	typed, ok := val.(T)
	if !ok {
		var zero T
		return errors.Wrapf(ErrTypeMismatch, "key %q: want %T, got %T", key, zero, val)
	}
	v.Set(key, typed)
	return nil
}

// SetAll stores every entry of vals if all of them are of type T, and none of
// them otherwise.
func (v *Values[T]) SetAll(vals map[string]interface{}) error {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	typed := make(map[string]T, len(vals))
	for _, k := range keys {
		t, ok := vals[k].(T)
		if !ok {
			var zero T
			return errors.Wrapf(ErrTypeMismatch, "key %q: want %T, got %T", k, zero, vals[k])
		}
		typed[k] = t
	}

	v.Lock()
	defer v.Unlock()
	for k, t := range typed {
		v.set(k, t)
	}
	return nil
}

// Get returns the value stored under key, or ErrMissingKey.
func (v *Values[T]) Get(key string) (T, error) {
	v.RLock()
	defer v.RUnlock()
	val, ok := v.m[key]
	if !ok {
		var zero T
		return zero, errors.Wrapf(ErrMissingKey, "key %q", key)
	}
	return val, nil
}

// MustGet is Get that panics on a missing key.
func (v *Values[T]) MustGet(key string) T {
	val, err := v.Get(key)
	if err != nil {
		panic(err)
	}
	return val
}

// Has reports whether key was set.
func (v *Values[T]) Has(key string) bool {
	v.RLock()
	defer v.RUnlock()
	_, ok := v.m[key]
	return ok
}

// Keys returns the set keys in sorted order.
func (v *Values[T]) Keys() []string {
	v.RLock()
	defer v.RUnlock()
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *Values[T]) String() string {
	v.RLock()
	defer v.RUnlock()
	return fmt.Sprintf("later.Values[%d keys]", len(v.m))
}
