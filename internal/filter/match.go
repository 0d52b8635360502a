// Package filter matches items against key/value query filters, such as the query string of a listing endpoint.
package filter

import (
	"strconv"
	"strings"
)

// Predicate reports whether item satisfies filterValue.
type Predicate[T any] func(item T, filterValue string) bool

// Matchers maps a normalized filter key to its predicate.
type Matchers[T any] map[string]Predicate[T]

// StringValueProvider extracts a single string from an item.
type StringValueProvider[T any] func(T) string

// StringValuesProvider extracts a list of strings from an item.
type StringValuesProvider[T any] func(T) []string

// BoolValueProvider extracts a boolean from an item.
type BoolValueProvider[T any] func(T) bool

// NormalizeString lowercases s and trims surrounding whitespace.
func NormalizeString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeSlice returns a new slice with every value normalized by NormalizeString.
func NormalizeSlice(s []string) []string {
	s2 := make([]string, len(s))
	for i := range s {
		s2[i] = NormalizeString(s[i])
	}
	return s2
}

// splitList splits a comma separated filter value, dropping empty entries.
func splitList(val string) []string {
	var out []string
	for _, v := range strings.Split(val, ",") {
		if v = NormalizeString(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Equals matches when the provided value equals the filter value, ignoring case.
func Equals[T any](provider StringValueProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		return NormalizeString(provider(item)) == NormalizeString(val)
	}
}

// Partial matches when the provided value contains the filter value, ignoring case.
func Partial[T any](provider StringValueProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		return strings.Contains(NormalizeString(provider(item)), NormalizeString(val))
	}
}

// EqualsBool matches when the provided value equals the filter value parsed with strconv.ParseBool.
// An unparsable filter value never matches.
func EqualsBool[T any](provider BoolValueProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		want, err := strconv.ParseBool(NormalizeString(val))
		if err != nil {
			return false
		}
		return provider(item) == want
	}
}

// HasAll matches when every comma separated filter value is one of the provided values.
//
//	HasAll(tags)(server, "files,local") // server is tagged both "files" and "local"
func HasAll[T any](provider StringValuesProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		have := make(map[string]struct{})
		for _, v := range provider(item) {
			have[NormalizeString(v)] = struct{}{}
		}

		for _, r := range splitList(val) {
			if _, ok := have[r]; !ok {
				return false
			}
		}
		return true
	}
}

// HasAny matches when at least one comma separated filter value is one of the provided values.
func HasAny[T any](provider StringValuesProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		want := splitList(val)
		for _, v := range NormalizeSlice(provider(item)) {
			for _, w := range want {
				if v == w {
					return true
				}
			}
		}
		return false
	}
}

// Match reports whether item satisfies every filter that has a matcher.
// Keys are normalized; empty keys, empty values and keys without a matcher are ignored.
func Match[T any](item T, filters map[string]string, matchers Matchers[T]) bool {
	for key, val := range filters {
		k := NormalizeString(key)
		if k == "" || strings.TrimSpace(val) == "" {
			continue
		}

		matcher, ok := matchers[k]
		if !ok {
			continue
		}
		if !matcher(item, val) {
			return false
		}
	}
	return true
}

// Filter returns the items that satisfy filters, preserving order.
func Filter[T any](items []T, filters map[string]string, matchers Matchers[T]) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if Match(item, filters, matchers) {
			out = append(out, item)
		}
	}
	return out
}
