// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package keyexpr implements intersection of hierarchical key expressions.
//
// A key expression is a "/"-separated path in which a chunk may be a
// literal ("temp"), a glob ("sensor-*"), a single-chunk wildcard ("*") or
// a multi-chunk wildcard ("**") matching any number of chunks, including
// none. Two expressions intersect when at least one concrete key matches
// both; subscriptions and admin-query selectors both rely on this.
package keyexpr

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	anyChunk  = "*"
	anyChunks = "**"
)

// Intersects reports whether the sets of keys matched by a and b overlap.
func Intersects(a, b string) bool {
	return intersects(split(a), split(b))
}

// Matches reports whether the concrete key matches the expression.
func Matches(expr, key string) bool {
	ok, err := doublestar.Match(expr, key)
	return err == nil && ok
}

func split(expr string) []string {
	return strings.Split(strings.Trim(expr, "/"), "/")
}

func intersects(a, b []string) bool {
	switch {
	case len(a) == 0 && len(b) == 0:
		return true
	case len(a) > 0 && a[0] == anyChunks:
		// "**" absorbs zero chunks of b, or one chunk of b at a time.
		if intersects(a[1:], b) {
			return true
		}
		return len(b) > 0 && intersects(a, b[1:])
	case len(b) > 0 && b[0] == anyChunks:
		return intersects(b, a)
	case len(a) == 0 || len(b) == 0:
		return false
	default:
		return chunkIntersects(a[0], b[0]) && intersects(a[1:], b[1:])
	}
}

// chunkIntersects compares one chunk of each expression. When both chunks
// carry intra-chunk globs an exact answer would need product automata;
// overlap is assumed, which errs on the side of returning too many admin
// responses rather than dropping matches.
func chunkIntersects(a, b string) bool {
	if a == anyChunk || b == anyChunk {
		return true
	}
	aWild := strings.ContainsAny(a, "*?[")
	bWild := strings.ContainsAny(b, "*?[")
	switch {
	case aWild && bWild:
		return true
	case aWild:
		return Matches(a, b)
	case bWild:
		return Matches(b, a)
	default:
		return a == b
	}
}
