// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package match implements the four match primitives used throughout
// the policy engine's rule tables: equals, startswith, an anchored
// regex with no capture groups, and the unconditional wildcard.
package match

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
)

// Matcher evaluates a string and reports whether it matches.
type Matcher interface {
	Match(s string) bool
	String() string
}

// equalsMatch matches a string exactly.
type equalsMatch string

func (m equalsMatch) Match(s string) bool { return s == string(m) }
func (m equalsMatch) String() string      { return fmt.Sprintf("equals:%s", string(m)) }

// Equals returns a Matcher that accepts only strings identical to t,
// including the empty string (a null/empty property compares equal
// only to another null/empty one).
func Equals(t string) Matcher { return equalsMatch(t) }

// startsWithMatch matches any string carrying the given prefix.
type startsWithMatch string

func (m startsWithMatch) Match(s string) bool { return strings.HasPrefix(s, string(m)) }
func (m startsWithMatch) String() string      { return fmt.Sprintf("startswith:%s", string(m)) }

// StartsWith returns a Matcher that accepts strings beginning with t.
func StartsWith(t string) Matcher { return startsWithMatch(t) }

// trueMatch is the unconditional wildcard.
type trueMatch struct{}

func (trueMatch) Match(string) bool { return true }
func (trueMatch) String() string    { return "true" }

// True is the wildcard matcher: it accepts every string.
var True Matcher = trueMatch{}

// regexMatch wraps a compiled regexp, anchoring it and rejecting any
// match that used a first capture group — per spec.md §4.1 and §9,
// submatches are a refusal, not a partial match.
type regexMatch struct {
	src string
	re  *regexp.Regexp
}

func (m *regexMatch) Match(s string) bool {
	loc := m.re.FindStringSubmatchIndex(s)
	if loc == nil {
		return false
	}
	// loc[0], loc[1] are the overall match bounds; the anchors below
	// already require them to span the whole string, but double check
	// since some regexp constructions can still report a short match
	// on multi-line input.
	if loc[0] != 0 || loc[1] != len(s) {
		return false
	}
	// loc[2], loc[3] are the first capture group's bounds; -1 means it
	// didn't participate, which is the only acceptable case.
	if len(loc) > 2 && loc[2] != -1 {
		return false
	}
	return true
}

func (m *regexMatch) String() string { return fmt.Sprintf("matches:%s", m.src) }

// Regex compiles pattern as an anchored, no-submatch POSIX-style
// regular expression. A pattern of literal "*" is rewritten to the
// wildcard per §4.1. Patterns containing a capture group are rejected
// with a clear diagnostic, per the POSIX regex quirk in DESIGN NOTES
// §9: the C source's "anchored, no submatches" contract would silently
// never match such a rule, which is surprising enough to reject instead
// at load time.
func Regex(pattern string) (Matcher, error) {
	if pattern == "*" {
		return True, nil
	}
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("match: invalid regex %q: %w", pattern, err)
	}
	if countCaptureGroups(parsed) > 0 {
		return nil, fmt.Errorf("match: regex %q has a capture group; anchored matching never succeeds for these, rewrite without parentheses or use (?:...)", pattern)
	}
	anchored := "^(?:" + pattern + ")$"
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("match: invalid regex %q: %w", pattern, err)
	}
	return &regexMatch{src: pattern, re: re}, nil
}

// countCaptureGroups counts capturing subexpressions, ignoring the
// implicit whole-match group at index 0.
func countCaptureGroups(re *syntax.Regexp) int {
	n := 0
	if re.Op == syntax.OpCapture {
		n++
	}
	for _, sub := range re.Sub {
		n += countCaptureGroups(sub)
	}
	return n
}
