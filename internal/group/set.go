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

package group

import "github.com/nemoaudio/policyd/internal/logging"

var log = logging.Named("group")

const (
	hashBuckets = 64
	hashMask    = hashBuckets - 1
	// hashMultiplier matches the original implementation's polynomial
	// hash constant (confirmed against policy-group.c in
	// original_source), carried over verbatim so bucket placement is
	// reproducible against the C source for anyone cross-checking it.
	hashMultiplier = 38501
)

// polynomialHash hashes name the way the original policy-group hash
// table does: an accumulating polynomial over each byte.
func polynomialHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*hashMultiplier + uint32(name[i])
	}
	return h
}

func bucketFor(name string) int {
	return int(polynomialHash(name) & hashMask)
}

// Set is the chaining hash table of every known policy group, keyed by
// a polynomial hash of the group name masked to 6 bits (spec.md §3,
// §8 invariant 3).
type Set struct {
	buckets [hashBuckets][]*Group
}

// NewSet creates a group set seeded with the distinguished default
// group.
func NewSet() *Set {
	s := &Set{}
	s.New(DefaultGroupName, "", "", nil, 0)
	return s
}

// New creates a group, or returns the existing one if name is already
// present (spec.md §4.3: idempotent on name).
func (s *Set) New(name, sink, source string, overrides map[string]string, flags Flags) *Group {
	if g, ok := s.Get(name); ok {
		return g
	}
	g := newGroup(name, sink, source, overrides, flags)
	b := bucketFor(name)
	s.buckets[b] = append(s.buckets[b], g)
	return g
}

// Get looks up a group by name.
func (s *Set) Get(name string) (*Group, bool) {
	b := bucketFor(name)
	for _, g := range s.buckets[b] {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Default returns the distinguished default group, which always
// exists once NewSet has run.
func (s *Set) Default() *Group {
	g, _ := s.Get(DefaultGroupName)
	return g
}

// All returns every group, bucket order then insertion order. Used by
// routing to iterate "every ROUTE_AUDIO group" when no specific group
// name is given.
func (s *Set) All() []*Group {
	var all []*Group
	for _, bucket := range s.buckets {
		all = append(all, bucket...)
	}
	return all
}

// Free removes a group, reassigning its stream members to the default
// group. Freeing the default group itself releases its members to
// ungrouped state instead (spec.md §4.3).
func (s *Set) Free(name string) {
	if name == DefaultGroupName {
		def, _ := s.Get(DefaultGroupName)
		if def != nil {
			def.StreamMembers = nil
			def.SourceOutputMembers = nil
			def.InStreamCount = 0
			def.InSourceCount = 0
		}
		return
	}
	b := bucketFor(name)
	var idx = -1
	for i, g := range s.buckets[b] {
		if g.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	freed := s.buckets[b][idx]
	def := s.Default()
	if def != nil {
		for _, m := range freed.StreamMembers {
			if !containsIndex(def.StreamMembers, m) {
				def.StreamMembers = append(def.StreamMembers, m)
				def.InStreamCount++
			}
		}
		for _, m := range freed.SourceOutputMembers {
			if !containsIndex(def.SourceOutputMembers, m) {
				def.SourceOutputMembers = append(def.SourceOutputMembers, m)
				def.InSourceCount++
			}
		}
	}
	s.buckets[b] = append(s.buckets[b][:idx:idx], s.buckets[b][idx+1:]...)
}

// OnDefaultSink is called when the host announces a new default sink.
// Every group with no preferred sink and no currently-bound sink picks
// it up (spec.md §4.3).
func (s *Set) OnDefaultSink(sinkName string) {
	for _, g := range s.All() {
		if g.PreferredSinkName == "" && g.Sink == "" {
			g.Sink = sinkName
		}
	}
}

// OnDefaultSource is the source analogue of OnDefaultSink.
func (s *Set) OnDefaultSource(sourceName string) {
	for _, g := range s.All() {
		if g.PreferredSourceName == "" && g.Source == "" {
			g.Source = sourceName
		}
	}
}

// OnNamedSinkAnnounced binds every group preferring this sink name to
// it, overriding any default-sink binding.
func (s *Set) OnNamedSinkAnnounced(sinkName string) {
	for _, g := range s.All() {
		if g.PreferredSinkName == sinkName {
			g.Sink = sinkName
		}
	}
}

// OnNamedSourceAnnounced is the source analogue of OnNamedSinkAnnounced.
func (s *Set) OnNamedSourceAnnounced(sourceName string) {
	for _, g := range s.All() {
		if g.PreferredSourceName == sourceName {
			g.Source = sourceName
		}
	}
}

// OnSinkRemoved clears the sink binding of every group bound to it.
func (s *Set) OnSinkRemoved(sinkName string) {
	for _, g := range s.All() {
		if g.Sink == sinkName {
			g.Sink = ""
		}
	}
}

// OnSourceRemoved clears the source binding of every group bound to it.
func (s *Set) OnSourceRemoved(sourceName string) {
	for _, g := range s.All() {
		if g.Source == sourceName {
			g.Source = ""
		}
	}
}
