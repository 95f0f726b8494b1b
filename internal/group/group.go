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

// Package group implements the named policy-group set: membership,
// default-sink/source propagation, and the per-group flags that drive
// routing, volume, cork, and mute semantics in package route.
package group

import "github.com/nemoaudio/policyd/internal/hostaudio"

// Flags is the per-group bitset from spec.md §3.
type Flags uint32

const (
	SetSink Flags = 1 << iota
	SetSource
	RouteAudio
	LimitVolume
	CorkStream
	MuteByRoute
	MediaNotify
)

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// DefaultGroupName is the distinguished catch-all group every
// classified-but-unmatched stream lands in, matching the original
// implementation's PA_POLICY_DEFAULT_GROUP_NAME.
const DefaultGroupName = "othermedia"

// Group is a named collection of streams sharing routing, volume,
// cork, and mute policy (spec.md §3, "Policy group").
type Group struct {
	Name  string
	Flags Flags

	// Sink/Source are the concrete host objects this group is
	// currently bound to, resolved via default propagation or an
	// explicit preference.
	Sink   string
	Source string

	PreferredSinkName   string
	PreferredSourceName string
	PortName            string

	StreamMembers       []hostaudio.Index
	SourceOutputMembers []hostaudio.Index

	// VolumeLimit is a normalized volume value in 0..hostaudio.Norm.
	VolumeLimit   uint32
	Corked        bool
	MutedByRoute  bool
	LocallyMuted  bool
	InStreamCount int
	InSourceCount int
	MovingCount   int

	PropertyOverrides map[string]string
}

func newGroup(name, sink, source string, overrides map[string]string, flags Flags) *Group {
	return &Group{
		Name:                name,
		Flags:               flags,
		PreferredSinkName:   sink,
		PreferredSourceName: source,
		PropertyOverrides:   overrides,
		VolumeLimit:         hostaudio.Norm,
	}
}

func removeIndex(members []hostaudio.Index, idx hostaudio.Index) ([]hostaudio.Index, bool) {
	for i, m := range members {
		if m == idx {
			return append(members[:i:i], members[i+1:]...), true
		}
	}
	return members, false
}

func containsIndex(members []hostaudio.Index, idx hostaudio.Index) bool {
	for _, m := range members {
		if m == idx {
			return true
		}
	}
	return false
}
