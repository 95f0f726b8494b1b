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

// Package classify implements the pattern-matched mapping from
// audio-server objects onto policy groups and type labels: stream
// rules, pid overrides, and device/card rules.
package classify

import (
	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/objkind"
)

// StreamFlags are the per-stream-local flags recorded at classification
// time (spec.md §3, "Stream-local flags").
type StreamFlags uint32

const (
	// LocalRoute marks a stream as carrying its own port override.
	LocalRoute StreamFlags = 1 << iota
	// LocalMute marks a stream whose mute locally-mutes its group peers.
	LocalMute
	// LocalVolMax clamps the stream's own volume to NORM at creation.
	LocalVolMax
)

// StreamInput is the data a stream is classified against: either a
// new-stream record (before the stream is fully constructed) or an
// existing stream's resolved identity and proplist.
type StreamInput struct {
	Pid        int
	HasPid     bool
	ClientName string
	HasClient  bool
	UID        int64
	HasUID     bool
	Exe        string
	HasExe     bool
	// StreamName backs the reserved "name" property (media.name).
	StreamName string
	ActiveSink string
	HasActiveSink bool
	// Properties holds every other literal proplist key the stream
	// carries; reserved pseudo-names are resolved by Property instead
	// of being looked up here.
	Properties objkind.Proplist
}

// Property resolves prop against this stream, following the reserved
// pseudo-name rules in spec.md §3.
func (s StreamInput) Property(prop string) string {
	if prop == objkind.PropName {
		return objkind.OrUnknown(s.StreamName)
	}
	return s.Properties.Get(prop)
}

// StreamRule is one entry of the ordered stream classifier table.
// Optional fields left nil act as wildcards.
type StreamRule struct {
	Property   string
	Match      match.Matcher
	ClientName *string
	UID        *int64
	Exe        *string
	StreamName *string
	ActiveSink *string
	Group      string
	Flags      StreamFlags
	// LocalRoutePort is the port a SET_SINK group should switch to for
	// members carrying LocalRoute; empty means no override.
	LocalRoutePort string
}

func (r *StreamRule) matchesOptionalFields(in StreamInput) bool {
	if r.ClientName != nil && (!in.HasClient || in.ClientName != *r.ClientName) {
		return false
	}
	if r.UID != nil && (!in.HasUID || in.UID != *r.UID) {
		return false
	}
	if r.Exe != nil && (!in.HasExe || in.Exe != *r.Exe) {
		return false
	}
	if r.StreamName != nil {
		name := in.StreamName
		if name != *r.StreamName {
			return false
		}
	}
	if r.ActiveSink != nil && (!in.HasActiveSink || in.ActiveSink != *r.ActiveSink) {
		return false
	}
	return true
}

// PidOverride is a pid-scoped classification override, registered and
// unregistered by PDP stream_info signals (spec.md §4.7).
type PidOverride struct {
	Pid        int
	StreamName *string // optional; nil matches only a stream with no name
	Property   string
	Match      match.Matcher
	Group      string
}

// qualifies reports whether stnam qualifies a lookup the same way
// o does: either both absent, or both present and equal.
func (o *PidOverride) qualifies(stnam *string) bool {
	if o.StreamName == nil && stnam == nil {
		return true
	}
	if o.StreamName == nil || stnam == nil {
		return false
	}
	return *o.StreamName == *stnam
}

// pidHashBuckets is the fixed bucket count for the pid override hash,
// carried over from the original implementation's PA_POLICY_PID_HASH_MAX
// (spec.md §3, "Pid override"; confirmed against classify.h in
// original_source).
const pidHashBuckets = 64

// pidBucket returns the bucket index for pid, per the pid & 0x3F rule
// (spec.md §8, invariant 4).
func pidBucket(pid int) int {
	return pid & (pidHashBuckets - 1)
}

// AddPidOverride registers an override for pid (optionally qualified by
// stream name). Multiple stream-name-qualified entries may coexist for
// the same pid.
func (c *Classifier) AddPidOverride(pid int, streamName *string, property string, m match.Matcher, group string) {
	b := pidBucket(pid)
	c.pidHash[b] = append(c.pidHash[b], &PidOverride{
		Pid: pid, StreamName: streamName, Property: property, Match: m, Group: group,
	})
}

// RemovePidOverride removes a previously registered override matching
// pid, streamName, property and match exactly.
func (c *Classifier) RemovePidOverride(pid int, streamName *string, property string, m match.Matcher) {
	b := pidBucket(pid)
	kept := c.pidHash[b][:0]
	for _, o := range c.pidHash[b] {
		if o.Pid == pid && o.qualifies(streamName) && o.Property == property && matcherEqual(o.Match, m) {
			continue
		}
		kept = append(kept, o)
	}
	c.pidHash[b] = kept
}

func matcherEqual(a, b match.Matcher) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// lookupPidOverride finds the first override for pid whose stream name
// equals the stream's (or which, like the stream, has none) and whose
// property value matches.
func (c *Classifier) lookupPidOverride(in StreamInput) (*PidOverride, bool) {
	if !in.HasPid {
		return nil, false
	}
	b := pidBucket(in.Pid)
	var stnam *string
	if in.StreamName != "" {
		stnam = &in.StreamName
	}
	for _, o := range c.pidHash[b] {
		if o.Pid != in.Pid {
			continue
		}
		if !o.qualifies(stnam) {
			continue
		}
		if o.Match.Match(in.Property(o.Property)) {
			return o, true
		}
	}
	return nil, false
}

// AddStreamRule appends a stream rule to the end of the classifier
// table. Insertion order is preserved and is significant: the first
// matching rule wins.
func (c *Classifier) AddStreamRule(r *StreamRule) {
	c.streamRules = append(c.streamRules, r)
}

// ClassifyStream implements spec.md §4.2's classify_stream: pid
// overrides take priority over the ordered stream rule table, which in
// turn falls back to the classifier's configured default group.
func (c *Classifier) ClassifyStream(in StreamInput) (group string, flags StreamFlags) {
	if o, ok := c.lookupPidOverride(in); ok {
		return o.Group, 0
	}
	for _, r := range c.streamRules {
		if !r.matchesOptionalFields(in) {
			continue
		}
		if r.Match.Match(in.Property(r.Property)) {
			return r.Group, r.Flags
		}
	}
	return c.defaultGroup, 0
}
