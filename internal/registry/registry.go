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

// Package registry binds context/activity object references to live
// host objects as they are announced, and clears those bindings again
// on unlink: the weak-reference table spec.md §4.6 and §9 describe.
package registry

import (
	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/context"
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/logging"
	"github.com/nemoaudio/policyd/internal/objkind"
)

var log = logging.Named("registry")

// StreamExt is the per-sink-input extension record spec.md §3 and §9
// describe: engine-owned bookkeeping keyed by the host's stable index,
// allocated on PUT and destroyed on UNLINK.
type StreamExt struct {
	Group                 string
	Flags                 classify.StreamFlags
	LocalRoute            bool
	LocalMute             bool
	CorkedByClient        bool
	IgnoreNextStateChange int
}

// Registry tracks every ObjectRef that needs binding, plus the live
// sink-input extension records.
type Registry struct {
	refs    []*context.ObjectRef
	streams map[hostaudio.Index]*StreamExt
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{streams: map[hostaudio.Index]*StreamExt{}}
}

// Track registers an object reference as a binding candidate; called
// once per action object-ref at rule-parse time.
func (r *Registry) Track(ref *context.ObjectRef) {
	r.refs = append(r.refs, ref)
}

// OnAnnounced implements spec.md §4.6's NEW/PUT handling: every tracked
// ref of the matching kind whose Match accepts name gets bound,
// overwriting only if unbound; a rebind onto a different live object is
// logged as a duplicate-match warning rather than silently replaced.
func (r *Registry) OnAnnounced(kind objkind.Kind, name string, idx hostaudio.Index) {
	for _, ref := range r.refs {
		if ref.Kind != kind || !ref.Match.Match(name) {
			continue
		}
		if ref.Resolved && (ref.Name != name || ref.Index != idx) {
			log.Warn("duplicate match for object reference", "kind", kind, "existing", ref.Name, "incoming", name)
			continue
		}
		ref.Resolved = true
		ref.Name = name
		ref.Index = idx
	}
}

// OnUnlinked implements the UNLINK half: every binding whose stored
// name+index identifies the vanishing object is cleared.
func (r *Registry) OnUnlinked(kind objkind.Kind, name string, idx hostaudio.Index) {
	for _, ref := range r.refs {
		if ref.Kind != kind || !ref.Resolved {
			continue
		}
		if ref.Name == name && ref.Index == idx {
			ref.Resolved = false
			ref.Name = ""
			ref.Index = 0
		}
	}
	if kind == objkind.SinkInput {
		delete(r.streams, idx)
	}
}

// NewStream allocates the sink-input extension record on PUT, carrying
// the local flags classification produced.
func (r *Registry) NewStream(idx hostaudio.Index, group string, flags classify.StreamFlags) *StreamExt {
	ext := &StreamExt{
		Group:      group,
		Flags:      flags,
		LocalRoute: flags&classify.LocalRoute != 0,
		LocalMute:  flags&classify.LocalMute != 0,
	}
	r.streams[idx] = ext
	return ext
}

// Stream returns the extension record for idx, if one exists.
func (r *Registry) Stream(idx hostaudio.Index) (*StreamExt, bool) {
	ext, ok := r.streams[idx]
	return ext, ok
}

// RemoveStream destroys the extension record. OnUnlinked also drops the
// record of an unlinked sink-input; the engine calls RemoveStream once
// it has removed the stream from its group.
func (r *Registry) RemoveStream(idx hostaudio.Index) {
	delete(r.streams, idx)
}

// MarkEngineCork records that the engine itself (not the user) is
// about to change a stream's cork state, so the next observed
// state-changed transition is not mistaken for user intent (spec.md
// §9, corked_by_client gate).
func (r *Registry) MarkEngineCork(idx hostaudio.Index) {
	if ext, ok := r.streams[idx]; ok {
		ext.IgnoreNextStateChange++
	}
}

// ObserveStateChange implements the corked_by_client gate: called on
// every host state-changed notification for a stream. If the change
// was engine-initiated, the gate is consumed and corked_by_client is
// left untouched; otherwise the observed state becomes the new
// corked_by_client value.
func (r *Registry) ObserveStateChange(idx hostaudio.Index, corked bool) {
	ext, ok := r.streams[idx]
	if !ok {
		return
	}
	if ext.IgnoreNextStateChange > 0 {
		ext.IgnoreNextStateChange--
		return
	}
	ext.CorkedByClient = corked
}

// Rediscover implements the on-demand re-classification pass §4.6
// describes: reclassify every currently-default-group stream and
// return the ones whose group changed, for the caller (engine) to move
// into their new group.
func (r *Registry) Rediscover(defaultGroup string, classifier *classify.Classifier, lookup func(hostaudio.Index) (classify.StreamInput, bool)) map[hostaudio.Index]string {
	changed := map[hostaudio.Index]string{}
	for idx, ext := range r.streams {
		if ext.Group != defaultGroup {
			continue
		}
		in, ok := lookup(idx)
		if !ok {
			continue
		}
		group, flags := classifier.ClassifyStream(in)
		if group == defaultGroup {
			continue
		}
		ext.Group = group
		ext.Flags = flags
		changed[idx] = group
	}
	return changed
}
