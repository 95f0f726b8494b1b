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

package hostaudio

import "github.com/nemoaudio/policyd/internal/objkind"

// ObjectEvent is a lifecycle notification for a module, card, sink,
// source, sink-input, or source-output: NEW/PUT on creation, UNLINK on
// removal (spec.md §4.6).
type ObjectEvent struct {
	Kind  EventKind
	Class objkind.Kind
	Index Index
	Name  string
}

// SinkStateEvent notifies a transition of a named sink's open/closed
// state, driving activity variables (spec.md §4.5).
type SinkStateEvent struct {
	SinkName string
	State    SinkState
}

// EventSource is the subscription half of the host adapter: a single
// long-lived reader drains these channels on the engine's main loop,
// per spec.md §5's single-threaded, cooperative scheduling model.
type EventSource interface {
	// Events delivers every object lifecycle notification in arrival
	// order; the engine assumes NEW -> PUT -> UNLINK ordering per
	// stream as guaranteed by the host (spec.md §5).
	Events() <-chan ObjectEvent
	// SinkStates delivers sink open/close transitions for every sink;
	// activity variables filter to the one they were enabled for.
	SinkStates() <-chan SinkStateEvent
}
