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

// Package hostaudio defines the engine's view of the audio server: the
// out-of-scope collaborator spec.md §1 says is "specified only by
// interface." Every mutating or observing operation the core needs
// (move, cork, volume, proplist I/O, subscription) is declared here as
// an interface, with hostaudio/pulse.go providing the one production
// implementation, built on PulseAudio's native protocol.
package hostaudio

import "github.com/nemoaudio/policyd/internal/objkind"

// Norm is the reference ("100%") channel volume value, matching
// PulseAudio's PA_VOLUME_NORM / proto.VolumeNorm. Group volume limits
// and per-channel factors are expressed in this unit.
const Norm uint32 = 0x10000

// ChannelVolumes is a per-channel volume vector, one entry per channel
// in the stream or device's channel map.
type ChannelVolumes []uint32

// Index identifies a host object of a given kind for the lifetime of
// that object, per spec.md §5 ("host guarantees index uniqueness for
// the lifetime of the stream").
type Index uint32

// SinkInputInfo is the subset of a sink-input's state the engine reads
// when classifying, inserting, or routing a stream.
type SinkInputInfo struct {
	Index      Index
	Name       string
	Pid        int
	HasPid     bool
	ClientName string
	HasClient  bool
	UID        int64
	HasUID     bool
	Exe        string
	HasExe     bool
	SinkName   string
	Corked     bool
	Properties objkind.Proplist
}

// SourceOutputInfo is the source-output analogue of SinkInputInfo.
type SourceOutputInfo struct {
	Index      Index
	Name       string
	Pid        int
	HasPid     bool
	ClientName string
	HasClient  bool
	SourceName string
	Properties objkind.Proplist
}

// SinkInfo is a sink's classifiable and routable state.
type SinkInfo struct {
	Index       Index
	Name        string
	CardName    string
	ActivePort  string
	FlatVolumes bool
	Properties  objkind.Proplist
}

// SourceInfo is the source analogue of SinkInfo.
type SourceInfo struct {
	Index      Index
	Name       string
	CardName   string
	Properties objkind.Proplist
}

// CardInfo is a card's classifiable and profile-switchable state.
type CardInfo struct {
	Index      Index
	Name       string
	Profile    string
	Properties objkind.Proplist
}

// EventKind enumerates the lifecycle transitions the host notifies the
// registry and classifier about.
type EventKind int

const (
	EventNew EventKind = iota
	EventPut
	EventUnlink
)

// SinkState is the open/closed state driving activity variables.
type SinkState int

const (
	SinkStateUnknown SinkState = iota
	SinkStateOpened
	SinkStateOtherThanOpened
)
