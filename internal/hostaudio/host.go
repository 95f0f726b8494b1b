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

// Host is every mutating and read operation the policy engine performs
// against the audio server. spec.md keeps the audio server itself out
// of scope; this interface is the seam between that external collaborator
// and the engine's otherwise audio-server-agnostic logic.
type Host interface {
	// Lookup.
	SinkByName(name string) (SinkInfo, bool)
	SourceByName(name string) (SourceInfo, bool)
	CardByName(name string) (CardInfo, bool)
	SinkInput(idx Index) (SinkInputInfo, bool)
	SourceOutput(idx Index) (SourceOutputInfo, bool)

	// Routing.
	MoveSinkInputToSink(idx Index, sinkName string) error
	MoveSourceOutputToSource(idx Index, sourceName string) error
	SetSinkActivePort(sinkName, port string) error
	SetCardProfile(cardName, profile string) error

	// Volume and mute.
	SinkInputRealRatio(idx Index) (ChannelVolumes, error)
	SetSinkInputVolumeFactor(idx Index, factor ChannelVolumes) error
	RequestFlatVolumeRepropagation(sinkName string) error
	SetSourceMute(sourceName string, mute bool) error

	// Cork.
	CorkSinkInput(idx Index, corked bool) error

	// Proplists. kind identifies which object table the index/name
	// refers to; name is used for Module/Card/Sink/Source, idx for
	// SinkInput/SourceOutput.
	SetProperty(kind objkind.Kind, name string, idx Index, key, value string) error
	DeleteProperty(kind objkind.Kind, name string, idx Index, key string) error

	// Module-scoped shared properties, broadcast to downstream
	// listeners independently of any single object's proplist
	// (spec.md §4.4 step 4, §4.5 commit).
	SetSharedProperty(key, value string) error

	// NullSinkName returns the configured null-sink's name, used as
	// the mute-by-route quarantine destination.
	NullSinkName() (string, bool)
}
