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

// Package pdp decodes and encodes the policy decision point's wire
// contract over a message bus: inbound stream_info registrations and
// batched audio_actions, outbound device/media state and status acks.
package pdp

import "fmt"

// Action names, exactly as they appear on the wire (spec.md §6).
const (
	ActionAudioRoute  = "com.nokia.policy.audio_route"
	ActionVolumeLimit = "com.nokia.policy.volume_limit"
	ActionAudioCork   = "com.nokia.policy.audio_cork"
	ActionAudioMute   = "com.nokia.policy.audio_mute"
	ActionContext     = "com.nokia.policy.context"
)

// AudioRoute is one audio_route element.
type AudioRoute struct {
	Type  string // "sink" or "source"
	Device string
	Mode  string
	HWID  string
}

// VolumeLimit is one volume_limit element.
type VolumeLimit struct {
	Group string
	Limit int32
}

// AudioCork is one audio_cork element.
type AudioCork struct {
	Group  string
	Corked bool
}

// AudioMute is one audio_mute element.
type AudioMute struct {
	Device string
	Mute   bool
}

// ContextChange is one context element.
type ContextChange struct {
	Variable string
	Value    string
}

// ActionBatch is a fully decoded audio_actions signal. Spec.md §6 caps
// audio_route at two entries per batch; Decode enforces that and fails
// the whole batch otherwise, matching the "malformed action bodies
// fail the whole batch" rule in §7.
type ActionBatch struct {
	Txid    uint32
	Routes  []AudioRoute
	Limits  []VolumeLimit
	Corks   []AudioCork
	Mutes   []AudioMute
	Context []ContextChange
}

const maxRouteActionsPerBatch = 2

func parseCorkState(s string) (bool, error) {
	switch s {
	case "corked":
		return true, nil
	case "uncorked":
		return false, nil
	default:
		return false, fmt.Errorf("pdp: invalid audio_cork state %q", s)
	}
}

func parseMuteState(s string) (bool, error) {
	switch s {
	case "muted":
		return true, nil
	case "unmuted":
		return false, nil
	default:
		return false, fmt.Errorf("pdp: invalid audio_mute state %q", s)
	}
}

// StreamInfoOp is the register/unregister operation carried by a
// stream_info signal.
type StreamInfoOp string

const (
	StreamInfoRegister   StreamInfoOp = "register"
	StreamInfoUnregister StreamInfoOp = "unregister"
)

// StreamInfo is a decoded stream_info signal: a pid-override
// registration or removal request.
type StreamInfo struct {
	Txid       uint32
	Op         StreamInfoOp
	Group      string
	Pid        int
	StreamHint string
	HasHint    bool
	Method     string
	Property   string
}
