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

package pdp

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// element is one entry of an audio_actions action-name's list: a
// struct of named fields, each a variant.
type element map[string]dbus.Variant

func stringField(e element, key string) (string, error) {
	v, ok := e[key]
	if !ok {
		return "", fmt.Errorf("pdp: missing field %q", key)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("pdp: field %q is not a string", key)
	}
	return s, nil
}

func int32Field(e element, key string) (int32, error) {
	v, ok := e[key]
	if !ok {
		return 0, fmt.Errorf("pdp: missing field %q", key)
	}
	switch n := v.Value().(type) {
	case int32:
		return n, nil
	case int64:
		return int32(n), nil
	case uint32:
		return int32(n), nil
	default:
		return 0, fmt.Errorf("pdp: field %q is not an integer", key)
	}
}

// DecodeActionBatch decodes an audio_actions signal body: (txid uint32,
// actions map[string][]element). Spec.md §6/§7: an unknown action name
// is silently ignored; a malformed element fails the whole batch.
func DecodeActionBatch(body []interface{}) (ActionBatch, error) {
	if len(body) != 2 {
		return ActionBatch{}, fmt.Errorf("pdp: audio_actions expects 2 arguments, got %d", len(body))
	}
	txid, ok := body[0].(uint32)
	if !ok {
		return ActionBatch{}, fmt.Errorf("pdp: audio_actions txid is not uint32")
	}
	actions, ok := body[1].(map[string][]element)
	if !ok {
		return ActionBatch{}, fmt.Errorf("pdp: audio_actions payload has unexpected shape")
	}

	batch := ActionBatch{Txid: txid}
	for name, elems := range actions {
		switch name {
		case ActionAudioRoute:
			if len(elems) > maxRouteActionsPerBatch {
				return ActionBatch{}, fmt.Errorf("pdp: audio_route carries %d entries, max %d", len(elems), maxRouteActionsPerBatch)
			}
			for _, e := range elems {
				r, err := decodeAudioRoute(e)
				if err != nil {
					return ActionBatch{}, err
				}
				batch.Routes = append(batch.Routes, r)
			}
		case ActionVolumeLimit:
			for _, e := range elems {
				l, err := decodeVolumeLimit(e)
				if err != nil {
					return ActionBatch{}, err
				}
				batch.Limits = append(batch.Limits, l)
			}
		case ActionAudioCork:
			for _, e := range elems {
				c, err := decodeAudioCork(e)
				if err != nil {
					return ActionBatch{}, err
				}
				batch.Corks = append(batch.Corks, c)
			}
		case ActionAudioMute:
			for _, e := range elems {
				m, err := decodeAudioMute(e)
				if err != nil {
					return ActionBatch{}, err
				}
				batch.Mutes = append(batch.Mutes, m)
			}
		case ActionContext:
			for _, e := range elems {
				c, err := decodeContextChange(e)
				if err != nil {
					return ActionBatch{}, err
				}
				batch.Context = append(batch.Context, c)
			}
		default:
			// Unknown action names are silently ignored.
		}
	}
	return batch, nil
}

func decodeAudioRoute(e element) (AudioRoute, error) {
	typ, err := stringField(e, "type")
	if err != nil {
		return AudioRoute{}, err
	}
	if typ != "sink" && typ != "source" {
		return AudioRoute{}, fmt.Errorf("pdp: audio_route type must be sink or source, got %q", typ)
	}
	device, err := stringField(e, "device")
	if err != nil {
		return AudioRoute{}, err
	}
	mode, _ := stringField(e, "mode")
	hwid, _ := stringField(e, "hwid")
	return AudioRoute{Type: typ, Device: device, Mode: mode, HWID: hwid}, nil
}

func decodeVolumeLimit(e element) (VolumeLimit, error) {
	group, err := stringField(e, "group")
	if err != nil {
		return VolumeLimit{}, err
	}
	limit, err := int32Field(e, "limit")
	if err != nil {
		return VolumeLimit{}, err
	}
	if limit < 0 || limit > 100 {
		return VolumeLimit{}, fmt.Errorf("pdp: volume_limit out of range: %d", limit)
	}
	return VolumeLimit{Group: group, Limit: limit}, nil
}

func decodeAudioCork(e element) (AudioCork, error) {
	group, err := stringField(e, "group")
	if err != nil {
		return AudioCork{}, err
	}
	state, err := stringField(e, "cork")
	if err != nil {
		return AudioCork{}, err
	}
	corked, err := parseCorkState(state)
	if err != nil {
		return AudioCork{}, err
	}
	return AudioCork{Group: group, Corked: corked}, nil
}

func decodeAudioMute(e element) (AudioMute, error) {
	device, err := stringField(e, "device")
	if err != nil {
		return AudioMute{}, err
	}
	state, err := stringField(e, "mute")
	if err != nil {
		return AudioMute{}, err
	}
	mute, err := parseMuteState(state)
	if err != nil {
		return AudioMute{}, err
	}
	return AudioMute{Device: device, Mute: mute}, nil
}

func decodeContextChange(e element) (ContextChange, error) {
	variable, err := stringField(e, "variable")
	if err != nil {
		return ContextChange{}, err
	}
	value, err := stringField(e, "value")
	if err != nil {
		return ContextChange{}, err
	}
	return ContextChange{Variable: variable, Value: value}, nil
}

// DecodeStreamInfo decodes a stream_info signal body: (txid uint32, op
// string, group string, pid int32, stream-hint string, method string,
// property string).
func DecodeStreamInfo(body []interface{}) (StreamInfo, error) {
	if len(body) != 7 {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info expects 7 arguments, got %d", len(body))
	}
	txid, ok := body[0].(uint32)
	if !ok {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info txid is not uint32")
	}
	opStr, ok := body[1].(string)
	if !ok {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info op is not a string")
	}
	op := StreamInfoOp(opStr)
	if op != StreamInfoRegister && op != StreamInfoUnregister {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info op must be register or unregister, got %q", opStr)
	}
	group, ok := body[2].(string)
	if !ok {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info group is not a string")
	}
	pid, ok := body[3].(int32)
	if !ok {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info pid is not int32")
	}
	hint, ok := body[4].(string)
	if !ok {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info stream-hint is not a string")
	}
	method, ok := body[5].(string)
	if !ok {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info method is not a string")
	}
	property, ok := body[6].(string)
	if !ok {
		return StreamInfo{}, fmt.Errorf("pdp: stream_info property is not a string")
	}
	return StreamInfo{
		Txid: txid, Op: op, Group: group, Pid: int(pid),
		StreamHint: hint, HasHint: hint != "", Method: method, Property: property,
	}, nil
}
