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
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(x interface{}) dbus.Variant { return dbus.MakeVariant(x) }

func TestDecodeActionBatchRoutesLimitsCorkMuteContext(t *testing.T) {
	body := []interface{}{
		uint32(42),
		map[string][]element{
			ActionAudioRoute: {
				{"type": v("sink"), "device": v("B"), "mode": v("hf"), "hwid": v("xy")},
			},
			ActionVolumeLimit: {
				{"group": v("G"), "limit": v(int32(50))},
			},
			ActionAudioCork: {
				{"group": v("G"), "cork": v("corked")},
			},
			ActionAudioMute: {
				{"device": v("mic"), "mute": v("muted")},
			},
			ActionContext: {
				{"variable": v("V"), "value": v("on")},
			},
			"unknown.action": {
				{"x": v("y")},
			},
		},
	}

	batch, err := DecodeActionBatch(body)
	require.NoError(t, err)

	assert.Equal(t, uint32(42), batch.Txid)
	require.Len(t, batch.Routes, 1)
	assert.Equal(t, AudioRoute{Type: "sink", Device: "B", Mode: "hf", HWID: "xy"}, batch.Routes[0])
	require.Len(t, batch.Limits, 1)
	assert.Equal(t, VolumeLimit{Group: "G", Limit: 50}, batch.Limits[0])
	require.Len(t, batch.Corks, 1)
	assert.True(t, batch.Corks[0].Corked)
	require.Len(t, batch.Mutes, 1)
	assert.True(t, batch.Mutes[0].Mute)
	require.Len(t, batch.Context, 1)
	assert.Equal(t, ContextChange{Variable: "V", Value: "on"}, batch.Context[0])
}

func TestDecodeActionBatchRejectsTooManyRoutes(t *testing.T) {
	body := []interface{}{
		uint32(1),
		map[string][]element{
			ActionAudioRoute: {
				{"type": v("sink"), "device": v("A")},
				{"type": v("sink"), "device": v("B")},
				{"type": v("sink"), "device": v("C")},
			},
		},
	}
	_, err := DecodeActionBatch(body)
	assert.Error(t, err)
}

func TestDecodeActionBatchRejectsMalformedCorkState(t *testing.T) {
	body := []interface{}{
		uint32(1),
		map[string][]element{
			ActionAudioCork: {
				{"group": v("G"), "cork": v("sideways")},
			},
		},
	}
	_, err := DecodeActionBatch(body)
	assert.Error(t, err)
}

func TestDecodeActionBatchRejectsOutOfRangeLimit(t *testing.T) {
	body := []interface{}{
		uint32(1),
		map[string][]element{
			ActionVolumeLimit: {
				{"group": v("G"), "limit": v(int32(150))},
			},
		},
	}
	_, err := DecodeActionBatch(body)
	assert.Error(t, err)
}

func TestDecodeStreamInfoRegisterAndUnregister(t *testing.T) {
	body := []interface{}{uint32(7), "register", "ring", int32(1234), "alert", "equals", "name"}
	info, err := DecodeStreamInfo(body)
	require.NoError(t, err)
	assert.Equal(t, StreamInfoRegister, info.Op)
	assert.Equal(t, 1234, info.Pid)
	assert.Equal(t, "alert", info.StreamHint)
	assert.True(t, info.HasHint)

	body[1] = "unregister"
	info2, err := DecodeStreamInfo(body)
	require.NoError(t, err)
	assert.Equal(t, StreamInfoUnregister, info2.Op)
}

func TestDecodeStreamInfoRejectsBadOp(t *testing.T) {
	body := []interface{}{uint32(7), "frobnicate", "ring", int32(1), "", "equals", "name"}
	_, err := DecodeStreamInfo(body)
	assert.Error(t, err)
}
