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

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/objkind"
)

func TestClassifyStreamDefault(t *testing.T) {
	c := New("othermedia")
	group, flags := c.ClassifyStream(StreamInput{StreamName: "random"})
	assert.Equal(t, "othermedia", group)
	assert.Zero(t, flags)
}

func TestClassifyStreamRuleOrderFirstMatchWins(t *testing.T) {
	c := New("othermedia")
	c.AddStreamRule(&StreamRule{Property: objkind.PropName, Match: match.Equals("alert"), Group: "ring"})
	c.AddStreamRule(&StreamRule{Property: objkind.PropName, Match: match.True, Group: "media"})
	group, _ := c.ClassifyStream(StreamInput{StreamName: "alert"})
	assert.Equal(t, "ring", group)
	group, _ = c.ClassifyStream(StreamInput{StreamName: "music"})
	assert.Equal(t, "media", group)
}

func TestClassifyStreamOptionalFieldsWildcardWhenNil(t *testing.T) {
	c := New("othermedia")
	c.AddStreamRule(&StreamRule{Property: objkind.PropName, Match: match.True, Group: "media"})
	group, _ := c.ClassifyStream(StreamInput{StreamName: "anything", HasClient: true, ClientName: "firefox"})
	assert.Equal(t, "media", group)
}

func TestClassifyStreamOptionalFieldMismatch(t *testing.T) {
	c := New("othermedia")
	clientName := "firefox"
	c.AddStreamRule(&StreamRule{Property: objkind.PropName, Match: match.True, ClientName: &clientName, Group: "browser"})
	group, _ := c.ClassifyStream(StreamInput{StreamName: "x", HasClient: true, ClientName: "chrome"})
	assert.Equal(t, "othermedia", group)
}

// S1 from spec.md §8.
func TestPidOverrideClassifiesIncomingStream(t *testing.T) {
	c := New("othermedia")
	stnam := "alert"
	c.AddPidOverride(1234, &stnam, objkind.PropName, match.Equals("alert"), "ring")
	group, flags := c.ClassifyStream(StreamInput{Pid: 1234, HasPid: true, StreamName: "alert"})
	assert.Equal(t, "ring", group)
	assert.Zero(t, flags)
}

func TestPidOverrideQualifiedByStreamName(t *testing.T) {
	c := New("othermedia")
	stnam := "alert"
	c.AddPidOverride(1234, &stnam, objkind.PropName, match.True, "ring")
	// Different stream name under the same pid does not match the
	// stream-name-qualified override.
	group, _ := c.ClassifyStream(StreamInput{Pid: 1234, HasPid: true, StreamName: "music"})
	assert.Equal(t, "othermedia", group)
}

func TestPidOverrideUnqualifiedDoesNotMatchNamedStream(t *testing.T) {
	c := New("othermedia")
	c.AddPidOverride(1234, nil, objkind.PropName, match.True, "ring")
	// An override without a stream name only qualifies a stream that
	// has no name either.
	group, _ := c.ClassifyStream(StreamInput{Pid: 1234, HasPid: true, StreamName: "whatever"})
	assert.Equal(t, "othermedia", group)
}

func TestRemovePidOverride(t *testing.T) {
	c := New("othermedia")
	c.AddPidOverride(1234, nil, objkind.PropName, match.True, "ring")
	c.RemovePidOverride(1234, nil, objkind.PropName, match.True)
	group, _ := c.ClassifyStream(StreamInput{Pid: 1234, HasPid: true, StreamName: "whatever"})
	assert.Equal(t, "othermedia", group)
}

func TestPidHashInvariant(t *testing.T) {
	c := New("othermedia")
	for pid := 0; pid < 256; pid++ {
		c.AddPidOverride(pid, nil, objkind.PropName, match.True, "g")
	}
	for b, bucket := range c.pidHash {
		for _, o := range bucket {
			assert.Equal(t, b, o.Pid&0x3F)
		}
	}
}

func TestClassifyDeviceAdditive(t *testing.T) {
	c := New("othermedia")
	c.AddDeviceRule(DeviceSink, &DeviceRule{Type: "ihf", Property: objkind.PropName, Match: match.StartsWith("sink")})
	c.AddDeviceRule(DeviceSink, &DeviceRule{Type: "speaker", Property: objkind.PropName, Match: match.Equals("sinkA")})
	types := c.ClassifyDevice(DeviceSink, DeviceInput{Name: "sinkA"}, 0, 0)
	assert.ElementsMatch(t, []string{"ihf", "speaker"}, types)
}

func TestClassifyDeviceFlagFilter(t *testing.T) {
	c := New("othermedia")
	c.AddDeviceRule(DeviceSink, &DeviceRule{Type: "a", Property: objkind.PropName, Match: match.True, Data: DeviceRuleData{Flags: 1}})
	c.AddDeviceRule(DeviceSink, &DeviceRule{Type: "b", Property: objkind.PropName, Match: match.True, Data: DeviceRuleData{Flags: 0}})
	types := c.ClassifyDevice(DeviceSink, DeviceInput{Name: "sinkA"}, 1, 1)
	assert.Equal(t, []string{"a"}, types)
}

func TestIsObjectTypeOf(t *testing.T) {
	c := New("othermedia")
	c.AddDeviceRule(DeviceSource, &DeviceRule{Type: "mic", Property: objkind.PropName, Match: match.Equals("source0")})
	assert.True(t, c.IsObjectTypeOf(DeviceSource, DeviceInput{Name: "source0"}, "mic"))
	assert.False(t, c.IsObjectTypeOf(DeviceSource, DeviceInput{Name: "source1"}, "mic"))
}

func TestJoinTypesBoundedOverflow(t *testing.T) {
	joined, truncated := JoinTypesBounded([]string{"ihf", "headset", "bluetooth"}, 5)
	assert.True(t, truncated)
	assert.Empty(t, joined)
}

func TestJoinTypesBoundedOK(t *testing.T) {
	joined, truncated := JoinTypesBounded([]string{"ihf", "headset"}, 64)
	assert.False(t, truncated)
	assert.Equal(t, "ihf headset", joined)
}

func TestNullOrEmptyStreamNameEqualityEdgeCase(t *testing.T) {
	c := New("othermedia")
	name := ""
	c.AddStreamRule(&StreamRule{Property: objkind.PropName, Match: match.True, StreamName: &name, Group: "empty-named"})
	group, _ := c.ClassifyStream(StreamInput{StreamName: ""})
	assert.Equal(t, "empty-named", group)
	group, _ = c.ClassifyStream(StreamInput{StreamName: "nonempty"})
	assert.Equal(t, "othermedia", group)
}
