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

package context

import (
	"testing"

	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/objkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHost struct {
	props      map[string]string
	shared     map[string]string
	sinkProps  objkind.Proplist
	fireCounts int
}

func newRecordingHost() *recordingHost {
	return &recordingHost{props: map[string]string{}, shared: map[string]string{}, sinkProps: objkind.Proplist{}}
}

func (h *recordingHost) SinkByName(name string) (hostaudio.SinkInfo, bool) {
	return hostaudio.SinkInfo{Name: name, Properties: h.sinkProps}, name == "sinkA"
}
func (h *recordingHost) SourceByName(name string) (hostaudio.SourceInfo, bool) {
	return hostaudio.SourceInfo{}, false
}
func (h *recordingHost) CardByName(name string) (hostaudio.CardInfo, bool) {
	return hostaudio.CardInfo{Properties: h.props}, name == "card0"
}
func (h *recordingHost) SinkInput(idx hostaudio.Index) (hostaudio.SinkInputInfo, bool) {
	return hostaudio.SinkInputInfo{}, false
}
func (h *recordingHost) SourceOutput(idx hostaudio.Index) (hostaudio.SourceOutputInfo, bool) {
	return hostaudio.SourceOutputInfo{}, false
}
func (h *recordingHost) MoveSinkInputToSink(hostaudio.Index, string) error     { return nil }
func (h *recordingHost) MoveSourceOutputToSource(hostaudio.Index, string) error { return nil }
func (h *recordingHost) SetSinkActivePort(string, string) error               { return nil }
func (h *recordingHost) SetCardProfile(string, string) error                  { return nil }
func (h *recordingHost) SinkInputRealRatio(hostaudio.Index) (hostaudio.ChannelVolumes, error) {
	return nil, nil
}
func (h *recordingHost) SetSinkInputVolumeFactor(hostaudio.Index, hostaudio.ChannelVolumes) error {
	return nil
}
func (h *recordingHost) RequestFlatVolumeRepropagation(string) error { return nil }
func (h *recordingHost) SetSourceMute(string, bool) error            { return nil }
func (h *recordingHost) CorkSinkInput(hostaudio.Index, bool) error    { return nil }
func (h *recordingHost) SetProperty(kind objkind.Kind, name string, idx hostaudio.Index, key, value string) error {
	h.fireCounts++
	if kind == objkind.Card {
		h.props[key] = value
	} else {
		h.sinkProps[key] = value
	}
	return nil
}
func (h *recordingHost) DeleteProperty(kind objkind.Kind, name string, idx hostaudio.Index, key string) error {
	delete(h.props, key)
	return nil
}
func (h *recordingHost) SetSharedProperty(key, value string) error { h.shared[key] = value; return nil }
func (h *recordingHost) NullSinkName() (string, bool)              { return "", false }

func TestOnVariableChangeNoOpOnUnchangedValue(t *testing.T) {
	e := NewEngine()
	v := e.DefineVariable("V")
	v.LastValue = "on"
	v.HasLastValue = true
	v.Rules = []*Rule{{ValueMatch: match.Equals("on"), Actions: []Action{
		&SetPropertyAction{Ref: &ObjectRef{Resolved: true}, Property: "x", Value: Constant("yes")},
	}}}

	require.NoError(t, e.OnVariableChange("V", "on"))
	assert.Equal(t, 0, e.PendingLen())
}

func TestOnVariableChangeEnqueuesMatchingRuleActions(t *testing.T) {
	e := NewEngine()
	v := e.DefineVariable("V")
	ref := &ObjectRef{Kind: objkind.Sink, Resolved: true, Name: "sinkA"}
	v.Rules = []*Rule{{ValueMatch: match.Equals("on"), Actions: []Action{
		&SetPropertyAction{Ref: ref, Property: "x", Value: Constant("yes")},
	}}}

	require.NoError(t, e.OnVariableChange("V", "on"))
	assert.Equal(t, 1, e.PendingLen())
}

func TestOnVariableChangeOverflowDropsAndReports(t *testing.T) {
	e := NewEngine()
	v := e.DefineVariable("V")
	ref := &ObjectRef{Resolved: true}
	var actions []Action
	for i := 0; i < maxPending+1; i++ {
		actions = append(actions, &SetPropertyAction{Ref: ref, Property: "x", Value: Constant("v")})
	}
	v.Rules = []*Rule{{ValueMatch: match.True, Actions: actions}}

	err := e.OnVariableChange("V", "on")
	assert.Error(t, err)
	assert.Equal(t, maxPending, e.PendingLen())
}

func TestCommitPendingAppliesLIFO(t *testing.T) {
	e := NewEngine()
	v := e.DefineVariable("V")
	ref := &ObjectRef{Kind: objkind.Card, Resolved: true, Name: "card0"}
	var order []string
	mk := func(val string) Action {
		return actionFunc(func(host hostaudio.Host, captured string) error {
			order = append(order, val)
			return nil
		})
	}
	v.Rules = []*Rule{{ValueMatch: match.True, Actions: []Action{mk("first"), mk("second"), mk("third")}}}
	_ = ref

	require.NoError(t, e.OnVariableChange("V", "x"))
	e.CommitPending(newRecordingHost())

	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, 0, e.PendingLen())
}

// actionFunc adapts a plain function to the Action interface for
// order-of-application tests.
type actionFunc func(host hostaudio.Host, captured string) error

func (f actionFunc) apply(host hostaudio.Host, captured string) error { return f(host, captured) }

func TestSetPropertyActionFiresOnceAndBroadcasts(t *testing.T) {
	host := newRecordingHost()
	ref := &ObjectRef{Kind: objkind.Sink, Resolved: true, Name: "sinkA"}
	e := NewEngine()
	v := e.DefineVariable("V")
	v.Rules = []*Rule{{ValueMatch: match.Equals("on"), Actions: []Action{
		&SetPropertyAction{Ref: ref, Property: "x", Value: Constant("yes")},
	}}}

	require.NoError(t, e.OnVariableChange("V", "on"))
	e.CommitPending(host)

	assert.Equal(t, "yes", host.sinkProps["x"])
	assert.Equal(t, "yes", host.shared["x"])
	assert.Equal(t, 1, host.fireCounts)

	e.pending = e.pending[:0]
	v.HasLastValue = false
	require.NoError(t, e.OnVariableChange("V", "on"))
	e.CommitPending(host)
	assert.Equal(t, 1, host.fireCounts)
}

func TestUnboundRefSkipsSilently(t *testing.T) {
	host := newRecordingHost()
	ref := &ObjectRef{Kind: objkind.Sink, Resolved: false}
	e := NewEngine()
	v := e.DefineVariable("V")
	v.Rules = []*Rule{{ValueMatch: match.True, Actions: []Action{
		&SetPropertyAction{Ref: ref, Property: "x", Value: Constant("yes")},
	}}}

	require.NoError(t, e.OnVariableChange("V", "on"))
	e.CommitPending(host)
	assert.Empty(t, host.sinkProps)
}

func TestActivityFiresOnSinkOpenAndSuppressesRepeat(t *testing.T) {
	host := newRecordingHost()
	ae := NewActivityEngine()
	ref := &ObjectRef{Kind: objkind.Card, Resolved: true, Name: "card0"}
	v := &ActivityVariable{
		DeviceName: "speaker",
		SinkMatch:  match.Equals("sinkA"),
		ActiveRules: []*Rule{{Actions: []Action{
			&SetPropertyAction{Ref: ref, Property: "p", Value: Constant("on")},
		}}},
	}
	ae.Define(v)

	ae.DeviceChanged(host, "speaker")
	ae.HandleSinkState(host, "sinkA", true)
	assert.Equal(t, "on", host.props["p"])

	// Close then reopen runs the active action again, but the card
	// property already holds "on", so no further write reaches the host.
	host.fireCounts = 0
	ae.HandleSinkState(host, "sinkA", false)
	ae.HandleSinkState(host, "sinkA", true)
	assert.Equal(t, 0, host.fireCounts)
}
