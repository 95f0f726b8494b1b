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

package route

import (
	"testing"

	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/group"
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/objkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	sinks        map[string]hostaudio.SinkInfo
	sources      map[string]hostaudio.SourceInfo
	cards        map[string]hostaudio.CardInfo
	moved        map[hostaudio.Index]string
	ports        map[string]string
	profiles     map[string]string
	corked       map[hostaudio.Index]bool
	sourceMuted  map[string]bool
	volumeFactor map[hostaudio.Index]hostaudio.ChannelVolumes
	realRatio    hostaudio.ChannelVolumes
	shared       map[string]string
	nullSink     string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		sinks:        map[string]hostaudio.SinkInfo{},
		sources:      map[string]hostaudio.SourceInfo{},
		cards:        map[string]hostaudio.CardInfo{},
		moved:        map[hostaudio.Index]string{},
		ports:        map[string]string{},
		profiles:     map[string]string{},
		corked:       map[hostaudio.Index]bool{},
		sourceMuted:  map[string]bool{},
		volumeFactor: map[hostaudio.Index]hostaudio.ChannelVolumes{},
		realRatio:    hostaudio.ChannelVolumes{hostaudio.Norm},
		shared:       map[string]string{},
		nullSink:     "null",
	}
}

func (f *fakeHost) SinkByName(name string) (hostaudio.SinkInfo, bool) { s, ok := f.sinks[name]; return s, ok }
func (f *fakeHost) SourceByName(name string) (hostaudio.SourceInfo, bool) {
	s, ok := f.sources[name]
	return s, ok
}
func (f *fakeHost) CardByName(name string) (hostaudio.CardInfo, bool) { c, ok := f.cards[name]; return c, ok }
func (f *fakeHost) SinkInput(idx hostaudio.Index) (hostaudio.SinkInputInfo, bool) {
	return hostaudio.SinkInputInfo{}, false
}
func (f *fakeHost) SourceOutput(idx hostaudio.Index) (hostaudio.SourceOutputInfo, bool) {
	return hostaudio.SourceOutputInfo{}, false
}
func (f *fakeHost) MoveSinkInputToSink(idx hostaudio.Index, sinkName string) error {
	f.moved[idx] = sinkName
	return nil
}
func (f *fakeHost) MoveSourceOutputToSource(idx hostaudio.Index, sourceName string) error {
	f.moved[idx] = sourceName
	return nil
}
func (f *fakeHost) SetSinkActivePort(sinkName, port string) error { f.ports[sinkName] = port; return nil }
func (f *fakeHost) SetCardProfile(cardName, profile string) error {
	f.profiles[cardName] = profile
	return nil
}
func (f *fakeHost) SinkInputRealRatio(idx hostaudio.Index) (hostaudio.ChannelVolumes, error) {
	return f.realRatio, nil
}
func (f *fakeHost) SetSinkInputVolumeFactor(idx hostaudio.Index, factor hostaudio.ChannelVolumes) error {
	f.volumeFactor[idx] = factor
	return nil
}
func (f *fakeHost) RequestFlatVolumeRepropagation(sinkName string) error { return nil }
func (f *fakeHost) SetSourceMute(sourceName string, mute bool) error {
	f.sourceMuted[sourceName] = mute
	return nil
}
func (f *fakeHost) CorkSinkInput(idx hostaudio.Index, corked bool) error {
	f.corked[idx] = corked
	return nil
}
func (f *fakeHost) SetProperty(kind objkind.Kind, name string, idx hostaudio.Index, key, value string) error {
	return nil
}
func (f *fakeHost) DeleteProperty(kind objkind.Kind, name string, idx hostaudio.Index, key string) error {
	return nil
}
func (f *fakeHost) SetSharedProperty(key, value string) error { f.shared[key] = value; return nil }
func (f *fakeHost) NullSinkName() (string, bool)              { return f.nullSink, f.nullSink != "" }

func (f *fakeHost) SinkNames() []string {
	var names []string
	for n := range f.sinks {
		names = append(names, n)
	}
	return names
}
func (f *fakeHost) SourceNames() []string {
	var names []string
	for n := range f.sources {
		names = append(names, n)
	}
	return names
}

func newClassifierWithSinkType(typeName, sinkName string) *classify.Classifier {
	c := classify.New(group.DefaultGroupName)
	c.AddDeviceRule(classify.DeviceSink, &classify.DeviceRule{
		Type:     typeName,
		Property: objkind.PropName,
		Match:    match.Equals(sinkName),
	})
	return c
}

func TestMoveToRoutesGroupMembersAndClearsMovingCount(t *testing.T) {
	host := newFakeHost()
	host.sinks["sinkB"] = hostaudio.SinkInfo{Name: "sinkB"}
	groups := group.NewSet()
	g := groups.New("G", "", "", nil, group.RouteAudio)
	g.StreamMembers = []hostaudio.Index{1, 2}

	c := newClassifierWithSinkType("B", "sinkB")
	r := NewRouter(groups, c, host)

	err := r.MoveTo("", ClassSink, "B", "hf", "xy")
	require.NoError(t, err)

	assert.Equal(t, "sinkB", host.moved[1])
	assert.Equal(t, "sinkB", host.moved[2])
	assert.Equal(t, 0, g.MovingCount)
	assert.Equal(t, "sinkB", g.Sink)
	assert.Equal(t, "hf", host.shared["audio.mode"])
	assert.Equal(t, "xy", host.shared["accessory.hwid"])
}

func TestMoveToIsNoOpOnRepeatedIdenticalDecision(t *testing.T) {
	host := newFakeHost()
	host.sinks["sinkB"] = hostaudio.SinkInfo{Name: "sinkB"}
	groups := group.NewSet()
	g := groups.New("G", "", "", nil, group.RouteAudio)
	g.StreamMembers = []hostaudio.Index{1}
	c := newClassifierWithSinkType("B", "sinkB")
	r := NewRouter(groups, c, host)

	require.NoError(t, r.MoveTo("", ClassSink, "B", "hf", "xy"))
	host.moved = map[hostaudio.Index]string{}

	require.NoError(t, r.MoveTo("", ClassSink, "B", "hf", "xy"))
	assert.Empty(t, host.moved)
}

func TestSetGroupLimitComputesVolumeFactor(t *testing.T) {
	host := newFakeHost()
	groups := group.NewSet()
	g := groups.New("G", "", "", nil, group.LimitVolume)
	g.StreamMembers = []hostaudio.Index{9}
	host.realRatio = hostaudio.ChannelVolumes{hostaudio.Norm, hostaudio.Norm}

	r := NewRouter(groups, classify.New(group.DefaultGroupName), host)
	require.NoError(t, r.SetGroupLimit("G", 50))

	factor := host.volumeFactor[9]
	require.Len(t, factor, 2)
	assert.Equal(t, hostaudio.Norm/2, factor[0])
}

func TestSetGroupLimitZeroWithMuteByRouteMovesToNullSink(t *testing.T) {
	host := newFakeHost()
	groups := group.NewSet()
	g := groups.New("G", "", "", nil, group.LimitVolume|group.MuteByRoute)
	g.StreamMembers = []hostaudio.Index{1, 2}

	r := NewRouter(groups, classify.New(group.DefaultGroupName), host)
	require.NoError(t, r.SetGroupLimit("G", 0))

	assert.Equal(t, "null", host.moved[1])
	assert.Equal(t, "null", host.moved[2])
	assert.True(t, g.MutedByRoute)

	g.Sink = "sinkA"
	require.NoError(t, r.SetGroupLimit("G", 80))
	assert.Equal(t, "sinkA", host.moved[1])
	assert.False(t, g.MutedByRoute)
}

func TestCorkGroupSkipsMembersDisagreeingWithClientState(t *testing.T) {
	host := newFakeHost()
	groups := group.NewSet()
	g := groups.New("G", "", "", nil, group.CorkStream)
	g.StreamMembers = []hostaudio.Index{1, 2}

	r := NewRouter(groups, classify.New(group.DefaultGroupName), host)
	clientPaused := map[hostaudio.Index]bool{2: true}

	require.NoError(t, r.CorkGroup("G", true, func(idx hostaudio.Index) bool { return clientPaused[idx] }))

	assert.True(t, host.corked[1])
	_, corkedStream2 := host.corked[2]
	assert.False(t, corkedStream2)
}

func TestMuteSourceMutesEverySource(t *testing.T) {
	host := newFakeHost()
	host.sources["mic1"] = hostaudio.SourceInfo{Name: "mic1"}
	host.sources["mic2"] = hostaudio.SourceInfo{Name: "mic2"}

	r := NewRouter(group.NewSet(), classify.New(group.DefaultGroupName), host)
	require.NoError(t, r.MuteSource("mic", true))

	assert.True(t, host.sourceMuted["mic1"])
	assert.True(t, host.sourceMuted["mic2"])
}

func TestLocalMuteClampsPeerGroupsSharingSink(t *testing.T) {
	host := newFakeHost()
	groups := group.NewSet()
	marking := groups.New("phone", "", "", nil, 0)
	marking.Sink = "sinkA"
	peer := groups.New("music", "", "", nil, 0)
	peer.Sink = "sinkA"
	peer.StreamMembers = []hostaudio.Index{5}

	r := NewRouter(groups, classify.New(group.DefaultGroupName), host)
	require.NoError(t, r.LocalMute("phone", true))

	assert.True(t, peer.LocallyMuted)
	assert.Equal(t, hostaudio.ChannelVolumes{0}, host.volumeFactor[5])
}
