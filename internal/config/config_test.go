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

package config

import (
	"strings"
	"testing"

	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/context"
	"github.com/nemoaudio/policyd/internal/group"
	"github.com/nemoaudio/policyd/internal/registry"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTargets() Targets {
	return Targets{
		Classifier: classify.New(group.DefaultGroupName),
		Groups:     group.NewSet(),
		Context:    context.NewEngine(),
		Activity:   context.NewActivityEngine(),
		Registry:   registry.New(),
	}
}

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	src := `
# a comment
[group]
name=music # trailing comment
flags=route_audio,limit_volume
`
	sections, errs := Parse(strings.NewReader(src))
	assert.Empty(t, errs)
	require.Len(t, sections, 1)
	assert.Equal(t, "group", sections[0].Kind)
}

func TestParseQuotedValuePreservesWhitespace(t *testing.T) {
	src := `[group]
name="my  group"
`
	sections, errs := Parse(strings.NewReader(src))
	require.Empty(t, errs)
	require.Len(t, sections[0].Keys, 1)
	assert.Equal(t, "my  group", sections[0].Keys[0].Value)
}

func TestParseRejectsControlByte(t *testing.T) {
	src := "[group]\nname=bad\x01value\n"
	_, errs := Parse(strings.NewReader(src))
	require.Len(t, errs, 1)
}

func TestParseUnknownSectionIsReportedAndSkipped(t *testing.T) {
	src := "[bogus]\nname=x\n"
	sections, errs := Parse(strings.NewReader(src))
	assert.Empty(t, sections)
	require.Len(t, errs, 1)
}

func TestBuildGroupSection(t *testing.T) {
	src := `[group]
name=music
sink=sinkA
flags=route_audio,limit_volume
`
	sections, errs := Parse(strings.NewReader(src))
	require.Empty(t, errs)
	tg := newTargets()
	loaded := Build(sections, tg)
	assert.Equal(t, 1, loaded)

	g, ok := tg.Groups.Get("music")
	require.True(t, ok)
	assert.Equal(t, "sinkA", g.PreferredSinkName)
	assert.True(t, g.Flags.Has(group.RouteAudio))
	assert.True(t, g.Flags.Has(group.LimitVolume))
}

func TestBuildStreamSectionNameShortcut(t *testing.T) {
	src := `[stream]
name=alert
group=ring
`
	sections, errs := Parse(strings.NewReader(src))
	require.Empty(t, errs)
	tg := newTargets()
	Build(sections, tg)

	g, flags := tg.Classifier.ClassifyStream(classify.StreamInput{StreamName: "alert"})
	assert.Equal(t, "ring", g)
	assert.Equal(t, classify.StreamFlags(0), flags)
}

func TestBuildContextRuleWiresObjectRefIntoRegistry(t *testing.T) {
	src := `[context-rule]
variable=V
value=equals:on
set-property=sink-name@equals:sinkA,property:x,value@constant:yes
`
	sections, errs := Parse(strings.NewReader(src))
	require.Empty(t, errs)
	tg := newTargets()
	loaded := Build(sections, tg)
	require.Equal(t, 1, loaded)

	v, ok := tg.Context.Variable("V")
	require.True(t, ok)
	require.Len(t, v.Rules, 1)
	action := v.Rules[0].Actions[0].(*context.SetPropertyAction)
	assert.False(t, action.Ref.Resolved)

	tg.Registry.OnAnnounced(action.Ref.Kind, "sinkA", 1)
	assert.True(t, action.Ref.Resolved)
}

func TestBuildActivitySection(t *testing.T) {
	src := `[activity]
device=speaker
sink-name=equals:sinkA
active=card-name@equals:card0,property:p,value@constant:on
`
	sections, errs := Parse(strings.NewReader(src))
	require.Empty(t, errs)
	tg := newTargets()
	loaded := Build(sections, tg)
	assert.Equal(t, 1, loaded)
}

func TestLoaderLoadsPrimaryAndConfigDirWithOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/policy.conf", []byte("[group]\nname=othermedia\nflags=route_audio\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/etc/policy.conf.d/10-extra.conf", []byte("[group]\nname=music\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/etc/policy.conf.d/10-extra.conf.override", []byte("[group]\nname=music\nsink=sinkB\n"), 0o644))

	l := &Loader{Fs: fs, ConfigFile: "/etc/policy.conf", ConfigDir: "/etc/policy.conf.d"}
	tg := newTargets()
	require.NoError(t, l.Load(tg))

	g, ok := tg.Groups.Get("music")
	require.True(t, ok)
	assert.Equal(t, "sinkB", g.PreferredSinkName)
}

func TestLoaderFailsWhenPrimaryFileMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := &Loader{Fs: fs, ConfigFile: "/etc/policy.conf"}
	err := l.Load(newTargets())
	assert.Error(t, err)
}
