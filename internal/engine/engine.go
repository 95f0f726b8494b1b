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

// Package engine wires the classifier, policy groups, context/activity
// engines, object registry and router onto a host adapter and a PDP
// transport, and runs the single-threaded dispatch loop spec.md §5
// describes: every handler runs to completion before the next host or
// PDP event is considered.
package engine

import (
	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/context"
	"github.com/nemoaudio/policyd/internal/diag"
	"github.com/nemoaudio/policyd/internal/group"
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/logging"
	"github.com/nemoaudio/policyd/internal/objkind"
	"github.com/nemoaudio/policyd/internal/pdp"
	"github.com/nemoaudio/policyd/internal/registry"
	"github.com/nemoaudio/policyd/internal/route"
)

var log = logging.Named("engine")

// Engine is the top-level object tying every subsystem together. It
// implements pdp.Handler and drives host events off an
// hostaudio.EventSource.
type Engine struct {
	Host      hostaudio.Host
	Source    hostaudio.EventSource
	Classify  *classify.Classifier
	Groups    *group.Set
	Context   *context.Engine
	Activity  *context.ActivityEngine
	Registry  *registry.Registry
	Router    *route.Router
	Transport *pdp.Transport

	preempt bool
}

// New constructs an Engine from already-built collaborators; callers
// (cmd/policyd) assemble the classifier/groups/context/activity/
// registry from config.Build before calling this. preempt mirrors the
// original implementation's preempt module parameter: "on" gives the
// default group MEDIA_NOTIFY, so even ungrouped media can preempt
// whatever the PDP currently has active.
func New(host hostaudio.Host, source hostaudio.EventSource, classifier *classify.Classifier, groups *group.Set, ctxEngine *context.Engine, activity *context.ActivityEngine, reg *registry.Registry, preempt bool) *Engine {
	if preempt {
		if def := groups.Default(); def != nil {
			def.Flags |= group.MediaNotify
		}
	}
	return &Engine{
		Host:     host,
		Source:   source,
		Classify: classifier,
		Groups:   groups,
		Context:  ctxEngine,
		Activity: activity,
		Registry: reg,
		Router:   route.NewRouter(groups, classifier, host),
		preempt:  preempt,
	}
}

// Run drains the host's event channels until Source.Events() closes,
// dispatching each to completion before considering the next: the
// cooperative model spec.md §5 requires.
func (e *Engine) Run() {
	events := e.Source.Events()
	states := e.Source.SinkStates()
	for events != nil || states != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleObjectEvent(ev)
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			e.Activity.HandleSinkState(e.Host, st.SinkName, st.State == hostaudio.SinkStateOpened)
		}
	}
}

func (e *Engine) handleObjectEvent(ev hostaudio.ObjectEvent) {
	switch ev.Kind {
	case hostaudio.EventNew, hostaudio.EventPut:
		e.Registry.OnAnnounced(ev.Class, ev.Name, ev.Index)
		switch ev.Class {
		case objkind.Sink:
			e.onSinkAnnounced(ev.Name)
		case objkind.Source:
			e.Groups.OnNamedSourceAnnounced(ev.Name)
		case objkind.SinkInput:
			e.onSinkInputNew(ev.Index)
		case objkind.SourceOutput:
			e.onSourceOutputNew(ev.Index)
		}
	case hostaudio.EventUnlink:
		// onSinkInputUnlink reads the stream's extension record, which
		// Registry.OnUnlinked deletes, so the registry is updated last.
		switch ev.Class {
		case objkind.Sink:
			e.Groups.OnSinkRemoved(ev.Name)
		case objkind.Source:
			e.Groups.OnSourceRemoved(ev.Name)
		case objkind.SinkInput:
			e.onSinkInputUnlink(ev.Index)
		case objkind.SourceOutput:
			e.onSourceOutputUnlink(ev.Index)
		}
		e.Registry.OnUnlinked(ev.Class, ev.Name, ev.Index)
	}
}

func (e *Engine) onSinkAnnounced(name string) {
	e.Groups.OnNamedSinkAnnounced(name)
	info, ok := e.Host.SinkByName(name)
	if !ok {
		return
	}
	in := classify.DeviceInput{Name: name, Properties: info.Properties}
	types := e.Classify.ClassifyDevice(classify.DeviceSink, in, 0, 0)
	joined, truncated := classify.JoinTypesBounded(types, 256)
	if truncated {
		log.Warn("device typelist overflowed buffer, leaving empty", "sink", name)
		joined = ""
	}
	if err := e.Host.SetProperty(objkind.Sink, name, 0, "policy.device.typelist", joined); err != nil {
		log.Warn("failed to record device typelist", "sink", name, "err", err)
	}
}

func (e *Engine) onSinkInputNew(idx hostaudio.Index) {
	info, ok := e.Host.SinkInput(idx)
	if !ok {
		return
	}
	in := classify.StreamInput{
		Pid: info.Pid, HasPid: info.HasPid,
		ClientName: info.ClientName, HasClient: info.HasClient,
		Exe: info.Exe, HasExe: info.HasExe,
		StreamName: info.Name,
		ActiveSink: info.SinkName, HasActiveSink: info.SinkName != "",
		Properties: info.Properties,
	}
	groupName, flags := e.Classify.ClassifyStream(in)
	e.Registry.NewStream(idx, groupName, flags)
	_, notif := e.Groups.InsertSinkInput(e.Host, groupName, idx, flags)
	if flags&classify.LocalMute != 0 {
		if err := e.Router.LocalMute(groupName, true); err != nil {
			log.Error("local-mute sweep failed on insert", "stream", idx, "err", err)
		}
	}
	if notif != nil && e.Transport != nil {
		e.Transport.SendMediaInfo("media", notif.Group, notif.Active)
	}
}

func (e *Engine) onSinkInputUnlink(idx hostaudio.Index) {
	ext, ok := e.Registry.Stream(idx)
	if !ok {
		return
	}
	groupName := ext.Group
	if ext.LocalMute {
		if err := e.Router.LocalMute(groupName, false); err != nil {
			log.Error("local-mute release failed on unlink", "stream", idx, "err", err)
		}
	}
	_, notif := e.Groups.RemoveSinkInput(groupName, idx)
	e.Registry.RemoveStream(idx)
	if notif != nil && e.Transport != nil {
		e.Transport.SendMediaInfo("media", notif.Group, notif.Active)
	}
}

func (e *Engine) onSourceOutputNew(idx hostaudio.Index) {
	info, ok := e.Host.SourceOutput(idx)
	if !ok {
		return
	}
	in := classify.StreamInput{
		Pid: info.Pid, HasPid: info.HasPid,
		ClientName: info.ClientName, HasClient: info.HasClient,
		StreamName: info.Name,
		Properties: info.Properties,
	}
	groupName, _ := e.Classify.ClassifyStream(in)
	e.Groups.InsertSourceOutput(e.Host, groupName, idx)
}

func (e *Engine) onSourceOutputUnlink(idx hostaudio.Index) {
	for _, g := range e.Groups.All() {
		e.Groups.RemoveSourceOutput(g.Name, idx)
	}
}

// HandleStreamInfo implements pdp.Handler: registers or removes a pid
// override, then re-runs classification over every stream currently
// parked in the default group (spec.md §4.6's rediscover).
func (e *Engine) HandleStreamInfo(info pdp.StreamInfo) {
	m, err := matcherForStreamInfo(info)
	if err != nil {
		log.Warn("malformed stream_info, ignoring", "err", err)
		return
	}
	var hint *string
	if info.HasHint {
		hint = &info.StreamHint
	}
	switch info.Op {
	case pdp.StreamInfoRegister:
		e.Classify.AddPidOverride(info.Pid, hint, info.Property, m, info.Group)
	case pdp.StreamInfoUnregister:
		e.Classify.RemovePidOverride(info.Pid, hint, info.Property, m)
	}
	e.rediscover()
}

func (e *Engine) rediscover() {
	changed := e.Registry.Rediscover(group.DefaultGroupName, e.Classify, func(idx hostaudio.Index) (classify.StreamInput, bool) {
		info, ok := e.Host.SinkInput(idx)
		if !ok {
			return classify.StreamInput{}, false
		}
		return classify.StreamInput{
			Pid: info.Pid, HasPid: info.HasPid,
			ClientName: info.ClientName, HasClient: info.HasClient,
			Exe: info.Exe, HasExe: info.HasExe,
			StreamName: info.Name,
			ActiveSink: info.SinkName, HasActiveSink: info.SinkName != "",
			Properties: info.Properties,
		}, true
	})
	for idx, newGroup := range changed {
		e.Groups.RemoveSinkInput(group.DefaultGroupName, idx)
		ext, _ := e.Registry.Stream(idx)
		flags := classify.StreamFlags(0)
		if ext != nil {
			flags = ext.Flags
		}
		e.Groups.InsertSinkInput(e.Host, newGroup, idx, flags)
	}
}

// HandleActionBatch implements pdp.Handler: routes execute before
// volume/cork/mute, context changes enqueue and commit once at the
// end, all strictly before the status ack (spec.md §6, §5).
func (e *Engine) HandleActionBatch(batch pdp.ActionBatch) bool {
	ok := true
	for _, r := range batch.Routes {
		class := route.ClassSink
		if r.Type == "source" {
			class = route.ClassSource
		}
		if err := e.Router.MoveTo("", class, r.Device, r.Mode, r.HWID); err != nil {
			log.Error("audio_route failed", "device", r.Device, "err", err)
			ok = false
		}
	}
	if len(batch.Routes) > 0 {
		e.rediscover()
	}
	for _, l := range batch.Limits {
		if err := e.Router.SetGroupLimit(l.Group, int(l.Limit)); err != nil {
			log.Error("volume_limit failed", "group", l.Group, "err", err)
			ok = false
		}
	}
	for _, c := range batch.Corks {
		if err := e.Router.CorkGroup(c.Group, c.Corked, e.corkedByClient); err != nil {
			log.Error("audio_cork failed", "group", c.Group, "err", err)
			ok = false
		}
		e.markGroupEngineCork(c.Group)
	}
	for _, m := range batch.Mutes {
		if err := e.Router.MuteSource(m.Device, m.Mute); err != nil {
			log.Error("audio_mute failed", "device", m.Device, "err", err)
			ok = false
		}
	}
	for _, c := range batch.Context {
		if err := e.Context.OnVariableChange(c.Variable, c.Value); err != nil {
			log.Warn("context change dropped", "variable", c.Variable, "err", err)
			ok = false
		}
	}
	e.Context.CommitPending(e.Host)

	for _, g := range e.Groups.All() {
		if g.MovingCount != 0 {
			diag.Dump(g.Name, g.MovingCount, g.StreamMembers)
			log.Error("invariant violation: moving-count nonzero after batch", "group", g.Name, "moving_count", g.MovingCount)
		}
	}
	return ok
}

func (e *Engine) corkedByClient(idx hostaudio.Index) bool {
	ext, ok := e.Registry.Stream(idx)
	if !ok {
		return false
	}
	return ext.CorkedByClient
}

func (e *Engine) markGroupEngineCork(groupName string) {
	g, ok := e.Groups.Get(groupName)
	if !ok {
		return
	}
	for _, idx := range g.StreamMembers {
		e.Registry.MarkEngineCork(idx)
	}
}

// DeviceChanged forwards a host-reported active-device change to the
// activity engine.
func (e *Engine) DeviceChanged(deviceName string) {
	e.Activity.DeviceChanged(e.Host, deviceName)
}
