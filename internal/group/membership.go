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

package group

import (
	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/objkind"
)

// MediaNotification is emitted when a MEDIA_NOTIFY group's occupancy
// transitions 0<->1, for the engine to forward as a PDP "media" signal
// (spec.md §4.3, §4.7).
type MediaNotification struct {
	Group  string
	Active bool
}

// InsertSinkInput implements spec.md §4.3's insert_sink_input: resolve
// (or default) the group, record membership and proplist, and apply
// the group's routing/cork/mute/volume policy to the new member.
func (s *Set) InsertSinkInput(host hostaudio.Host, groupName string, idx hostaudio.Index, flags classify.StreamFlags) (*Group, *MediaNotification) {
	g := s.Default()
	if groupName != "" {
		g = s.New(groupName, "", "", nil, 0)
	}

	if err := host.SetProperty(objkind.SinkInput, "", idx, "policy.group", g.Name); err != nil {
		log.Warn("failed to record policy.group on insert", "stream", idx, "group", g.Name, "err", err)
	}
	if !containsIndex(g.StreamMembers, idx) {
		g.StreamMembers = append(g.StreamMembers, idx)
	}

	applyInsertPolicy(host, g, idx, flags)

	g.InStreamCount++
	var notif *MediaNotification
	if g.Flags.Has(MediaNotify) && g.InStreamCount == 1 {
		notif = &MediaNotification{Group: g.Name, Active: true}
	}
	return g, notif
}

func applyInsertPolicy(host hostaudio.Host, g *Group, idx hostaudio.Index, flags classify.StreamFlags) {
	switch {
	case g.Flags.Has(MuteByRoute) && g.MutedByRoute && flags&classify.LocalRoute == 0:
		if null, ok := host.NullSinkName(); ok {
			if err := host.MoveSinkInputToSink(idx, null); err != nil {
				log.Error("move to null sink failed", "stream", idx, "err", err)
			}
		}
	case g.Flags.Has(SetSink):
		if g.Sink != "" {
			if err := host.MoveSinkInputToSink(idx, g.Sink); err != nil {
				log.Error("move to group sink failed", "stream", idx, "sink", g.Sink, "err", err)
			}
			if flags&classify.LocalRoute != 0 && g.PortName != "" {
				if err := host.SetSinkActivePort(g.Sink, g.PortName); err != nil {
					log.Error("local route port override failed", "sink", g.Sink, "port", g.PortName, "err", err)
				}
			}
		}
	}

	if g.Flags.Has(CorkStream) {
		if err := host.CorkSinkInput(idx, g.Corked); err != nil {
			log.Error("cork on insert failed", "stream", idx, "err", err)
		}
	}

	switch {
	case flags&classify.LocalMute != 0:
		// Local-mute semantics (muting peers sharing this sink) are
		// applied by package route, which owns the cross-group sweep;
		// group only records the flag via the stream's extension
		// record, done by the caller (engine) before InsertSinkInput.
	case g.Flags.Has(LimitVolume):
		applyVolumeLimitToMember(host, g, idx)
	}
}

// applyVolumeLimitToMember clamps a single stream's volume factor to
// the group's limit, used both at insertion and whenever the group
// limit changes (package route.SetGroupLimit iterates all members the
// same way).
func applyVolumeLimitToMember(host hostaudio.Host, g *Group, idx hostaudio.Index) {
	ratio, err := host.SinkInputRealRatio(idx)
	if err != nil {
		log.Warn("could not read real ratio for volume limit", "stream", idx, "err", err)
		return
	}
	factor := make(hostaudio.ChannelVolumes, len(ratio))
	for i, r := range ratio {
		factor[i] = computeVolumeFactor(r, g.VolumeLimit)
	}
	if err := host.SetSinkInputVolumeFactor(idx, factor); err != nil {
		log.Error("set volume factor failed", "stream", idx, "err", err)
	}
}

// computeVolumeFactor solves factor such that real*factor/NORM <= limit,
// per spec.md §4.4: "compute a per-channel multiplicative volume factor
// so that real_ratio[i] * factor[i] <= limit for all channels."
func computeVolumeFactor(real, limit uint32) uint32 {
	if real == 0 {
		return hostaudio.Norm
	}
	factor := uint64(limit) * uint64(hostaudio.Norm) / uint64(real)
	if factor > uint64(hostaudio.Norm) {
		factor = uint64(hostaudio.Norm)
	}
	return uint32(factor)
}

// RemoveSinkInput implements the stream-removal half of §4.3: decrement
// occupancy, and report a media-inactive transition if this was the
// last member of a MEDIA_NOTIFY group. MovingCount is left unchanged;
// route.MoveTo brings it back to zero within the same call that
// raised it.
func (s *Set) RemoveSinkInput(groupName string, idx hostaudio.Index) (*Group, *MediaNotification) {
	g, ok := s.Get(groupName)
	if !ok {
		return nil, nil
	}
	members, removed := removeIndex(g.StreamMembers, idx)
	if !removed {
		return g, nil
	}
	g.StreamMembers = members
	if g.InStreamCount > 0 {
		g.InStreamCount--
	}
	var notif *MediaNotification
	if g.Flags.Has(MediaNotify) && g.InStreamCount == 0 {
		notif = &MediaNotification{Group: g.Name, Active: false}
	}
	return g, notif
}

// InsertSourceOutput is the source-output analogue of InsertSinkInput;
// spec.md §4.3 notes it is "analogous without volume/cork logic."
func (s *Set) InsertSourceOutput(host hostaudio.Host, groupName string, idx hostaudio.Index) *Group {
	g := s.Default()
	if groupName != "" {
		g = s.New(groupName, "", "", nil, 0)
	}
	if err := host.SetProperty(objkind.SourceOutput, "", idx, "policy.group", g.Name); err != nil {
		log.Warn("failed to record policy.group on source-output insert", "stream", idx, "group", g.Name, "err", err)
	}
	if !containsIndex(g.SourceOutputMembers, idx) {
		g.SourceOutputMembers = append(g.SourceOutputMembers, idx)
	}
	if g.Flags.Has(SetSource) && g.Source != "" {
		if err := host.MoveSourceOutputToSource(idx, g.Source); err != nil {
			log.Error("move source-output to group source failed", "stream", idx, "source", g.Source, "err", err)
		}
	}
	g.InSourceCount++
	return g
}

// RemoveSourceOutput is the source-output analogue of RemoveSinkInput.
func (s *Set) RemoveSourceOutput(groupName string, idx hostaudio.Index) *Group {
	g, ok := s.Get(groupName)
	if !ok {
		return nil
	}
	members, removed := removeIndex(g.SourceOutputMembers, idx)
	if !removed {
		return g
	}
	g.SourceOutputMembers = members
	if g.InSourceCount > 0 {
		g.InSourceCount--
	}
	return g
}
