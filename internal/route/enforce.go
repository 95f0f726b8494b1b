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
	"github.com/nemoaudio/policyd/internal/group"
	"github.com/nemoaudio/policyd/internal/hostaudio"
)

// SetGroupLimit implements spec.md §4.4's set_group_limit: percent is
// 0..100, converted to a normalized volume value.
func (r *Router) SetGroupLimit(groupName string, percent int) error {
	g, ok := r.Groups.Get(groupName)
	if !ok || !g.Flags.Has(group.LimitVolume) {
		return nil
	}

	limit := uint32(percent) * hostaudio.Norm / 100

	if g.Flags.Has(group.MuteByRoute) {
		null, haveNull := r.Host.NullSinkName()
		if haveNull {
			if percent == 0 {
				return r.muteByRouteToNull(g, null)
			}
			if err := r.muteByRouteRestore(g); err != nil {
				return err
			}
		}
	}

	g.VolumeLimit = limit
	var firstErr error
	for _, idx := range g.StreamMembers {
		if err := r.applyVolumeLimit(g, idx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) muteByRouteToNull(g *group.Group, null string) error {
	g.MutedByRoute = true
	var firstErr error
	for _, idx := range g.StreamMembers {
		if err := r.Host.MoveSinkInputToSink(idx, null); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) muteByRouteRestore(g *group.Group) error {
	g.MutedByRoute = false
	if g.Sink == "" {
		return nil
	}
	var firstErr error
	for _, idx := range g.StreamMembers {
		if err := r.Host.MoveSinkInputToSink(idx, g.Sink); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) applyVolumeLimit(g *group.Group, idx hostaudio.Index) error {
	ratio, err := r.Host.SinkInputRealRatio(idx)
	if err != nil {
		return err
	}
	factor := make(hostaudio.ChannelVolumes, len(ratio))
	for i, real := range ratio {
		factor[i] = computeVolumeFactor(real, g.VolumeLimit)
	}
	if err := r.Host.SetSinkInputVolumeFactor(idx, factor); err != nil {
		return err
	}
	info, ok := r.Host.SinkByName(g.Sink)
	if ok && info.FlatVolumes {
		return r.Host.RequestFlatVolumeRepropagation(g.Sink)
	}
	return nil
}

// computeVolumeFactor mirrors group.computeVolumeFactor: solves factor
// such that real*factor/NORM <= limit.
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

// CorkGroup implements spec.md §4.4's cork_group: cork/uncork every
// member except those the client itself has corked, which are neither
// re-corked nor uncorked. corkedByClient is supplied by the caller,
// which owns the sink-input extension records (package engine).
func (r *Router) CorkGroup(groupName string, corked bool, corkedByClient func(hostaudio.Index) bool) error {
	g, ok := r.Groups.Get(groupName)
	if !ok || !g.Flags.Has(group.CorkStream) {
		return nil
	}
	if g.Corked == corked {
		return nil
	}
	g.Corked = corked
	var firstErr error
	for _, idx := range g.StreamMembers {
		if corkedByClient != nil && corkedByClient(idx) {
			// The client paused this member itself: corking it again is
			// redundant, and uncorking it would override the user.
			continue
		}
		if err := r.Host.CorkSinkInput(idx, corked); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MuteSource implements spec.md §6's audio_mute action: it mutes every
// source the host lists. deviceType is not used to filter the sources.
func (r *Router) MuteSource(deviceType string, mute bool) error {
	var firstErr error
	for _, name := range allSourceNames(r.Host) {
		info, ok := r.Host.SourceByName(name)
		if !ok {
			continue
		}
		_ = info
		if err := r.Host.SetSourceMute(name, mute); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LocalMute implements spec.md §4.4's local-mute: every other group
// currently bound to the same sink as the marking stream's group gets
// locally_muted applied, moving members to the null-sink (if
// MUTE_BY_ROUTE) or clamping their volume to 0.
func (r *Router) LocalMute(markingGroup string, mute bool) error {
	g, ok := r.Groups.Get(markingGroup)
	if !ok || g.Sink == "" {
		return nil
	}
	var firstErr error
	for _, peer := range r.Groups.All() {
		if peer.Name == markingGroup || peer.Sink != g.Sink {
			continue
		}
		peer.LocallyMuted = mute
		if !mute {
			continue
		}
		if peer.Flags.Has(group.MuteByRoute) {
			if null, haveNull := r.Host.NullSinkName(); haveNull {
				for _, idx := range peer.StreamMembers {
					if err := r.Host.MoveSinkInputToSink(idx, null); err != nil && firstErr == nil {
						firstErr = err
					}
				}
			}
			continue
		}
		for _, idx := range peer.StreamMembers {
			if err := r.Host.SetSinkInputVolumeFactor(idx, hostaudio.ChannelVolumes{0}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
