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

// Package route applies group-level routing, volume-limit, cork, and
// mute decisions to a policy group's members: the enforcement half of
// the classifier/group pair.
package route

import (
	"fmt"

	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/group"
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/logging"
)

var log = logging.Named("route")

// Class distinguishes a sink move from a source move.
type Class int

const (
	ClassSink Class = iota
	ClassSource
)

// Decision is a single resolved move-to target, as remembered by the
// Router for the no-op optimization.
type Decision struct {
	Class  Class
	Device string
	Mode   string
	HWID   string
}

// Router ties a group set, a classifier (for target-type resolution),
// and the host together to perform §4.4's move-to/volume/cork/mute
// operations.
type Router struct {
	Groups *group.Set
	Class  *classify.Classifier
	Host   hostaudio.Host

	// decisions is the last-applied decision per class, standing in
	// for the module proplist fields policy.sink_route.target/.mode/.hwid
	// (and the source analogue) used by the no-op optimization.
	decisions map[Class]Decision
}

// NewRouter constructs a Router over the given collaborators.
func NewRouter(groups *group.Set, classifier *classify.Classifier, host hostaudio.Host) *Router {
	return &Router{
		Groups:    groups,
		Class:     classifier,
		Host:      host,
		decisions: map[Class]Decision{},
	}
}

// MoveTo implements spec.md §4.4's move-to: resolve a target-type to a
// concrete sink/source, then run the detach/reconfigure/attach phases
// against the named group or every ROUTE_AUDIO group.
func (r *Router) MoveTo(groupName string, class Class, targetType, mode, hwid string) error {
	decision := Decision{Class: class, Device: targetType, Mode: mode, HWID: hwid}
	if mode == "na" {
		mode = ""
		decision.Mode = ""
	}
	if hwid == "na" {
		decision.HWID = ""
	}

	if prev, ok := r.decisions[class]; ok && prev == decision {
		r.broadcastRouteState(class, decision)
		return nil
	}

	targetName, ok := r.resolveTarget(class, targetType)
	if !ok {
		log.Warn("move-to target type did not resolve to a host object", "type", targetType, "class", class)
		r.decisions[class] = decision
		r.broadcastRouteState(class, decision)
		return nil
	}

	groups := r.groupsFor(groupName)
	var firstErr error
	for _, g := range groups {
		if err := r.moveGroup(g, class, targetName, mode); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, g := range groups {
		if g.MovingCount != 0 {
			log.Error("moving-count nonzero after move-to completed", "group", g.Name, "moving_count", g.MovingCount)
			firstErr = fmt.Errorf("group %s: moving-count %d after route completion", g.Name, g.MovingCount)
		}
	}

	r.decisions[class] = decision
	r.broadcastRouteState(class, decision)
	return firstErr
}

func (r *Router) resolveTarget(class Class, targetType string) (string, bool) {
	if class == ClassSink {
		for _, s := range allSinkNames(r.Host) {
			if r.Class.IsObjectTypeOf(classify.DeviceSink, classify.DeviceInput{Name: s}, targetType) {
				return s, true
			}
		}
		return "", false
	}
	for _, s := range allSourceNames(r.Host) {
		if r.Class.IsObjectTypeOf(classify.DeviceSource, classify.DeviceInput{Name: s}, targetType) {
			return s, true
		}
	}
	return "", false
}

// allSinkNames/allSourceNames are host-enumeration seams; the
// production hostaudio.Host satisfies a richer listing interface that
// these type-assert to when available, keeping Host's own surface
// limited to what package group needs.
type sinkLister interface{ SinkNames() []string }
type sourceLister interface{ SourceNames() []string }

func allSinkNames(host hostaudio.Host) []string {
	if l, ok := host.(sinkLister); ok {
		return l.SinkNames()
	}
	return nil
}

func allSourceNames(host hostaudio.Host) []string {
	if l, ok := host.(sourceLister); ok {
		return l.SourceNames()
	}
	return nil
}

func (r *Router) groupsFor(groupName string) []*group.Group {
	if groupName != "" {
		if g, ok := r.Groups.Get(groupName); ok {
			return []*group.Group{g}
		}
		return nil
	}
	var routed []*group.Group
	for _, g := range r.Groups.All() {
		if g.Flags.Has(group.RouteAudio) {
			routed = append(routed, g)
		}
	}
	return routed
}

// moveGroup runs the detach/reconfigure/attach phases for one group.
func (r *Router) moveGroup(g *group.Group, class Class, targetName, mode string) error {
	var members []hostaudio.Index
	if class == ClassSink {
		members = g.StreamMembers
	} else {
		members = g.SourceOutputMembers
	}

	// Phase A: detach. The host's native protocol performs moves as a
	// single atomic call rather than a separate detach/reconnect pair,
	// so detach is modeled as tallying moving-count before issuing the
	// combined move in phase C; this preserves the invariant (§8.5)
	// without requiring the host interface to expose a two-step move.
	g.MovingCount += len(members)

	if err := r.reconfigure(g, class, targetName); err != nil {
		log.Error("reconfigure failed during move-to", "group", g.Name, "err", err)
	}

	var firstErr error
	for _, idx := range members {
		var err error
		if class == ClassSink {
			err = r.Host.MoveSinkInputToSink(idx, targetName)
		} else {
			err = r.Host.MoveSourceOutputToSource(idx, targetName)
		}
		if err != nil {
			log.Error("finish-move failed", "group", g.Name, "member", idx, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if g.MovingCount > 0 {
			g.MovingCount--
		}
	}

	if class == ClassSink {
		g.Sink = targetName
		if mode != "" && g.PortName != "" {
			if err := r.Host.SetSinkActivePort(targetName, g.PortName); err != nil {
				log.Error("set-ports failed during move-to", "group", g.Name, "sink", targetName, "err", err)
			}
		}
	} else {
		g.Source = targetName
	}
	return firstErr
}

func (r *Router) reconfigure(g *group.Group, class Class, targetName string) error {
	if class != ClassSink {
		return nil
	}
	info, ok := r.Host.SinkByName(targetName)
	if !ok {
		return fmt.Errorf("target sink %q not found for profile switch", targetName)
	}
	card, ok := r.Host.CardByName(info.CardName)
	if !ok || card.Profile == "" {
		return nil
	}
	return r.Host.SetCardProfile(info.CardName, card.Profile)
}

// broadcastRouteState fires the module-scoped shared-property
// broadcast required unconditionally by §4.4 step 4, even when the
// route itself was a no-op.
func (r *Router) broadcastRouteState(class Class, d Decision) {
	prefix := "audio.mode"
	hwidKey := "accessory.hwid"
	mode := d.Mode
	if mode == "na" {
		mode = ""
	}
	if err := r.Host.SetSharedProperty(prefix, mode); err != nil {
		log.Warn("failed to broadcast audio.mode", "err", err)
	}
	if err := r.Host.SetSharedProperty(hwidKey, d.HWID); err != nil {
		log.Warn("failed to broadcast accessory.hwid", "err", err)
	}
	_ = class
}
