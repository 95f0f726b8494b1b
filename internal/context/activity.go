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
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/match"
	"golang.org/x/time/rate"
)

// SinkOpenState mirrors hostaudio.SinkState for the last-sink-opened
// cache, kept local so package context does not need to special-case
// hostaudio.SinkStateUnknown as a third "no opinion yet" value.
type SinkOpenState int

const (
	SinkOpenUnknown SinkOpenState = iota
	SinkOpenYes
	SinkOpenNo
)

// DefaultState is what an activity variable's disable transition
// applies, when set.
type DefaultState int

const (
	DefaultNone DefaultState = iota
	DefaultActive
	DefaultInactive
)

// ActivityVariable is the sink-state-driven specialization from
// spec.md §4.5: SinkMatch identifies which announced sink drives it;
// ActiveRules/InactiveRules fire (SetProperty only) on the OPENED/
// non-OPENED transition.
type ActivityVariable struct {
	DeviceName    string
	SinkMatch     match.Matcher
	ActiveRules   []*Rule
	InactiveRules []*Rule
	Default       DefaultState

	enabled        bool
	lastSinkOpened SinkOpenState
}

// ActivityEngine holds every activity variable and tracks which one is
// currently enabled; spec.md §4.5 requires exactly one enabled at a
// time, selected by device_changed.
type ActivityEngine struct {
	variables []*ActivityVariable
	limiter   *rate.Limiter
}

// NewActivityEngine constructs an engine with a flood-control limiter
// on sink-state re-evaluation, matching the teacher's alsaLimiter
// pattern for noisy hardware-state hooks.
func NewActivityEngine() *ActivityEngine {
	return &ActivityEngine{limiter: rate.NewLimiter(rate.Limit(50), 50)}
}

// Define registers an activity variable.
func (e *ActivityEngine) Define(v *ActivityVariable) {
	e.variables = append(e.variables, v)
}

// DeviceChanged implements spec.md §4.5's device_changed: enables the
// variable matching deviceName and disables all others, running the
// disabled ones' default-state transition immediately.
func (e *ActivityEngine) DeviceChanged(host hostaudio.Host, deviceName string) {
	for _, v := range e.variables {
		if v.DeviceName == deviceName {
			v.enabled = true
			v.lastSinkOpened = SinkOpenUnknown
			continue
		}
		if v.enabled {
			v.enabled = false
			v.applyDefault(host)
		}
	}
}

func (v *ActivityVariable) applyDefault(host hostaudio.Host) {
	switch v.Default {
	case DefaultActive:
		fireActions(host, v.ActiveRules, "")
	case DefaultInactive:
		fireActions(host, v.InactiveRules, "")
	}
}

// HandleSinkState re-evaluates every enabled activity variable whose
// SinkMatch accepts sinkName against the new open/closed state,
// suppressing repeated firings for an unchanged logical state via
// lastSinkOpened.
func (e *ActivityEngine) HandleSinkState(host hostaudio.Host, sinkName string, opened bool) {
	if !e.limiter.Allow() {
		log.Warn("activity sink-state re-evaluation rate-limited", "sink", sinkName)
		return
	}
	for _, v := range e.variables {
		if !v.enabled || !v.SinkMatch.Match(sinkName) {
			continue
		}
		want := SinkOpenNo
		if opened {
			want = SinkOpenYes
		}
		if v.lastSinkOpened == want {
			continue
		}
		v.lastSinkOpened = want
		if opened {
			fireActions(host, v.ActiveRules, "")
		} else {
			fireActions(host, v.InactiveRules, "")
		}
	}
}

// fireActions applies every action of every given rule immediately;
// activity rules are not gated by a value-match (there is no value,
// only a transition), so every rule's actions fire unconditionally.
func fireActions(host hostaudio.Host, rules []*Rule, captured string) {
	for _, rule := range rules {
		for _, action := range rule.Actions {
			if err := action.apply(host, captured); err != nil {
				log.Error("activity action failed", "err", err)
			}
		}
	}
}
