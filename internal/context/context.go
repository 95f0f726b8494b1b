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

// Package context implements named scalar variables whose value
// changes drive rule-matched property mutations on bound audio-server
// objects, plus the sink-state-driven activity variant.
package context

import (
	"fmt"

	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/logging"
	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/objkind"
)

var log = logging.Named("context")

// maxPending is the pending-change queue's bounded capacity.
const maxPending = 16

// ObjectRef is an action's weak link to a host object: the object
// registry (package registry) resolves Name/Index when a matching
// object is announced, and clears them again on unlink. Context never
// resolves these itself; it only reads Resolved.
type ObjectRef struct {
	Kind  objkind.Kind
	Match match.Matcher

	Resolved bool
	Name     string
	Index    hostaudio.Index
}

// ValueSource supplies the string an action writes, either a fixed
// constant or the value captured at enqueue time.
type ValueSource interface {
	resolve(captured string) string
}

type constantSource string

func (c constantSource) resolve(string) string { return string(c) }

// Constant returns a ValueSource that always yields s.
func Constant(s string) ValueSource { return constantSource(s) }

type copyFromContextSource struct{}

func (copyFromContextSource) resolve(captured string) string { return captured }

// CopyFromContextValue is the ValueSource that yields the value the
// triggering variable change carried.
var CopyFromContextValue ValueSource = copyFromContextSource{}

// Action is a tagged property mutation performed against a bound
// object reference.
type Action interface {
	apply(host hostaudio.Host, captured string) error
}

// SetPropertyAction sets Property to Value's resolved string on the
// bound object, firing the host's proplist-changed hook implicitly
// through SetProperty and broadcasting into the shared property store.
type SetPropertyAction struct {
	Ref      *ObjectRef
	Property string
	Value    ValueSource
}

func (a *SetPropertyAction) apply(host hostaudio.Host, captured string) error {
	if !a.Ref.Resolved {
		return nil
	}
	value := a.Value.resolve(captured)
	current := currentProperty(host, a.Ref, a.Property)
	if current == value {
		return nil
	}
	if err := host.SetProperty(a.Ref.Kind, a.Ref.Name, a.Ref.Index, a.Property, value); err != nil {
		return err
	}
	return host.SetSharedProperty(a.Property, value)
}

// DeletePropertyAction unsets Property on the bound object.
type DeletePropertyAction struct {
	Ref      *ObjectRef
	Property string
}

func (a *DeletePropertyAction) apply(host hostaudio.Host, captured string) error {
	if !a.Ref.Resolved {
		return nil
	}
	return host.DeleteProperty(a.Ref.Kind, a.Ref.Name, a.Ref.Index, a.Property)
}

func currentProperty(host hostaudio.Host, ref *ObjectRef, property string) string {
	switch ref.Kind {
	case objkind.Sink:
		if info, ok := host.SinkByName(ref.Name); ok {
			return info.Properties.Get(property)
		}
	case objkind.Source:
		if info, ok := host.SourceByName(ref.Name); ok {
			return info.Properties.Get(property)
		}
	case objkind.Card:
		if info, ok := host.CardByName(ref.Name); ok {
			return info.Properties.Get(property)
		}
	}
	return objkind.Unknown
}

// Rule matches a variable's new value and fires actions when it does.
type Rule struct {
	ValueMatch match.Matcher
	Actions    []Action
}

// Variable is a named scalar whose changes are matched against its
// rules' ValueMatch.
type Variable struct {
	Name         string
	LastValue    string
	HasLastValue bool
	Rules        []*Rule
}

// pendingEntry is one queued action awaiting commit.
type pendingEntry struct {
	action   Action
	captured string
}

// Engine owns the set of context variables and the pending-change
// queue they enqueue into.
type Engine struct {
	variables map[string]*Variable
	pending   []pendingEntry
}

// NewEngine constructs an empty context engine.
func NewEngine() *Engine {
	return &Engine{variables: map[string]*Variable{}}
}

// DefineVariable registers a variable, or returns the existing one of
// the same name.
func (e *Engine) DefineVariable(name string) *Variable {
	if v, ok := e.variables[name]; ok {
		return v
	}
	v := &Variable{Name: name}
	e.variables[name] = v
	return v
}

// Variable looks up a variable by name.
func (e *Engine) Variable(name string) (*Variable, bool) {
	v, ok := e.variables[name]
	return v, ok
}

// OnVariableChange implements spec.md §4.5's on_variable_change: a
// no-op value update returns nil without touching the queue; matching
// rules' actions enqueue, LIFO-ordered on drain. Overflow beyond 16
// pending entries drops the excess and returns an error.
func (e *Engine) OnVariableChange(name, newValue string) error {
	v, ok := e.variables[name]
	if !ok {
		log.Warn("variable change for unknown variable", "variable", name)
		return nil
	}
	if v.HasLastValue && v.LastValue == newValue {
		log.Debug("variable change is a no-op", "variable", name, "value", newValue)
		return nil
	}
	v.LastValue = newValue
	v.HasLastValue = true

	for _, rule := range v.Rules {
		if !rule.ValueMatch.Match(newValue) {
			continue
		}
		for _, action := range rule.Actions {
			if len(e.pending) >= maxPending {
				log.Warn("pending-change queue overflow, dropping action", "variable", name)
				return fmt.Errorf("context: pending-change queue overflow at %d entries", maxPending)
			}
			e.pending = append(e.pending, pendingEntry{action: action, captured: newValue})
		}
	}
	return nil
}

// CommitPending drains the pending-change queue LIFO, per spec.md §8
// invariant 8 and §4.5.
func (e *Engine) CommitPending(host hostaudio.Host) {
	for i := len(e.pending) - 1; i >= 0; i-- {
		entry := e.pending[i]
		if err := entry.action.apply(host, entry.captured); err != nil {
			log.Error("commit action failed", "err", err)
		}
	}
	e.pending = e.pending[:0]
}

// PendingLen reports the current queue depth, exposed for tests and
// diagnostics.
func (e *Engine) PendingLen() int { return len(e.pending) }
