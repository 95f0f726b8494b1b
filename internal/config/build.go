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
	"fmt"
	"strconv"
	"strings"

	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/context"
	"github.com/nemoaudio/policyd/internal/group"
	"github.com/nemoaudio/policyd/internal/logging"
	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/objkind"
	"github.com/nemoaudio/policyd/internal/registry"
)

var log = logging.Named("config")

// Targets bundles every rule table a config file populates, per
// spec.md §4.8's "populates B, C, E" note.
type Targets struct {
	Classifier *classify.Classifier
	Groups     *group.Set
	Context    *context.Engine
	Activity   *context.ActivityEngine
	Registry   *registry.Registry
}

var groupFlagNames = map[string]group.Flags{
	"set_sink":     group.SetSink,
	"set_source":   group.SetSource,
	"route_audio":  group.RouteAudio,
	"limit_volume": group.LimitVolume,
	"cork_stream":  group.CorkStream,
	"mute_by_route": group.MuteByRoute,
	"media_notify": group.MediaNotify,
	// Synonyms observed in the original configuration corpus.
	"client":   group.Flags(0),
	"nopolicy": group.Flags(0),
}

func parseGroupFlags(csv string) group.Flags {
	var flags group.Flags
	for _, name := range SplitCSV(csv) {
		f, ok := groupFlagNames[strings.ToLower(name)]
		if !ok {
			log.Warn("unknown group flag", "flag", name)
			continue
		}
		flags |= f
	}
	return flags
}

func matcherFor(method, arg string) (match.Matcher, error) {
	switch method {
	case "equals":
		return match.Equals(arg), nil
	case "startswith":
		return match.StartsWith(arg), nil
	case "matches":
		if arg == "*" {
			return match.True, nil
		}
		return match.Regex(arg)
	case "true":
		return match.True, nil
	default:
		return nil, fmt.Errorf("unknown match method %q", method)
	}
}

// Build walks every parsed section and populates the given targets.
// Per spec.md §7, a section with an unparseable required field is
// dropped with a warning rather than aborting the whole load; the
// caller decides whether the overall load failed (no rules loaded at
// all from a required file).
func Build(sections []Section, t Targets) (loaded int) {
	for _, sec := range sections {
		var err error
		switch sec.Kind {
		case "group":
			err = buildGroup(sec, t)
		case "device":
			err = buildDevice(sec, t, classify.DeviceSink)
		case "card":
			err = buildCard(sec, t)
		case "stream":
			err = buildStream(sec, t)
		case "context-rule":
			err = buildContextRule(sec, t)
		case "activity":
			err = buildActivity(sec, t)
		}
		if err != nil {
			log.Warn("dropping section", "kind", sec.Kind, "line", sec.Line, "err", err)
			continue
		}
		loaded++
	}
	return loaded
}

func keyMap(sec Section) map[string]string {
	m := map[string]string{}
	for _, kv := range sec.Keys {
		m[kv.Key] = kv.Value
	}
	return m
}

func buildGroup(sec Section, t Targets) error {
	kv := keyMap(sec)
	name, ok := kv["name"]
	if !ok || name == "" {
		return fmt.Errorf("[group] missing name")
	}
	flags := parseGroupFlags(kv["flags"])
	overrides := parsePropList(kv["properties"])
	t.Groups.New(name, kv["sink"], kv["source"], overrides, flags)
	return nil
}

func parsePropList(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range SplitCSV(s) {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func buildDevice(sec Section, t Targets, _ classify.DeviceClass) error {
	kv := keyMap(sec)
	typ := kv["type"]
	if typ == "" {
		return fmt.Errorf("[device] missing type")
	}
	var firstErr error
	for _, field := range []struct {
		class classify.DeviceClass
		spec  string
	}{
		{classify.DeviceSink, kv["sink"]},
		{classify.DeviceSource, kv["source"]},
	} {
		if field.spec == "" {
			continue
		}
		prop, method, arg, err := PropMethodArg(field.spec)
		if err != nil {
			firstErr = err
			continue
		}
		m, err := matcherFor(method, arg)
		if err != nil {
			firstErr = err
			continue
		}
		data := classify.DeviceRuleData{
			Flags:   parseDeviceFlags(kv["flags"]),
			PortMap: parsePortMap(kv["ports"]),
		}
		t.Classifier.AddDeviceRule(field.class, &classify.DeviceRule{
			Type: typ, Property: prop, Match: m, Data: data,
		})
	}
	return firstErr
}

func parseDeviceFlags(s string) uint32 {
	var v uint32
	for _, name := range SplitCSV(s) {
		// Device/card rule flags are opaque bits consumed only via
		// flag_mask/flag_value at classify time; config assigns each
		// distinct name the next free bit in declaration order.
		v |= deviceFlagBit(name)
	}
	return v
}

var deviceFlagBits = map[string]uint32{}

func deviceFlagBit(name string) uint32 {
	if name == "" {
		return 0
	}
	if bit, ok := deviceFlagBits[name]; ok {
		return bit
	}
	bit := uint32(1) << uint(len(deviceFlagBits)%32)
	deviceFlagBits[name] = bit
	return bit
}

func parsePortMap(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range SplitCSV(s) {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func buildCard(sec Section, t Targets) error {
	kv := keyMap(sec)
	typ := kv["type"]
	if typ == "" {
		return fmt.Errorf("[card] missing type")
	}
	var firstErr error
	for _, suffix := range []string{"0", "1"} {
		spec := kv["name"+suffix]
		if spec == "" {
			continue
		}
		prop, method, arg, err := PropMethodArg(spec)
		if err != nil {
			firstErr = err
			continue
		}
		m, err := matcherFor(method, arg)
		if err != nil {
			firstErr = err
			continue
		}
		data := classify.DeviceRuleData{
			Flags:         parseDeviceFlags(kv["flags"+suffix]),
			TargetProfile: kv["profile"+suffix],
		}
		t.Classifier.AddCardRule(&classify.CardRule{
			Type: typ, Property: prop, Match: m, Data: data,
		})
	}
	return firstErr
}

func buildStream(sec Section, t Targets) error {
	kv := keyMap(sec)
	var prop string
	var m match.Matcher
	var err error

	switch {
	case kv["name"] != "":
		prop, m = objkind.PropName, match.Equals(kv["name"])
	case kv["property"] != "":
		var method, arg string
		prop, method, arg, err = PropMethodArg(kv["property"])
		if err != nil {
			return err
		}
		m, err = matcherFor(method, arg)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("[stream] requires name= or property=")
	}

	rule := &classify.StreamRule{
		Property:       prop,
		Match:          m,
		Group:          kv["group"],
		Flags:          parseStreamFlags(kv["flags"]),
		LocalRoutePort: kv["port_if_active"],
	}
	if v, ok := kv["client"]; ok {
		rule.ClientName = &v
	}
	if v, ok := kv["sink"]; ok {
		rule.ActiveSink = &v
	}
	if v, ok := kv["exe"]; ok {
		rule.Exe = &v
	}
	if v, ok := kv["user"]; ok {
		if uid, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			rule.UID = &uid
		} else {
			rule.ClientName = &v
		}
	}
	t.Classifier.AddStreamRule(rule)
	return nil
}

func parseStreamFlags(csv string) classify.StreamFlags {
	var flags classify.StreamFlags
	for _, name := range SplitCSV(csv) {
		switch strings.ToLower(name) {
		case "local_route":
			flags |= classify.LocalRoute
		case "local_mute":
			flags |= classify.LocalMute
		case "local_volmax":
			flags |= classify.LocalVolMax
		default:
			log.Warn("unknown stream flag", "flag", name)
		}
	}
	return flags
}

func parseObjectRef(spec string, t Targets) (*context.ObjectRef, error) {
	at := strings.IndexByte(spec, '@')
	if at < 0 {
		return nil, fmt.Errorf("object ref %q missing '@'", spec)
	}
	kindName := spec[:at]
	rest := spec[at+1:]
	kind, err := parseObjectKind(kindName)
	if err != nil {
		return nil, err
	}
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return nil, fmt.Errorf("object ref %q missing ':'", spec)
	}
	m, err := matcherFor(rest[:colon], rest[colon+1:])
	if err != nil {
		return nil, err
	}
	ref := &context.ObjectRef{Kind: kind, Match: m}
	t.Registry.Track(ref)
	return ref, nil
}

func parseObjectKind(name string) (objkind.Kind, error) {
	switch name {
	case "module-name", "module":
		return objkind.Module, nil
	case "card-name", "card":
		return objkind.Card, nil
	case "sink-name", "sink":
		return objkind.Sink, nil
	case "source-name", "source":
		return objkind.Source, nil
	case "sink-input-name", "sink-input":
		return objkind.SinkInput, nil
	case "source-output-name", "source-output":
		return objkind.SourceOutput, nil
	default:
		return 0, fmt.Errorf("unknown object-ref kind %q", name)
	}
}

func parseAction(spec string, kind string, t Targets) (context.Action, error) {
	// spec is everything after "set-property="/"delete-property=":
	// OBJECTREF,property:PROP[,value@{constant:STR|copy-from-context}]
	parts := strings.Split(spec, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("action %q missing fields", spec)
	}
	ref, err := parseObjectRef(parts[0], t)
	if err != nil {
		return nil, err
	}
	var property string
	var valueSource context.ValueSource = context.CopyFromContextValue
	for _, field := range parts[1:] {
		switch {
		case strings.HasPrefix(field, "property:"):
			property = strings.TrimPrefix(field, "property:")
		case strings.HasPrefix(field, "value@"):
			valueSource, err = parseValueSource(strings.TrimPrefix(field, "value@"))
			if err != nil {
				return nil, err
			}
		}
	}
	if property == "" {
		return nil, fmt.Errorf("action %q missing property:", spec)
	}
	if kind == "delete" {
		return &context.DeletePropertyAction{Ref: ref, Property: property}, nil
	}
	return &context.SetPropertyAction{Ref: ref, Property: property, Value: valueSource}, nil
}

func parseValueSource(s string) (context.ValueSource, error) {
	if s == "copy-from-context" {
		return context.CopyFromContextValue, nil
	}
	if strings.HasPrefix(s, "constant:") {
		return context.Constant(strings.TrimPrefix(s, "constant:")), nil
	}
	return nil, fmt.Errorf("unknown value source %q", s)
}

func buildContextRule(sec Section, t Targets) error {
	kv := keyMap(sec)
	varName := kv["variable"]
	if varName == "" {
		return fmt.Errorf("[context-rule] missing variable")
	}
	method, arg, err := splitValueMatch(kv["value"])
	if err != nil {
		return err
	}
	m, err := matcherFor(method, arg)
	if err != nil {
		return err
	}

	var actions []context.Action
	for _, sec2 := range sec.Keys {
		switch sec2.Key {
		case "set-property":
			a, err := parseAction(sec2.Value, "set", t)
			if err != nil {
				return err
			}
			actions = append(actions, a)
		case "delete-property":
			a, err := parseAction(sec2.Value, "delete", t)
			if err != nil {
				return err
			}
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		return fmt.Errorf("[context-rule] no actions")
	}
	v := t.Context.DefineVariable(varName)
	v.Rules = append(v.Rules, &context.Rule{ValueMatch: m, Actions: actions})
	return nil
}

func splitValueMatch(spec string) (method, arg string, err error) {
	if spec == "" {
		return "", "", fmt.Errorf("missing value=")
	}
	colon := strings.IndexByte(spec, ':')
	if colon < 0 {
		return "", "", fmt.Errorf("value %q missing ':'", spec)
	}
	method, arg = spec[:colon], spec[colon+1:]
	if method == "matches" && arg == "*" {
		return "true", "", nil
	}
	return method, arg, nil
}

func buildActivity(sec Section, t Targets) error {
	kv := keyMap(sec)
	device := kv["device"]
	if device == "" {
		return fmt.Errorf("[activity] missing device")
	}
	method, arg, err := splitValueMatch(kv["sink-name"])
	if err != nil {
		return err
	}
	sinkMatch, err := matcherFor(method, arg)
	if err != nil {
		return err
	}

	av := &context.ActivityVariable{DeviceName: device, SinkMatch: sinkMatch}
	for _, kv2 := range sec.Keys {
		switch kv2.Key {
		case "active":
			a, err := parseAction(kv2.Value, "set", t)
			if err != nil {
				return err
			}
			av.ActiveRules = append(av.ActiveRules, &context.Rule{Actions: []context.Action{a}})
		case "inactive":
			a, err := parseAction(kv2.Value, "set", t)
			if err != nil {
				return err
			}
			av.InactiveRules = append(av.InactiveRules, &context.Rule{Actions: []context.Action{a}})
		}
	}
	t.Activity.Define(av)
	return nil
}
