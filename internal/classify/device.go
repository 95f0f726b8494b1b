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

package classify

import (
	"strings"

	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/objkind"
)

// DeviceClass distinguishes sink rules from source rules; they are
// classified identically but kept in separate tables.
type DeviceClass int

const (
	DeviceSink DeviceClass = iota
	DeviceSource
)

// DeviceRuleData is the payload carried by a matching device rule.
type DeviceRuleData struct {
	Flags uint32
	// TargetProfile, if set, is the card profile this device rule
	// implies when used as a move-to target.
	TargetProfile string
	// PortMap maps a sink/source name to the port it should use.
	PortMap map[string]string
}

// DeviceRule maps a property match on a sink or source to a symbolic
// type label (spec.md §3, "Device / card rule").
type DeviceRule struct {
	Class    DeviceClass
	Type     string
	Property string
	Match    match.Matcher
	Data     DeviceRuleData
}

// CardRule is the card-table analogue of DeviceRule.
type CardRule struct {
	Type     string
	Property string
	Match    match.Matcher
	Data     DeviceRuleData
}

// DeviceInput is a sink or source's classifiable identity.
type DeviceInput struct {
	Name       string
	Properties objkind.Proplist
}

func (d DeviceInput) Property(prop string) string {
	switch prop {
	case objkind.PropName, objkind.PropSinkName, objkind.PropSourceName:
		return objkind.OrUnknown(d.Name)
	default:
		return d.Properties.Get(prop)
	}
}

// CardInput is a card's classifiable identity.
type CardInput struct {
	Name       string
	Properties objkind.Proplist
}

func (c CardInput) Property(prop string) string {
	switch prop {
	case objkind.PropName, objkind.PropCardName:
		return objkind.OrUnknown(c.Name)
	default:
		return c.Properties.Get(prop)
	}
}

// AddDeviceRule registers a sink or source rule.
func (c *Classifier) AddDeviceRule(class DeviceClass, r *DeviceRule) {
	r.Class = class
	if class == DeviceSink {
		c.sinkRules = append(c.sinkRules, r)
	} else {
		c.sourceRules = append(c.sourceRules, r)
	}
}

// AddCardRule registers a card rule.
func (c *Classifier) AddCardRule(r *CardRule) {
	c.cardRules = append(c.cardRules, r)
}

func deviceRulesFor(c *Classifier, class DeviceClass) []*DeviceRule {
	if class == DeviceSink {
		return c.sinkRules
	}
	return c.sourceRules
}

// ClassifyDevice returns every type label of every rule in the given
// class whose property match succeeds and whose flags satisfy
// (flags & flagMask) == flagValue (spec.md §4.2, additive semantics).
func (c *Classifier) ClassifyDevice(class DeviceClass, in DeviceInput, flagMask, flagValue uint32) []string {
	var types []string
	for _, r := range deviceRulesFor(c, class) {
		if r.Data.Flags&flagMask != flagValue {
			continue
		}
		if r.Match.Match(in.Property(r.Property)) {
			types = append(types, r.Type)
		}
	}
	return types
}

// ClassifyCard is the card-table analogue of ClassifyDevice.
func (c *Classifier) ClassifyCard(in CardInput, flagMask, flagValue uint32) []string {
	var types []string
	for _, r := range c.cardRules {
		if r.Data.Flags&flagMask != flagValue {
			continue
		}
		if r.Match.Match(in.Property(r.Property)) {
			types = append(types, r.Type)
		}
	}
	return types
}

// IsObjectTypeOf reports whether some device rule of the named type
// matches in (spec.md §4.2, is_object_typeof).
func (c *Classifier) IsObjectTypeOf(class DeviceClass, in DeviceInput, typeName string) bool {
	for _, r := range deviceRulesFor(c, class) {
		if r.Type != typeName {
			continue
		}
		if r.Match.Match(in.Property(r.Property)) {
			return true
		}
	}
	return false
}

// IsCardTypeOf is the card-table analogue of IsObjectTypeOf.
func (c *Classifier) IsCardTypeOf(in CardInput, typeName string) bool {
	for _, r := range c.cardRules {
		if r.Type != typeName {
			continue
		}
		if r.Match.Match(in.Property(r.Property)) {
			return true
		}
	}
	return false
}

// JoinTypesBounded joins type labels with a space, the way they are
// written into the policy.device.typelist proplist entry. If the
// joined result would exceed maxLen, the buffer is emptied and
// truncated is reported true, matching spec.md §8 invariant 10: the
// result never exceeds the caller's buffer, and on overflow it is left
// empty rather than truncated mid-label. JoinTypesBounded does not log;
// the caller logs the overflow warning.
func JoinTypesBounded(types []string, maxLen int) (joined string, truncated bool) {
	joined = strings.Join(types, " ")
	if len(joined) > maxLen {
		return "", true
	}
	return joined, false
}
