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

// Package objkind defines the small vocabulary shared by every package
// that needs to talk about "a kind of audio-server object" without
// depending on the concrete host-adapter types: the classifier, the
// context engine's object references, and the object registry.
package objkind

// Kind identifies the class of audio-server object a rule, reference,
// or registry entry applies to.
type Kind int

// The six object kinds the context engine and registry can bind to,
// plus Client which only the classifier ever sees.
const (
	Module Kind = iota
	Card
	Sink
	Source
	SinkInput
	SourceOutput
	Client
)

func (k Kind) String() string {
	switch k {
	case Module:
		return "module"
	case Card:
		return "card"
	case Sink:
		return "sink"
	case Source:
		return "source"
	case SinkInput:
		return "sink-input"
	case SourceOutput:
		return "source-output"
	case Client:
		return "client"
	default:
		return "unknown"
	}
}

// Unknown is the sentinel value a classification property resolves to
// when the underlying property is absent or empty.
const Unknown = "<unknown>"

// Reserved classification property names, resolved against an object's
// canonical name rather than looked up as a literal proplist key.
const (
	PropName             = "name"
	PropModuleName       = "module-name"
	PropCardName         = "card-name"
	PropSinkName         = "sink-name"
	PropSourceName       = "source-name"
	PropSinkInputName    = "sink-input-name"
	PropSourceOutputName = "source-output-name"
)

// IsCanonicalNameProperty reports whether prop is one of the reserved
// pseudo-names that resolve to an object's own name instead of a
// proplist lookup.
func IsCanonicalNameProperty(prop string) bool {
	switch prop {
	case PropName, PropModuleName, PropCardName, PropSinkName,
		PropSourceName, PropSinkInputName, PropSourceOutputName:
		return true
	default:
		return false
	}
}

// Proplist is the host object's property list: arbitrary string keys
// to string values, as delivered by the audio server.
type Proplist map[string]string

// Get returns the value for key, or Unknown if it is absent or empty.
func (p Proplist) Get(key string) string {
	if p == nil {
		return Unknown
	}
	v, ok := p[key]
	if !ok || v == "" {
		return Unknown
	}
	return v
}

// OrUnknown normalizes an empty canonical name to the Unknown sentinel.
func OrUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
