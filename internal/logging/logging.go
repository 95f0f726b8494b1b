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

// Package logging provides the engine's structured logger. Every
// subsystem gets a named sub-logger via Named so that log lines can be
// filtered by component the way the error taxonomy in the spec expects
// (parse/transport/protocol/invariant errors each carry their own
// component tag).
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// base is the root logger all components derive from.
var base = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05",
})

// SetLevel adjusts the verbosity of every sub-logger obtained from Named.
func SetLevel(level log.Level) {
	base.SetLevel(level)
}

// Named returns a logger tagged with the given component name, e.g.
// Named("classify") or Named("pdp").
func Named(component string) *log.Logger {
	return base.With("component", component)
}
