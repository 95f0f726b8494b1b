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

package engine

import (
	"fmt"

	"github.com/nemoaudio/policyd/internal/match"
	"github.com/nemoaudio/policyd/internal/pdp"
)

// matcherForStreamInfo builds the pid-override matcher a stream_info
// signal describes: method-name selects the matcher kind, and the
// carried stream-hint doubles as both the optional stream-name
// qualifier and the match argument (spec.md S1: stnam and the match
// argument are the same string on the wire).
func matcherForStreamInfo(info pdp.StreamInfo) (match.Matcher, error) {
	arg := info.StreamHint
	switch info.Method {
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
		return nil, fmt.Errorf("engine: unknown stream_info method %q", info.Method)
	}
}
