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

// Package diag dumps a human-readable diagnostic for the invariant
// violation spec.md §7 says the engine should survive rather than
// crash on: a nonzero moving-count after a route completes, leaving a
// degraded group.
package diag

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/logging"
)

var log = logging.Named("diag")

// Dump logs a human-readable summary of a group whose moving-count
// invariant did not clear, naming how many streams it still believes
// are mid-move out of how many total members.
func Dump(groupName string, movingCount int, members []hostaudio.Index) {
	log.Error("degraded group diagnostic",
		"group", groupName,
		"moving", movingCount,
		"members", humanize.Comma(int64(len(members))),
		"detail", fmt.Sprintf("%d of %d members unresolved after move", movingCount, len(members)),
	)
}
