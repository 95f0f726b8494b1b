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

package diag

import (
	"testing"

	"github.com/nemoaudio/policyd/internal/hostaudio"
)

// Dump has no return value to assert on; this exercises it against a
// handful of member-count shapes to confirm it never panics, since it
// runs on the invariant-violation path the engine must survive.
func TestDumpDoesNotPanic(t *testing.T) {
	Dump("G", 2, []hostaudio.Index{1, 2, 3})
	Dump("empty", 0, nil)
	Dump("G", 1000000, make([]hostaudio.Index, 5))
}
