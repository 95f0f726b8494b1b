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

// Classifier holds every rule table: stream rules, pid overrides, and
// sink/source/card rules. It has no concurrency control of its own; the
// engine that owns it runs single-threaded per spec.md §5.
type Classifier struct {
	defaultGroup string

	streamRules []*StreamRule
	pidHash     [pidHashBuckets][]*PidOverride

	sinkRules   []*DeviceRule
	sourceRules []*DeviceRule
	cardRules   []*CardRule
}

// New creates an empty Classifier. defaultGroup is returned by
// ClassifyStream whenever no pid override or stream rule matches.
func New(defaultGroup string) *Classifier {
	return &Classifier{defaultGroup: defaultGroup}
}
