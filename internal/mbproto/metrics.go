// Copyright 2025 Edgeo SCADA
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

package mbproto

import "sync/atomic"

// Counter is a simple atomic counter used for per-transport request tallies.
type Counter struct {
	value int64
}

func (c *Counter) Add(delta int64) { atomic.AddInt64(&c.value, delta) }
func (c *Counter) Value() int64    { return atomic.LoadInt64(&c.value) }

// Metrics holds per-client request counters. It is intentionally minimal:
// the REST/metrics surface that would export these is out of scope.
type Metrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Reconnections   Counter
}
