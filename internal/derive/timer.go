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

package derive

import "time"

// confirmTimer implements the fault-confirmation pattern shared by every
// device class: a condition must hold continuously for dur before it is
// "confirmed". Any sample where cond is false disarms the timer.
type confirmTimer struct {
	armed    bool
	deadline time.Time
}

// confirm reports whether cond has now been true continuously for dur.
func (t *confirmTimer) confirm(cond bool, dur time.Duration, now time.Time) bool {
	if !cond {
		t.armed = false
		return false
	}
	if !t.armed {
		t.armed = true
		t.deadline = now.Add(dur)
		return false
	}
	return !now.Before(t.deadline)
}

// reset disarms the timer unconditionally.
func (t *confirmTimer) reset() { t.armed = false }

const (
	faultConfirm8s  = 8 * time.Second
	faultConfirm12s = 12 * time.Second
)
