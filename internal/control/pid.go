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

// Package control implements the AutoControlManager: the mode finite
// state machine, pump-startup sequencer, and discrete PID loops that
// turn target/measured processed values into ComponentWriter batch
// writes.
package control

import "github.com/edgeo-scada/cdu-controller/internal/cducfg"

// PidState is the discrete PID form from spec.md §4.10: no anti-windup,
// no derivative filter. It is a pure function of its fields plus the
// current (target, measured) pair, and Reset only clears PrevError and
// Integral.
type PidState struct {
	Kp, Ki, Kd     float64
	Dt             float64
	OutMin, OutMax float64
	Bias           float64
	IsAdd          bool

	PrevError float64
	Integral  float64
}

// NewPidState builds a PidState from the configured {Kp,Ki,Kd,Dt,min,max}
// group.
func NewPidState(s cducfg.PIDSettings, isAdd bool) *PidState {
	return &PidState{
		Kp:     s.Kp,
		Ki:     s.Ki,
		Kd:     s.Kd,
		Dt:     s.Dt,
		OutMin: s.OutputMin,
		OutMax: s.OutputMax,
		IsAdd:  isAdd,
	}
}

// Reset zeroes only prev_error and integral, per spec.md §8's invariant.
func (p *PidState) Reset() {
	p.PrevError = 0
	p.Integral = 0
}

// Step computes one PID output given target and measured, and advances
// PrevError/Integral. error = target-measured when IsAdd, else
// measured-target (spec.md §4.10's sign convention per loop).
func (p *PidState) Step(target, measured float64) float64 {
	var e float64
	if p.IsAdd {
		e = target - measured
	} else {
		e = measured - target
	}

	dt := p.Dt
	if dt <= 0 {
		dt = 1
	}

	pTerm := p.Kp * e
	p.Integral += e * dt
	iTerm := p.Ki * p.Integral
	dTerm := p.Kd * (e - p.PrevError) / dt

	out := pTerm + iTerm + dTerm + p.Bias
	if out < p.OutMin {
		out = p.OutMin
	}
	if out > p.OutMax {
		out = p.OutMax
	}

	p.PrevError = e
	return out
}
