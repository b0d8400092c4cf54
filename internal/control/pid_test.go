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

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// TestFlowPIDScenario mirrors spec.md §8 scenario 2: kp=1, ki=0, kd=0,
// dt=1, out_min=0, out_max=100, target=500 (50.0 L/min), measured=400
// (40.0), is_add=true -> output duty = 10 (%).
func TestFlowPIDScenario(t *testing.T) {
	p := &PidState{Kp: 1, Ki: 0, Kd: 0, Dt: 1, OutMin: 0, OutMax: 100, IsAdd: true}
	out := p.Step(50.0, 40.0)
	require.Equal(t, 10.0, out)
}

func TestPIDClampsToOutputRange(t *testing.T) {
	p := &PidState{Kp: 10, Ki: 0, Kd: 0, Dt: 1, OutMin: 0, OutMax: 100, IsAdd: true}
	out := p.Step(1000, 0)
	require.Equal(t, 100.0, out)
}

func TestPIDResetClearsOnlyPrevErrorAndIntegral(t *testing.T) {
	p := &PidState{Kp: 1, Ki: 1, Kd: 1, Dt: 1, OutMin: -1000, OutMax: 1000, IsAdd: true}
	p.Step(10, 0)
	require.NotZero(t, p.PrevError)
	require.NotZero(t, p.Integral)

	p.Reset()
	assert.Zero(t, p.PrevError)
	assert.Zero(t, p.Integral)
	assert.Equal(t, 1.0, p.Kp, "reset must not touch tuning parameters")
	assert.Equal(t, 1.0, p.Dt, "reset must not touch tuning parameters")
}

type stubWriter struct {
	pumpDuty []float64
	pvDuty   []float64
	fanOn    []bool
}

func (s *stubWriter) BatchWritePumpDuty(duty float64, slave mbproto.UnitID, force bool) error {
	s.pumpDuty = append(s.pumpDuty, duty)
	return nil
}
func (s *stubWriter) BatchWritePVDuty(duty float64, slave mbproto.UnitID, force bool) error {
	s.pvDuty = append(s.pvDuty, duty)
	return nil
}
func (s *stubWriter) BatchWriteFanSwitch(on bool, slave mbproto.UnitID, force bool) error {
	s.fanOn = append(s.fanOn, on)
	return nil
}
