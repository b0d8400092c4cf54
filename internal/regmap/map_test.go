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

package regmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	m := New()
	assert.Equal(t, uint16(DefaultControlMode), m.GetRegister(ControlMode))
	assert.Equal(t, uint16(DefaultTargetFlow), m.GetRegister(TargetFlow))
	assert.Equal(t, uint16(DefaultPVDuty), m.GetRegister(PVDutyWriteBase))
}

func TestSetCoilOutsideWriteRangeDoesNotFire(t *testing.T) {
	m := New()
	fired := 0
	m.OnCoilWrite(func(addr uint16, value bool) { fired++ })

	// FanSwitchReadBase is a read-only region, not in the write table.
	m.SetCoil(FanSwitchReadBase, true, true, false)
	require.Zero(t, fired, "callback must not fire for out-of-range coil write")
	assert.True(t, m.GetCoil(FanSwitchReadBase), "coil value was not stored despite no callback firing")
}

func TestSetCoilInWriteRangeFires(t *testing.T) {
	m := New()
	var gotAddr uint16
	var gotVal bool
	m.OnCoilWrite(func(addr uint16, value bool) { gotAddr, gotVal = addr, value })

	m.SetCoil(FanSwitchWriteBase+2, true, true, false)
	require.Equal(t, uint16(FanSwitchWriteBase+2), gotAddr)
	require.True(t, gotVal)
}

func TestSetCoilForceBypassesRange(t *testing.T) {
	m := New()
	fired := 0
	m.OnCoilWrite(func(addr uint16, value bool) { fired++ })

	m.SetCoil(IOInputReadBase, true, true, true)
	require.Equal(t, 1, fired, "force write must fire exactly once")
}

func TestSetCoilNoTriggerNeverFires(t *testing.T) {
	m := New()
	fired := 0
	m.OnCoilWrite(func(addr uint16, value bool) { fired++ })

	m.SetCoil(FanSwitchWriteBase, true, false, true)
	require.Zero(t, fired, "callback must not fire when triggerCallback=false")
}

func TestSetRegisterOutsideWriteRangeDoesNotFire(t *testing.T) {
	m := New()
	fired := 0
	m.OnRegisterWrite(func(addr uint16, value uint16) { fired++ })

	m.SetRegister(FanDutyReadBase, 123, true)
	require.Zero(t, fired, "callback must not fire for read-only register write")
}

func TestSetRegisterInWriteRangeFires(t *testing.T) {
	m := New()
	var gotAddr, gotVal uint16
	m.OnRegisterWrite(func(addr uint16, value uint16) { gotAddr, gotVal = addr, value })

	m.SetRegister(ControlMode, 2, true)
	require.Equal(t, uint16(ControlMode), gotAddr)
	require.Equal(t, uint16(2), gotVal)
}

func TestGetCoilsOutOfRangeReturnsZero(t *testing.T) {
	m := New()
	vals := m.GetCoils(CoilCount-1, 3)
	require.Len(t, vals, 3)
	assert.Equal(t, []bool{false, false, false}, vals)
}
