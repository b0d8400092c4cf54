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

// Package regmap implements the ProcessedRegisterMap: the normalized,
// semantically-addressed register image served to the HMI RTU slave and
// written by the derivation pipeline. Addresses below are the fixed
// address map from the CDU controller's external interface contract.
package regmap

// Coil addresses.
const (
	WriteEnable = 0

	FanSwitchReadBase  = 1
	FanSwitchReadCount = 31

	FanSwitchWriteBase  = 33
	FanSwitchWriteCount = 31

	PumpSwitchReadBase  = 65
	PumpSwitchReadCount = 31

	PumpSwitchWriteBase  = 97
	PumpSwitchWriteCount = 31

	FanBatchSwitch  = 128
	PumpBatchSwitch = 129

	IOInputReadBase  = 200
	IOInputReadCount = 32

	IOOutputReadBase  = 233
	IOOutputReadCount = 32

	IOOutputWriteBase  = 266
	IOOutputWriteCount = 32

	IOOutputBatch = 298

	// CoilCount is the size of the coil store (addresses 0..378); it
	// extends past the highest declared coil address (298).
	CoilCount = 379
)

// Holding register addresses.
const (
	TargetFlow         = 395
	TargetTemp         = 396
	TargetDiffPressure = 397
	ControlMode        = 399

	FanDutyReadBase  = 400
	FanDutyWriteBase = 432
	FanCurrentBase   = 464
	FanSpeedBase     = 496
	FanStatusBase    = 528
	FanCount         = 32
	FanBatchDuty     = 560

	PumpDutyReadBase  = 600
	PumpDutyWriteBase = 632
	PumpCurrentBase   = 664
	PumpSpeedBase     = 696
	PumpStatusBase    = 728
	PumpCount         = 32
	PumpVoltageBase   = 760
	PumpVoltageCount  = 4
	PumpTempBase      = 764
	PumpTempCount     = 4
	PumpBatchDuty     = 799

	PVDutyReadBase  = 800
	PVDutyWriteBase = 808
	PVVoltageBase   = 816
	PVStatusBase    = 824
	PVCount         = 8
	PVBatchDuty     = 832

	TempValueBase  = 900
	TempCount      = 32
	TempDiffBase   = 932
	TempDiffCount  = 8
	TempStatusBase = 940

	PressureValueBase  = 1000
	PressureCount      = 32
	PressureDiffBase   = 1032
	PressureDiffCount  = 8
	PressureStatusBase = 1040

	FlowValueBase  = 1100
	FlowCount      = 8
	FlowStatusBase = 1108

	CoolingCapacityBase  = 1116
	CoolingCapacityCount = 4

	PHValueBase  = 1120
	PHCount      = 8
	PHStatusBase = 1128

	EnvValueBase  = 1136
	EnvCount      = 16
	EnvStatusBase = 1152
)

// Default values applied at bootstrap before any read/derivation cycle.
const (
	DefaultControlMode = 1 // manual
	DefaultTargetFlow  = 500
	DefaultTargetTemp  = 250
	DefaultTargetDP    = 50
	// DefaultPVDuty is written across the PV duty write region at boot;
	// the PV is held fully open until auto-control takes over.
	DefaultPVDuty = 10000
)
