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

package main

import (
	"testing"

	"go.bug.st/serial"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/lowfreq"
)

func TestParseParity(t *testing.T) {
	cases := map[string]serial.Parity{
		"N":     serial.NoParity,
		"":      serial.NoParity,
		"O":     serial.OddParity,
		"odd":   serial.OddParity,
		"E":     serial.EvenParity,
		"even":  serial.EvenParity,
		"bogus": serial.NoParity,
	}
	for in, want := range cases {
		if got := parseParity(in); got != want {
			t.Errorf("parseParity(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseStopBits(t *testing.T) {
	if got := parseStopBits(1); got != serial.OneStopBit {
		t.Errorf("parseStopBits(1) = %v, want OneStopBit", got)
	}
	if got := parseStopBits(2); got != serial.TwoStopBits {
		t.Errorf("parseStopBits(2) = %v, want TwoStopBits", got)
	}
}

func TestSplitHeartbeat(t *testing.T) {
	tasks := []cducfg.TaskDescriptor{
		{Name: "slow_temps"},
		{Name: lowfreq.HeartbeatTaskName, StartAddress: 42},
		{Name: "slow_pressures"},
	}
	heartbeat, rest := splitHeartbeat(tasks)
	if heartbeat.Name != lowfreq.HeartbeatTaskName || heartbeat.StartAddress != 42 {
		t.Fatalf("expected heartbeat task extracted, got %+v", heartbeat)
	}
	if len(rest) != 2 || rest[0].Name != "slow_temps" || rest[1].Name != "slow_pressures" {
		t.Fatalf("expected remaining tasks without heartbeat, got %+v", rest)
	}
}

func TestBuildWriteIndex(t *testing.T) {
	repo := &cducfg.Repository{
		Components: []cducfg.ComponentParam{
			{
				Name: "fan_1",
				WritableFields: []cducfg.WritableField{
					{Name: "rw_b_switch", Kind: cducfg.WriteCoil, Address: 33},
					{Name: "rw_d_duty", Kind: cducfg.WriteRegister, Address: 432},
				},
			},
		},
	}
	coils, registers, actuatorDuty := buildWriteIndex(repo)
	if got, ok := coils[33]; !ok || got.component != "fan_1" || got.field != "rw_b_switch" {
		t.Fatalf("expected coil index entry for addr 33, got %+v ok=%v", got, ok)
	}
	if got, ok := registers[432]; !ok || got.component != "fan_1" || got.field != "rw_d_duty" {
		t.Fatalf("expected register index entry for addr 432, got %+v ok=%v", got, ok)
	}
	if _, ok := registers[999]; ok {
		t.Fatal("expected no entry for unconfigured address")
	}
	if actuatorDuty[432] {
		t.Fatal("fan duty is not a PID-owned actuator register")
	}
}

func TestBuildWriteIndexActuatorDuty(t *testing.T) {
	repo := &cducfg.Repository{
		Components: []cducfg.ComponentParam{
			{
				Name: "pump_1",
				Type: cducfg.ComponentPump,
				WritableFields: []cducfg.WritableField{
					{Name: "rw_d_duty", Kind: cducfg.WriteRegister, Address: 632},
				},
			},
			{
				Name: "pv_1",
				Type: cducfg.ComponentPV,
				WritableFields: []cducfg.WritableField{
					{Name: "rw_d_duty", Kind: cducfg.WriteRegister, Address: 808},
				},
			},
		},
	}
	_, _, actuatorDuty := buildWriteIndex(repo)
	if !actuatorDuty[632] {
		t.Fatal("expected pump duty register marked as PID-owned actuator register")
	}
	if !actuatorDuty[808] {
		t.Fatal("expected PV duty register marked as PID-owned actuator register")
	}
}
