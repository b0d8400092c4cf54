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

package cducfg

import "testing"

func TestBuildComponentParamWritableFields(t *testing.T) {
	elem := componentElement{
		Name: "pump1",
		Config: map[string]any{
			"enabled": true,
			"rw_d_duty_address": map[string]any{
				"local": float64(632),
			},
			"rw_d_duty_decimals": float64(2),
			"rw_d_duty_min":      float64(0),
			"rw_d_duty_max":      float64(90),
			"rw_b_switch_address": map[string]any{
				"local": float64(97),
			},
			"r_d_current_address": map[string]any{
				"local": float64(664),
			},
			"min_duty": float64(10),
		},
	}

	p := buildComponentParam(elem, ComponentPump)
	if !p.Enabled {
		t.Fatal("expected enabled component")
	}
	if len(p.WritableFields) != 2 {
		t.Fatalf("expected 2 writable fields (rw_b_switch, rw_d_duty), got %d: %+v", len(p.WritableFields), p.WritableFields)
	}

	keys := map[string]struct{}{"rw_d_duty": {}}
	f, ok := p.FieldByAnyKey(keys)
	if !ok {
		t.Fatal("expected rw_d_duty field to be found")
	}
	if f.Kind != WriteRegister || f.Address != 632 || f.Decimals != 2 {
		t.Fatalf("unexpected field: %+v", f)
	}
	if f.Min == nil || *f.Min != 0 || f.Max == nil || *f.Max != 90 {
		t.Fatalf("unexpected range: %+v", f)
	}

	if minDuty, ok := p.ConfigFloat("min_duty"); !ok || minDuty != 10 {
		t.Fatalf("expected min_duty=10, got %v ok=%v", minDuty, ok)
	}
}

func TestBuildComponentParamDisabled(t *testing.T) {
	elem := componentElement{
		Name:   "fan3",
		Config: map[string]any{"enabled": false},
	}
	p := buildComponentParam(elem, ComponentFan)
	if p.Enabled {
		t.Fatal("expected disabled component")
	}
}
