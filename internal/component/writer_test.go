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

package component

import (
	"testing"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
)

func ptr(f float64) *float64 { return &f }

func TestResolveValueClampsDutyField(t *testing.T) {
	field := cducfg.WritableField{
		Name:     "rw_d_duty",
		Kind:     cducfg.WriteRegister,
		Decimals: 2,
		Min:      ptr(0),
		Max:      ptr(90),
	}
	got := resolveValue(field, 12000)
	if got != 9000 {
		t.Fatalf("expected clamp to 9000, got %d", got)
	}
}

func TestResolveValuePassesThroughWithinRange(t *testing.T) {
	field := cducfg.WritableField{
		Name:     "rw_d_duty",
		Kind:     cducfg.WriteRegister,
		Decimals: 2,
		Min:      ptr(0),
		Max:      ptr(90),
	}
	got := resolveValue(field, 3000)
	if got != 3000 {
		t.Fatalf("expected 3000 unclamped, got %d", got)
	}
}

func TestEncodeU16TwosComplement(t *testing.T) {
	if got := encodeU16(-1); got != 0xFFFF {
		t.Fatalf("expected 0xFFFF, got %#x", got)
	}
	if got := encodeU16(100); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func newTestWriterRepo() *cducfg.Repository {
	return &cducfg.Repository{
		Components: []cducfg.ComponentParam{
			{
				Name:    "pump_1",
				Type:    cducfg.ComponentPump,
				Enabled: true,
				WritableFields: []cducfg.WritableField{
					{Name: "rw_b_switch", Kind: cducfg.WriteCoil, Address: 100},
					{Name: "rw_d_duty", Kind: cducfg.WriteRegister, Address: 632, Decimals: 2, Min: ptr(0), Max: ptr(90)},
				},
			},
			{
				Name:    "pump_2",
				Type:    cducfg.ComponentPump,
				Enabled: false,
				WritableFields: []cducfg.WritableField{
					{Name: "rw_d_duty", Kind: cducfg.WriteRegister, Address: 633, Decimals: 2},
				},
			},
		},
	}
}

func TestWriterFixtureHasDisabledPump2(t *testing.T) {
	repo := newTestWriterRepo()
	_, ok := repo.ComponentByName("pump_2")
	if !ok {
		t.Fatal("expected pump_2 to exist in fixture")
	}
	if repo.Components[1].Enabled {
		t.Fatal("fixture expected pump_2 disabled")
	}
}

func TestFieldByAnyKeyPicksFirstConfiguredMatch(t *testing.T) {
	repo := newTestWriterRepo()
	p, _ := repo.ComponentByName("pump_1")
	keys := map[string]struct{}{"rw_d_duty": {}, "rw_b_switch": {}}
	field, ok := p.FieldByAnyKey(keys)
	if !ok {
		t.Fatal("expected a match")
	}
	if field.Name != "rw_b_switch" {
		t.Fatalf("expected first configured field rw_b_switch, got %s", field.Name)
	}
}
