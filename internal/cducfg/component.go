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

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// WriteKind distinguishes a coil write from a register write for a
// writable field.
type WriteKind int

const (
	WriteCoil WriteKind = iota
	WriteRegister
)

func (k WriteKind) String() string {
	if k == WriteCoil {
		return "coil"
	}
	return "register"
}

// ComponentType is the configured device taxonomy; the core never models
// device types outside this set (spec.md §1 Non-goals).
type ComponentType string

const (
	ComponentFan    ComponentType = "fan"
	ComponentPump   ComponentType = "pump"
	ComponentPV     ComponentType = "proportional_valve"
	ComponentOutput ComponentType = "output"
	ComponentInput  ComponentType = "input"
	ComponentSensor ComponentType = "sensor"
)

// WritableField is one pre-computed entry of a ComponentParam's
// writable_fields table: the statically typed replacement for runtime
// duck-typed discovery (spec.md §9 re-architecture guidance).
type WritableField struct {
	Name     string // canonical field name, e.g. "rw_d_duty"
	Kind     WriteKind
	Address  uint16
	Decimals uint8
	Min      *float64
	Max      *float64
}

// ComponentParam is immutable after Load: it holds the static schema for
// one configured device.
type ComponentParam struct {
	Name           string
	Type           ComponentType
	Enabled        bool
	WritableFields []WritableField
	Config         map[string]any
}

// FieldByAnyKey returns the first writable field, in WritableFields
// order, whose name matches any key present in keys. WritableFields is
// sorted alphabetically by config key when the component is loaded, so
// the order in which keys appear in the JSON file does not decide which
// field wins.
func (p *ComponentParam) FieldByAnyKey(keys map[string]struct{}) (WritableField, bool) {
	for _, f := range p.WritableFields {
		if _, ok := keys[f.Name]; ok {
			return f, true
		}
	}
	return WritableField{}, false
}

// ConfigFloat reads a numeric config entry, returning (0, false) if it is
// absent or not numeric.
func (p *ComponentParam) ConfigFloat(key string) (float64, bool) {
	v, ok := p.Config[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// ConfigString reads a string config entry, returning ("", false) if it
// is absent or not a string. Used by the derivation pipeline to
// discriminate sensor subtypes (temperature/pressure/flow/ph/environment)
// within the single "sensor" config array.
func (p *ComponentParam) ConfigString(key string) (string, bool) {
	v, ok := p.Config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ConfigAddress reads a nested `{"local": <u16>}` address field.
func (p *ComponentParam) ConfigAddress(key string) (uint16, bool) {
	addr, _, ok := readAddressField(p.Config, key)
	return addr, ok
}

func readAddressField(cfg map[string]any, key string) (uint16, bool, bool) {
	raw, ok := cfg[key]
	if !ok {
		return 0, false, false
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return 0, false, false
	}
	local, ok := obj["local"]
	if !ok {
		return 0, false, false
	}
	f, ok := local.(float64)
	if !ok {
		return 0, false, false
	}
	return uint16(f), true, true
}

// componentElement is the {"name", "config"} shape shared by every array
// in cdu_120kw_component.json.
type componentElement struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// componentFile is the top-level cdu_120kw_component.json schema.
type componentFile struct {
	Fans               []componentElement `json:"fans"`
	Pumps              []componentElement `json:"pumps"`
	ProportionalValves []componentElement `json:"proportional_valve"`
	Outputs            []componentElement `json:"output"`
	Inputs             []componentElement `json:"input"`
	Sensors            []componentElement `json:"sensor"`
}

func loadComponents(path string) ([]ComponentParam, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingFile, path, err)
	}

	var file componentFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedJSON, path, err)
	}

	var params []ComponentParam
	add := func(elems []componentElement, t ComponentType) {
		for _, e := range elems {
			params = append(params, buildComponentParam(e, t))
		}
	}
	add(file.Fans, ComponentFan)
	add(file.Pumps, ComponentPump)
	add(file.ProportionalValves, ComponentPV)
	add(file.Outputs, ComponentOutput)
	add(file.Inputs, ComponentInput)
	add(file.Sensors, ComponentSensor)
	return params, nil
}

func buildComponentParam(e componentElement, t ComponentType) ComponentParam {
	enabled := true
	if v, ok := e.Config["enabled"]; ok {
		if b, ok := v.(bool); ok {
			enabled = b
		}
	}

	p := ComponentParam{
		Name:    e.Name,
		Type:    t,
		Enabled: enabled,
		Config:  e.Config,
	}

	// Deterministic iteration order: sort the matched address keys, not
	// Go's randomized map order, so FieldByAnyKey's "first match" rule
	// is reproducible across runs.
	var keys []string
	for k := range e.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !strings.HasSuffix(key, "_address") {
			continue
		}
		var kind WriteKind
		switch {
		case strings.HasPrefix(key, "rw_b"):
			kind = WriteCoil
		case strings.HasPrefix(key, "rw_d"):
			kind = WriteRegister
		default:
			continue
		}

		addr, _, ok := readAddressField(e.Config, key)
		if !ok {
			continue
		}

		base := strings.TrimSuffix(key, "_address")
		field := WritableField{Name: base, Kind: kind, Address: addr}

		if v, ok := e.Config[base+"_decimals"]; ok {
			if f, ok := v.(float64); ok {
				field.Decimals = uint8(f)
			}
		}
		if v, ok := e.Config[base+"_min"]; ok {
			if f, ok := v.(float64); ok {
				field.Min = &f
			}
		}
		if v, ok := e.Config[base+"_max"]; ok {
			if f, ok := v.(float64); ok {
				field.Max = &f
			}
		}
		p.WritableFields = append(p.WritableFields, field)
	}

	return p
}
