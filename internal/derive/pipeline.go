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

// Package derive implements the DerivationPipeline: a 50ms loop that
// reads RawRegisterImage and writes semantically-normalized values and
// fault-confirmed device states into the ProcessedRegisterMap.
package derive

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/rawimage"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

// Cadence is the pipeline's fixed tick interval.
const Cadence = 50 * time.Millisecond

// Fan/pump device states.
const (
	DeviceStopped = 0
	DeviceRunning = 1
	DeviceFault   = 2
)

// Proportional valve states.
const (
	PVStandby = 0
	PVRunning = 1
	PVFault   = 2
)

// Four-branch sensor states.
const (
	SensorFault    = 0
	SensorNormal   = 1
	SensorBelowMin = 2
	SensorAboveMax = 3
)

// Binary sensor states (pH, environment).
const (
	BinaryFault  = 0
	BinaryNormal = 1
)

type fanState struct {
	state int
	timer confirmTimer
}

type pumpState struct {
	state int
	timer confirmTimer
}

type pvState struct {
	state        int
	lastNonFault int
	faultTimer   confirmTimer
}

type sensorState struct {
	state      int
	faultTimer confirmTimer
	rangeTimer confirmTimer
}

// Pipeline is the DerivationPipeline.
type Pipeline struct {
	raw    *rawimage.Image
	proc   *regmap.Map
	repo   *cducfg.Repository
	logger *slog.Logger

	fans  []fanState
	pumps []pumpState
	pvs   []pvState

	temps []sensorState
	press []sensorState
	flows []sensorState
	phs   []sensorState
	envs  []sensorState

	mirrorMu     sync.Mutex
	fanMirrored  bool
	pumpMirrored bool
	pvMirrored   bool
}

// New builds a DerivationPipeline.
func New(raw *rawimage.Image, proc *regmap.Map, repo *cducfg.Repository, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		raw:    raw,
		proc:   proc,
		repo:   repo,
		logger: logger,
		fans:   make([]fanState, regmap.FanCount),
		pumps:  make([]pumpState, regmap.PumpCount),
		pvs:    make([]pvState, regmap.PVCount),
		temps:  make([]sensorState, regmap.TempCount),
		press:  make([]sensorState, regmap.PressureCount),
		flows:  make([]sensorState, regmap.FlowCount),
		phs:    make([]sensorState, regmap.PHCount),
		envs:   make([]sensorState, regmap.EnvCount),
	}
}

// Run blocks, ticking every Cadence until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(Cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.tick(now)
		}
	}
}

func (p *Pipeline) tick(now time.Time) {
	p.deriveFans(now)
	p.derivePumps(now)
	p.derivePVs(now)
	p.deriveSensors(now)
	p.deriveAggregates()
}

func (p *Pipeline) componentsOf(t cducfg.ComponentType) []cducfg.ComponentParam {
	var out []cducfg.ComponentParam
	for _, c := range p.repo.Components {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// deriveFans implements spec.md §4.9's fan state machine: switch off -> 0;
// switch on and current > 100mA -> 1; switch on and current <= 100mA held
// for 8s -> 2 (fault), held below 8s -> 0.
func (p *Pipeline) deriveFans(now time.Time) {
	fans := p.componentsOf(cducfg.ComponentFan)
	for i := 0; i < len(fans) && i < len(p.fans); i++ {
		c := &fans[i]
		switchAddr, _ := c.ConfigAddress("r_b_switch_address")
		currentAddr, _ := c.ConfigAddress("r_d_current_address")

		on := p.raw.Coil(switchAddr)
		current := decodeI16(p.raw.Register(currentAddr))

		st := &p.fans[i]
		switch {
		case !on:
			st.state = DeviceStopped
			st.timer.reset()
		case current > 100:
			st.state = DeviceRunning
			st.timer.reset()
		default:
			if st.timer.confirm(true, faultConfirm8s, now) {
				st.state = DeviceFault
			} else {
				st.state = DeviceStopped
			}
		}

		p.proc.SetRegister(regmap.FanCurrentBase+uint16(i), encodeU16(current), false)
		p.proc.SetRegister(regmap.FanStatusBase+uint16(i), uint16(st.state), false)
	}
	p.mirrorOnce(&p.fanMirrored, regmap.FanDutyReadBase, regmap.FanDutyWriteBase, regmap.FanCount)
}

// derivePumps adds the min_duty precondition to the fan shape and scales
// duty/voltage/temperature into the processed map's fixed-point units.
func (p *Pipeline) derivePumps(now time.Time) {
	pumps := p.componentsOf(cducfg.ComponentPump)
	for i := 0; i < len(pumps) && i < len(p.pumps); i++ {
		c := &pumps[i]
		switchAddr, _ := c.ConfigAddress("r_b_switch_address")
		dutyAddr, _ := c.ConfigAddress("r_d_duty_address")
		currentAddr, _ := c.ConfigAddress("r_d_current_address")
		speedAddr, _ := c.ConfigAddress("r_d_speed_address")
		voltageAddr, _ := c.ConfigAddress("r_d_voltage_address")
		tempAddr, _ := c.ConfigAddress("r_d_temperature_address")
		minDuty, _ := c.ConfigFloat("min_duty")

		on := p.raw.Coil(switchAddr)
		dutyRaw := p.raw.Register(dutyAddr)
		current := decodeI16(p.raw.Register(currentAddr))
		speed := p.raw.Register(speedAddr)
		voltage := p.raw.Register(voltageAddr)
		temp := p.raw.Register(tempAddr)

		st := &p.pumps[i]
		meetsDuty := float64(dutyRaw) >= minDuty
		switch {
		case !on:
			st.state = DeviceStopped
			st.timer.reset()
		case current > 100 && meetsDuty:
			st.state = DeviceRunning
			st.timer.reset()
		default:
			if st.timer.confirm(true, faultConfirm8s, now) {
				st.state = DeviceFault
			} else {
				st.state = DeviceStopped
			}
		}

		p.proc.SetRegister(regmap.PumpDutyReadBase+uint16(i), uint16(dutyRaw)*100, false)
		p.proc.SetRegister(regmap.PumpCurrentBase+uint16(i), encodeU16(current), false)
		p.proc.SetRegister(regmap.PumpSpeedBase+uint16(i), speed, false)
		p.proc.SetRegister(regmap.PumpStatusBase+uint16(i), uint16(st.state), false)
		if i < regmap.PumpVoltageCount {
			p.proc.SetRegister(regmap.PumpVoltageBase+uint16(i), voltage*100, false)
		}
		if i < regmap.PumpTempCount {
			p.proc.SetRegister(regmap.PumpTempBase+uint16(i), temp*10, false)
		}
	}
	p.mirrorOnce(&p.pumpMirrored, regmap.PumpDutyReadBase, regmap.PumpDutyWriteBase, regmap.PumpCount)
}

// derivePVs implements the proportional-valve state machine: fault needs
// 12s confirmation; standby/running are immediate.
func (p *Pipeline) derivePVs(now time.Time) {
	pvs := p.componentsOf(cducfg.ComponentPV)
	for i := 0; i < len(pvs) && i < len(p.pvs); i++ {
		c := &pvs[i]
		voltageAddr, _ := c.ConfigAddress("r_d_voltage_address")
		dutyAddr, _ := c.ConfigAddress("r_d_duty_address")

		voltage := p.raw.Register(voltageAddr)
		duty := p.raw.Register(dutyAddr)

		st := &p.pvs[i]
		faultCond := voltage < 1990 && duty >= 2000
		if st.faultTimer.confirm(faultCond, faultConfirm12s, now) {
			st.state = PVFault
		} else {
			switch {
			case duty < 2000 && voltage >= 1990 && voltage < 2050:
				st.state = PVStandby
			case duty >= 2000 && voltage >= 2050:
				st.state = PVRunning
			default:
				st.state = PVStandby
			}
			st.lastNonFault = st.state
		}

		p.proc.SetRegister(regmap.PVVoltageBase+uint16(i), voltage, false)
		p.proc.SetRegister(regmap.PVStatusBase+uint16(i), uint16(st.state), false)
	}
	p.mirrorOnce(&p.pvMirrored, regmap.PVDutyReadBase, regmap.PVDutyWriteBase, regmap.PVCount)
}

// mirrorOnce copies the current read-region values into the write-region
// exactly once, guarded by flag, preventing boot-time drift between
// displayed state and pending writes (spec.md §4.9).
func (p *Pipeline) mirrorOnce(done *bool, readBase, writeBase uint16, count uint16) {
	p.mirrorMu.Lock()
	defer p.mirrorMu.Unlock()
	if *done {
		return
	}
	*done = true
	vals := p.proc.GetRegisters(readBase, count)
	p.proc.SetRegisters(writeBase, vals)
}

// sensorConfig is the shared shape of a configured sensor's bounds.
type sensorConfig struct {
	min, max           *float64
	faultMin, faultMax *float64
}

func readSensorConfig(c *cducfg.ComponentParam) sensorConfig {
	var sc sensorConfig
	if f, ok := c.ConfigFloat("min"); ok {
		sc.min = &f
	}
	if f, ok := c.ConfigFloat("max"); ok {
		sc.max = &f
	}
	// fault_raw_min/fault_raw_max are an optional, explicitly configured
	// hardware full-scale window; absent any configuration, sensor_fault
	// (state 0) is never produced and only below_min/above_max/normal are
	// reachable. This resolves spec.md §9's open question about detecting
	// a disconnected sensor without inventing an undocumented sentinel.
	if f, ok := c.ConfigFloat("fault_raw_min"); ok {
		sc.faultMin = &f
	}
	if f, ok := c.ConfigFloat("fault_raw_max"); ok {
		sc.faultMax = &f
	}
	return sc
}

func (sc sensorConfig) faultCond(raw uint16) bool {
	if sc.faultMin == nil && sc.faultMax == nil {
		return false
	}
	v := float64(raw)
	return (sc.faultMin != nil && v < *sc.faultMin) || (sc.faultMax != nil && v > *sc.faultMax)
}

func fourState(st *sensorState, calc float64, sc sensorConfig, raw uint16, now time.Time) int {
	if st.faultTimer.confirm(sc.faultCond(raw), faultConfirm8s, now) {
		st.state = SensorFault
		return st.state
	}
	belowMin := sc.min != nil && calc < *sc.min
	aboveMax := sc.max != nil && calc > *sc.max
	if st.rangeTimer.confirm(belowMin || aboveMax, faultConfirm8s, now) {
		if belowMin {
			st.state = SensorBelowMin
		} else {
			st.state = SensorAboveMax
		}
		return st.state
	}
	st.state = SensorNormal
	return st.state
}

func twoState(st *sensorState, outOfRange bool, now time.Time) int {
	if st.rangeTimer.confirm(outOfRange, faultConfirm8s, now) {
		st.state = BinaryFault
	} else {
		st.state = BinaryNormal
	}
	return st.state
}

// calcTemperature: calc = (raw + off1 + off2) * gain1 * gain2 * gain3.
func calcTemperature(c *cducfg.ComponentParam, raw uint16) float64 {
	off1, _ := c.ConfigFloat("off1")
	off2, _ := c.ConfigFloat("off2")
	gain1, ok1 := c.ConfigFloat("gain1")
	if !ok1 {
		gain1 = 1
	}
	gain2, ok2 := c.ConfigFloat("gain2")
	if !ok2 {
		gain2 = 1
	}
	gain3, ok3 := c.ConfigFloat("gain3")
	if !ok3 {
		gain3 = 1
	}
	return (float64(raw) + off1 + off2) * gain1 * gain2 * gain3
}

// calcLinear: calc = (raw + off1) * gains + off2, shared by pressure,
// flow, and pH sensors per spec.md §4.9 ("pH sensor: calc as pressure").
func calcLinear(c *cducfg.ComponentParam, raw uint16) float64 {
	off1, _ := c.ConfigFloat("off1")
	gains, ok := c.ConfigFloat("gains")
	if !ok {
		gains = 1
	}
	off2, _ := c.ConfigFloat("off2")
	return (float64(raw)+off1)*gains + off2
}

func (p *Pipeline) deriveSensors(now time.Time) {
	sensors := p.componentsOf(cducfg.ComponentSensor)

	ti, pi, fi, hi, ei := 0, 0, 0, 0, 0
	for idx := range sensors {
		c := &sensors[idx]
		subtype, _ := c.ConfigString("sensor_type")
		valueAddr, _ := c.ConfigAddress("r_d_value_address")
		raw := p.raw.Register(valueAddr)
		sc := readSensorConfig(c)

		switch subtype {
		case "temperature":
			if ti >= len(p.temps) {
				continue
			}
			calc := calcTemperature(c, raw)
			st := &p.temps[ti]
			state := fourState(st, calc, sc, raw, now)
			p.proc.SetRegister(regmap.TempValueBase+uint16(ti), encodeU16(int64(math.Round(calc))), false)
			p.proc.SetRegister(regmap.TempStatusBase+uint16(ti), uint16(state), false)
			ti++
		case "pressure":
			if pi >= len(p.press) {
				continue
			}
			calc := calcLinear(c, raw)
			st := &p.press[pi]
			state := fourState(st, calc, sc, raw, now)
			p.proc.SetRegister(regmap.PressureValueBase+uint16(pi), encodeU16(int64(math.Round(calc))), false)
			p.proc.SetRegister(regmap.PressureStatusBase+uint16(pi), uint16(state), false)
			pi++
		case "flow":
			if fi >= len(p.flows) {
				continue
			}
			calc := calcLinear(c, raw)
			st := &p.flows[fi]
			state := fourState(st, calc, sc, raw, now)
			p.proc.SetRegister(regmap.FlowValueBase+uint16(fi), encodeU16(int64(math.Round(calc))), false)
			p.proc.SetRegister(regmap.FlowStatusBase+uint16(fi), uint16(state), false)
			fi++
		case "ph":
			if hi >= len(p.phs) {
				continue
			}
			calc := calcLinear(c, raw)
			outOfRange := (sc.min != nil && calc < *sc.min) || (sc.max != nil && calc > *sc.max)
			st := &p.phs[hi]
			state := twoState(st, outOfRange, now)
			p.proc.SetRegister(regmap.PHValueBase+uint16(hi), encodeU16(int64(math.Round(calc))), false)
			p.proc.SetRegister(regmap.PHStatusBase+uint16(hi), uint16(state), false)
			hi++
		case "environment":
			if ei >= len(p.envs) {
				continue
			}
			calc := calcLinear(c, raw)
			outOfRange := (sc.min != nil && calc < *sc.min) || (sc.max != nil && calc > *sc.max)
			st := &p.envs[ei]
			state := twoState(st, outOfRange, now)
			p.proc.SetRegister(regmap.EnvValueBase+uint16(ei), encodeU16(int64(math.Round(calc))), false)
			p.proc.SetRegister(regmap.EnvStatusBase+uint16(ei), uint16(state), false)
			ei++
		}
	}
}

// deriveAggregates computes ΔT, ΔP, and cooling capacity straight from
// already-derived processed registers.
func (p *Pipeline) deriveAggregates() {
	t1 := decodeI16(p.proc.GetRegister(regmap.TempValueBase + 0))
	t4 := decodeI16(p.proc.GetRegister(regmap.TempValueBase + 3))
	deltaT := t4 - t1
	p.proc.SetRegister(regmap.TempDiffBase, encodeU16(deltaT), false)

	p3 := decodeI16(p.proc.GetRegister(regmap.PressureValueBase + 2))
	p4 := decodeI16(p.proc.GetRegister(regmap.PressureValueBase + 3))
	deltaP := p4 - p3
	p.proc.SetRegister(regmap.PressureDiffBase, encodeU16(deltaP), false)

	t3 := decodeI16(p.proc.GetRegister(regmap.TempValueBase + 2))
	if math.Abs(float64(t3-t4)) < 1e-12 {
		return
	}

	flowSensors := p.componentsOf(cducfg.ComponentSensor)
	flowDecimals := 1.0
	fi := 0
	for i := range flowSensors {
		subtype, _ := flowSensors[i].ConfigString("sensor_type")
		if subtype != "flow" {
			continue
		}
		if fi == 1 {
			if d, ok := flowSensors[i].ConfigFloat("decimals"); ok {
				flowDecimals = d
			}
		}
		fi++
	}
	tempDecimals := 1.0
	for i := range flowSensors {
		subtype, _ := flowSensors[i].ConfigString("sensor_type")
		if subtype == "temperature" {
			if d, ok := flowSensors[i].ConfigFloat("decimals"); ok {
				tempDecimals = d
			}
			break
		}
	}

	f2Raw := decodeI16(p.proc.GetRegister(regmap.FlowValueBase + 1))
	f2 := float64(f2Raw) / math.Pow10(int(flowDecimals))
	t3Phys := float64(t3) / math.Pow10(int(tempDecimals))
	t4Phys := float64(t4) / math.Pow10(int(tempDecimals))

	cap := f2 * (t3Phys - t4Phys) * 1.0163 * 4.182 / 60
	p.proc.SetRegister(regmap.CoolingCapacityBase, encodeU16(int64(math.Round(cap*10))), false)
}
