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

// Package rawimage holds the RawRegisterImage: the PCBA-native register
// and coil values as read by the polling and low-frequency schedulers,
// ahead of semantic derivation. A single map-global lock guards it; the
// only writers are those two schedulers' workers, and reads from the
// derivation loop are infrequent relative to the cost of per-address
// locking.
package rawimage

import "sync"

// Image is the raw PCBA-native register/coil cache. It is written only
// by polling-scheduler and low-frequency-scheduler workers and read only
// by the derivation pipeline.
type Image struct {
	mu        sync.RWMutex
	registers map[uint16]uint16
	coils     map[uint16]bool
}

// New builds an empty RawRegisterImage.
func New() *Image {
	return &Image{
		registers: make(map[uint16]uint16),
		coils:     make(map[uint16]bool),
	}
}

// StoreRegisters writes count consecutive registers starting at addr.
// This is the single critical section a successful read task uses to
// publish its values; concurrent workers must not overlap their ranges.
func (img *Image) StoreRegisters(addr uint16, values []uint16) {
	img.mu.Lock()
	defer img.mu.Unlock()
	for i, v := range values {
		img.registers[addr+uint16(i)] = v
	}
}

// StoreCoils writes count consecutive coils starting at addr.
func (img *Image) StoreCoils(addr uint16, values []bool) {
	img.mu.Lock()
	defer img.mu.Unlock()
	for i, v := range values {
		img.coils[addr+uint16(i)] = v
	}
}

// Register returns the last-known value at addr, or 0 if never populated.
func (img *Image) Register(addr uint16) uint16 {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.registers[addr]
}

// Registers returns count consecutive registers starting at addr.
func (img *Image) Registers(addr, count uint16) []uint16 {
	out := make([]uint16, count)
	img.mu.RLock()
	defer img.mu.RUnlock()
	for i := uint16(0); i < count; i++ {
		out[i] = img.registers[addr+i]
	}
	return out
}

// Coil returns the last-known value at addr, or false if never populated.
func (img *Image) Coil(addr uint16) bool {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.coils[addr]
}

// Coils returns count consecutive coils starting at addr.
func (img *Image) Coils(addr, count uint16) []bool {
	out := make([]bool, count)
	img.mu.RLock()
	defer img.mu.RUnlock()
	for i := uint16(0); i < count; i++ {
		out[i] = img.coils[addr+i]
	}
	return out
}
