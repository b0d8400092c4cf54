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

// Package batchio implements BatchIO: stateless bounded-retry read/write
// operations over whichever transport client is handed to it. It holds
// no state of its own — the caller (polling scheduler, component writer)
// decides which client (TCP or RTU leg) to pass in for a given attempt,
// the way the teacher's sendWithUnit retries by re-selecting a connected
// client rather than BatchIO owning connection state itself.
package batchio

import (
	"context"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// Client is the minimal surface BatchIO drives: either transport leg
// satisfies it.
type Client interface {
	ReadHoldingRegisters(ctx context.Context, unitID mbproto.UnitID, addr, qty uint16) ([]uint16, error)
	ReadCoils(ctx context.Context, unitID mbproto.UnitID, addr, qty uint16) ([]bool, error)
	WriteMultipleRegisters(ctx context.Context, unitID mbproto.UnitID, addr uint16, values []uint16) error
	WriteMultipleCoils(ctx context.Context, unitID mbproto.UnitID, addr uint16, values []bool) error
}

const (
	// MaxRetryPoll is used by polling reads.
	MaxRetryPoll = 3
	// MaxRetryFast is used by writes and other fail-fast operations.
	MaxRetryFast = 1
)

// ReadHoldingRegisters retries up to maxRetry times. A returned error
// means the last attempt's error; the caller's register map/cache must
// not be mutated in that case.
func ReadHoldingRegisters(ctx context.Context, c Client, unitID mbproto.UnitID, addr, qty uint16, maxRetry int) ([]uint16, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		vals, err := c.ReadHoldingRegisters(ctx, unitID, addr, qty)
		if err == nil {
			return vals, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// ReadCoils retries up to maxRetry times.
func ReadCoils(ctx context.Context, c Client, unitID mbproto.UnitID, addr, qty uint16, maxRetry int) ([]bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		vals, err := c.ReadCoils(ctx, unitID, addr, qty)
		if err == nil {
			return vals, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// WriteRegisters retries up to maxRetry times.
func WriteRegisters(ctx context.Context, c Client, unitID mbproto.UnitID, addr uint16, values []uint16, maxRetry int) error {
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		err := c.WriteMultipleRegisters(ctx, unitID, addr, values)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// WriteCoils retries up to maxRetry times.
func WriteCoils(ctx context.Context, c Client, unitID mbproto.UnitID, addr uint16, values []bool, maxRetry int) error {
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		err := c.WriteMultipleCoils(ctx, unitID, addr, values)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}
