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

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// RTUConfig describes the serial parameters for a Modbus RTU leg.
type RTUConfig struct {
	Port     string
	Baud     int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
	Timeout  time.Duration
}

// RTUClient is a Modbus RTU client over a serial port.
type RTUClient struct {
	cfg     RTUConfig
	logger  *slog.Logger
	Metrics *mbproto.Metrics

	mu        sync.Mutex
	port      serial.Port
	connected bool
}

// NewRTUClient creates a new RTU client for the given serial configuration.
func NewRTUClient(cfg RTUConfig, logger *slog.Logger) *RTUClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTUClient{cfg: cfg, logger: logger, Metrics: &mbproto.Metrics{}}
}

// Connect opens the serial port. Like TCPClient.Connect, failures are
// reported as (false, nil); only unexpected conditions return an error.
func (c *RTUClient) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return true, nil
	}

	mode := &serial.Mode{
		BaudRate: c.cfg.Baud,
		DataBits: c.cfg.DataBits,
		StopBits: c.cfg.StopBits,
		Parity:   c.cfg.Parity,
	}

	port, err := serial.Open(c.cfg.Port, mode)
	if err != nil {
		c.logger.Warn("rtu open failed", slog.String("port", c.cfg.Port), slog.String("error", err.Error()))
		return false, nil
	}
	if err := port.SetReadTimeout(c.cfg.Timeout); err != nil {
		port.Close()
		return false, nil
	}

	c.port = port
	c.connected = true
	c.logger.Info("rtu connected", slog.String("port", c.cfg.Port))
	return true, nil
}

// IsConnected reports the last known connection state.
func (c *RTUClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect closes the serial port.
func (c *RTUClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// ForceClose is the RTU equivalent of TCPClient.ForceClose, used when the
// mode watchdog needs to unblock a worker mid-read.
func (c *RTUClient) ForceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.logger.Warn("forcibly closing rtu client", slog.String("port", c.cfg.Port))
	}
	c.closeLocked()
}

func (c *RTUClient) closeLocked() {
	if c.port != nil {
		c.port.Close()
		c.port = nil
	}
	c.connected = false
}

func (c *RTUClient) send(unitID mbproto.UnitID, pdu []byte, respLen int) ([]byte, error) {
	c.Metrics.RequestsTotal.Add(1)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.Metrics.RequestsErrors.Add(1)
		return nil, mbproto.ErrNotConnected
	}
	port := c.port
	c.mu.Unlock()

	frame := mbproto.RTUFrame{UnitID: unitID, PDU: pdu}
	adu := frame.Encode()

	if _, err := port.Write(adu); err != nil {
		c.ForceClose()
		c.Metrics.RequestsErrors.Add(1)
		return nil, fmt.Errorf("rtu write: %w", err)
	}

	buf := make([]byte, respLen)
	n, err := io.ReadFull(port, buf)
	if err != nil && n == 0 {
		c.ForceClose()
		c.Metrics.RequestsErrors.Add(1)
		return nil, fmt.Errorf("rtu read: %w", err)
	}

	decoded, err := mbproto.DecodeRTUFrame(buf[:n])
	if err != nil {
		c.Metrics.RequestsErrors.Add(1)
		return nil, err
	}
	if decoded.UnitID != unitID {
		c.Metrics.RequestsErrors.Add(1)
		return nil, fmt.Errorf("%w: unit id mismatch", mbproto.ErrInvalidResponse)
	}
	if mbproto.IsExceptionResponse(decoded.PDU) {
		c.Metrics.RequestsErrors.Add(1)
		return nil, mbproto.ParseExceptionResponse(decoded.PDU)
	}
	c.Metrics.RequestsSuccess.Add(1)
	return decoded.PDU, nil
}

// ReadHoldingRegisters performs FC03 over RTU.
// respLen is unit(1) + fc(1) + bytecount(1) + 2*qty + crc(2).
func (c *RTUClient) ReadHoldingRegisters(ctx context.Context, unitID mbproto.UnitID, addr, qty uint16) ([]uint16, error) {
	pdu, err := mbproto.BuildReadHoldingRegistersPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(unitID, pdu, 5+int(qty)*2)
	if err != nil {
		return nil, err
	}
	return mbproto.ParseRegistersResponse(resp, qty)
}

// ReadCoils performs FC01 over RTU.
func (c *RTUClient) ReadCoils(ctx context.Context, unitID mbproto.UnitID, addr, qty uint16) ([]bool, error) {
	pdu, err := mbproto.BuildReadCoilsPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	byteCount := (qty + 7) / 8
	resp, err := c.send(unitID, pdu, 5+int(byteCount))
	if err != nil {
		return nil, err
	}
	return mbproto.ParseCoilsResponse(resp, qty)
}

// WriteMultipleRegisters performs FC16 over RTU; the response echoes addr+qty.
func (c *RTUClient) WriteMultipleRegisters(ctx context.Context, unitID mbproto.UnitID, addr uint16, values []uint16) error {
	pdu, err := mbproto.BuildWriteMultipleRegistersPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(unitID, pdu, 8)
	if err != nil {
		return err
	}
	return mbproto.ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}

// WriteMultipleCoils performs FC15 over RTU.
func (c *RTUClient) WriteMultipleCoils(ctx context.Context, unitID mbproto.UnitID, addr uint16, values []bool) error {
	pdu, err := mbproto.BuildWriteMultipleCoilsPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(unitID, pdu, 8)
	if err != nil {
		return err
	}
	return mbproto.ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}
