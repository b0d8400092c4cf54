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

// Package transport implements the dual-leg (TCP + RTU) Modbus client
// described by the TransportManager: connection lifecycle, the reconnect
// supervisor, and the force-close path used by the polling scheduler's
// mode watchdog to unblock a worker stuck inside a slow read.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// TCPClient is a Modbus TCP client with explicit connect/disconnect and a
// force-close path usable from a goroutine other than the reader.
type TCPClient struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger
	Metrics *mbproto.Metrics

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	txIDGen   mbproto.TransactionIDGenerator
}

// NewTCPClient creates a new TCP client bound to addr (host:port).
func NewTCPClient(addr string, timeout time.Duration, logger *slog.Logger) *TCPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPClient{addr: addr, timeout: timeout, logger: logger, Metrics: &mbproto.Metrics{}}
}

// Connect dials the remote PCBA. It returns (true, nil) if already
// connected, (false, nil) on a soft dial failure, and a non-nil error only
// for unexpected conditions (per TransportManager's connect_* contract).
func (c *TCPClient) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return true, nil
	}

	dialer := &net.Dialer{Timeout: c.timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.logger.Warn("tcp connect failed", slog.String("addr", c.addr), slog.String("error", err.Error()))
		return false, nil
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
		tcpConn.SetNoDelay(true)
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("tcp connected", slog.String("addr", c.addr))
	return true, nil
}

// IsConnected reports the last known connection state.
func (c *TCPClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect closes the socket and flips connected to false under the lock.
func (c *TCPClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// ForceClose is the mode-watchdog's escape hatch: it closes the socket out
// from under a worker blocked in Send, guaranteeing that read unblocks with
// an error on its next syscall.
func (c *TCPClient) ForceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.logger.Warn("forcibly closing tcp client", slog.String("addr", c.addr))
	}
	c.closeLocked()
}

func (c *TCPClient) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// send transmits a PDU and returns the matching response PDU, applying the
// configured operation timeout as the socket deadline.
func (c *TCPClient) send(ctx context.Context, unitID mbproto.UnitID, pdu []byte) ([]byte, error) {
	c.Metrics.RequestsTotal.Add(1)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.Metrics.RequestsErrors.Add(1)
		return nil, mbproto.ErrNotConnected
	}
	conn := c.conn
	txID := c.txIDGen.Next()
	c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		c.ForceClose()
		c.Metrics.RequestsErrors.Add(1)
		return nil, err
	}

	frame := mbproto.TCPFrame{
		Header: mbproto.MBAPHeader{TransactionID: txID, UnitID: unitID},
		PDU:    pdu,
	}
	if _, err := conn.Write(frame.Encode()); err != nil {
		c.ForceClose()
		c.Metrics.RequestsErrors.Add(1)
		return nil, fmt.Errorf("tcp write: %w", err)
	}

	resp, err := mbproto.ReadTCPFrame(conn)
	if err != nil {
		c.ForceClose()
		c.Metrics.RequestsErrors.Add(1)
		return nil, fmt.Errorf("tcp read: %w", err)
	}
	if resp.Header.TransactionID != txID {
		c.ForceClose()
		c.Metrics.RequestsErrors.Add(1)
		return nil, fmt.Errorf("%w: transaction id mismatch", mbproto.ErrInvalidResponse)
	}
	if mbproto.IsExceptionResponse(resp.PDU) {
		c.Metrics.RequestsErrors.Add(1)
		return nil, mbproto.ParseExceptionResponse(resp.PDU)
	}
	c.Metrics.RequestsSuccess.Add(1)
	return resp.PDU, nil
}

// ReadHoldingRegisters performs FC03 over TCP.
func (c *TCPClient) ReadHoldingRegisters(ctx context.Context, unitID mbproto.UnitID, addr, qty uint16) ([]uint16, error) {
	pdu, err := mbproto.BuildReadHoldingRegistersPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	return mbproto.ParseRegistersResponse(resp, qty)
}

// ReadCoils performs FC01 over TCP.
func (c *TCPClient) ReadCoils(ctx context.Context, unitID mbproto.UnitID, addr, qty uint16) ([]bool, error) {
	pdu, err := mbproto.BuildReadCoilsPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	return mbproto.ParseCoilsResponse(resp, qty)
}

// WriteMultipleRegisters performs FC16 over TCP.
func (c *TCPClient) WriteMultipleRegisters(ctx context.Context, unitID mbproto.UnitID, addr uint16, values []uint16) error {
	pdu, err := mbproto.BuildWriteMultipleRegistersPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, unitID, pdu)
	if err != nil {
		return err
	}
	return mbproto.ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}

// WriteMultipleCoils performs FC15 over TCP.
func (c *TCPClient) WriteMultipleCoils(ctx context.Context, unitID mbproto.UnitID, addr uint16, values []bool) error {
	pdu, err := mbproto.BuildWriteMultipleCoilsPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, unitID, pdu)
	if err != nil {
		return err
	}
	return mbproto.ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}
