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

// Package hmi implements the HMIRTUSlave: a Modbus RTU slave over a
// serial port that lets the on-panel HMI read and write the
// ProcessedRegisterMap directly (spec.md §4.11). It adapts the
// function-code dispatch and PDU encoding edgeo-scada-modbus-tcp uses
// for its TCP server to RTU framing and to a single backing store
// instead of a generic per-unit Handler.
package hmi

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

const (
	restartBackoff  = 5 * time.Second
	heartbeatPeriod = 5 * time.Second
	maxFrameSize    = 256
)

// Config describes the serial parameters for the HMI RTU slave leg.
type Config struct {
	Port     string
	Baud     int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
	Timeout  time.Duration
	UnitID   mbproto.UnitID
}

// Slave is the HMIRTUSlave.
type Slave struct {
	cfg     Config
	handler mbproto.Handler
	logger  *slog.Logger

	started atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	requestCount atomic.Int64
}

// New builds an HMI RTU slave backed by proc, the ProcessedRegisterMap.
func New(cfg Config, proc *regmap.Map, logger *slog.Logger) *Slave {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slave{
		cfg:     cfg,
		handler: &mapHandler{proc: proc},
		logger:  logger,
	}
}

// Start launches the slave's accept loop in the background. Calling
// Start twice without an intervening Shutdown is a no-op.
func (s *Slave) Start() {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("hmi slave already started")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.runMu.Lock()
	s.cancel = cancel
	s.runMu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.serveLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(ctx)
	}()
}

// Shutdown stops the slave and waits up to timeout for its goroutines
// to exit.
func (s *Slave) Shutdown(timeout time.Duration) {
	s.runMu.Lock()
	cancel := s.cancel
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("hmi slave shutdown timed out")
	}
	s.started.Store(false)
}

// serveLoop owns the serial port for the slave's lifetime, reopening it
// with a fixed backoff whenever the port drops.
func (s *Slave) serveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		port, err := s.open()
		if err != nil {
			s.logger.Warn("hmi rtu open failed", slog.String("port", s.cfg.Port), slog.String("error", err.Error()))
			if !sleepCtx(ctx, restartBackoff) {
				return
			}
			continue
		}

		s.logger.Info("hmi rtu slave listening", slog.String("port", s.cfg.Port))
		s.serve(ctx, port)
		port.Close()

		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("hmi rtu slave restarting", slog.Duration("backoff", restartBackoff))
		if !sleepCtx(ctx, restartBackoff) {
			return
		}
	}
}

func (s *Slave) open() (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: s.cfg.Baud,
		DataBits: s.cfg.DataBits,
		StopBits: s.cfg.StopBits,
		Parity:   s.cfg.Parity,
	}
	port, err := serial.Open(s.cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(s.cfg.Timeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// serve reads one RTU ADU at a time until the port fails or ctx is
// cancelled.
func (s *Slave) serve(ctx context.Context, port serial.Port) {
	for {
		if ctx.Err() != nil {
			return
		}
		adu, err := readRTUADU(port)
		if err != nil {
			if !errors.Is(err, errFrameTimeout) {
				s.logger.Warn("hmi rtu read failed", slog.String("error", err.Error()))
				return
			}
			continue
		}

		frame, err := mbproto.DecodeRTUFrame(adu)
		if err != nil {
			s.logger.Debug("hmi rtu dropped invalid frame", slog.String("error", err.Error()))
			continue
		}
		if frame.UnitID != s.cfg.UnitID {
			continue
		}

		s.requestCount.Add(1)
		respPDU := s.processRequest(frame.UnitID, frame.PDU)
		if respPDU == nil {
			continue
		}
		resp := mbproto.RTUFrame{UnitID: frame.UnitID, PDU: respPDU}
		if _, err := port.Write(resp.Encode()); err != nil {
			s.logger.Warn("hmi rtu write failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Slave) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := s.requestCount.Load()
			s.logger.Info("hmi rtu slave heartbeat",
				slog.Int64("requests_total", total),
				slog.Float64("requests_per_sec", float64(total-last)/heartbeatPeriod.Seconds()))
			last = total
		}
	}
}

// processRequest dispatches a decoded PDU against the handler, mirroring
// edgeo-scada-modbus-tcp's function-code switch. It always returns a
// response PDU: an exception PDU for an unsupported or failed request.
func (s *Slave) processRequest(unitID mbproto.UnitID, pdu []byte) []byte {
	if len(pdu) < 1 {
		return mbproto.BuildExceptionPDU(0, mbproto.ExceptionIllegalFunction)
	}

	fc := mbproto.FunctionCode(pdu[0])
	var resp []byte
	var err error

	switch fc {
	case mbproto.FuncReadCoils:
		resp, err = s.handleReadCoils(unitID, pdu)
	case mbproto.FuncReadHoldingRegisters:
		resp, err = s.handleReadHoldingRegisters(unitID, pdu)
	case mbproto.FuncWriteSingleCoil:
		resp, err = s.handleWriteSingleCoil(unitID, pdu)
	case mbproto.FuncWriteSingleRegister:
		resp, err = s.handleWriteSingleRegister(unitID, pdu)
	case mbproto.FuncWriteMultipleCoils:
		resp, err = s.handleWriteMultipleCoils(unitID, pdu)
	case mbproto.FuncWriteMultipleRegisters:
		resp, err = s.handleWriteMultipleRegisters(unitID, pdu)
	default:
		return mbproto.BuildExceptionPDU(fc, mbproto.ExceptionIllegalFunction)
	}

	if err != nil {
		s.logger.Error("hmi handler error", slog.String("func", fc.String()), slog.String("error", err.Error()))
		return mbproto.BuildExceptionPDU(fc, mbproto.ExceptionServerDeviceFailure)
	}
	return resp
}

func (s *Slave) handleReadCoils(unitID mbproto.UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return mbproto.BuildExceptionPDU(mbproto.FuncReadCoils, mbproto.ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty < 1 || qty > mbproto.MaxQuantityCoils {
		return mbproto.BuildExceptionPDU(mbproto.FuncReadCoils, mbproto.ExceptionIllegalDataValue), nil
	}
	if int(addr)+int(qty) > regmap.CoilCount {
		return mbproto.BuildExceptionPDU(mbproto.FuncReadCoils, mbproto.ExceptionIllegalDataAddress), nil
	}

	values, err := s.handler.ReadCoils(unitID, addr, qty)
	if err != nil {
		return nil, err
	}
	byteCount := (qty + 7) / 8
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(mbproto.FuncReadCoils)
	resp[1] = byte(byteCount)
	for i, v := range values {
		if v {
			resp[2+i/8] |= 1 << (uint(i) % 8)
		}
	}
	return resp, nil
}

func (s *Slave) handleReadHoldingRegisters(unitID mbproto.UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return mbproto.BuildExceptionPDU(mbproto.FuncReadHoldingRegisters, mbproto.ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty < 1 || qty > mbproto.MaxQuantityRegisters {
		return mbproto.BuildExceptionPDU(mbproto.FuncReadHoldingRegisters, mbproto.ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return mbproto.BuildExceptionPDU(mbproto.FuncReadHoldingRegisters, mbproto.ExceptionIllegalDataAddress), nil
	}

	values, err := s.handler.ReadHoldingRegisters(unitID, addr, qty)
	if err != nil {
		return nil, err
	}
	byteCount := qty * 2
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(mbproto.FuncReadHoldingRegisters)
	resp[1] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+i*2:], v)
	}
	return resp, nil
}

func (s *Slave) handleWriteSingleCoil(unitID mbproto.UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteSingleCoil, mbproto.ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	var on bool
	switch value {
	case mbproto.CoilOn:
		on = true
	case mbproto.CoilOff:
		on = false
	default:
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteSingleCoil, mbproto.ExceptionIllegalDataValue), nil
	}
	if int(addr) >= regmap.CoilCount {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteSingleCoil, mbproto.ExceptionIllegalDataAddress), nil
	}

	if err := s.handler.WriteSingleCoil(unitID, addr, on); err != nil {
		return nil, err
	}
	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp, nil
}

func (s *Slave) handleWriteSingleRegister(unitID mbproto.UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteSingleRegister, mbproto.ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	if err := s.handler.WriteSingleRegister(unitID, addr, value); err != nil {
		return nil, err
	}
	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp, nil
}

func (s *Slave) handleWriteMultipleCoils(unitID mbproto.UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 6 {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteMultipleCoils, mbproto.ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	expectedBytes := int((qty + 7) / 8)
	if qty < 1 || qty > mbproto.MaxQuantityCoils || byteCount != expectedBytes || len(pdu) < 6+byteCount {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteMultipleCoils, mbproto.ExceptionIllegalDataValue), nil
	}
	if int(addr)+int(qty) > regmap.CoilCount {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteMultipleCoils, mbproto.ExceptionIllegalDataAddress), nil
	}

	values := make([]bool, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = (pdu[6+i/8] & (1 << (i % 8))) != 0
	}
	if err := s.handler.WriteMultipleCoils(unitID, addr, values); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	resp[0] = byte(mbproto.FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp, nil
}

func (s *Slave) handleWriteMultipleRegisters(unitID mbproto.UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 6 {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteMultipleRegisters, mbproto.ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	expectedBytes := int(qty) * 2
	if qty < 1 || qty > mbproto.MaxQuantityWriteRegisters || byteCount != expectedBytes || len(pdu) < 6+byteCount {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteMultipleRegisters, mbproto.ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return mbproto.BuildExceptionPDU(mbproto.FuncWriteMultipleRegisters, mbproto.ExceptionIllegalDataAddress), nil
	}

	values := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = binary.BigEndian.Uint16(pdu[6+i*2:])
	}
	if err := s.handler.WriteMultipleRegisters(unitID, addr, values); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	resp[0] = byte(mbproto.FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp, nil
}

var errFrameTimeout = errors.New("hmi: no frame within inter-frame gap")

// readRTUADU accumulates bytes from port until a read returns nothing,
// which SetReadTimeout turns into the RTU inter-frame silence that
// marks the end of one ADU. Returns errFrameTimeout if nothing arrived
// at all, so the caller can keep polling without treating idle time as
// a transport failure.
func readRTUADU(port serial.Port) ([]byte, error) {
	buf := make([]byte, 0, maxFrameSize)
	chunk := make([]byte, maxFrameSize)
	for {
		n, err := port.Read(chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n == 0 {
			if len(buf) == 0 {
				return nil, errFrameTimeout
			}
			return buf, nil
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) >= maxFrameSize {
			return buf, nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
