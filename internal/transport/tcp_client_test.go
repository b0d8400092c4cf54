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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// startFakePCBA spins up a bare TCP listener that answers exactly one
// ReadHoldingRegisters request with a fixed value before closing.
func startFakePCBA(t *testing.T, values []uint16) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame, err := mbproto.ReadTCPFrame(conn)
		if err != nil {
			return
		}
		resp := make([]byte, 2+len(values)*2)
		resp[0] = byte(mbproto.FuncReadHoldingRegisters)
		resp[1] = byte(len(values) * 2)
		for i, v := range values {
			resp[2+i*2] = byte(v >> 8)
			resp[3+i*2] = byte(v)
		}
		out := mbproto.TCPFrame{Header: frame.Header, PDU: resp}
		conn.Write(out.Encode())
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestTCPClientReadHoldingRegisters(t *testing.T) {
	addr := startFakePCBA(t, []uint16{1234, 5678})
	client := NewTCPClient(addr, 500*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := client.Connect(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer client.Disconnect()

	values, err := client.ReadHoldingRegisters(ctx, mbproto.DefaultUnitID, 400, 2)
	require.NoError(t, err)
	require.Equal(t, []uint16{1234, 5678}, values)

	require.EqualValues(t, 1, client.Metrics.RequestsTotal.Value())
	require.EqualValues(t, 1, client.Metrics.RequestsSuccess.Value())
	require.Zero(t, client.Metrics.RequestsErrors.Value())
}

func TestTCPClientForceCloseUnblocksAndFailsNextSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Never respond — simulates a PCBA wedged mid-transaction.
		_ = conn
	}()

	client := NewTCPClient(ln.Addr().String(), 2*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := client.Connect(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	readErr := make(chan error, 1)
	go func() {
		_, err := client.ReadHoldingRegisters(context.Background(), mbproto.DefaultUnitID, 0, 1)
		readErr <- err
	}()

	// Give the read a moment to block inside the blocking I/O, then force
	// close it the way the mode watchdog would.
	time.Sleep(50 * time.Millisecond)
	client.ForceClose()

	select {
	case err := <-readErr:
		require.Error(t, err, "expected the in-flight read to fail after force close")
	case <-time.After(3 * time.Second):
		t.Fatal("force close did not unblock the stuck reader")
	}

	require.False(t, client.IsConnected(), "expected client to be disconnected after force close")
	require.EqualValues(t, 1, client.Metrics.RequestsErrors.Value())
}
