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

// Command cdu-controller is the CDU controller's composition root: it
// loads the ConfigRepository, wires the ProcessedRegisterMap, the dual-leg
// transport, the polling and low-frequency schedulers, the derivation
// pipeline, the HMI RTU slave, and the auto-control manager, then runs
// until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/component"
	"github.com/edgeo-scada/cdu-controller/internal/control"
	"github.com/edgeo-scada/cdu-controller/internal/ctlerr"
	"github.com/edgeo-scada/cdu-controller/internal/derive"
	"github.com/edgeo-scada/cdu-controller/internal/hmi"
	"github.com/edgeo-scada/cdu-controller/internal/lowfreq"
	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/polling"
	"github.com/edgeo-scada/cdu-controller/internal/rawimage"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
	"github.com/edgeo-scada/cdu-controller/internal/transport"
)

const shutdownTimeout = 5 * time.Second

var (
	configDir string
	logLevel  string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cdu-controller",
	Short: "Cooling Distribution Unit controller",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = newLogger(logLevel, "text")
	},
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./config", "directory holding settings.json and the component/task JSON files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// acquireSingleInstance is the single-instance guard's call site
// (spec.md §4.15). The actual file lock is an external collaborator
// supplied by the packaging layer; this placeholder always succeeds.
func acquireSingleInstance(lockPath string) (release func(), err error) {
	return func() {}, nil
}

func parseParity(s string) serial.Parity {
	switch s {
	case "O", "o", "odd":
		return serial.OddParity
	case "E", "e", "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func parseStopBits(n int) serial.StopBits {
	switch n {
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

func rtuConfigFrom(s cducfg.ModbusRTUSettings) transport.RTUConfig {
	return transport.RTUConfig{
		Port:     s.Port,
		Baud:     s.Baud,
		DataBits: s.DataBits,
		StopBits: parseStopBits(s.StopBits),
		Parity:   parseParity(s.Parity),
		Timeout:  s.Timeout(),
	}
}

// splitHeartbeat pulls the fixed-name RTU heartbeat task out of the
// low-frequency task list; lowfreq.Scheduler.Start takes it separately
// since it alone is pinned to the RTU leg.
func splitHeartbeat(tasks []cducfg.TaskDescriptor) (heartbeat cducfg.TaskDescriptor, rest []cducfg.TaskDescriptor) {
	for _, t := range tasks {
		if t.Name == lowfreq.HeartbeatTaskName {
			heartbeat = t
			continue
		}
		rest = append(rest, t)
	}
	return heartbeat, rest
}

func run(cmd *cobra.Command, args []string) error {
	release, err := acquireSingleInstance(configDir)
	if err != nil {
		return ctlerr.New(ctlerr.KindConfigError, err.Error())
	}
	defer release()

	repo, err := cducfg.Load(configDir)
	if err != nil {
		return ctlerr.New(ctlerr.KindConfigError, err.Error())
	}
	if repo.Settings.Log.Format == "json" {
		logger = newLogger(logLevel, "json")
	}

	proc := regmap.New()
	raw := rawimage.New()
	unitID := mbproto.UnitID(repo.Settings.ModbusTCP.UnitID)

	tcpAddr := fmt.Sprintf("%s:%d", repo.Settings.ModbusTCP.Host, repo.Settings.ModbusTCP.Port)
	tcpClient := transport.NewTCPClient(tcpAddr, repo.Settings.ModbusTCP.OpTimeout(), logger)
	rtuClient := transport.NewRTUClient(rtuConfigFrom(repo.Settings.ModbusRTU), logger)
	mgr := transport.NewManager(tcpClient, rtuClient, logger)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), repo.Settings.ModbusTCP.ConnectTimeout()*2)
	mgr.ConnectTCP(bootCtx)
	mgr.ConnectRTU(bootCtx)
	bootCancel()

	var lowFreqScheduler *lowfreq.Scheduler
	reconnectTCP := transport.NewReconnectSupervisor("tcp", tcpClient, repo.Settings.ModbusTCP.ConnectTimeout(), logger, nil, tcpClient.Metrics)
	reconnectRTU := transport.NewReconnectSupervisor("rtu", rtuClient, repo.Settings.ModbusRTU.Timeout(), logger, func() {
		if lowFreqScheduler != nil {
			lowFreqScheduler.OnRTUReconnected()
		}
	}, rtuClient.Metrics)

	pollScheduler := polling.New(mgr, reconnectTCP, reconnectRTU, raw, 4, unitID, logger)
	lowFreqScheduler = lowfreq.New(mgr, reconnectTCP, reconnectRTU, raw, 2, unitID, logger)
	writer := component.New(mgr, reconnectTCP, reconnectRTU, repo, 2, logger)

	pumpCount := 0
	for _, c := range repo.Components {
		if c.Type == cducfg.ComponentPump && c.Enabled {
			pumpCount++
		}
	}
	autoControl := control.New(proc, writer, unitID, repo.Settings.PIDPump, repo.Settings.PIDPV, pumpCount, logger)

	wireDispatch(proc, repo, writer, autoControl, unitID, logger)

	pipeline := derive.New(raw, proc, repo, logger)
	pipelineCtx, pipelineCancel := context.WithCancel(context.Background())

	hmiSettings := repo.Settings.ModbusHMI.RTU
	hmiSlave := hmi.New(hmi.Config{
		Port:     hmiSettings.Port,
		Baud:     hmiSettings.Baud,
		DataBits: hmiSettings.DataBits,
		StopBits: parseStopBits(hmiSettings.StopBits),
		Parity:   parseParity(hmiSettings.Parity),
		Timeout:  hmiSettings.Timeout(),
		UnitID:   mbproto.UnitID(hmiSettings.SlaveUnitID),
	}, proc, logger)

	heartbeat, lowFreqTasks := splitHeartbeat(repo.LowFrequencyTasks)

	writer.Start()
	pollScheduler.Start(repo.Tasks)
	lowFreqScheduler.Start(lowFreqTasks, heartbeat)
	go pipeline.Run(pipelineCtx)
	hmiSlave.Start()

	logger.Info("cdu-controller started", slog.String("config", repo.Dir))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	pipelineCancel()
	hmiSlave.Shutdown(shutdownTimeout)
	autoControl.Shutdown(shutdownTimeout)
	writer.Shutdown(shutdownTimeout)
	lowFreqScheduler.Shutdown(shutdownTimeout)
	pollScheduler.Shutdown(shutdownTimeout)
	reconnectTCP.Stop()
	reconnectRTU.Stop()
	mgr.Disconnect()

	return nil
}
