// Command gpd-device runs a Green Power Device against a radio bridged over
// a serial port, or against a simulated Proxy/Sink.
//
// Usage:
//
//	gpd-device [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-state string         File holding the persisted device state
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write a CBOR protocol capture to this file
//	-protocol-log-max int Rotate the capture at this many bytes, 0 never (default 16 MiB)
//	-serial string        Serial port of the radio bridge
//	-baud int             Serial baud rate (default 115200)
//	-simulate             Use a simulated Proxy/Sink instead of a radio
//	-interactive          Start the interactive console
//	-interval duration    Time between steps, 0 steps only on demand (default 1s)
//	-mqtt string          Publish device events to this MQTT broker
//	-mqtt-topic string    MQTT topic root (default "gpd")
//
// Examples:
//
//	# Commission against a simulated sink and watch the state machine
//	gpd-device -simulate -log-level debug
//
//	# Drive a real radio and keep the frame counter across restarts
//	gpd-device -serial /dev/ttyACM0 -state /var/lib/gpd/state.bin
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/greenpower/gpd-go/internal/proxysim"
	"github.com/greenpower/gpd-go/pkg/bridge"
	"github.com/greenpower/gpd-go/pkg/commissioning"
	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/log"
	"github.com/greenpower/gpd-go/pkg/persistence"
	"github.com/greenpower/gpd-go/pkg/radio"
)

// Config holds the command line configuration.
type Config struct {
	ConfigFile  string
	StateFile   string
	LogLevel    string
	ProtocolLog string
	CaptureMax  int64
	SerialPort  string
	Baud        int
	Simulate    bool
	Interactive bool
	Interval    time.Duration
	MQTTBroker  string
	MQTTTopic   string
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "YAML configuration file")
	flag.StringVar(&config.StateFile, "state", "", "File holding the persisted device state (in memory if empty)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write a CBOR protocol capture to this file")
	flag.Int64Var(&config.CaptureMax, "protocol-log-max", 16<<20, "Rotate the capture at this many bytes, 0 never")
	flag.StringVar(&config.SerialPort, "serial", "", "Serial port of the radio bridge")
	flag.IntVar(&config.Baud, "baud", 115200, "Serial baud rate")
	flag.BoolVar(&config.Simulate, "simulate", false, "Use a simulated Proxy/Sink instead of a radio")
	flag.BoolVar(&config.Interactive, "interactive", false, "Start the interactive console")
	flag.DurationVar(&config.Interval, "interval", time.Second, "Time between steps, 0 steps only on demand")
	flag.StringVar(&config.MQTTBroker, "mqtt", "", "Publish device events to this MQTT broker (tcp://host:1883)")
	flag.StringVar(&config.MQTTTopic, "mqtt-topic", bridge.DefaultRoot, "MQTT topic root")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gpd-device: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if !config.Simulate && config.SerialPort == "" {
		return errors.New("either -serial or -simulate is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var console *Console
	var logOut io.Writer = os.Stderr
	if config.Interactive {
		var err error
		if console, err = NewConsole(); err != nil {
			return err
		}
		logOut = console.Stderr()
	}
	logger := newLogger(logOut, config.LogLevel)

	cfg := device.DefaultConfig()
	if config.ConfigFile != "" {
		var err error
		if cfg, err = device.LoadConfig(config.ConfigFile); err != nil {
			return err
		}
	}
	rec, err := device.NewRecord(cfg)
	if err != nil {
		return err
	}

	var store persistence.Store = &persistence.MemoryStore{}
	if config.StateFile != "" {
		store = persistence.NewFileStore(config.StateFile)
	}

	session := uuid.NewString()
	plog := log.Logger(log.NoopLogger{})
	if config.ProtocolLog != "" {
		fl, err := log.NewFileLogger(config.ProtocolLog, log.WithMaxSize(config.CaptureMax))
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		plog = fl
	}
	if config.LogLevel == "debug" {
		plog = log.NewMultiLogger(plog, log.NewSlogAdapter(logger))
	}

	var rdo radio.Radio
	var sink *proxysim.Sink
	if config.Simulate {
		rdo, sink, err = newSimulation(rec, logger)
		if err != nil {
			return err
		}
	} else {
		s, err := radio.OpenSerial(config.SerialPort, config.Baud, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		rdo = s
	}

	var app commissioning.Application = commissioning.NopApplication{}
	var br *bridge.Bridge
	if config.MQTTBroker != "" {
		pub, err := bridge.Dial(bridge.MQTTConfig{
			Broker:   config.MQTTBroker,
			ClientID: "gpd-" + session[:8],
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		br = bridge.New(app, pub, config.MQTTTopic, rec.Address.String(), logger)
		app = br
	}

	dev, err := commissioning.New(commissioning.Options{
		Record:         rec,
		Store:          persistence.NewAdapter(store),
		Radio:          rdo,
		Application:    app,
		ProtocolLogger: plog,
		SessionID:      session,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	r := newRunner(dev, br, sink, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if config.Interval > 0 {
		go r.Loop(ctx, config.Interval)
	}
	if console != nil {
		console.Run(ctx, cancel, r)
	} else {
		<-ctx.Done()
	}

	st := r.Status()
	logger.Info("shutting down", "state", st.State.String(), "frame_counter", st.FrameCounter)
	return nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
