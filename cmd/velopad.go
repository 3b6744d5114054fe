// velopad bridges a BLE cycling power sensor to a virtual gamepad:
// pedaling drives the right trigger through a tanh response curve, and a
// handful of keyboard keys drive the buttons.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/velopad/velopad/internal/ble"
	"github.com/velopad/velopad/internal/bridge"
	"github.com/velopad/velopad/internal/config"
	"github.com/velopad/velopad/internal/curve"
	"github.com/velopad/velopad/internal/filter"
	"github.com/velopad/velopad/internal/keys"
	"github.com/velopad/velopad/internal/pad"
	"github.com/velopad/velopad/internal/safego"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "velopad: %v\n", err)
		return 1
	}

	logger := newLogger(cfg)

	responseCurve, err := curve.New(curve.Params{
		FTPWatts:         cfg.FTPWatts,
		ThresholdWatts:   cfg.ThresholdWatts,
		TargetRatioAtFTP: cfg.TargetRatioAtFTP,
		MaxRatio:         cfg.MaxRatio,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "velopad: %v\n", err)
		return 1
	}
	powerFilter, err := filter.New(cfg.ThresholdWatts, cfg.SmoothingWindow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "velopad: %v\n", err)
		return 1
	}
	binding, err := bridge.NewBinding(cfg.Bindings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "velopad: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var transport ble.Transport
	if cfg.Simulate {
		logger.Printf("Main: running in simulation mode, no Bluetooth hardware used")
		transport = ble.NewSimulatedTransport(ctx, logger)
	} else {
		transport = ble.NewBLETransport(bluetooth.DefaultAdapter, logger)
	}
	if err := transport.Enable(); err != nil {
		fmt.Fprintf(os.Stderr, "velopad: enabling bluetooth adapter: %v\n", err)
		return 1
	}

	device, err := pad.NewUinputDevice("velopad virtual gamepad")
	if err != nil {
		fmt.Fprintf(os.Stderr, "velopad: %v\n", err)
		fmt.Fprintln(os.Stderr, "velopad: creating the virtual gamepad needs write access to /dev/uinput")
		return 1
	}
	defer func() {
		if err := device.Close(); err != nil {
			logger.Printf("Main: error closing virtual gamepad: %v", err)
		}
	}()
	sink := pad.NewSink(device, logger)

	b := bridge.New(powerFilter, responseCurve, sink, binding, logger, os.Stdout)

	keySource := newKeySource(cfg, b.OnKey, logger)
	defer func() {
		if err := keySource.Close(); err != nil {
			logger.Printf("Main: error closing keyboard source: %v", err)
		}
	}()

	link := ble.NewLink(transport, ble.LinkConfig{
		NameSubstring:  cfg.DeviceNameSubstring,
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
		MaxRetries:     cfg.MaxRetries,
	}, b, logger)

	linkErrs := make(chan error, 1)
	bridgeErrs := make(chan error, 1)
	safego.Go(logger, func() { linkErrs <- link.Run(ctx) })
	safego.Go(logger, func() { bridgeErrs <- b.Run(ctx) })

	logger.Printf("Main: velopad started, looking for %q", cfg.DeviceNameSubstring)

	select {
	case <-ctx.Done():
		logger.Printf("Main: shutdown signal received")
		return 0
	case err := <-linkErrs:
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "velopad: sensor link failed: %v\n", err)
		return 1
	case err := <-bridgeErrs:
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "velopad: %v\n", err)
		return 1
	}
}

func newLogger(cfg *config.Config) *log.Logger {
	var w io.Writer = &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	if cfg.LogStderr {
		w = io.MultiWriter(w, os.Stderr)
	}
	return log.New(w, "", log.LstdFlags|log.Lmsgprefix)
}

// newKeySource opens keyboard capture, falling back to a silent source so a
// missing permission never blocks the power pipeline.
func newKeySource(cfg *config.Config, sink keys.Sink, logger *log.Logger) keys.Source {
	source, err := keys.NewEvdevSource(cfg.KeyboardDevice, sink, logger)
	if err != nil {
		logger.Printf("Main: keyboard capture unavailable (%v), buttons disabled", err)
		return keys.NewNullSource()
	}
	return source
}
