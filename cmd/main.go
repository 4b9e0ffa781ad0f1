package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/goscope/internal/bridge"
	"sleepywoodpecker/goscope/internal/config"
	"sleepywoodpecker/goscope/internal/console"
	"sleepywoodpecker/goscope/internal/controller"
	"sleepywoodpecker/goscope/internal/logger"
	"sleepywoodpecker/goscope/internal/processing"
	rserial "sleepywoodpecker/goscope/internal/rSerial"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	portName := flag.String("port", "", "serial port to connect to at startup")
	logFilePath := flag.String("log", "", "log file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "goscope:", err)
		os.Exit(1)
	}
	if *portName != "" {
		cfg.Port = *portName
	}
	if *logFilePath != "" {
		cfg.LogFile = *logFilePath
	}

	// context handler for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// first initialize the main logger
	newLogger := logger.NewLogger
	if cfg.Debug {
		newLogger = logger.NewDebugLogger
	}
	log, err := newLogger(cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	codec, err := processing.NewCodec(cfg.Codec)
	if err != nil {
		log.Fatal("[main] bad codec", zap.Error(err))
	}
	device := rserial.NewRSerial(cfg.BaudRate, codec, cfg.ReadTimeout, cfg.FrameTimeout, log)

	display := bridge.New()
	display.Subscribe(func(c bridge.Change) {
		if c.Property == bridge.Series {
			return
		}
		log.Info("[display] state changed", zap.String("property", string(c.Property)), zap.Any("value", c.Value))
	})

	opts := controller.Options{
		FpsInterval: cfg.FpsInterval,
		ListPorts:   rserial.ListPorts,
	}

	var recorderDone chan error
	if cfg.RecordPath != "" {
		recorder := processing.NewRecorder(cfg.RecordPath, cfg.RecorderQueueLength, log)
		opts.Sink = recorder

		recorderDone = make(chan error, 1)
		go func() { recorderDone <- recorder.Run(ctx) }()
	}

	// initialize UDP connection to telegraf
	var udpConn *net.UDPConn
	if cfg.TelemetryAddr != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.TelemetryAddr)
		if err != nil {
			log.Fatal("[main] bad telemetry address", zap.Error(err), zap.String("telemetryAddr", cfg.TelemetryAddr))
		}
		udpConn, err = net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			log.Fatal("[main] error dialing telemetry address", zap.Error(err), zap.String("telemetryAddr", cfg.TelemetryAddr))
		}

		sampler := processing.NewSampler(cfg.TelemetryInterval, udpConn, func() processing.Status {
			s := display.Snapshot()
			return processing.Status{Connected: s.Connected, Running: s.Running, FPS: s.FPS, Frames: s.Frames}
		}, log)
		go sampler.Run(ctx)
	}

	ctrl := controller.New(device, display, log, opts)
	controllerDone := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(controllerDone)
	}()

	// apply the configured scope settings before anything is connected
	if err := ctrl.SetTimebase(cfg.Timebase); err != nil {
		log.Warn("[main] ignoring configured timebase", zap.Error(err))
	}
	ctrl.SetTriggerState(cfg.TriggerOn)
	if err := ctrl.SetTriggerSlope(cfg.TriggerSlope); err != nil {
		log.Warn("[main] ignoring configured trigger slope", zap.Error(err))
	}
	ctrl.RefreshPorts()
	if cfg.Port != "" && !ctrl.ConnectToDevice(cfg.Port) {
		log.Warn("[main] could not connect at startup", zap.String("portName", cfg.Port))
	}

	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- console.New(ctrl, display, log).Run(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-sigCh:
		log.Info("[main] received signal, shutting down")
	case err := <-consoleDone:
		if err != nil {
			log.Warn("[main] console stopped", zap.Error(err))
		}
	}

	// stop acquiring while the controller is still running, then tear down
	ctrl.DisconnectDevice()
	cancel()
	<-controllerDone

	var shutdownErr error
	if recorderDone != nil {
		shutdownErr = multierr.Append(shutdownErr, <-recorderDone)
	}
	if udpConn != nil {
		shutdownErr = multierr.Append(shutdownErr, udpConn.Close())
	}
	shutdownErr = multierr.Append(shutdownErr, device.Disconnect())
	if shutdownErr != nil {
		log.Warn("[main] errors during shutdown", zap.Error(shutdownErr))
	}
}
