package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"mindfield/internal/config"
	"mindfield/internal/drbg"
	"mindfield/internal/entropy"
	"mindfield/internal/export"
	"mindfield/internal/ipc"
	"mindfield/internal/logging"
	"mindfield/internal/session"
	"mindfield/internal/store"
)

// cmdRun runs the daemon in the foreground until SIGINT/SIGTERM or an IPC
// shutdown request.
func cmdRun(simulate bool) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Configuration file path")
	socketOverride := fs.String("socket", "", "Override the control socket path")
	fs.Parse(os.Args[2:])

	// Load handles a missing file (defaults), env overrides, and validation.
	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *socketOverride != "" {
		cfg.IPC.SocketPath = *socketOverride
	}

	log := newLogger(cfg)
	logging.SetDefault(log)
	log.Info("mindfieldd starting",
		"version", version,
		"rate_hz", cfg.Sampling.RateHz,
		"simulate", simulate)

	if err := runDaemon(cfg, loader, log, simulate); err != nil {
		log.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		lc.Level = lvl
	}
	if f, err := logging.ParseFormat(cfg.Logging.Format); err == nil {
		lc.Format = f
	}
	return logging.New(lc)
}

func runDaemon(cfg *config.Config, loader *config.Loader, log *logging.Logger, simulate bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Software source and DRBG. The software CSPRNG must work or the
	// daemon cannot provide its determinism and reseed guarantees.
	software, err := entropy.NewSoftwareSource()
	if err != nil {
		return fmt.Errorf("software entropy source: %w", err)
	}
	rng, err := drbg.New(software, drbg.WithMaxBytesPerReseed(cfg.Entropy.MaxBytesPerReseed))
	if err != nil {
		return fmt.Errorf("drbg: %w", err)
	}
	defer rng.Close()

	// Hardware sources are best-effort.
	var sources []entropy.Source
	var tpm *entropy.TPMSource
	if cfg.Entropy.EnableTPM {
		tpm, err = entropy.NewTPMSource(cfg.Entropy.TPMDevice)
		if err != nil {
			log.Warn("tpm source unavailable", "error", err)
		} else {
			sources = append(sources, tpm)
			defer tpm.Close()
		}
	}
	if simulate {
		health := entropy.NewHealthMonitor(
			cfg.Entropy.HealthTargetEntropy,
			cfg.Entropy.HealthTolerance,
			cfg.Entropy.HealthWindowBits)
		radio := entropy.NewRadioSource(newSimulatedRadio(), cfg.Entropy.FetchTimeout(), health)
		sources = append(sources, radio)
	}

	collectorCfg := entropy.DefaultCollectorConfig()
	collectorCfg.ReseedInterval = cfg.Entropy.ReseedInterval()
	collector := entropy.NewCollector(collectorCfg, rng, log, sources...)
	go collector.Run(ctx)

	// Session exporters: SQLite first so the report files never exist
	// without a database row behind them.
	var exporters []session.Exporter
	var db *store.Store
	if cfg.Storage.Type == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0700); err != nil {
			return fmt.Errorf("storage dir: %w", err)
		}
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		defer db.Close()
		exporters = append(exporters, db)
	}
	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Export.Dir, 0700); err != nil {
		return fmt.Errorf("export dir: %w", err)
	}
	exporters = append(exporters, export.NewWriter(cfg.Export.Dir, format))

	controller := session.NewController(session.Config{
		RateHz:           cfg.Sampling.RateHz,
		BitsPerTick:      cfg.Sampling.BitsPerTick,
		BaselineDuration: cfg.Session.BaselineDuration(),
		StalenessTicks:   cfg.Coherence.StalenessTicks,
		Threshold:        cfg.Coherence.AutoMarkThreshold,
		HysteresisBand:   cfg.Coherence.HysteresisBand,
		ReadingQueueSize: cfg.Sampling.CoherenceQueueSize,
	}, rng, log, exporters...)

	// A baseline from a previous daemon run stays usable for experiments.
	if db != nil {
		if b, err := db.LatestBaseline(); err == nil {
			controller.RestoreBaseline(b)
			log.Info("baseline restored", "session", b.SessionID, "mean", b.Mean)
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Warn("baseline restore failed", "error", err)
		}
	}

	if simulate {
		go runSimulatedSensors(ctx, controller, log)
	}

	// Control socket.
	shutdown := make(chan struct{})
	server := ipc.NewServer(cfg.IPC.SocketPath, newHandler(controller, shutdown), log)
	if err := server.Start(); err != nil {
		return fmt.Errorf("ipc server: %w", err)
	}
	defer server.Close()

	// Config hot reload: logging applies live, everything else on the
	// next daemon start.
	loader.OnChange(func(next *config.Config) {
		logging.SetDefault(newLogger(next))
		log.Info("configuration reloaded", "path", loader.Path())
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch disabled", "error", err)
	}
	defer loader.Close()
	go func() {
		for err := range loader.Errors() {
			log.Warn("config reload rejected", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("mindfieldd ready", "socket", cfg.IPC.SocketPath)

	select {
	case sig := <-sigCh:
		log.Info("signal received", "signal", sig.String())
	case <-shutdown:
		log.Info("shutdown requested over ipc")
	}

	// Seal any active session before tearing down the exporters.
	if _, err := controller.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
		log.Error("session stop during shutdown failed", "error", err)
	}
	cancel()

	log.Info("mindfieldd stopped")
	return nil
}

// newHandler maps control socket requests onto the session controller.
func newHandler(controller *session.Controller, shutdown chan struct{}) ipc.Handler {
	var shutdownOnce sync.Once
	return ipc.HandlerFunc(func(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
		switch msg.Type {
		case ipc.MsgPing:
			return ipc.NewMessage(ipc.MsgPong, nil)

		case ipc.MsgStatus:
			return ipc.NewMessage(ipc.MsgStatusResp, controller.Status())

		case ipc.MsgStart:
			var req ipc.StartRequest
			if err := msg.Decode(&req); err != nil {
				return nil, err
			}
			var id string
			var err error
			switch req.Mode {
			case "baseline":
				id, err = controller.StartBaseline(req.Name)
			case "experiment":
				id, err = controller.StartExperiment(req.Name, req.Intention)
			default:
				err = fmt.Errorf("unknown session mode %q", req.Mode)
			}
			if err != nil {
				return nil, err
			}
			return ipc.NewMessage(ipc.MsgStartResp, ipc.StartResponse{SessionID: id})

		case ipc.MsgStop:
			summary, err := controller.Stop()
			if err != nil {
				return nil, err
			}
			return ipc.NewMessage(ipc.MsgStopResp, summary)

		case ipc.MsgMark:
			var req ipc.MarkRequest
			if err := msg.Decode(&req); err != nil {
				return nil, err
			}
			if err := controller.Mark(req.Label); err != nil {
				return nil, err
			}
			return ipc.NewMessage(ipc.MsgMarkResp, nil)

		case ipc.MsgShutdown:
			// Reply first, then trigger shutdown so the client sees the
			// ack. Retried or concurrent requests share the one close.
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdownOnce.Do(func() { close(shutdown) })
			}()
			return ipc.NewMessage(ipc.MsgShutdownResp, nil)

		default:
			return nil, fmt.Errorf("unsupported message type %d", msg.Type)
		}
	})
}
