package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/edgeproxy/internal/config"
	"github.com/relaymesh/edgeproxy/internal/controlplane"
	"github.com/relaymesh/edgeproxy/internal/dispatcher"
	"github.com/relaymesh/edgeproxy/internal/listener"
	"github.com/relaymesh/edgeproxy/internal/logging"
	"github.com/relaymesh/edgeproxy/internal/model"
	"github.com/relaymesh/edgeproxy/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/edgeproxy.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("edgeproxy %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		if _, err := cfg.ToModel(); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if logCloser != nil {
		defer logCloser.Close()
	}
	logging.SetGlobal(logger)

	services, err := cfg.ToModel()
	if err != nil {
		logging.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("starting edgeproxy",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("services", len(services)),
	)

	st := store.New()
	if err := st.ReplaceAll(services); err != nil {
		logging.Error("failed to install initial configuration", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	listeners := listener.NewManager()
	if err := listeners.Reconcile(ctx, desiredListeners(st)); err != nil {
		logging.Error("failed to start listeners", zap.Error(err))
		os.Exit(1)
	}

	// reconcileListeners re-derives the desired listener set from the
	// current snapshot and hands it to the Listener Registry; the control
	// plane calls this after every mutation so a newly added or removed
	// (port, protocol) pair gets a bound/unbound listener (§2).
	reconcileListeners := func() {
		if err := listeners.Reconcile(ctx, desiredListeners(st)); err != nil {
			logging.Error("failed to reconcile listeners", zap.Error(err))
		}
	}

	var adminServer *http.Server
	if cfg.Admin.Enabled {
		adapter := controlplane.New(st, logger, "", reconcileListeners)
		adminServer = &http.Server{
			Addr:    cfg.Admin.ListenAddress,
			Handler: adapter.Handler(),
		}
		go func() {
			logging.Info("starting control plane", zap.String("address", cfg.Admin.ListenAddress))
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("control plane listener stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logging.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("control plane shutdown error", zap.Error(err))
		}
	}
	if err := listeners.StopAll(shutdownCtx); err != nil {
		logging.Warn("listener shutdown error", zap.Error(err))
	}
}

// desiredListeners derives one listener.Desired per ApiService, keyed by
// listen port and protocol so a port reassigned between Http and Https
// reconciles as a stop-then-start rather than an in-place mutation.
func desiredListeners(st *store.Store) []listener.Desired {
	services := st.GetAll()
	desired := make([]listener.Desired, 0, len(services))
	for _, svc := range services {
		desired = append(desired, listener.Desired{
			ID:      fmt.Sprintf("%d/%s", svc.ListenPort, svc.ServiceType),
			Address: fmt.Sprintf(":%d", svc.ListenPort),
			CertPEM: svc.CertPEM,
			KeyPEM:  svc.KeyPEM,
			Handler: dispatcher.New(listenerIDFor(svc), svc.ID, st),
		})
	}
	return desired
}

func listenerIDFor(svc *model.ApiService) string {
	return fmt.Sprintf("%d/%s", svc.ListenPort, svc.ServiceType)
}
