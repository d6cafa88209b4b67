// Package serve implements the qagate serve command.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/greenledger/qagate/internal/api"
	"github.com/greenledger/qagate/internal/broker"
	"github.com/greenledger/qagate/internal/conf"
	"github.com/greenledger/qagate/internal/emit"
	"github.com/greenledger/qagate/internal/events"
	"github.com/greenledger/qagate/internal/ingest"
	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/observability"
	"github.com/greenledger/qagate/internal/review"
	"github.com/greenledger/qagate/internal/reviewstore"
)

const shutdownTimeout = 30 * time.Second

// Command returns the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the QA review service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings)
		},
	}
}

// Run wires the service together and blocks until shutdown.
func Run(ctx context.Context, settings *conf.Settings) error {
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)
	logger := logging.ForService("serve")

	if settings.Main.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(
			filepath.Join(settings.Main.Log.Path, "qagate.log"),
			settings.Main.Name, level,
			logging.FileLoggerConfig{
				MaxSizeMB:  settings.Main.Log.MaxSizeMB,
				MaxBackups: settings.Main.Log.MaxBackups,
				MaxAgeDays: settings.Main.Log.MaxAgeDays,
			})
		if err != nil {
			return fmt.Errorf("initializing file logger: %w", err)
		}
		defer func() {
			if err := closeLog(); err != nil {
				logger.Error("closing log file failed", "error", err)
			}
		}()
		logger = fileLogger
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	store := reviewstore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening review store: %w", err)
	}
	defer closeStore(store, logger)

	engine := review.NewEngine(store, metrics.Review,
		review.WithConflictRetries(settings.Review.ConflictRetries))

	bus := events.NewBus(&events.Config{
		BufferSize:     settings.Bus.BufferSize,
		Workers:        settings.Bus.Workers,
		MaxAttempts:    settings.Bus.MaxAttempts,
		BackoffInitial: settings.Bus.BackoffInitial,
		BackoffMax:     settings.Bus.BackoffMax,
	}, metrics.Bus)

	adapter := ingest.NewAdapter(engine, nil)
	if err := adapter.Attach(bus); err != nil {
		return fmt.Errorf("attaching ingest adapter: %w", err)
	}

	publisher := emit.NewPublisher(bus, engine)
	if err := engine.RegisterListener(publisher); err != nil {
		return fmt.Errorf("registering publisher: %w", err)
	}
	if err := emit.NewStoredConsumer(engine).Attach(bus); err != nil {
		return fmt.Errorf("attaching storage consumer: %w", err)
	}

	var brokerClient broker.Client
	if settings.Broker.Enabled {
		brokerClient = broker.NewClient(settings, metrics.Broker)
		connectCtx, cancel := context.WithTimeout(ctx, settings.Broker.ConnectTimeout)
		err := brokerClient.Connect(connectCtx)
		cancel()
		if err != nil {
			// The bridge queue buffers and retries, so a broker that is
			// down at startup delays delivery instead of failing boot.
			logger.Warn("broker connection failed at startup", "error", err)
		}
		if err := broker.NewBridge(brokerClient, settings.Broker.TopicPrefix).Attach(bus); err != nil {
			return fmt.Errorf("attaching broker bridge: %w", err)
		}
	}

	// Resend accepted reviews whose quality-assured event never went
	// out, e.g. after a crash between commit and publish.
	if err := publisher.Replay(ctx); err != nil {
		logger.Warn("replaying unsent quality-assured events failed", "error", err)
	}

	var e *echo.Echo
	if settings.WebServer.Enabled {
		e = echo.New()
		e.HideBanner = true
		api.New(e, engine, settings, metrics)

		go func() {
			addr := ":" + settings.WebServer.Port
			logger.Info("http server starting", "addr", addr)
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				logger.Error("http server failed", "error", err)
			}
		}()
	}

	logger.Info("qagate started",
		"store", storeKind(settings),
		"broker", settings.Broker.Enabled,
		"webserver", settings.WebServer.Enabled,
	)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")

	// Stop the HTTP surface first so no new decisions arrive, then drain
	// the bus, then disconnect the broker and close the store.
	if e != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		cancel()
	}
	if err := bus.Shutdown(shutdownTimeout); err != nil {
		logger.Error("bus shutdown failed", "error", err)
	}
	if brokerClient != nil {
		brokerClient.Disconnect()
	}

	return nil
}

func closeStore(store review.Store, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("closing review store failed", "error", err)
	}
}

func storeKind(settings *conf.Settings) string {
	switch {
	case settings.Store.SQLite.Enabled:
		return "sqlite"
	case settings.Store.MySQL.Enabled:
		return "mysql"
	default:
		return "memory"
	}
}
