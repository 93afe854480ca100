package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/runstream/internal/auth"
	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/engine"
	"github.com/xiaot623/gogo/runstream/internal/eventlog"
	internalhttp "github.com/xiaot623/gogo/runstream/internal/http"
	"github.com/xiaot623/gogo/runstream/internal/hub"
	"github.com/xiaot623/gogo/runstream/internal/logging"
	"github.com/xiaot623/gogo/runstream/internal/metrics"
	"github.com/xiaot623/gogo/runstream/internal/policy"
	"github.com/xiaot623/gogo/runstream/internal/transport/rpc"
	"github.com/xiaot623/gogo/runstream/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "runstream: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting runstream",
		zap.Int("ws_port", cfg.WSPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("rpc_port", cfg.RPCPort),
		zap.String("engine_url", cfg.EngineURL),
		zap.Bool("require_auth", cfg.RequireAuth),
		zap.Int("max_events_per_run", cfg.MaxEventsPerRun),
		zap.Duration("cleanup_interval", cfg.CleanupInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validator, err := newValidator(cfg)
	if err != nil {
		return err
	}

	pol, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		return err
	}

	var eng engine.Engine = engine.NewEchoEngine(0, 50*time.Millisecond)
	if cfg.EngineURL != "" {
		eng = engine.NewRemoteEngine(cfg.EngineURL, cfg.EngineTimeout, logger)
	} else {
		logger.Warn("ENGINE_URL not set, using the local echo engine")
	}

	collector := metrics.NewCollector()
	events := eventlog.New(eventlog.Options{
		MaxEventsPerRun: cfg.MaxEventsPerRun,
		CleanupInterval: cfg.CleanupInterval,
		SweepInterval:   cfg.SweepInterval,
		Logger:          logger,
	})
	connectionHub := hub.NewHub(logger, collector)

	wsServer := ws.NewServer(cfg, ws.Deps{
		Hub:       connectionHub,
		Events:    events,
		Engine:    eng,
		Validator: validator,
		Policy:    pol,
		Metrics:   collector,
		Logger:    logger,
	})

	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(middleware.Recover())
	wsEcho.GET("/ws", wsServer.HandleWebSocket)

	httpServer := internalhttp.NewServer(connectionHub, events, collector, logger)

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(events, logger)
		if err != nil {
			return fmt.Errorf("failed to create rpc server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := wsEcho.Start(fmt.Sprintf(":%d", cfg.WSPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Start(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if rpcServer != nil {
		g.Go(func() error {
			if err := rpcServer.Start(fmt.Sprintf(":%d", cfg.RPCPort)); err != nil {
				return fmt.Errorf("rpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return events.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down runstream")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := wsEcho.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown websocket server gracefully", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", zap.Error(err))
		}
		if rpcServer != nil {
			if err := rpcServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shutdown rpc server gracefully", zap.Error(err))
			}
		}
		if err := wsServer.Wait(shutdownCtx); err != nil {
			logger.Warn("runs still streaming at shutdown", zap.Error(err))
		}
		return nil
	})

	logger.Info("runstream started")
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("runstream stopped")
	return nil
}

// newValidator combines the configured token validators. It returns nil
// when auth is not required and nothing is configured.
func newValidator(cfg *config.Config) (auth.Validator, error) {
	var validators auth.AnyValidator
	if cfg.APIKey != "" {
		validators = append(validators, auth.NewAPIKeyValidator(cfg.APIKey))
	}
	if cfg.JWTSecret != "" {
		validators = append(validators, auth.NewJWTValidator(cfg.JWTSecret))
	}

	if len(validators) == 0 {
		if cfg.RequireAuth {
			return nil, errors.New("REQUIRE_AUTH is set but neither API_KEY nor JWT_SECRET is configured")
		}
		return nil, nil
	}
	return validators, nil
}
