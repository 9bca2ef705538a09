package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"render-orchestrator/internal/artifact"
	"render-orchestrator/internal/bridge"
	"render-orchestrator/internal/fallback"
	"render-orchestrator/internal/http/handlers"
	"render-orchestrator/internal/http/httpapi"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/invoker"
	"render-orchestrator/internal/jobconfig"
	"render-orchestrator/internal/orchestrator"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	builder := jobconfig.NewBuilder()
	if cfg.TierTablePath != "" {
		table, err := jobconfig.LoadTierTable(cfg.TierTablePath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.TierTablePath).Msg("tier table rejected, keeping built-in defaults")
		} else {
			builder = jobconfig.NewBuilderWithTable(table)
		}
	}

	store, err := artifact.NewStore(artifact.StoreOptions{
		RendersDir:   cfg.RendersDir,
		RawOutputDir: cfg.RendererOutputDir,
		LegacyDir:    cfg.LegacyRendersDir,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure artifact store")
	}

	var process orchestrator.ProcessInvoker
	if cfg.RendererBinary != "" {
		p, err := invoker.NewProcess(invoker.ProcessOptions{Binary: cfg.RendererBinary, Logger: &logger})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure renderer invoker")
		}
		process = p
	} else {
		logger.Warn().Msg("no renderer binary configured, spec-based sessions will degrade")
	}

	var remote orchestrator.RemoteInvoker
	if cfg.MLServiceURL != "" {
		rem, err := invoker.NewRemote(invoker.RemoteOptions{
			BaseURL:        cfg.MLServiceURL,
			RequestTimeout: cfg.MLRequestTimeout,
			Logger:         &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure ml service invoker")
		}
		remote = rem
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Builder:        builder,
		Process:        process,
		Remote:         remote,
		Store:          store,
		Synthesizer:    fallback.NewSynthesizer(builder, nil),
		ProcessTimeout: cfg.RendererTimeout,
		MaxConcurrent:  cfg.MaxConcurrentJobs,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure orchestrator")
	}

	br, err := bridge.New(bridge.Options{
		HandshakeURL: cfg.BridgeURL,
		Generator:    orch,
		Resolver:     store,
		Builder:      builder,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure bridge")
	}

	app := handlers.NewApp(logger, orch, br, store)
	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
