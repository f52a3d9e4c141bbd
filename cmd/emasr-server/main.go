package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	asrimpl "github.com/foxseedlab/emasr/external/asr"
	audioimpl "github.com/foxseedlab/emasr/external/audio"
	configloader "github.com/foxseedlab/emasr/external/config"
	hotwordimpl "github.com/foxseedlab/emasr/external/hotword"
	repositoryimpl "github.com/foxseedlab/emasr/external/repository"
	transportimpl "github.com/foxseedlab/emasr/external/transport"
	webhookimpl "github.com/foxseedlab/emasr/external/webhook"
	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/audio"
	"github.com/foxseedlab/emasr/internal/bootstrap"
	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/hotword"
	"github.com/foxseedlab/emasr/internal/journal"
	"github.com/foxseedlab/emasr/internal/repository"
	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	code := bootstrap.ExitOK
	cmd := &cobra.Command{
		Use:           "emasr-server",
		Short:         "Streaming speech recognition websocket server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	loader := configloader.Bind(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		code = run(cmd.Context(), loader)
		return nil
	}
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		slog.Error("invalid command line", "error", err)
		return bootstrap.ExitConfiguration
	}
	return code
}

func run(ctx context.Context, loader *configloader.Loader) int {
	slog.Info("startup: loading configuration")
	cfg, err := loader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		return bootstrap.ExitCode(err)
	}
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "address", cfg.Address(), "asr_backend", cfg.ASRBackend, "model_paths", cfg.ModelPaths())

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)
	deps, jr, repo, err := resolveDeps(injector)
	if err != nil {
		slog.Error("failed to resolve dependencies", "error", err)
		return bootstrap.ExitFailure
	}
	defer repo.Close()
	defer jr.Close()

	svc, err := bootstrap.New(cfg, deps)
	if err != nil {
		slog.Error("invalid service configuration", "error", err)
		return bootstrap.ExitCode(err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		code := bootstrap.ExitCode(err)
		slog.Error("startup failed", "error", err, "exit_code", code)
		return code
	}
	slog.Info("startup: serving", "address", svc.Addr().String(), "variant", svc.Variant().String())

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- svc.Wait()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down", "reason", "signal")
	case <-svc.Stopped():
		slog.Warn("shutting down", "reason", "network domain stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err, "stats", svc.Stats())
		return bootstrap.ExitFailure
	}
	if err := <-waitErr; err != nil {
		slog.Error("join failed", "error", err)
		return bootstrap.ExitFailure
	}
	slog.Info("shutdown complete")
	return bootstrap.ExitOK
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	if cfg.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err == nil {
			logLevel = lvl
		}
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	hotwordimpl.RegisterDI(injector)
	transportimpl.RegisterDI(injector)
	asrimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	journal.RegisterDI(injector)

	return injector
}

func resolveDeps(injector do.Injector) (bootstrap.Deps, *journal.Journal, repository.Repository, error) {
	loader, err := do.Invoke[hotword.Loader](injector)
	if err != nil {
		return bootstrap.Deps{}, nil, nil, err
	}
	newListener, err := do.Invoke[transport.Factory](injector)
	if err != nil {
		return bootstrap.Deps{}, nil, nil, err
	}
	models, err := do.Invoke[asr.Initializer](injector)
	if err != nil {
		return bootstrap.Deps{}, nil, nil, err
	}
	newDecoder, err := do.Invoke[audio.DecoderFactory](injector)
	if err != nil {
		return bootstrap.Deps{}, nil, nil, err
	}
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		return bootstrap.Deps{}, nil, nil, err
	}
	jr, err := do.Invoke[*journal.Journal](injector)
	if err != nil {
		repo.Close()
		return bootstrap.Deps{}, nil, nil, err
	}
	return bootstrap.Deps{
		Hotwords:    loader,
		NewListener: newListener,
		Models:      models,
		NewDecoder:  newDecoder,
		Journal:     jr,
	}, jr, repo, nil
}
