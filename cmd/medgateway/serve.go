package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/provider"
	"github.com/raaihank/medgateway/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, modeServe)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	log := a.log
	log.Info("Starting medgateway",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", a.cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.hub != nil {
		go a.hub.Run(ctx)
	}

	// a failed initialization leaves the API up so the user can switch
	// backends or import a credential
	if err := a.factory.Initialize(ctx); err != nil {
		log.Error("No usable provider at startup", zap.Error(err))
	}

	config.Watch(func(next *config.Config) {
		reloadProviders(ctx, a, next)
	}, func(err error) {
		log.Warn("Ignoring invalid configuration change", zap.Error(err))
	})

	srv := server.New(a.cfg, a.gateway, a.recorder, a.hub, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
		return err
	case <-ctx.Done():
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}

		log.Info("Server shutdown complete")
		return nil
	}
}

// reloadProviders switches backend when the active provider or its model
// changed in the configuration file.
func reloadProviders(ctx context.Context, a *app, next *config.Config) {
	prev := a.cfg.Providers
	kind := provider.Kind(next.Providers.Active)

	model := next.Providers.Ollama.Model
	prevModel := prev.Ollama.Model
	if !kind.IsLocal() {
		model = next.Providers.OpenAI.Model
		prevModel = prev.OpenAI.Model
	}
	if next.Providers.Active == prev.Active && model == prevModel {
		return
	}

	a.log.Info("Provider configuration changed",
		zap.String("provider", string(kind)),
		zap.String("model", model),
	)
	if err := a.factory.SwitchProvider(ctx, kind, model); err != nil {
		a.log.Warn("Provider switch from configuration failed, keeping current backend",
			zap.String("active", a.factory.GetActiveProviderName()),
			zap.Error(err),
		)
	}
	a.cfg.Providers.Active = next.Providers.Active
	a.cfg.Providers.Ollama.Model = next.Providers.Ollama.Model
	a.cfg.Providers.OpenAI.Model = next.Providers.OpenAI.Model
}
