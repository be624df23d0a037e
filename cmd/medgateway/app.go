package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raaihank/medgateway/internal/anonymize"
	"github.com/raaihank/medgateway/internal/audit"
	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/credentials"
	"github.com/raaihank/medgateway/internal/events"
	"github.com/raaihank/medgateway/internal/extract"
	"github.com/raaihank/medgateway/internal/gateway"
	"github.com/raaihank/medgateway/internal/logger"
	"github.com/raaihank/medgateway/internal/provider"
	"github.com/raaihank/medgateway/internal/settings"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	creds     credentials.Store
	resolver  *credentials.Chain
	settings  settings.Store
	recorder  audit.Recorder
	hub       *events.Hub
	factory   *gateway.Factory
	gateway   *gateway.Gateway
	closeFunc []func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func openCredentials(cfg *config.Config, log *logger.Logger, onMigration func(credentials.Migration), readOnly bool) (credentials.Store, *credentials.Chain, error) {
	open := func(path string) (credentials.Store, error) { return credentials.OpenBoltStore(path) }
	if readOnly {
		open = credentials.OpenBoltStoreReadOnly
	}
	store, err := open(cfg.Credentials.StorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	var opts []credentials.ChainOption
	if onMigration != nil {
		opts = append(opts, credentials.WithMigrationHandler(onMigration))
	}
	return store, credentials.NewChain(store, log, opts...), nil
}

// appMode selects what newApp opens besides the provider stack.
type appMode int

const (
	// modeServe opens the audit log and, when enabled, the event hub.
	modeServe appMode = iota
	// modeCheck opens nothing that writes persisted state.
	modeCheck
)

// newApp wires every component needed by mode.
func newApp(cmd *cobra.Command, mode appMode) (*app, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	var (
		onMigration func(credentials.Migration)
		onStatus    func(gateway.StatusEvent)
		onRequest   func(audit.Entry)
	)
	if mode == modeServe && cfg.WebSocket.Enabled {
		a.hub = events.NewHub(cfg.WebSocket, log)
		onMigration = a.hub.CredentialMigration
		onStatus = a.hub.ProviderStatus
		onRequest = a.hub.RequestCompleted
	}

	a.creds, a.resolver, err = openCredentials(cfg, log, onMigration, mode == modeCheck)
	if err != nil {
		return nil, err
	}
	a.closeFunc = append(a.closeFunc, a.creds.Close)

	a.settings, err = settings.New(cfg.Settings, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	a.closeFunc = append(a.closeFunc, a.settings.Close)

	if mode == modeServe {
		a.recorder, err = audit.New(cfg.Audit, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.closeFunc = append(a.closeFunc, a.recorder.Close)
	} else {
		a.recorder = audit.Nop{}
	}

	order := make([]provider.Kind, len(cfg.Providers.Order))
	for i, name := range cfg.Providers.Order {
		order[i] = provider.Kind(name)
	}
	a.factory, err = gateway.NewFactory(
		gateway.NewBuilder(cfg.Providers, a.resolver, log),
		gateway.FactoryOptions{
			Order:  order,
			Active: provider.Kind(cfg.Providers.Active),
		},
		a.settings,
		onStatus,
		log,
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine, err := anonymize.NewEngine(cfg.Anonymization, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create anonymization engine: %w", err)
	}

	var extractor gateway.Extractor
	if cfg.Extraction.Enabled {
		extractor = extract.New(a.factory.LocalProvider, cfg.Extraction, cfg.Anonymization.MinEntityLength, log)
	}

	opts := []gateway.Option{gateway.WithRecorder(a.recorder)}
	if onRequest != nil {
		opts = append(opts, gateway.WithRequestListener(onRequest))
	}
	pseudonyms := anonymize.NewNameGenerator(cfg.Anonymization.PseudonymSeed, cfg.Anonymization.Exclusions...)
	a.gateway = gateway.New(a.factory, extractor, engine, pseudonyms, log, opts...)

	return a, nil
}

// Close releases stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closeFunc) - 1; i >= 0; i-- {
		if err := a.closeFunc[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Sync()
	return errors.Join(errs...)
}
