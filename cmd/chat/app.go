package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/gateway"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

// app is the wiring shared by every command: one store, one repository, one
// settings object and one controller per process.
type app struct {
	cfg        *utils.Config
	logger     *zap.SugaredLogger
	store      db.Store
	repo       *conversation.Repository
	settings   *conversation.SettingsStore
	gateway    *gateway.Client
	controller *conversation.Controller
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		return nil, err
	}
	if backend := strings.ToLower(strings.TrimSpace(opts.store)); backend != "" {
		cfg.Store.Backend = backend
	}
	if url := strings.TrimSpace(opts.gateway); url != "" {
		cfg.Gateway.BaseURL = strings.TrimRight(url, "/")
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	sugar := logger.Sugar()

	store, err := db.Open(ctx, cfg, sugar.Named("store"))
	if err != nil {
		return nil, err
	}

	repo := conversation.NewRepository(store, conversation.WithLogger(sugar.Named("repository")))
	if err := repo.Load(ctx); err != nil {
		sugar.Warnw("conversation history not loaded", "error", err)
	}

	settings := conversation.NewSettingsStore(store, sugar.Named("settings"))
	if err := settings.Load(ctx); err != nil {
		sugar.Warnw("settings not loaded", "error", err)
	}

	client := gateway.New(cfg.Gateway, sugar.Named("gateway"))
	controller := conversation.NewController(repo, settings, client, client, cfg.HistoryWindow, sugar.Named("controller"))

	return &app{
		cfg:        cfg,
		logger:     sugar,
		store:      store,
		repo:       repo,
		settings:   settings,
		gateway:    client,
		controller: controller,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warnw("store close failed", "error", err)
	}
	_ = a.logger.Sync()
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
