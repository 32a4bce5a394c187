// ABOUTME: Bot startup: login, component wiring and the run loop
// ABOUTME: Runs the Matrix sync loop and the metrics endpoint side by side

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-joinlink/internal/admission"
	"github.com/2389/coven-joinlink/internal/command"
	"github.com/2389/coven-joinlink/internal/config"
	"github.com/2389/coven-joinlink/internal/gateway"
	"github.com/2389/coven-joinlink/internal/link"
	"github.com/2389/coven-joinlink/internal/matrix"
	"github.com/2389/coven-joinlink/internal/metrics"
	"github.com/2389/coven-joinlink/internal/pointer"
	"github.com/2389/coven-joinlink/internal/power"
)

func runBot(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	dataPath := cfg.Data.Directory
	if dataPath == "" {
		dataPath = getDataPath()
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Username:   %s\n", cfg.Matrix.Username)
	green.Print("    ▶ ")
	fmt.Printf("Commands:   !%s help\n", cfg.Bot.Prefix)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	raw, err := matrix.Login(ctx, cfg.Matrix.Homeserver, cfg.Matrix.Username, cfg.Matrix.Password, cfg.Matrix.DeviceName)
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	logger.Info("logged in", "user_id", raw.UserID.String(), "device_id", raw.DeviceID.String())

	if cfg.Matrix.RecoveryKey != "" {
		cryptoMgr, err := SetupCrypto(ctx, raw, cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	bot := matrix.NewBot(raw, cfg.Matrix.RequestTimeout, cfg.IsUser, logger)
	client := bot.Client()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	guard := power.NewGuard(client)
	links := link.NewRegistry(client, pointer.New(cfg.Bot.EncryptionKey), logger)
	lifecycle := gateway.NewLifecycle(client, guard, links, cfg.IsBotAdmin, m, logger)

	pipeline, err := admission.NewPipeline(client, guard, links, logger, admission.Options{
		LockCacheSize: cfg.Bot.LockCacheSize,
		Metrics:       m,
	})
	if err != nil {
		return fmt.Errorf("creating admission pipeline: %w", err)
	}

	dispatcher := command.NewDispatcher(&command.Bot{
		Client:     client,
		Guard:      guard,
		Lifecycle:  lifecycle,
		Prefix:     cfg.Bot.Prefix,
		IsUser:     cfg.IsUser,
		IsBotAdmin: cfg.IsBotAdmin,
		Quit:       bot.Quit,
		Logger:     logger,
	}, m)

	bot.SetHandlers(dispatcher, pipeline)

	g, gctx := errgroup.WithContext(ctx)
	// quit and logout end the bot without cancelling ctx
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return bot.Run(runCtx)
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			return metrics.Serve(runCtx, cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		})
	}

	logger.Info("starting bot")
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("bot stopped")
	return nil
}
