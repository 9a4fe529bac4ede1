package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"digestd/internal/alert"
	"digestd/internal/api"
	"digestd/internal/bus"
	"digestd/internal/collector"
	"digestd/internal/collector/jira"
	"digestd/internal/collector/rss"
	"digestd/internal/config"
	"digestd/internal/deliver"
	"digestd/internal/digest"
	"digestd/internal/event"
	"digestd/internal/notify"
	"digestd/internal/schedule"
	"digestd/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the digestd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	registry := collector.NewRegistry()
	jira.Register(registry)
	rss.Register(registry)
	slog.Info("collectors registered", "types", registry.Tags())

	b := bus.New(cfg.Bus.QueueSize)
	svc := digest.NewService(store, registry, b, nil)

	if cfg.TelegramConfigured() {
		tg := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		b.Subscribe(event.NameDigestReady, deliver.New(tg, svc).HandleDigestReady)
		b.Subscribe(event.NameCollectorFailed, alert.NewNotifier(store, tg).HandleCollectorFailed)
		slog.Info("telegram delivery enabled", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram not configured, digests will not be delivered")
	}

	b.Start()
	defer b.Stop()

	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Registry:  registry,
		Generator: svc,
		Token:     cfg.Server.Token,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	sched := schedule.New(store, svc, b)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("digestd listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
