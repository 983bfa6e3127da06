package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mvellano/enhancerd/internal/config"
	"github.com/mvellano/enhancerd/internal/httpapi"
	"github.com/mvellano/enhancerd/internal/notify"
	"github.com/mvellano/enhancerd/internal/observability"
	"github.com/mvellano/enhancerd/internal/queue"
	"github.com/mvellano/enhancerd/internal/storage"
	"github.com/mvellano/enhancerd/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	files, err := storage.NewFiles(cfg.InboxDir, cfg.MediaDir, cfg.MinFreeDisk)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	runner := tools.NewManager(tools.Config{
		FFmpegPath:     cfg.FFmpegPath,
		FFprobePath:    cfg.FFprobePath,
		RealesrganPath: cfg.RealesrganPath,
		Video2xPath:    cfg.Video2xPath,
	})

	var sink queue.NotificationSink
	if cfg.TelegramBotToken != "" {
		sink = notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramAPIBase)
		log.Printf("notification sink: telegram")
	} else {
		sink = notify.LogSink{}
		log.Printf("notification sink: log (no bot token configured)")
	}

	ctx := context.Background()
	archive, err := queue.NewArchive(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("archive init failed: %v", err)
	}
	if archive != nil {
		defer archive.Close()
	}

	q := queue.New(queue.Config{
		MaxConcurrency:  cfg.MaxConcurrency,
		PollInterval:    cfg.PollInterval,
		RetentionMaxAge: cfg.RetentionMaxAge,
		SweepInterval:   cfg.SweepInterval,
	}, queue.NewStore(), runner, files, sink, archive, metrics)
	q.Start()

	api := httpapi.New(cfg, q, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	q.Stop()
	log.Printf("shutdown complete")
}
