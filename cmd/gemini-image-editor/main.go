package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shouni/gemini-image-editor/pkg/config"
	"github.com/shouni/gemini-image-editor/pkg/generator"
	"github.com/shouni/gemini-image-editor/pkg/session"
	"github.com/shouni/gemini-image-editor/pkg/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML 設定ファイルのパス (省略可)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("起動に失敗しました", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aiClient, err := generator.NewGenAIClient(ctx, cfg.APIKey)
	if err != nil {
		return err
	}
	editor, err := generator.NewGeminiEditor(aiClient, cfg.Model,
		generator.WithTimeout(cfg.RequestTimeout),
		generator.WithCompression(cfg.CompressQuality),
		generator.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	registry := web.NewRegistry(func() (*session.Session, error) {
		return session.New(editor,
			session.WithLogger(logger),
			session.WithDefaultRetry(cfg.DefaultRetry),
			session.WithContext(ctx),
		)
	}, cfg.SessionTTL)
	defer registry.CloseAll()

	go sweep(ctx, registry, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           web.NewServer(ctx, registry, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP サーバーを起動しました", "addr", cfg.ListenAddr, "model", editor.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("サーバーの停止に失敗しました", "error", err)
		return err
	}
	logger.Info("サーバーを停止しました")
	return nil
}

// sweep はアクセスの途絶えたセッションを定期的に閉じます。
func sweep(ctx context.Context, registry *web.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(); n > 0 {
				logger.Info("期限切れのセッションを閉じました", "count", n)
			}
		}
	}
}
