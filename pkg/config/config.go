package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定です。
type Config struct {
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	ListenAddr      string        `yaml:"listen_addr"`
	DefaultRetry    int           `yaml:"default_retry_seconds"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CompressQuality int           `yaml:"compress_quality"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	Log             LogConfig     `yaml:"log"`
}

// LogConfig はログ出力の設定です。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text または json
}

// Default は既定値を持つ Config を返します。
func Default() *Config {
	return &Config{
		Model:          "gemini-2.5-flash-image",
		ListenAddr:     ":8080",
		DefaultRetry:   60,
		RequestTimeout: 2 * time.Minute,
		SessionTTL:     time.Hour,
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

// Load は 既定値 → YAML ファイル → .env → 環境変数 の順に設定を読み込みます。
// path が空なら YAML ファイルは読みません。.env ファイルが無くてもエラーにしません。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
		}
	}

	// 既に設定済みの環境変数は上書きされない
	_ = godotenv.Load(".env", ".env.local")

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := firstEnv("GEMINI_API_KEY", "API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("DEFAULT_RETRY_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DEFAULT_RETRY_SECONDS: %w", err)
		}
		cfg.DefaultRetry = n
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REQUEST_TIMEOUT_SECONDS: %w", err)
		}
		cfg.RequestTimeout = time.Duration(n) * time.Second
	}
	if v := os.Getenv("COMPRESS_QUALITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COMPRESS_QUALITY: %w", err)
		}
		cfg.CompressQuality = n
	}
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL_MINUTES: %w", err)
		}
		cfg.SessionTTL = time.Duration(n) * time.Minute
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate は設定値を検証し、問題をまとめて返します。
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY (or API_KEY) is required"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address must not be empty"))
	}
	if c.DefaultRetry <= 0 {
		errs = append(errs, errors.New("default retry seconds must be positive"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeout must not be negative"))
	}
	if c.CompressQuality < 0 || c.CompressQuality > 100 {
		errs = append(errs, errors.New("compress quality must be between 0 and 100"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel はログレベル文字列を slog.Level に変換します。
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// NewLogger は設定に従って slog.Logger を作ります。
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
