// Command blurwatch is the media detection daemon.
//
// Usage:
//
//	blurwatch -config blurwatch.yaml          # observe pages from YAML config
//	blurwatch -url https://example.com        # observe a single page
//	blurwatch -scan https://example.com       # one HTTP scan, then exit
//
// A .env file in the working directory is loaded before flags are read.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/hazyhaar/blurkit/blurwatch"
	"github.com/hazyhaar/blurkit/idgen"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("BLURWATCH_CONFIG"), "path to blurwatch.yaml config file")
	singleURL := flag.String("url", "", "observe a single URL")
	scanURL := flag.String("scan", "", "scan a single URL over HTTP and exit")
	settingsDB := flag.String("settings-db", os.Getenv("BLURWATCH_SETTINGS_DB"), "SQLite file for detection settings and pages")
	httpAddr := flag.String("http", os.Getenv("BLURWATCH_HTTP"), "control API listen address")
	natsURL := flag.String("nats", os.Getenv("NATS_URL"), "NATS server URL for sinks and commands")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *singleURL, *scanURL)
	if err != nil {
		logger.Error("blurwatch: config", "error", err)
		os.Exit(1)
	}
	if *settingsDB != "" {
		cfg.SettingsDB = *settingsDB
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
		cfg.NATS.ApplyDefaults()
	}

	if *scanURL != "" {
		err = runScan(ctx, logger, cfg, *scanURL)
	} else {
		err = runDaemon(ctx, logger, cfg)
	}
	if err != nil {
		logger.Error("blurwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, singleURL, scanURL string) (*blurwatch.Config, error) {
	switch {
	case path != "":
		cfg, err := blurwatch.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if singleURL != "" {
			cfg.Pages = append(cfg.Pages, blurwatch.PageConfig{ID: idgen.New(), URL: singleURL, StealthLevel: "auto"})
		}
		return cfg, nil
	case singleURL != "":
		cfg := blurwatch.DefaultConfig()
		cfg.Pages = []blurwatch.PageConfig{{ID: idgen.New(), URL: singleURL, StealthLevel: "auto"}}
		return cfg, nil
	case scanURL != "":
		return blurwatch.DefaultConfig(), nil
	}
	fmt.Fprintln(os.Stderr, "usage: blurwatch -config <file> | -url <url> | -scan <url>")
	os.Exit(2)
	return nil, nil
}

func runScan(ctx context.Context, logger *slog.Logger, cfg *blurwatch.Config, url string) error {
	nc, err := blurwatch.ConnectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer blurwatch.CloseNATS(nc)

	sinks, err := blurwatch.SinksFromConfig(cfg, publisher(nc), logger)
	if err != nil {
		return err
	}
	w := blurwatch.New(cfg, logger, sinks...)
	defer w.Stop()

	res, err := w.Scan(ctx, url)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return json.NewEncoder(os.Stderr).Encode(res)
}

func runDaemon(ctx context.Context, logger *slog.Logger, cfg *blurwatch.Config) error {
	nc, err := blurwatch.ConnectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer blurwatch.CloseNATS(nc)

	sinks, err := blurwatch.SinksFromConfig(cfg, publisher(nc), logger)
	if err != nil {
		return err
	}
	w := blurwatch.New(cfg, logger, sinks...)
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("start: %w", err)
	}
	defer w.Stop()

	if nc != nil {
		sub, err := w.SubscribeCommands(nc, cfg.NATS.Prefix+".commands")
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           w.Routes(w.NewMCPServer(version)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("blurwatch: control API listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("blurwatch: http server", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("blurwatch: shutting down")
	return nil
}

// publisher avoids handing a typed nil *nats.Conn to SinksFromConfig.
func publisher(nc *nats.Conn) blurwatch.Publisher {
	if nc == nil {
		return nil
	}
	return nc
}
