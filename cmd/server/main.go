package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/NicolasHaas/pixgallery/pkg/datastore"
	"github.com/NicolasHaas/pixgallery/pkg/logging"
	"github.com/NicolasHaas/pixgallery/pkg/server"
	"github.com/NicolasHaas/pixgallery/pkg/telemetry"
	"github.com/NicolasHaas/pixgallery/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP bind address")
	flag.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Datastore: sqlite, postgres or memory")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (db-driver=postgres)")
	flag.StringVar(&cfg.UploadDir, "uploads", cfg.UploadDir, "Directory for uploaded images, served under /uploads/")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Lifetime of issued session tokens (0 for no expiry)")
	flag.StringVar(&cfg.UsersFile, "users-file", "", "YAML file defining accounts to create on startup")
	flag.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/gRPC collector for traces (empty to disable)")
	flag.DurationVar(&cfg.MetricsLog, "metrics-log", cfg.MetricsLog, "Interval of the periodic metrics log line (0 to disable)")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	flag.BoolVar(&cfg.ExportImages, "export-images", false, "Export all image records as YAML and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	// Handle export commands (run and exit)
	if cfg.ExportUsers || cfg.ExportImages {
		if err := export(cfg); err != nil {
			slog.Error("export", "err", err)
			os.Exit(1)
		}
		return
	}

	shutdownTelemetry := telemetry.Setup("pixgallery-server", cfg.OTLPEndpoint, true)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("open database", "driver", cfg.DBDriver, "err", err)
		os.Exit(1)
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func openStore(cfg server.Config) (datastore.DataStore, error) {
	switch cfg.DBDriver {
	case "sqlite", "":
		return datastore.NewSQLite(cfg.DBPath)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("db-driver=postgres needs -database-url or DATABASE_URL")
		}
		return datastore.NewPostgres(context.Background(), cfg.DatabaseURL)
	case "memory":
		slog.Warn("using the in-memory datastore; nothing survives a restart")
		return datastore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

func export(cfg server.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if cfg.ExportUsers {
		data, err := server.ExportUsersYAML(ctx, st)
		if err != nil {
			return fmt.Errorf("export users: %w", err)
		}
		fmt.Print(string(data))
	}
	if cfg.ExportImages {
		data, err := server.ExportImagesYAML(ctx, st)
		if err != nil {
			return fmt.Errorf("export images: %w", err)
		}
		fmt.Print(string(data))
	}
	return nil
}
