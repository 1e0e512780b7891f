package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rtclinic/followup/internal/config"
	"github.com/rtclinic/followup/internal/platform/db"
	"github.com/rtclinic/followup/internal/platform/hipaa"
	"github.com/rtclinic/followup/internal/platform/middleware"
	"github.com/rtclinic/followup/internal/platform/notify"
	"github.com/rtclinic/followup/internal/platform/tablestore"
)

// newLogger builds the process logger: JSON to out (console output in
// development) and, when LOG_FILE is set, a rotating file as well.
func newLogger(cfg *config.Config, out io.Writer) (zerolog.Logger, func()) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = out
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: out}
	}

	closeFn := func() {}
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(w, file)
		closeFn = func() { _ = file.Close() }
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), closeFn
}

type backends struct {
	store    tablestore.Store
	notifier notify.Notifier
	// pool is set for the postgres store only.
	pool *pgxpool.Pool
}

// auditRecorder persists the PHI access trail next to the follow-up table.
func (b *backends) auditRecorder() middleware.AuditRecorder {
	if b.pool == nil {
		return nil
	}
	return hipaa.NewAccessLogger(b.pool)
}

func (b *backends) pinger() db.Pinger {
	if b.pool == nil {
		return nil
	}
	return b.pool
}

func (b *backends) Close() {
	if b.notifier != nil {
		_ = b.notifier.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}
	store, pool, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	b.store, b.pool = store, pool

	b.notifier, err = newNotifier(ctx, cfg, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (tablestore.Store, *pgxpool.Pool, error) {
	logger = logger.With().Str("store", cfg.StoreBackend).Logger()

	switch cfg.StoreBackend {
	case config.StoreCSV:
		return tablestore.NewCSVStore(cfg.StorePath, logger), nil, nil
	case config.StoreXLSX:
		return tablestore.NewXLSXStore(cfg.StorePath, logger), nil, nil
	case config.StoreHTTP:
		return tablestore.NewHTTPStore(cfg.StoreURL, cfg.StoreToken, logger), nil, nil
	case config.StoreS3:
		client, err := tablestore.NewS3Client(ctx)
		if err != nil {
			return nil, nil, err
		}
		return tablestore.NewS3Store(client, cfg.S3Bucket, cfg.S3Key, logger), nil, nil
	case config.StoreSheets:
		svc, err := tablestore.NewSheetsService(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return tablestore.NewSheetsStore(svc, cfg.SheetsSpreadsheetID, cfg.SheetsRange, logger), nil, nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return tablestore.NewPostgresStore(pool, logger), pool, nil
	case config.StoreMemory:
		return tablestore.NewMemoryStore(tablestore.Table{}), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func newNotifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	switch cfg.NotifyBackend {
	case config.NotifyLog, "":
		return notify.NewLogNotifier(logger), nil
	case config.NotifyNone:
		return notify.Nop{}, nil
	case config.NotifyKafka:
		return notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.NotifySQS:
		client, err := notify.NewSQSClient(ctx)
		if err != nil {
			return nil, err
		}
		return notify.NewSQSNotifier(client, cfg.SQSQueueURL), nil
	case config.NotifyWebhook:
		return notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret), nil
	}
	return nil, fmt.Errorf("unknown notify backend %q", cfg.NotifyBackend)
}
