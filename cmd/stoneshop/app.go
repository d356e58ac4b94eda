package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/erazemk/stoneshop/internal/attachment"
	"github.com/erazemk/stoneshop/internal/blob"
	"github.com/erazemk/stoneshop/internal/config"
	"github.com/erazemk/stoneshop/internal/db"
	"github.com/erazemk/stoneshop/internal/inventory"
	"github.com/erazemk/stoneshop/internal/store"
	"github.com/erazemk/stoneshop/internal/workflow"
)

// app is the wired set of services behind every command.
type app struct {
	cfg       config.Config
	db        *sql.DB
	items     *store.Items
	photos    *attachment.Store
	inventory *inventory.Service
	policy    workflow.Policy
}

// openApp opens and migrates the database and builds the services on top.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	policy, err := workflow.PolicyByName(cfg.Workflow.Policy)
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(ctx, cfg.Attachments)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, err
	}

	logger := slog.Default()
	items := &store.Items{
		DB:              database,
		StrictUpdate:    cfg.Items.StrictUpdate,
		ReplaceOnUpdate: cfg.Items.UpdateMode == "replace",
	}
	photos := &attachment.Store{
		DB:      database,
		Backend: backend,
		MaxSize: cfg.Attachments.MaxUploadBytes,
		Logger:  logger.With("component", "attachments"),
	}

	return &app{
		cfg:    cfg,
		db:     database,
		items:  items,
		photos: photos,
		inventory: &inventory.Service{
			Items:       items,
			Photos:      photos,
			Logger:      logger.With("component", "inventory"),
			Concurrency: cfg.Attachments.DeleteConcurrency,
		},
		policy: policy,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// newBackend builds the blob backend named in the config.
func newBackend(ctx context.Context, ac config.AttachmentsConfig) (blob.Backend, error) {
	switch ac.Backend {
	case "", config.DefaultBackend:
		b, err := blob.NewLocal(ac.LocalRoot)
		if err != nil {
			return nil, fmt.Errorf("opening photo directory: %w", err)
		}
		slog.Debug("using local photo storage", "root", b.Root())
		return b, nil
	case "s3":
		client, err := blob.NewS3Client(ctx, blob.S3Config{
			Bucket:    ac.S3.Bucket,
			Region:    ac.S3.Region,
			Endpoint:  ac.S3.Endpoint,
			AccessKey: ac.S3.AccessKey,
			SecretKey: ac.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		slog.Debug("using s3 photo storage", "bucket", ac.S3.Bucket, "endpoint", ac.S3.Endpoint)
		return blob.NewS3(client, ac.S3.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown attachment backend %q", ac.Backend)
	}
}
