package storage

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/tvkpi/internal/config"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
	"github.com/OFFIS-RIT/tvkpi/pkg/store"
	fsstore "github.com/OFFIS-RIT/tvkpi/pkg/store/fs"
	pgstore "github.com/OFFIS-RIT/tvkpi/pkg/store/pgx"
	s3store "github.com/OFFIS-RIT/tvkpi/pkg/store/s3"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open returns the result store selected by cfg.Storage. The returned
// close function releases connections and is never nil.
func Open(ctx context.Context, cfg config.Config) (store.ResultStore, func(), error) {
	noop := func() {}

	switch cfg.Storage {
	case config.StorageS3:
		if cfg.S3Bucket == "" {
			return nil, noop, fmt.Errorf("AWS_BUCKET is required for the s3 backend")
		}
		client, err := s3store.NewClient(ctx, s3store.NewClientParams{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Using S3 store", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return s3store.NewStore(client, cfg.S3Bucket, cfg.S3Prefix), noop, nil

	case config.StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, noop, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("unable to connect to database: %w", err)
		}
		s := pgstore.NewResultDBStorageWithConnection(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Info("Using postgres store")
		return s, pool.Close, nil

	default:
		s, err := fsstore.NewStore(cfg.DataDir)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Using file store", "dir", cfg.DataDir)
		return s, noop, nil
	}
}
