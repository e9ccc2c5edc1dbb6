package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"treesync/internal/blobstore"
	"treesync/internal/config"
	"treesync/internal/migrate"
	"treesync/internal/repair"
	"treesync/internal/resolve"
	"treesync/internal/store"
	"treesync/internal/transfer"
)

// backends holds every handle a run needs. Close releases them in reverse
// order of acquisition.
type backends struct {
	sourceRecords store.RecordStore
	targetRecords store.RecordStore
	sourceBlobs   blobstore.BlobStore
	targetBlobs   blobstore.BlobStore
	orchestrator  *migrate.Orchestrator
	repair        *repair.Engine
	closers       []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *backends, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if b.sourceRecords, err = b.openRecordStore("source", cfg.Source.Records); err != nil {
		return nil, err
	}
	if b.targetRecords, err = b.openRecordStore("target", cfg.Target.Records); err != nil {
		return nil, err
	}
	if b.sourceBlobs, err = b.openBlobStore(ctx, "source", cfg.Source.Blobs); err != nil {
		return nil, err
	}
	if b.targetBlobs, err = b.openBlobStore(ctx, "target", cfg.Target.Blobs); err != nil {
		return nil, err
	}

	retryInitial, err := cfg.Transfer.RetryInitialDuration()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Transfer.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	engine, err := transfer.New(b.sourceBlobs, b.targetBlobs, transfer.Options{
		Concurrency:  cfg.Transfer.Concurrency,
		StagingDir:   cfg.Transfer.StagingDir,
		RetrySteps:   cfg.Transfer.RetrySteps,
		RetryInitial: retryInitial,
		Timeout:      timeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	retry := store.RetryOptions{Steps: cfg.Transfer.RetrySteps, Initial: retryInitial, Logger: logger}
	b.sourceRecords = store.WithRetry(b.sourceRecords, retry)
	b.targetRecords = store.WithRetry(b.targetRecords, retry)

	resolver := resolve.New(cfg.Layout, b.sourceBlobs.Codec(), b.targetBlobs.Codec(), resolve.PrefixKeys(cfg.Transfer.KeyPrefix))
	b.orchestrator = migrate.New(b.sourceRecords, b.targetRecords, resolver, engine, logger)
	b.repair = repair.New(b.orchestrator, engine, b.sourceBlobs, b.targetBlobs, b.targetRecords, logger)
	return b, nil
}

func (b *backends) openRecordStore(side string, rc config.RecordsConfig) (store.RecordStore, error) {
	switch rc.Backend {
	case "sqlite":
		if strings.TrimSpace(rc.Path) == "" {
			return nil, fmt.Errorf("%s.records.path is required for the sqlite backend", side)
		}
		st, err := store.Open(rc.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s records: %w", side, err)
		}
		b.closers = append(b.closers, st.Close)
		return st, nil
	case "memory":
		return store.NewMemory(nil), nil
	case "rest":
		st, err := store.NewREST(rc.URL, rc.AuthToken, 0)
		if err != nil {
			return nil, fmt.Errorf("open %s records: %w", side, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%s.records.backend: unknown backend %q", side, rc.Backend)
	}
}

func (b *backends) openBlobStore(ctx context.Context, side string, bc config.BlobsConfig) (blobstore.BlobStore, error) {
	style, err := blobstore.ParseRefStyle(bc.RefStyle)
	if err != nil {
		return nil, fmt.Errorf("%s.blobs.ref_style: %w", side, err)
	}

	switch bc.Backend {
	case "local":
		bs, err := blobstore.NewLocal(bc.Root, blobstore.RefCodec{Style: style, Bucket: bc.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open %s blobs: %w", side, err)
		}
		return bs, nil
	case "memory":
		return blobstore.NewMemory(blobstore.RefCodec{Style: style, Bucket: bc.Bucket}), nil
	case "gcs":
		bs, err := blobstore.NewGCS(ctx, blobstore.GCSOptions{
			Bucket:          bc.Bucket,
			KeyPrefix:       bc.Prefix,
			CredentialsFile: bc.CredentialsFile,
			Endpoint:        bc.Endpoint,
			Style:           style,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s blobs: %w", side, err)
		}
		b.closers = append(b.closers, bs.Close)
		return bs, nil
	case "s3":
		bs, err := blobstore.NewS3FromOptions(ctx, blobstore.S3Options{
			Bucket:          bc.Bucket,
			KeyPrefix:       bc.Prefix,
			Region:          bc.Region,
			Endpoint:        bc.Endpoint,
			AccessKeyID:     bc.AccessKeyID,
			SecretAccessKey: bc.SecretAccessKey,
			Style:           style,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s blobs: %w", side, err)
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("%s.blobs.backend: unknown backend %q", side, bc.Backend)
	}
}
