package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danthegoodman1/kvsql/config"
	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/crdb"
	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/export"
	"github.com/danthegoodman1/kvsql/http_server"
	"github.com/danthegoodman1/kvsql/loader"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/migrations"
	"github.com/danthegoodman1/kvsql/s3_helper"
	"github.com/danthegoodman1/kvsql/session"
)

type (
	// KVSQL is one opened database: the store, its catalog and the services
	// built on them.
	KVSQL struct {
		Config   *config.Config
		GC       *core.GlobalContext
		Session  *session.Session
		Loader   *loader.Loader
		Exporter *export.Exporter
	}
)

func NewKVSQL(ctx context.Context, cfg *config.Config) (*KVSQL, error) {
	ds, err := datastore.NewPebbleDataStore(cfg.DBPath, cfg.InMemory)
	if err != nil {
		return nil, fmt.Errorf("error in datastore.NewPebbleDataStore: %w", err)
	}
	ms, err := newMetaStore(ctx, cfg, ds)
	if err != nil {
		ds.Shutdown(ctx)
		return nil, err
	}
	gc, err := core.NewGlobalContext(ds, ms, cfg.OrdinalCacheSize)
	if err != nil {
		ms.Shutdown(ctx)
		ds.Shutdown(ctx)
		return nil, fmt.Errorf("error in core.NewGlobalContext: %w", err)
	}

	sink, err := newSink(cfg)
	if err != nil {
		gc.Shutdown(ctx)
		return nil, err
	}
	sess := session.New(gc, cfg.BatchSize)
	exporter, err := export.New(gc, sess, sink, cfg.ExportWorkers)
	if err != nil {
		gc.Shutdown(ctx)
		return nil, fmt.Errorf("error in export.New: %w", err)
	}

	return &KVSQL{
		Config:   cfg,
		GC:       gc,
		Session:  sess,
		Loader:   loader.New(gc),
		Exporter: exporter,
	}, nil
}

func newMetaStore(ctx context.Context, cfg *config.Config, ds datastore.DataStore) (metastore.MetaStore, error) {
	switch cfg.MetaStore {
	case "crdb":
		if err := migrations.CheckMigrations(cfg.CRDBDSN); err != nil {
			return nil, fmt.Errorf("error checking migrations: %w", err)
		}
		pool, err := crdb.ConnectToDB(cfg.CRDBDSN)
		if err != nil {
			return nil, fmt.Errorf("error connecting to CRDB: %w", err)
		}
		return metastore.NewCRDBMetaStore(pool), nil
	case "redis":
		ms, err := metastore.NewRedisMetaStore(ctx, cfg.RedisAddr, cfg.RedisPassword, true)
		if err != nil {
			return nil, fmt.Errorf("error in NewRedisMetaStore: %w", err)
		}
		return ms, nil
	default:
		return metastore.NewKVMetaStore(ds), nil
	}
}

func newSink(cfg *config.Config) (export.Sink, error) {
	if cfg.S3Bucket == "" {
		return export.LocalSink{Dir: cfg.ExportDir}, nil
	}
	client, err := s3_helper.New(s3_helper.Config{
		Region:   cfg.AWSRegion,
		Bucket:   cfg.S3Bucket,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("error in s3_helper.New: %w", err)
	}
	return client, nil
}

func (k *KVSQL) HTTPDeps() http_server.Deps {
	return http_server.Deps{
		GC:       k.GC,
		Session:  k.Session,
		Loader:   k.Loader,
		Exporter: k.Exporter,
	}
}

func (k *KVSQL) Shutdown(ctx context.Context) error {
	if err := k.Exporter.Release(10 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("export workers did not stop in time")
	}
	if err := k.GC.Shutdown(ctx); err != nil {
		return fmt.Errorf("error in GlobalContext.Shutdown: %w", err)
	}
	return nil
}
