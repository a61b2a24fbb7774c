package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver"
	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/catalog"
	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/httpapi"
	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/metastore"
	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/s3sign"
	"github.com/CloudNativeWorks/cnw-license-server/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	os.Exit(exitCode(logger, err))
}

// exitCode logs a run failure and flushes the logger before the process exits.
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("license server stopped", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var (
		pool   *pgxpool.Pool
		finder catalog.LicenseFinder
		prods  cnwserver.ProductCatalog
	)
	if cfg.Database.URL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		pg, err := catalog.NewPostgresCatalog(ctx, pool)
		if err != nil {
			return err
		}
		finder = pg
		prods = pg
		if cfg.Database.CatalogCache > 0 {
			prods = catalog.NewCachedCatalog(pg, cfg.Database.CatalogCache)
		}
	} else {
		logger.Warn("no database configured, serving an empty in-memory catalog")
		static := catalog.NewStaticCatalog()
		finder = static
		prods = static
	}

	store, err := openMetaStore(ctx, cfg.Meta, pool)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("close metadata store", zap.Error(err))
		}
	}()

	metrics := cnwserver.NewPromMetrics("cnw_license", prometheus.DefaultRegisterer)

	resolverOpts := []cnwserver.ResolverOption{
		cnwserver.WithRemoteStorage(cfg.Storage.UseRemote),
		cnwserver.WithResolverLogger(logger),
		cnwserver.WithResolverMetrics(metrics),
	}
	if cfg.Storage.UseRemote {
		signer, err := s3sign.New(ctx, s3sign.Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Prefix:          cfg.Storage.Prefix,
			Expires:         cfg.Storage.Expires,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			return err
		}
		resolverOpts = append(resolverOpts, cnwserver.WithStorageSigner(signer))
	}

	validator := cnwserver.NewValidator(
		cnwserver.WithMetadataStore(store),
		cnwserver.WithProductCatalog(prods),
		cnwserver.WithPackageResolver(cnwserver.NewPackageResolver(resolverOpts...)),
		cnwserver.WithLogger(logger),
		cnwserver.WithMetrics(metrics),
		cnwserver.WithPersistTimeout(cfg.Meta.PersistTimeout),
	)
	// Runs before the store is closed.
	defer validator.Wait()

	handler := httpapi.NewHandler(validator, finder, store,
		httpapi.WithAPIKey(cfg.Server.APIKey),
		httpapi.WithDefaultMetaKey(cfg.Meta.DefaultKey),
		httpapi.WithLogger(logger),
		httpapi.WithRequestTimeout(cfg.Server.RequestTimeout),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("license server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("meta_backend", cfg.Meta.Backend),
			zap.Bool("remote_storage", cfg.Storage.UseRemote),
		)
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openMetaStore builds the configured metadata store. The postgres backend
// shares the catalog pool.
func openMetaStore(ctx context.Context, cfg config.MetaConfig, pool *pgxpool.Pool) (metastore.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		if pool == nil {
			return nil, errors.New("postgres meta backend needs database.url")
		}
		return metastore.NewPostgresStore(ctx, pool)
	case config.BackendMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.URL))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		store, err := metastore.NewMongoStore(ctx, client.Database(cfg.Database))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return &mongoCloser{MongoStore: store, client: client}, nil
	case config.BackendRedis:
		return metastore.DialRedisStore(ctx, cfg.URL)
	case config.BackendMemory:
		return metastore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown meta backend %q", cfg.Backend)
	}
}

// mongoCloser disconnects the client it was opened with.
type mongoCloser struct {
	*metastore.MongoStore
	client *mongo.Client
}

func (m *mongoCloser) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
