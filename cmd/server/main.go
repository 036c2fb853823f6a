package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"certifier/assets"
	"certifier/internal/certificate"
	"certifier/internal/certificate/blob"
	certmetrics "certifier/internal/certificate/metrics"
	"certifier/internal/certificate/notify"
	"certifier/internal/certificate/stamp"
	"certifier/internal/certificate/store"
	"certifier/internal/platform/config"
	"certifier/internal/platform/httpserver"
	"certifier/internal/platform/identity"
	"certifier/internal/platform/logger"
	"certifier/internal/platform/metrics"
	"certifier/internal/platform/middleware"
	"certifier/internal/platform/migrate"
	"certifier/internal/platform/postgres"
	platformredis "certifier/internal/platform/redis"
	"certifier/migrations"
	"certifier/pkg/platform/audit"
	"certifier/pkg/platform/audit/publisher"
	auditmemory "certifier/pkg/platform/audit/store/memory"
	auditpostgres "certifier/pkg/platform/audit/store/postgres"
	"certifier/pkg/platform/circuit"
	"certifier/pkg/platform/httputil"
	"certifier/pkg/platform/middleware/auth"
	"certifier/pkg/platform/middleware/metadata"
	"certifier/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 15 * time.Second

// main wires configuration, backends and servers. Business logic lives in
// internal/certificate.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	requests, auditStore, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	blobs, lister, err := openBlobs(cfg.Blob)
	if err != nil {
		return err
	}

	backends := certificate.Backends{
		Requests: requests,
		Blobs:    blobs,
		Lister:   lister,
		Assets: stamp.NewAssets(assetFS(cfg.Stamp), stamp.AssetPaths{
			Font:      cfg.Stamp.Font,
			FontName:  cfg.Stamp.FontName,
			Checkmark: cfg.Stamp.Checkmark,
		}),
	}

	renderer, err := stamp.NewPDFRenderer(filepath.Join(os.TempDir(), "certifier-fonts"))
	if err != nil {
		return fmt.Errorf("init pdf renderer: %w", err)
	}
	backends.Renderer = renderer

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		closers = append(closers, func() { _ = redisClient.Close() })
		backends.Reserver = blob.NewRedisReserver(redisClient, 0)
		log.Info("upload key reservation enabled", "backend", "redis")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaNotifier(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, notify.WithKafkaLogger(log))
		if err != nil {
			return err
		}
		closers = append(closers, kafka.Close)
		backends.Notifier = notify.NewFallbackNotifier(kafka, notify.NewLogNotifier(log),
			circuit.New("kafka-notifier"), log)
		log.Info("decision notifications enabled", "backend", "kafka", "topic", cfg.Kafka.Topic)
	}

	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(256),
		publisher.WithLogger(log),
	)
	closers = append(closers, auditPublisher.Close)
	backends.Audit = auditPublisher

	module, err := certificate.New(backends, certificate.Config{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		KeyAttempts:    cfg.Upload.KeyAttempts,
		Authority:      cfg.Stamp.Authority,
	}, certmetrics.New(), log)
	if err != nil {
		return err
	}

	if err := module.Backlog.Refresh(ctx); err != nil {
		log.WarnContext(ctx, "initial backlog refresh failed", "error", err)
	}
	if err := module.Backlog.Start(cfg.BacklogSchedule); err != nil {
		return err
	}
	closers = append(closers, module.Backlog.Stop)

	tokens := identity.NewService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	router := newRouter(log, metrics.New(), tokens, module)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())

	return serve(ctx, log,
		httpserver.New(cfg.Addr, router),
		httpserver.New(cfg.MetricsAddr, metricsMux),
	)
}

func newRouter(log *slog.Logger, m *metrics.Metrics, tokens *identity.Service, module *certificate.Module) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.AccessLog(log, m))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens, log))
		module.Handler.Register(r)
	})
	return r
}

// serve runs every server until ctx is cancelled or one of them fails, then
// shuts all of them down.
func serve(ctx context.Context, log *slog.Logger, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (certificate.Repository, audit.Store, func(), error) {
	switch cfg.Backend {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := migrate.Apply(ctx, db, migrations.FS, migrations.PostgresDir, migrate.Postgres); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("request store ready", "backend", cfg.Backend)
		return store.NewPostgres(db), auditpostgres.New(db), func() { _ = db.Close() }, nil
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("request store ready", "backend", cfg.Backend, "path", cfg.SQLitePath)
		return s, auditmemory.NewInMemoryStore(), func() { _ = s.Close() }, nil
	default:
		log.Warn("using in-memory request store, data is lost on restart")
		return store.NewInMemory(), auditmemory.NewInMemoryStore(), func() {}, nil
	}
}

func openBlobs(cfg config.BlobConfig) (blob.Store, blob.Lister, error) {
	switch cfg.Backend {
	case config.BlobS3:
		sess, err := blob.NewS3Session(blob.S3Options{Region: cfg.S3Region, Endpoint: cfg.S3Endpoint})
		if err != nil {
			return nil, nil, fmt.Errorf("s3 session: %w", err)
		}
		s := blob.NewS3(s3.New(sess), cfg.S3Bucket, cfg.S3Prefix)
		return s, s, nil
	case config.BlobMemory:
		m := blob.NewMemory()
		return m, m, nil
	default:
		d, err := blob.NewDisk(cfg.UploadDir)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}
}

// assetFS serves stamp assets from CERTIFIER_ASSET_DIR, or from the
// embedded defaults when it is unset.
func assetFS(cfg config.StampConfig) fs.FS {
	if cfg.AssetDir == "" {
		return assets.FS
	}
	return os.DirFS(cfg.AssetDir)
}
