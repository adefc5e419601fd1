package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agroia/agroia-backend/internal/application"
	"github.com/agroia/agroia-backend/internal/application/analyze"
	"github.com/agroia/agroia-backend/internal/application/history"
	"github.com/agroia/agroia-backend/internal/config"
	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/infra/auth"
	"github.com/agroia/agroia-backend/internal/infra/cache"
	"github.com/agroia/agroia-backend/internal/infra/classifier"
	firestorerepo "github.com/agroia/agroia-backend/internal/infra/db/firestore"
	"github.com/agroia/agroia-backend/internal/infra/db/memory"
	mysqlrepo "github.com/agroia/agroia-backend/internal/infra/db/mysql"
	pgrepo "github.com/agroia/agroia-backend/internal/infra/db/postgres"
	"github.com/agroia/agroia-backend/internal/infra/db/unavailable"
	"github.com/agroia/agroia-backend/internal/infra/httpserver"
	"github.com/agroia/agroia-backend/internal/infra/storage"
	"github.com/agroia/agroia-backend/internal/logger"
	"github.com/agroia/agroia-backend/internal/middleware"
)

func main() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// closers run in reverse order on shutdown.
type closers []func() error

func (c *closers) add(f func() error) { *c = append(*c, f) }

func (c closers) closeAll(log *logger.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	var cl closers
	defer cl.closeAll(log)

	checkers := map[string]middleware.HealthChecker{}

	repo := openStore(ctx, cfg, log, &cl)
	checkers["store"] = middleware.CheckFunc(repo.Ping)

	var images analysis.ImageStore
	if cfg.Minio.Enabled {
		store, err := storage.New(ctx, storage.Options{
			Endpoint:   cfg.Minio.Endpoint,
			Region:     cfg.Minio.Region,
			BucketName: cfg.Minio.BucketName,
			AccessKey:  cfg.Minio.AccessKey,
			SecretKey:  cfg.Minio.SecretKey,
			UseSSL:     cfg.Minio.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		images = store
		checkers["images"] = store
		log.Info("image uploads enabled", "bucket", cfg.Minio.BucketName)
	}

	clock := application.SystemClock{}
	base := &history.Service{
		Repo:            repo,
		Images:          images,
		Clock:           clock,
		Log:             log,
		FetchLimit:      cfg.History.FetchLimit,
		StatsFetchLimit: cfg.History.StatsFetchLimit,
	}
	var hist httpserver.HistoryService = base
	var invalidator analyze.Invalidator
	if cfg.Redis.Addr != "" {
		rc, err := cache.Connect(ctx, cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			log.Warn("stats cache disabled", "error", err)
		} else {
			cl.add(rc.Close)
			cached := history.NewCached(base, rc, cfg.Redis.StatsTTL, log)
			hist, invalidator = cached, cached
			checkers["cache"] = rc
			log.Info("stats cache enabled", "addr", cfg.Redis.Addr, "ttl", cached.TTL)
		}
	}

	an := &analyze.Service{
		Repo:       repo,
		Classifier: classifier.New(),
		Images:     images,
		Stats:      invalidator,
		Clock:      clock,
		Log:        log,
	}

	middleware.RegisterMetrics()
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Capacity > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	}

	handler := httpserver.NewRouter(hist, an, newVerifier(cfg, log), log, httpserver.Options{
		Mode:           cfg.Server.Mode,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		RateLimiter:    limiter,
		HealthCheckers: checkers,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", addr, "mode", cfg.Server.Mode, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error { return limiter.Run(gctx, 5*time.Minute, 10*time.Minute) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// openStore never fails: a store that cannot be configured is replaced by one
// that reports ErrStoreUnavailable on every call.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger, cl *closers) analysis.Repository {
	down := func(reason string, err error) analysis.Repository {
		log.Error("record store unavailable", "driver", cfg.Store.Driver, "reason", reason, "error", err)
		return unavailable.Repository{Reason: reason}
	}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory record store, data is lost on restart")
		return memory.NewAnalysisRepository()

	case config.DriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			return down("firestore project id not configured", nil)
		}
		client, err := firestorerepo.Connect(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
		if err != nil {
			return down("firestore connect failed", err)
		}
		cl.add(client.Close)
		return firestorerepo.NewAnalysisRepository(client, cfg.Firestore.Collection)

	case config.DriverPostgres:
		db, err := pgrepo.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return down("postgres connect failed", err)
		}
		cl.add(db.Close)
		repo := pgrepo.NewAnalysisRepository(db)
		if cfg.Store.Migrate {
			if err := repo.Migrate(ctx); err != nil {
				return down("postgres migrate failed", err)
			}
		}
		return repo

	case config.DriverMySQL:
		db, err := mysqlrepo.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return down("mysql connect failed", err)
		}
		cl.add(db.Close)
		repo := mysqlrepo.NewAnalysisRepository(db)
		if cfg.Store.Migrate {
			if err := repo.Migrate(ctx); err != nil {
				return down("mysql migrate failed", err)
			}
		}
		return repo
	}
	return down("unknown store driver", nil)
}

func newVerifier(cfg *config.Config, log *logger.Logger) analysis.TokenVerifier {
	switch cfg.Auth.Mode {
	case config.AuthHMAC:
		v, err := auth.NewHMACVerifier(cfg.Auth.HMACSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err == nil {
			log.Warn("using shared-secret token verification, not for production")
			return v
		}
		log.Error("hmac verifier unavailable", "error", err)
		return auth.Deny{Reason: err.Error()}
	default:
		v, err := auth.NewFirebaseVerifier(cfg.AuthProjectID(), &http.Client{Timeout: 10 * time.Second})
		if err == nil {
			return v
		}
		log.Error("firebase verifier unavailable", "error", err)
		return auth.Deny{Reason: err.Error()}
	}
}
