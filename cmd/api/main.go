package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/audit"
	"github.com/mcclellann/vsla/pkg/blobstore"
	"github.com/mcclellann/vsla/pkg/config"
	"github.com/mcclellann/vsla/pkg/ledger"
	"github.com/mcclellann/vsla/pkg/logging"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// systemActor runs scheduled jobs.
var systemActor = models.Actor{MemberID: uuid.Nil, Role: models.RoleCompliance}

// scheduleJobs registers the reconciliation and interest accrual jobs.
// An empty reconcile schedule disables that job.
func scheduleJobs(l *ledger.Ledger, reconcileSpec string, logger *logrus.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))))

	if reconcileSpec != "" {
		if _, err := c.AddFunc(reconcileSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := l.Reconcile(ctx, systemActor); err != nil {
				logger.WithError(err).Error("Scheduled reconciliation failed")
			}
		}); err != nil {
			return nil, err
		}
	}

	if _, err := c.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		logger.Info("Running interest accrual...")
		n, err := l.AccrueInterest(ctx)
		if err != nil {
			logger.WithError(err).Error("Interest accrual failed")
			return
		}
		logger.WithField("loans", n).Info("Interest accrual complete")
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blobstore.Store, func(), error) {
	if cfg.BlobBackend == "gcs" {
		g, err := blobstore.NewGCSStore(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { g.Close() }, nil
	}
	f, err := blobstore.NewFileStore(cfg.BlobDir)
	if err != nil {
		return nil, nil, err
	}
	return f, func() {}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel)
	if cfg.JWTSecret == "" {
		logger.Fatal("VSLA_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize SQLite Store
	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	blobs, closeBlobs, err := openBlobs(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize blob store: %v", err)
	}
	defer closeBlobs()

	var sink audit.Sink = audit.NewLogSink(logger)
	if cfg.AuditBackend == "db" {
		dbSink, err := audit.NewDBSink(store.DSN(cfg.DBPath), 0, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize audit sink: %v", err)
		}
		defer dbSink.Close()
		sink = dbSink
	}

	l := ledger.NewLedger(sqliteStore, ledger.Options{
		Audit:             sink,
		Blobs:             blobs,
		Logger:            logger,
		UnratedMultiplier: cfg.UnratedMultiplier,
		AmountTolerance:   &cfg.AmountTolerance,
		BlobTimeout:       cfg.BlobTimeout,
	})

	jobs, err := scheduleJobs(l, cfg.ReconcileSchedule, logger)
	if err != nil {
		logger.Fatalf("Failed to schedule jobs: %v", err)
	}
	jobs.Start()
	defer func() { <-jobs.Stop().Done() }()

	server := NewServer(l, []byte(cfg.JWTSecret), logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Infof("Server starting on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Server stopped: %v", err)
	}
}
