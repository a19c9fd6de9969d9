package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/juju/clock"
	"github.com/klauspost/compress/gzip"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/V4T54L/hb-acquire/internal/adapter/api"
	"github.com/V4T54L/hb-acquire/internal/adapter/capture"
	"github.com/V4T54L/hb-acquire/internal/adapter/compress"
	"github.com/V4T54L/hb-acquire/internal/adapter/metrics"
	"github.com/V4T54L/hb-acquire/internal/adapter/parser"
	"github.com/V4T54L/hb-acquire/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/hb-acquire/internal/adapter/repository/redis"
	"github.com/V4T54L/hb-acquire/internal/adapter/repository/wal"
	"github.com/V4T54L/hb-acquire/internal/adapter/serial"
	"github.com/V4T54L/hb-acquire/internal/adapter/storage/s3"
	"github.com/V4T54L/hb-acquire/internal/domain"
	"github.com/V4T54L/hb-acquire/internal/pkg/affinity"
	"github.com/V4T54L/hb-acquire/internal/pkg/config"
	"github.com/V4T54L/hb-acquire/internal/pkg/logger"
	"github.com/V4T54L/hb-acquire/internal/usecase"
)

const (
	journalSegmentSize = 4 << 20
	callbackTimeout    = 5 * time.Second
	probeTimeout       = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	verbose := pflag.BoolP("verbose", "v", false, "log at debug level regardless of LOG_LEVEL")
	envFile := pflag.String("env-file", "", "load environment variables from this file")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	// --- Session and Logging ---
	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		slog.Error("failed to create root directory", "path", cfg.RootDir, "error", err)
		return 1
	}
	session := domain.NewSession(cfg.NodeID, cfg.Location, cfg.Operator, time.Now())

	console := logger.NewConsoleHandler(os.Stderr, logger.ParseLevel(cfg.LogLevel))
	log := slog.New(console)
	if sessionLog, err := logger.OpenSessionLog(cfg.RootDir, session.CaptureID.String()); err != nil {
		log.Warn("session log unavailable, logging to console only", "error", err)
	} else {
		defer sessionLog.Close()
		log = slog.New(logger.NewFanout(console, logger.NewFileHandler(sessionLog)))
	}
	slog.SetDefault(log)

	log.Info("starting acquisition", "capture_id", session.CaptureID, "node_id", session.NodeID, "root_dir", cfg.RootDir)
	if cfg.NodeID == "" {
		log.Warn("NODE_ID is not set, using placeholder", "node_id", domain.UnknownNodeID)
	}

	if cfg.CPUAffinity >= 0 {
		if err := affinity.Pin(cfg.CPUAffinity); err != nil {
			log.Warn("could not set cpu affinity", "cpu", cfg.CPUAffinity, "error", err)
		} else {
			log.Info("pinned to cpu", "cpu", cfg.CPUAffinity)
		}
	}

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewAcquireMetrics(reg)

	// --- Remote Storage ---
	store, err := s3.NewObjectStore(ctx, s3.Config{
		Endpoint:    cfg.S3Endpoint,
		Region:      cfg.S3Region,
		AccessKey:   cfg.S3AccessKey,
		SecretKey:   cfg.S3SecretKey,
		Bucket:      cfg.S3Bucket,
		UseSSL:      cfg.S3UseSSL,
		MaxAttempts: cfg.S3MaxAttempts,
	}, log)
	if err != nil {
		log.Error("failed to initialize object store", "error", err)
		return 1
	}
	probeCtx, cancelProbe := context.WithTimeout(ctx, probeTimeout)
	if err := store.ProbeBucket(probeCtx); err != nil {
		log.Warn("bucket not reachable yet, uploads will retry", "error", err)
	}
	cancelProbe()

	// --- Optional Catalog and Status Publisher ---
	var catalog domain.UploadCatalog
	if cfg.CatalogURL != "" {
		db, err := sql.Open("postgres", cfg.CatalogURL)
		if err != nil {
			log.Error("failed to open catalog database", "error", err)
			return 1
		}
		defer db.Close()
		pgCatalog := postgres.NewUploadCatalog(db, log)
		if err := pgCatalog.EnsureSchema(ctx); err != nil {
			log.Warn("could not prepare upload catalog, rows may be rejected", "error", err)
		}
		catalog = pgCatalog
	}

	var publisher domain.StatusPublisher
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			return 1
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("could not connect to redis, status publishing will retry", "error", err)
		}
		publisher = redisrepo.NewStatusPublisher(redisClient, 3*cfg.StatusInterval, log)
	}

	var compressor usecase.FileCompressor
	if cfg.UploadCompress {
		compressor = compress.NewGzip(gzip.DefaultCompression, log)
	}
	callback := usecase.NewCompletionCallback(catalog, compressor, callbackTimeout, log)

	// --- Upload Queue and Worker ---
	journal, err := wal.NewUploadJournal(cfg.UploadJournalDir, journalSegmentSize, log)
	if err != nil {
		log.Error("failed to open upload journal", "error", err)
		return 1
	}
	defer journal.Close()

	queue := usecase.NewUploadQueue(journal, m, log)
	if _, err := queue.Restore(ctx, callback); err != nil {
		log.Error("failed to restore pending uploads", "error", err)
	}

	var limiter *rate.Limiter
	if cfg.UploadRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.UploadRateLimit), cfg.UploadBurst)
	}
	worker := usecase.NewUploadWorker(queue, store, limiter, clock.WallClock, cfg.UploadPollInterval, m, log)

	// --- Device and Capture ---
	device := serial.NewDevice(serial.DeviceConfig{
		Name:        cfg.SerialPort,
		Backoff:     cfg.ReconnectBackoff,
		MaxFailures: cfg.MaxReconnectFailure,
	}, func(name string) (domain.LineSource, error) {
		return serial.OpenPort(name, cfg.SerialBaud, cfg.SerialReadTimeout)
	}, clock.WallClock, log)

	var connectedOnce atomic.Bool
	device.OnStateChange = func(s serial.State) {
		m.DeviceState.Set(float64(s))
		if s == serial.StateConnected && connectedOnce.Swap(true) {
			m.DeviceReconnects.Inc()
		}
	}

	writer, err := capture.NewWriter(cfg.RootDir, session, log)
	if err != nil {
		log.Error("failed to initialize capture writer", "error", err)
		return 1
	}

	state := domain.NewSessionState()
	loop := usecase.NewIngestLoop(usecase.IngestLoopDeps{
		Source:    device,
		Parse:     parser.Parse,
		Writer:    writer,
		Policy:    capture.RotationPolicy{Threshold: cfg.RotationLines},
		Uploader:  usecase.NewUploader(queue, worker, session, log),
		RemoteKey: capture.RemoteKey,
		Callback:  callback,
		Session:   session,
		State:     state,
		Metrics:   m,
	}, log)

	reporter := usecase.NewStatusReporter(usecase.StatusReporterDeps{
		Session:     session,
		State:       state,
		Queue:       queue,
		Worker:      worker,
		DeviceState: func() string { return device.State().String() },
		Publisher:   publisher,
		Clock:       clock.WallClock,
		Interval:    cfg.StatusInterval,
		Metrics:     m,
	}, log)

	// --- Admin Server ---
	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		adminServer = &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      api.NewAdminRouter(reporter, reg, log),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("starting admin server", "addr", adminServer.Addr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server failed", "error", err)
			}
		}()
	}

	// --- Start ---
	if err := loop.Start(); err != nil {
		log.Error("failed to open first capture file", "error", err)
		return 1
	}

	// The worker outlives ctx so the final drain can run after the signal.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()
	go reporter.Run(ctx)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("failed to notify readiness", "error", err)
	}
	log.Info("acquisition ready", "device", cfg.SerialPort, "rotation_lines", cfg.RotationLines)

	// --- Acquire until signal or fatal fault ---
	runErr := loop.Run(ctx)
	if runErr != nil {
		log.Log(context.Background(), logger.LevelCritical, "acquisition stopped by fatal fault", "error", runErr)
	}

	exitCode := 0
	if runErr != nil {
		exitCode = 1
	}
	if err := shutdown(cfg, log, loop, device, worker, stopWorker, workerDone, reporter, adminServer); err != nil {
		exitCode = 1
	}
	return exitCode
}

func shutdown(
	cfg *config.Config,
	log *slog.Logger,
	loop *usecase.IngestLoop,
	device *serial.Device,
	worker *usecase.UploadWorker,
	stopWorker context.CancelFunc,
	workerDone <-chan struct{},
	reporter *usecase.StatusReporter,
	adminServer *http.Server,
) error {
	log.Info("shutting down...")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("failed to notify stopping", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// 1. Stop reading and close the open file.
	var result error
	if err := loop.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to close capture file cleanly", "error", err)
		result = err
	}
	if err := device.Close(); err != nil {
		log.Warn("failed to close serial device", "error", err)
	}

	// 2. Stop the background worker and make a last, bounded pass over the queue.
	stopWorker()
	<-workerDone
	uploaded := worker.Drain(shutdownCtx)
	waitCallbacks(shutdownCtx, worker)

	final := reporter.Final(shutdownCtx)
	if final.QueueDepth > 0 {
		log.Warn("uploads pending at exit, they resume on next start", "pending", final.QueueDepth)
	}
	log.Info("final upload pass finished", "uploaded", uploaded)

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error("admin server shutdown failed", "error", err)
		}
	}

	log.Info("acquisition shut down")
	return result
}

func waitCallbacks(ctx context.Context, worker *usecase.UploadWorker) {
	done := make(chan struct{})
	go func() {
		worker.WaitCallbacks()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
