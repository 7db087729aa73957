package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tidewater.systems/callintake/internal/analysis"
	"tidewater.systems/callintake/internal/application"
	"tidewater.systems/callintake/internal/blob"
	"tidewater.systems/callintake/internal/bulkimport"
	"tidewater.systems/callintake/internal/config"
	"tidewater.systems/callintake/internal/db"
	"tidewater.systems/callintake/internal/discovery"
	"tidewater.systems/callintake/internal/pipeline"
	"tidewater.systems/callintake/internal/transcribe"
	"tidewater.systems/callintake/pkg/audioconv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting importer service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()
	store := dbc.Store()

	blobs, err := blob.New(conf.SpoolDir, conf.SigningSecret, conf.PublicBaseURL)
	if err != nil {
		slog.Error("failed to open blob store", "dir", conf.SpoolDir, "error", err)
		os.Exit(1)
	}

	// Recover jobs orphaned in a non-terminal stage by a previous instance.
	slog.Info("Recovering stuck import jobs from previous service instances")
	if n, err := store.RecoverStuckJobs(ctx); err != nil {
		slog.Error("failed to recover stuck import jobs", "error", err)
		// Non-fatal - continue startup
	} else if n > 0 {
		slog.Info("recovered stuck import jobs", "count", n)
	}

	coord := pipeline.New(
		store,
		discovery.NewClient(),
		blobs,
		audioconv.New(),
		transcribe.NewClient(conf.TranscribeURL),
		analysis.NewClient(conf.AnalysisURL),
		pipeline.Options{
			FileWorkers:  conf.FileWorkers,
			StageTimeout: time.Duration(conf.StageTimeoutSeconds) * time.Second,
		},
	)

	jobWake := make(chan struct{}, 1)
	retryWake := make(chan struct{}, 1)
	go listenAndSignal(ctx, conf.DatabaseDSN, db.ImportJobsChannel, jobWake)
	go listenAndSignal(ctx, conf.DatabaseDSN, db.RetranscribeChannel, retryWake)

	slog.Info("Importer workers started", "workers", conf.ImportWorkers)
	for i := 0; i < conf.ImportWorkers; i++ {
		go importWorker(ctx, store, coord, jobWake)
	}
	go retranscribeWorker(ctx, store, coord, retryWake)

	<-ctx.Done()
	slog.Info("Importer service stopping")
}

func importWorker(ctx context.Context, store bulkimport.Store, coord *pipeline.Coordinator, wake <-chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Drain as many jobs as we can
		for {
			job, err := store.DequeuePendingJob(ctx)
			if err != nil {
				if errors.Is(err, bulkimport.ErrNotFound) {
					break
				}
				slog.Error("failed to dequeue import job", "error", err)
				time.Sleep(2 * time.Second)
				break
			}

			if err := coord.RunJob(ctx, job); err != nil {
				slog.Error("import job failed", "job_id", job.ID, "error", err)
				_ = store.FailJob(ctx, job.ID, err.Error())
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
			// new job notification
		case <-time.After(5 * time.Second):
			// periodic poll
		}
	}
}

func retranscribeWorker(ctx context.Context, store bulkimport.Store, coord *pipeline.Coordinator, wake <-chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		for {
			rec, err := store.DequeueRetranscribe(ctx)
			if err != nil {
				if errors.Is(err, bulkimport.ErrNotFound) {
					break
				}
				slog.Error("failed to dequeue retranscribe request", "error", err)
				time.Sleep(2 * time.Second)
				break
			}

			if err := coord.RunRetranscribe(ctx, rec); err != nil {
				slog.Error("retranscribe failed", "call_record_id", rec.ID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(5 * time.Second):
		}
	}
}

func listenAndSignal(ctx context.Context, dsn string, channel string, signalCh chan<- struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Parse using pgxpool so pool_* DSN params are consumed client-side
		// (otherwise they get forwarded to Postgres as startup params and cause FATAL).
		poolConf, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			slog.Error("listen parse config failed", "channel", channel, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		conn, err := pgx.ConnectConfig(ctx, poolConf.ConnConfig)
		if err != nil {
			slog.Error("listen connect failed", "channel", channel, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		if err := db.Listen(ctx, conn, channel); err != nil {
			slog.Error("LISTEN failed", "channel", channel, "error", err)
			_ = conn.Close(ctx)
			time.Sleep(2 * time.Second)
			continue
		}

		for {
			if ctx.Err() != nil {
				_ = conn.Close(ctx)
				return
			}

			err := conn.PgConn().WaitForNotification(ctx)
			if err != nil {
				slog.Error("wait for notification failed", "channel", channel, "error", err)
				_ = conn.Close(ctx)
				break
			}

			select {
			case signalCh <- struct{}{}:
			default:
			}
		}
	}
}
