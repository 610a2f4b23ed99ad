package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bookshopbot/internal/ratelimit"
	"bookshopbot/internal/servicetoken"
	"bookshopbot/internal/util"
	"bookshopbot/pkg/events"
	"bookshopbot/pkg/queue"
	"bookshopbot/pkg/storage"
	"bookshopbot/pkg/store"
	"bookshopbot/services/bot/internal/app"
	"bookshopbot/services/bot/internal/backup"
	"bookshopbot/services/bot/internal/config"
	"bookshopbot/services/bot/internal/export"
	"bookshopbot/services/bot/internal/scraper"
	"bookshopbot/services/bot/internal/server"
	"bookshopbot/services/bot/internal/telegram"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, taskCooldown, pollTimeout, err := cfg.Durations()
	if err != nil {
		util.Fatal("invalid durations", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		util.Fatal("redis unavailable", "addr", cfg.RedisAddr, "err", err)
	}

	sessions, err := app.NewRedisSessionStore(rdb, "bookshop:session")
	if err != nil {
		util.Fatal("failed to init sessions", "err", err)
	}
	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   "bookshop:tasks",
		Group:    "bot",
	})
	if err != nil {
		util.Fatal("failed to init task queue", "err", err)
	}
	defer jobs.Close()

	throttle, err := ratelimit.NewFixedWindowLimiter(rdb, "bookshop:launch", 1, taskCooldown)
	if err != nil {
		util.Fatal("failed to init launch throttle", "err", err)
	}
	var userLimiter app.Throttle
	if cfg.UserRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(rdb, "bookshop:user", cfg.UserRateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init user limiter", "err", err)
		}
		userLimiter = limiter
	}

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		util.Fatal("failed to init object storage", "backend", cfg.StorageBackend, "err", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			util.Fatal("failed to connect to amqp", "err", err)
		}
		publisher = amqpPub
	}
	defer publisher.Close()

	results := make(chan app.TaskResult, 16)
	worker := app.NewTaskWorker(results)
	if err := registerTasks(worker, cfg, db, objects); err != nil {
		util.Fatal("failed to init background tasks", "err", err)
	}
	launcher := app.NewLauncher(jobs, throttle)

	tg := telegram.NewClient(nil, cfg.TelegramBaseURL, cfg.TelegramToken)
	bot, err := app.New(app.Config{
		Store:       db,
		Transport:   telegram.NewTransport(tg),
		Sessions:    sessions,
		SessionTTL:  sessionTTL,
		Launcher:    launcher,
		Publisher:   publisher,
		AdminIDs:    cfg.AdminIDs,
		PageSize:    cfg.PageSize,
		UserLimiter: userLimiter,
	})
	if err != nil {
		util.Fatal("failed to init bot", "err", err)
	}

	verifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		PublicKeyPath:      cfg.OpsJWTPublicKeyPath,
		VerifyPublicKeyMap: cfg.OpsJWTVerifyPublicKeys,
		DefaultKeyID:       cfg.OpsJWTKeyID,
		AllowedIssuers:     cfg.OpsJWTAllowedIssuers,
	})
	if err != nil {
		util.Fatal("failed to init ops token verifier", "err", err)
	}
	opsServer, err := server.New(server.Config{Launcher: launcher, Jobs: jobs, Verifier: verifier})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      opsServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("ops server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	jobs.Start(ctx, cfg.TaskConcurrency, worker.Handle)

	inbound := make(chan app.Event, 64)
	go func() {
		if err := telegram.NewPoller(tg, pollTimeout, 0).Run(ctx, inbound); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", "err", err)
			stop()
		}
	}()

	slog.Info("bot started", "admins", len(cfg.AdminIDs), "storage", cfg.StorageBackend)
	if err := bot.Run(ctx, inbound, results); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	slog.Info("bot stopped")
}

func openObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "minio":
		return storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
	default:
		return storage.NewFileStore(filepath.Join(cfg.DataDir, "objects"))
	}
}

func registerTasks(worker *app.TaskWorker, cfg config.FileConfig, db store.Store, objects storage.ObjectStore) error {
	scr, err := scraper.New(scraper.NewClient(nil, cfg.OpenLibraryURL), db, scraper.Config{
		Subject: cfg.ScrapeSubject,
		Total:   cfg.ScrapeTotal,
		Batch:   cfg.ScrapeBatch,
	})
	if err != nil {
		return err
	}
	worker.Register(app.TaskScrape, func(ctx context.Context, _ queue.Job) (app.Outcome, error) {
		stats, err := scr.Run(ctx)
		return app.Outcome{Summary: stats.String()}, err
	})

	bk, err := backup.New(backup.Config{
		PgDumpPath:  cfg.PgDumpPath,
		DatabaseURL: cfg.DatabaseURL,
		Dir:         filepath.Join(cfg.DataDir, "backups"),
		Retention:   cfg.BackupRetention(),
	}, objects)
	if err != nil {
		return err
	}
	worker.Register(app.TaskBackup, func(ctx context.Context, _ queue.Job) (app.Outcome, error) {
		res, err := bk.Run(ctx)
		if err != nil {
			return app.Outcome{}, err
		}
		return app.Outcome{Summary: res.Summary()}, nil
	})

	exp, err := export.New(db, objects, filepath.Join(cfg.DataDir, "exports"))
	if err != nil {
		return err
	}
	exportTask := func(format export.Format) app.TaskFunc {
		return func(ctx context.Context, _ queue.Job) (app.Outcome, error) {
			res, err := exp.Export(ctx, format)
			if err != nil {
				return app.Outcome{}, err
			}
			docs := make([]app.Document, 0, len(res.Artifacts))
			for _, a := range res.Artifacts {
				docs = append(docs, app.Document{Path: a.Path, Name: a.Name, Temporary: true})
			}
			return app.Outcome{Summary: res.Summary(), Documents: docs}, nil
		}
	}
	worker.Register(app.TaskExportExcel, exportTask(export.FormatExcel))
	worker.Register(app.TaskExportCSV, exportTask(export.FormatCSV))
	return nil
}
