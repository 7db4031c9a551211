package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/nurture-engine/internal/archive"
	"github.com/ignite/nurture-engine/internal/config"
	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/enrich"
	"github.com/ignite/nurture-engine/internal/notify"
	"github.com/ignite/nurture-engine/internal/pkg/distlock"
	"github.com/ignite/nurture-engine/internal/repository/postgres"
	"github.com/ignite/nurture-engine/internal/rooms"
	"github.com/ignite/nurture-engine/internal/scoring"
	"github.com/ignite/nurture-engine/internal/service/lifecycle"
	"github.com/ignite/nurture-engine/internal/warehouse"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// cmd/nightly runs the lifecycle job once and exits. It is the cron
// entrypoint; the same job is reachable over HTTP via POST /jobs/run-nightly
// when an operator wants an ad-hoc run.
func main() {
	var (
		modeFlag      = flag.String("mode", "incremental", "job mode: incremental, full, or client")
		clientFlag    = flag.Int64("client", 0, "client ID (required for -mode=client)")
		configFlag    = flag.String("config", "config/config.yaml", "path to config file")
		syncFlag      = flag.Bool("sync-warehouse", false, "pull Snowflake firmographics before the run")
		timeoutFlag   = flag.Duration("timeout", 2*time.Hour, "abort the run after this long")
		noPublishFlag = flag.Bool("no-publish", false, "skip the S3 archive and SES digest")
	)
	flag.Parse()

	log.Println("Nurture Engine nightly job (cmd/nightly/main.go)")

	mode, err := domain.ParseJobMode(*modeFlag)
	if err != nil {
		log.Fatalf("Invalid -mode: %v", err)
	}
	var clientID *int64
	if *clientFlag != 0 {
		clientID = clientFlag
	}
	if mode == domain.JobClient && clientID == nil {
		log.Fatal("-mode=client requires -client")
	}

	cfg, err := config.LoadFromEnv(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Database.URL == "" {
		log.Fatal("No database configured: set database.url in config or DATABASE_URL")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	// A one-shot job cannot limp along without its database.
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis unavailable (%s): %v — using PG advisory lock", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		}
		pingCancel()
		defer func() {
			if redisClient != nil {
				redisClient.Close()
			}
		}()
	}

	// Ctrl-C aborts the run; the deferred cancel releases the lock path.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Printf("Received %v — aborting run", s)
		cancel()
	}()

	if *syncFlag {
		if !cfg.Snowflake.Enabled {
			log.Println("Warning: -sync-warehouse set but Snowflake is not configured — skipping")
		} else {
			syncer, err := warehouse.NewSyncer(warehouse.Config{
				Account:   cfg.Snowflake.Account,
				User:      cfg.Snowflake.User,
				Password:  cfg.Snowflake.Password,
				Database:  cfg.Snowflake.Database,
				Schema:    cfg.Snowflake.Schema,
				Warehouse: cfg.Snowflake.Warehouse,
				View:      cfg.Snowflake.View,
				Enabled:   cfg.Snowflake.Enabled,
			}, db)
			if err != nil {
				log.Fatalf("Snowflake syncer init failed: %v", err)
			}
			updated, err := syncer.SyncVisitors(ctx)
			if err != nil {
				log.Fatalf("Warehouse sync failed: %v", err)
			}
			log.Printf("Warehouse sync: %d visitor(s) updated", updated)
		}
	}

	lifecycleRepo := postgres.NewLifecycleRepo(db)
	thresholdRepo := postgres.NewThresholdRepo(db)
	ruleRepo := postgres.NewRuleRepo(db)

	var enricher lifecycle.Enricher
	if cfg.Enrichment.Enabled && cfg.Enrichment.APIKey != "" && cfg.Enrichment.BaseURL != "" {
		enricher = enrich.NewClient(cfg.Enrichment.BaseURL, cfg.Enrichment.APIKey, cfg.Enrichment.Timeout(), redisClient)
	}

	svc := lifecycle.NewService(
		lifecycleRepo,
		scoring.NewEngine(ruleRepo),
		rooms.NewResolver(thresholdRepo, redisClient),
		thresholdRepo,
		lifecycle.Options{
			Enricher:        enricher,
			Lock:            distlock.New(redisClient, db, "nightly-lifecycle", cfg.Job.LockTTL()),
			StaleScoreAfter: cfg.Job.StaleScoreAfter(),
		},
	)

	if clientID != nil {
		log.Printf("Starting run: mode=%s client=%d", mode, *clientID)
	} else {
		log.Printf("Starting run: mode=%s", mode)
	}
	report, err := svc.Run(ctx, mode, clientID)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	log.Printf("Run %s finished in %s", report.ID, time.Duration(report.DurationMS)*time.Millisecond)
	log.Printf("  match:     %d matched, %d skipped", report.Match.Matched, report.Match.Skipped)
	log.Printf("  scores:    %d scored, %d errors", report.Scores.Scored, report.Scores.Errors)
	log.Printf("  prospects: %d created, %d updated, %d skipped, %d errors",
		report.Prospects.Created, report.Prospects.Updated, report.Prospects.Skipped, report.Prospects.Errors)
	log.Printf("  rooms:     %d transitions, %d errors", report.Rooms.Transitions, report.Rooms.Errors)
	if report.Failed() {
		log.Printf("  error:     %s", report.Error)
	}

	if !*noPublishFlag {
		publishReport(ctx, cfg, report)
	}

	if report.Failed() {
		os.Exit(1)
	}
	fmt.Println("OK")
}

// publishReport mirrors the API server's post-run sinks: archive to S3,
// email the digest. Sink failures do not change the exit code — the run
// itself already finished and its stats are in job_runs.
func publishReport(ctx context.Context, cfg *config.Config, report *domain.RunReport) {
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket != "" {
		a, err := archive.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			log.Printf("S3 archiver init failed: %v", err)
		} else if err := a.StoreReport(ctx, report); err != nil {
			log.Printf("Archive run %s: %v", report.ID, err)
		} else {
			log.Printf("Report archived to s3://%s", cfg.Archive.S3Bucket)
		}
	}
	if cfg.Notify.Enabled && len(cfg.Notify.Recipients) > 0 {
		n, err := notify.NewDigest(ctx, cfg.Notify)
		if err != nil {
			log.Printf("SES digest init failed: %v", err)
		} else if err := n.SendRunDigest(ctx, report); err != nil {
			log.Printf("Digest for run %s: %v", report.ID, err)
		} else {
			log.Printf("Digest sent to %d recipient(s)", len(cfg.Notify.Recipients))
		}
	}
}
