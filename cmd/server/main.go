package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/nurture-engine/internal/ai"
	"github.com/ignite/nurture-engine/internal/api"
	"github.com/ignite/nurture-engine/internal/archive"
	"github.com/ignite/nurture-engine/internal/config"
	"github.com/ignite/nurture-engine/internal/content"
	"github.com/ignite/nurture-engine/internal/enrich"
	"github.com/ignite/nurture-engine/internal/notify"
	"github.com/ignite/nurture-engine/internal/pkg/distlock"
	"github.com/ignite/nurture-engine/internal/repository/postgres"
	"github.com/ignite/nurture-engine/internal/rooms"
	"github.com/ignite/nurture-engine/internal/scoring"
	"github.com/ignite/nurture-engine/internal/service/lifecycle"
	"github.com/ignite/nurture-engine/internal/service/sequence"
	"github.com/ignite/nurture-engine/internal/warehouse"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// scoreStore joins the repositories behind the on-demand scoring endpoint:
// visitor/prospect access from the lifecycle repo, transition logging from
// the threshold repo.
type scoreStore struct {
	*postgres.LifecycleRepo
	*postgres.ThresholdRepo
}

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Nurture Engine API Server (cmd/server/main.go)            ║")
	log.Println("║  Visitor scoring, room routing, and email sequences        ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL: the one hard dependency. A failed ping is a warning, not
	// a fatal; the health endpoint reports the outage while the pool
	// retries on demand.
	if cfg.Database.URL == "" {
		log.Fatal("No database configured: set database.url in config or DATABASE_URL")
	}
	log.Printf("DB URL host portion: ...@%s/...", extractHost(cfg.Database.URL))
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Printf("Warning: database ping failed: %v — continuing, health checks will report it", err)
	} else {
		log.Println("PostgreSQL connected")
	}
	pingCancel()

	// Redis is optional: it backs the distributed job lock, the threshold
	// cache, the AI rate limiter, and enrichment caching. Without it the
	// same features fall back to in-process/PG behavior.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks and in-process caches", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — using PG advisory locks and in-process caches")
	}

	// Repositories
	lifecycleRepo := postgres.NewLifecycleRepo(db)
	thresholdRepo := postgres.NewThresholdRepo(db)
	ruleRepo := postgres.NewRuleRepo(db)
	sequenceRepo := postgres.NewSequenceRepo(db)
	settingsRepo := postgres.NewSettingsRepo(db, cfg.AI.Settings())

	// AI writer: Gemini is built per call from stored settings, Bedrock once
	// here when AWS credentials are configured.
	var bedrock ai.Provider
	if cfg.AI.Provider == "bedrock" || cfg.AI.Bedrock.AccessKey != "" {
		bp, err := ai.NewBedrockProvider(ctx, cfg.AI.Bedrock.Region, cfg.AI.Bedrock.ModelID,
			cfg.AI.Bedrock.AccessKey, cfg.AI.Bedrock.SecretKey)
		if err != nil {
			log.Printf("Warning: Bedrock provider init failed: %v", err)
		} else {
			bedrock = bp
			log.Printf("Bedrock provider initialized (model: %s, region: %s)", cfg.AI.Bedrock.ModelID, cfg.AI.Bedrock.Region)
		}
	}
	writer := ai.NewWriter(settingsRepo, ai.NewRateLimiter(redisClient), ai.WriterOptions{
		GeminiBaseURL: cfg.AI.Gemini.BaseURL,
		Timeout:       cfg.AI.Timeout(),
		Bedrock:       bedrock,
	})

	// Email sequence service
	if cfg.Tracking.PublicBaseURL == "" {
		log.Println("Warning: tracking.public_base_url not set — open-tracking pixel URLs will be relative and most email clients will not load them")
	}
	library := content.NewLibrary()
	sequenceService := sequence.NewService(sequenceRepo, writer, library, cfg.Tracking.PublicBaseURL)

	// Scoring engine and room resolver
	engine := scoring.NewEngine(ruleRepo)
	resolver := rooms.NewResolver(thresholdRepo, redisClient)

	// Enrichment is optional; new prospects are verified and enriched when
	// credentials are configured.
	var enricher lifecycle.Enricher
	if cfg.Enrichment.Enabled && cfg.Enrichment.APIKey != "" && cfg.Enrichment.BaseURL != "" {
		enricher = enrich.NewClient(cfg.Enrichment.BaseURL, cfg.Enrichment.APIKey, cfg.Enrichment.Timeout(), redisClient)
		log.Printf("Enrichment client initialized (%s)", cfg.Enrichment.BaseURL)
	} else {
		log.Println("Enrichment not configured (disabled or missing credentials)")
	}

	// Lifecycle job service, single-flight across hosts via the lock.
	jobLock := distlock.New(redisClient, db, "nightly-lifecycle", cfg.Job.LockTTL())
	lifecycleService := lifecycle.NewService(lifecycleRepo, engine, resolver, thresholdRepo, lifecycle.Options{
		Enricher:        enricher,
		Lock:            jobLock,
		StaleScoreAfter: cfg.Job.StaleScoreAfter(),
	})

	// HTTP handlers
	handlers := api.NewHandlers(sequenceService, lifecycleService, settingsRepo, writer)
	handlers.SetConfig(cfg)
	handlers.SetScoring(engine, resolver, scoreStore{lifecycleRepo, thresholdRepo}, sequenceRepo)

	// Snowflake firmographics sync (manual trigger via POST /jobs/sync-warehouse)
	if cfg.Snowflake.Enabled {
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
			log.Printf("Warning: Snowflake syncer init failed: %v", err)
		} else {
			handlers.SetWarehouseSyncer(syncer)
			log.Printf("Snowflake warehouse sync enabled (view: %s.%s.%s)",
				cfg.Snowflake.Database, cfg.Snowflake.Schema, cfg.Snowflake.View)
		}
	} else {
		log.Println("Snowflake integration not configured (disabled or missing credentials)")
	}

	// Post-run report sinks: S3 archive and SES digest, each optional.
	var archiver api.ReportArchiver
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket != "" {
		a, err := archive.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			log.Printf("Warning: S3 archiver init failed: %v", err)
		} else {
			archiver = a
			log.Printf("Report archive enabled (bucket: %s)", cfg.Archive.S3Bucket)
		}
	} else {
		log.Println("Report archive not configured")
	}
	var notifier api.ReportNotifier
	if cfg.Notify.Enabled && len(cfg.Notify.Recipients) > 0 {
		n, err := notify.NewDigest(ctx, cfg.Notify)
		if err != nil {
			log.Printf("Warning: SES digest init failed: %v", err)
		} else {
			notifier = n
			log.Printf("Run digest emails enabled (%d recipient(s))", len(cfg.Notify.Recipients))
		}
	} else {
		log.Println("Run digest emails not configured")
	}
	handlers.SetReportPublishers(archiver, notifier)

	// Health checks cover the DB and Redis with latency thresholds.
	healthChecker := api.NewHealthChecker(db, redisClient)

	server := api.NewServer(cfg.Server, handlers, healthChecker)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Cancel background work
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if redisClient != nil {
		redisClient.Close()
	}
	db.Close()

	log.Println("Server stopped")
}
