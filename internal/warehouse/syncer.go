package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver
)

// Config holds Snowflake warehouse configuration
type Config struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	View      string `yaml:"view"`
	Enabled   bool   `yaml:"enabled"`
}

// CompanyRecord is one firmographic row from the warehouse view, keyed by
// the company's email domain.
type CompanyRecord struct {
	Domain      string  `json:"domain"`
	CompanyName string  `json:"company_name"`
	CompanySize int     `json:"company_size"`
	Industry    string  `json:"industry"`
	Revenue     float64 `json:"revenue"`
}

// Syncer pulls firmographic data from a Snowflake view and backfills the
// matching visitor rows in Postgres.
type Syncer struct {
	config Config
	db     *sql.DB // warehouse side
	pg     *sql.DB // visitors live here
}

// NewSyncer opens a Snowflake connection and returns a syncer writing into
// the given Postgres handle.
func NewSyncer(cfg Config, pg *sql.DB) (*Syncer, error) {
	// Build DSN (Data Source Name)
	// Format: user:password@account/database/schema?warehouse=xxx
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.User,
		cfg.Password,
		cfg.Account,
		cfg.Database,
		cfg.Schema,
	)

	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Syncer{
		config: cfg,
		db:     db,
		pg:     pg,
	}, nil
}

// NewSyncerFromDB wraps already-open handles. Used by tests and by callers
// that manage the warehouse connection themselves.
func NewSyncerFromDB(db, pg *sql.DB, view string) *Syncer {
	return &Syncer{
		config: Config{View: view},
		db:     db,
		pg:     pg,
	}
}

// Close closes the warehouse connection
func (s *Syncer) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping tests the warehouse connection
func (s *Syncer) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SyncVisitors reads the firmographics view and backfills every visitor
// whose email domain matches a record. Per-record failures are logged and
// skipped so one bad row never aborts the run. Returns the number of
// visitor rows updated.
func (s *Syncer) SyncVisitors(ctx context.Context) (int, error) {
	records, err := s.fetchCompanies(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	failed := 0
	for _, rec := range records {
		n, err := s.applyCompany(ctx, rec)
		if err != nil {
			log.Printf("[Warehouse] Update for domain %s failed: %v", rec.Domain, err)
			failed++
			continue
		}
		updated += n
	}

	log.Printf("[Warehouse] Sync complete: %d company records, %d visitors updated, %d failed",
		len(records), updated, failed)
	return updated, nil
}

// fetchCompanies reads the configured view. Rows without an email domain
// are filtered out warehouse-side.
func (s *Syncer) fetchCompanies(ctx context.Context) ([]CompanyRecord, error) {
	query := fmt.Sprintf(`
		SELECT
			LOWER(EMAIL_DOMAIN),
			COALESCE(COMPANY_NAME, ''),
			COALESCE(COMPANY_SIZE, 0),
			COALESCE(INDUSTRY, ''),
			COALESCE(ANNUAL_REVENUE, 0)
		FROM %s
		WHERE EMAIL_DOMAIN IS NOT NULL AND EMAIL_DOMAIN <> ''
	`, s.view())

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query firmographics view: %w", err)
	}
	defer rows.Close()

	var result []CompanyRecord
	for rows.Next() {
		var rec CompanyRecord
		if err := rows.Scan(&rec.Domain, &rec.CompanyName, &rec.CompanySize, &rec.Industry, &rec.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}

// applyCompany backfills visitors matching the record's domain. Only empty
// columns are filled, and rows that already carry a full profile are left
// untouched so their updated_at does not churn.
func (s *Syncer) applyCompany(ctx context.Context, rec CompanyRecord) (int, error) {
	res, err := s.pg.ExecContext(ctx, `
		UPDATE visitors SET
			company_name = CASE WHEN COALESCE(company_name,'') = '' THEN $1 ELSE company_name END,
			industry     = CASE WHEN COALESCE(industry,'') = '' THEN $2 ELSE industry END,
			company_size = CASE WHEN COALESCE(company_size,0) = 0 THEN $3 ELSE company_size END,
			revenue      = CASE WHEN COALESCE(revenue,0) = 0 THEN $4 ELSE revenue END,
			updated_at   = NOW()
		WHERE LOWER(SPLIT_PART(email, '@', 2)) = $5
		  AND archived_at IS NULL
		  AND (COALESCE(company_name,'') = '' OR COALESCE(industry,'') = ''
		       OR COALESCE(company_size,0) = 0 OR COALESCE(revenue,0) = 0)
	`, rec.CompanyName, rec.Industry, rec.CompanySize, rec.Revenue, rec.Domain)
	if err != nil {
		return 0, fmt.Errorf("failed to update visitors for %s: %w", rec.Domain, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Syncer) view() string {
	if s.config.View != "" {
		return s.config.View
	}
	return "VISITOR_COMPANIES"
}
