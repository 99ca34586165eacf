package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"imovirtual-scraper/models"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 2
	connMaxLifetime = 5 * time.Minute
	pingTimeout     = 5 * time.Second
	pingAttempts    = 10
)

// upsertQuery deduplicates by URL: re-scraping a listing refreshes its
// fields and scraped_at instead of creating a second row.
const upsertQuery = `
	INSERT INTO properties
		(title, price, raw_location, distrito, concelho, freguesia, area_m2, room_count, url, scraped_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	ON CONFLICT (url) DO UPDATE SET
		title        = EXCLUDED.title,
		price        = EXCLUDED.price,
		raw_location = EXCLUDED.raw_location,
		distrito     = EXCLUDED.distrito,
		concelho     = EXCLUDED.concelho,
		freguesia    = EXCLUDED.freguesia,
		area_m2      = EXCLUDED.area_m2,
		room_count   = EXCLUDED.room_count,
		scraped_at   = NOW()`

// PostgresStore persists listings to PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a connection pool, waits for the database to come
// up, runs the schema migration and returns a ready-to-use store.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	for i := 0; i < pingAttempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection, skipping the
// migration. Used by tests.
func NewPostgresStoreWithDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS properties (
			id           SERIAL PRIMARY KEY,
			title        TEXT        NOT NULL,
			price        BIGINT,
			raw_location TEXT        NOT NULL DEFAULT '',
			distrito     TEXT,
			concelho     TEXT,
			freguesia    TEXT,
			area_m2      DOUBLE PRECISION,
			room_count   INT,
			url          TEXT UNIQUE NOT NULL,
			scraped_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_properties_price     ON properties(price);
		CREATE INDEX IF NOT EXISTS idx_properties_area      ON properties(area_m2);
		CREATE INDEX IF NOT EXISTS idx_properties_distrito  ON properties(distrito);
		CREATE INDEX IF NOT EXISTS idx_properties_concelho  ON properties(concelho);
		CREATE INDEX IF NOT EXISTS idx_properties_freguesia ON properties(freguesia);

		CREATE OR REPLACE VIEW location_price_stats AS
		SELECT distrito,
		       concelho,
		       freguesia,
		       COUNT(*)                            AS listing_count,
		       AVG(price)                          AS avg_price,
		       AVG(price / NULLIF(area_m2, 0))     AS avg_price_per_m2
		FROM properties
		GROUP BY distrito, concelho, freguesia;
	`)
	return err
}

// UpsertBatch writes one page's listings inside a single transaction so a
// page is either fully persisted or not at all, matching the
// checkpoint-after-write ordering the orchestrator relies on.
func (s *PostgresStore) UpsertBatch(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	for _, l := range listings {
		if l.URL == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertQuery,
			l.Title, l.Price, l.RawLocation,
			l.Distrito, l.Concelho, l.Freguesia,
			l.AreaM2, l.RoomCount, l.URL,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("postgres: upsert %s: %w", l.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// FetchAll retrieves all stored listings — used by the insight service.
func (s *PostgresStore) FetchAll(ctx context.Context) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, price, raw_location, distrito, concelho, freguesia,
		       area_m2, room_count, url, scraped_at
		FROM properties
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(
			&l.ID, &l.Title, &l.Price, &l.RawLocation,
			&l.Distrito, &l.Concelho, &l.Freguesia,
			&l.AreaM2, &l.RoomCount, &l.URL, &l.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
