package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"humanebanque/crypto"
)

// ErrPathRequired is returned when the sample store DSN is missing.
var ErrPathRequired = errors.New("pricing: sample store path must be configured")

// SQLStore keeps price samples in a sqlite database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens the sample database using a sqlite-compatible DSN.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSample persists a spot observation.
func (s *SQLStore) RecordSample(ctx context.Context, sample Sample) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if sample.Value == nil {
		return fmt.Errorf("sample missing value")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO price_samples(asset, source, value, observed_at)
        VALUES(?, ?, ?, ?)
    `, sample.Asset.String(), strings.ToLower(sample.Source), sample.Value.String(), sample.ObservedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Samples returns observations for asset recorded at or after since, oldest
// first.
func (s *SQLStore) Samples(ctx context.Context, asset crypto.Address, since time.Time) ([]Sample, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT source, value, observed_at FROM price_samples
        WHERE asset = ? AND observed_at >= ?
        ORDER BY observed_at ASC, id ASC
    `, asset.String(), since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var (
			source   string
			raw      string
			observed int64
		)
		if err := rows.Scan(&source, &raw, &observed); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		value, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("decode sample value %q", raw)
		}
		out = append(out, Sample{Asset: asset, Value: value, Source: source, ObservedAt: time.Unix(observed, 0).UTC()})
	}
	return out, rows.Err()
}

const schema = `
CREATE TABLE IF NOT EXISTS price_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    asset TEXT NOT NULL,
    source TEXT NOT NULL,
    value TEXT NOT NULL,
    observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_samples_asset_ts ON price_samples(asset, observed_at);
`
