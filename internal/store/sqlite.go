// Package store persists accepted contracts and their premium history to
// SQLite in WAL mode. Writes go through a single serializable transaction per
// call; nothing here ever mutates or deletes a previously inserted contract
// row.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"

	"optionsengine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	side         TEXT    NOT NULL,
	strike_cents INTEGER NOT NULL,
	quantity     TEXT    NOT NULL,
	expires_at   INTEGER NOT NULL,
	premium      TEXT    NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contracts_expires_at ON contracts(expires_at);
CREATE INDEX IF NOT EXISTS idx_contracts_created_at ON contracts(created_at);

CREATE TABLE IF NOT EXISTS premium_history (
	product_key  TEXT    NOT NULL,
	side         TEXT    NOT NULL,
	strike_cents INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	premium      TEXT    NOT NULL,
	timestamp    INTEGER NOT NULL,
	PRIMARY KEY (product_key, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_premium_history_product_ts ON premium_history(product_key, timestamp);
`

// Store is the durable contract and premium-history repository.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dbPath, enables
// WAL mode, and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertContract persists an accepted contract and returns it with its
// assigned ID.
func (s *Store) InsertContract(ctx context.Context, c domain.Contract) (domain.Contract, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Contract{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	strikeCents := c.Strike.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO contracts (side, strike_cents, quantity, expires_at, premium, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(c.Side), strikeCents, c.Quantity.String(), c.ExpiresAt.Unix(), c.Premium.String(), c.CreatedAt.Unix(),
	)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("insert contract: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Contract{}, fmt.Errorf("read inserted id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Contract{}, fmt.Errorf("commit: %w", err)
	}

	c.ID = id
	return c, nil
}

// ActiveContracts returns all contracts with expires_at > now.
func (s *Store) ActiveContracts(ctx context.Context, now time.Time) (domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, side, strike_cents, quantity, expires_at, premium, created_at FROM contracts WHERE expires_at > ?`,
		now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query active contracts: %w", err)
	}
	defer rows.Close()

	return scanContracts(rows)
}

// ContractsCreatedSince returns all contracts with created_at >= since.
func (s *Store) ContractsCreatedSince(ctx context.Context, since time.Time) (domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, side, strike_cents, quantity, expires_at, premium, created_at FROM contracts WHERE created_at >= ?`,
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query contracts created since: %w", err)
	}
	defer rows.Close()

	return scanContracts(rows)
}

func scanContracts(rows *sql.Rows) (domain.Portfolio, error) {
	var out domain.Portfolio
	for rows.Next() {
		var (
			id          int64
			side        string
			strikeCents int64
			quantityStr string
			expiresAt   int64
			premiumStr  string
			createdAt   int64
		)
		if err := rows.Scan(&id, &side, &strikeCents, &quantityStr, &expiresAt, &premiumStr, &createdAt); err != nil {
			return nil, fmt.Errorf("scan contract row: %w", err)
		}
		quantity, err := decimal.NewFromString(quantityStr)
		if err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		premium, err := decimal.NewFromString(premiumStr)
		if err != nil {
			return nil, fmt.Errorf("parse premium: %w", err)
		}
		out = append(out, domain.Contract{
			ID:        id,
			Side:      domain.Side(side),
			Strike:    decimal.NewFromInt(strikeCents).Div(decimal.NewFromInt(100)),
			Quantity:  quantity,
			ExpiresAt: time.Unix(expiresAt, 0),
			Premium:   premium,
			CreatedAt: time.Unix(createdAt, 0),
		})
	}
	return out, rows.Err()
}

// AppendPremium records an observed premium for a product at a point in
// time. A repeated observation at the same (productKey, timestamp) is
// silently ignored.
func (s *Store) AppendPremium(ctx context.Context, entry domain.PremiumHistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO premium_history (product_key, side, strike_cents, expires_at, premium, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ProductKey, string(entry.Side), entry.StrikeCents, entry.ExpiresAt.Unix(), entry.Premium.String(), entry.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append premium: %w", err)
	}
	return nil
}

// PremiumAtOrBefore returns the most recent premium observation for a
// product at or before the given timestamp, if any.
func (s *Store) PremiumAtOrBefore(ctx context.Context, productKey string, at time.Time) (decimal.Decimal, bool, error) {
	var premiumStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT premium FROM premium_history WHERE product_key = ? AND timestamp <= ? ORDER BY timestamp DESC LIMIT 1`,
		productKey, at.Unix(),
	).Scan(&premiumStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query premium history: %w", err)
	}
	premium, err := decimal.NewFromString(premiumStr)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse premium: %w", err)
	}
	return premium, true, nil
}
