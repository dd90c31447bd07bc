package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
)

// ListingStore persists managed listings in SQLite. It seeds the quote
// engine at startup and durably records every successful price update.
type ListingStore struct {
	db *sql.DB
}

// NewListingStore opens the database with WAL mode enabled and bootstraps
// the schema.
func NewListingStore(dbPath string) (*ListingStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			adv_no           TEXT PRIMARY KEY,
			account          TEXT NOT NULL,
			asset            TEXT NOT NULL,
			fiat             TEXT NOT NULL,
			grp              TEXT NOT NULL,
			side             TEXT NOT NULL,
			target_spot      INTEGER NOT NULL,
			floating_ratio   TEXT NOT NULL,
			price            TEXT NOT NULL,
			surplus_amount   TEXT NOT NULL DEFAULT '0',
			trans_amount     TEXT NOT NULL DEFAULT '0',
			min_trans_amount TEXT NOT NULL DEFAULT '0',
			pay_types        TEXT NOT NULL DEFAULT '',
			updated_at       INTEGER NOT NULL DEFAULT (unixepoch())
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create listings table: %w", err)
	}

	return &ListingStore{db: db}, nil
}

// LoadListings returns the listings for one side, or all listings when
// side is empty.
func (s *ListingStore) LoadListings(ctx context.Context, side domain.Side) ([]*domain.Listing, error) {
	query := `SELECT adv_no, account, asset, fiat, grp, side, target_spot,
		floating_ratio, price, surplus_amount, trans_amount, min_trans_amount, pay_types
		FROM listings`
	args := []any{}
	if side != "" {
		query += " WHERE side = ?"
		args = append(args, string(side))
	}
	query += " ORDER BY adv_no ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return listings, nil
}

// SaveListing upserts one listing.
func (s *ListingStore) SaveListing(ctx context.Context, l *domain.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (adv_no, account, asset, fiat, grp, side, target_spot,
			floating_ratio, price, surplus_amount, trans_amount, min_trans_amount, pay_types, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch())
		ON CONFLICT(adv_no) DO UPDATE SET
			account=excluded.account, asset=excluded.asset, fiat=excluded.fiat,
			grp=excluded.grp, side=excluded.side, target_spot=excluded.target_spot,
			floating_ratio=excluded.floating_ratio, price=excluded.price,
			surplus_amount=excluded.surplus_amount, trans_amount=excluded.trans_amount,
			min_trans_amount=excluded.min_trans_amount, pay_types=excluded.pay_types,
			updated_at=excluded.updated_at`,
		l.AdvNo, l.Account, l.Asset, l.Fiat, l.Group, string(l.Side), l.TargetSpot,
		l.FloatingRatio.String(), l.Price.String(), l.SurplusAmount.String(),
		l.TransAmount.String(), l.MinTransAmount.String(), strings.Join(l.PayTypes, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", l.AdvNo, err)
	}
	return nil
}

// Close closes the database connection.
func (s *ListingStore) Close() error {
	return s.db.Close()
}

func scanListing(rows *sql.Rows) (*domain.Listing, error) {
	var (
		l                                      domain.Listing
		side                                   string
		ratio, price, surplus, trans, minTrans string
		payTypes                               string
	)
	if err := rows.Scan(&l.AdvNo, &l.Account, &l.Asset, &l.Fiat, &l.Group, &side,
		&l.TargetSpot, &ratio, &price, &surplus, &trans, &minTrans, &payTypes); err != nil {
		return nil, fmt.Errorf("failed to scan listing: %w", err)
	}
	l.Side = domain.Side(side)

	var err error
	if l.FloatingRatio, err = decimal.NewFromString(ratio); err != nil {
		return nil, fmt.Errorf("listing %s: bad floating_ratio %q: %w", l.AdvNo, ratio, err)
	}
	if l.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("listing %s: bad price %q: %w", l.AdvNo, price, err)
	}
	if l.SurplusAmount, err = decimal.NewFromString(surplus); err != nil {
		return nil, fmt.Errorf("listing %s: bad surplus_amount %q: %w", l.AdvNo, surplus, err)
	}
	if l.TransAmount, err = decimal.NewFromString(trans); err != nil {
		return nil, fmt.Errorf("listing %s: bad trans_amount %q: %w", l.AdvNo, trans, err)
	}
	if l.MinTransAmount, err = decimal.NewFromString(minTrans); err != nil {
		return nil, fmt.Errorf("listing %s: bad min_trans_amount %q: %w", l.AdvNo, minTrans, err)
	}
	if payTypes != "" {
		l.PayTypes = strings.Split(payTypes, ",")
	}
	return &l, nil
}
