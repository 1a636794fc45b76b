// Package sqlstore keeps negotiations in a sqlite database
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/lib/sqlite"
)

var log = logging.Logger("negotiation-sqlstore")

// DefaultLeaseDuration is how long a lease lasts when not released
const DefaultLeaseDuration = time.Minute

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS negotiations (
		id TEXT PRIMARY KEY,
		correlation_id TEXT UNIQUE,
		counter_party_id TEXT NOT NULL,
		counter_party_address TEXT NOT NULL,
		protocol TEXT NOT NULL,
		type INTEGER NOT NULL,
		state INTEGER NOT NULL,
		state_count INTEGER NOT NULL,
		state_timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		offers TEXT NOT NULL,
		agreement TEXT,
		error_detail TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_attempt INTEGER NOT NULL DEFAULT 0,
		rounds INTEGER NOT NULL DEFAULT 0,
		lease_owner TEXT,
		lease_expires INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS negotiations_state_index ON negotiations (state, next_attempt)`,
}

// databases created before offer rounds were tracked
var migrations = []sqlite.MigrationFunc{
	func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "ALTER TABLE negotiations ADD COLUMN rounds INTEGER NOT NULL DEFAULT 0")
		return err
	},
}

const columns = `id, correlation_id, counter_party_id, counter_party_address, protocol, type,
	state, state_count, state_timestamp, created_at, offers, agreement, error_detail,
	retry_count, next_attempt, rounds`

// Store persists negotiations in sqlite
type Store struct {
	db            *sql.DB
	clock         clock.Clock
	leaseDuration time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for leases and retry delays
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLeaseDuration sets how long a lease is held before it can be reclaimed
func WithLeaseDuration(d time.Duration) Option {
	return func(s *Store) {
		s.leaseDuration = d
	}
}

// Open opens the database at path and brings its schema up to date
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New uses an already opened database
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	if err := sqlite.InitDb(ctx, "negotiations", db, ddl, migrations); err != nil {
		return nil, xerrors.Errorf("initializing negotiations database: %w", err)
	}
	s := &Store{
		db:            db,
		clock:         clock.New(),
		leaseDuration: DefaultLeaseDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

var _ cn.Store = (*Store)(nil)

func (s *Store) Find(ctx context.Context, id string) (*cn.ContractNegotiation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM negotiations WHERE id = ?", id)
	n, err := scanNegotiation(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.Errorf("negotiation %s: %w", id, cn.ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("getting negotiation %s: %w", id, err)
	}
	return n, nil
}

func (s *Store) FindForCorrelationID(ctx context.Context, correlationID string) (*cn.ContractNegotiation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM negotiations WHERE correlation_id = ?", correlationID)
	n, err := scanNegotiation(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.Errorf("negotiation with correlation id %s: %w", correlationID, cn.ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("getting negotiation for correlation id %s: %w", correlationID, err)
	}
	return n, nil
}

func (s *Store) Save(ctx context.Context, n *cn.ContractNegotiation) error {
	if n.ID == "" {
		return xerrors.New("cannot save a negotiation without id")
	}
	offers, err := json.Marshal(n.Offers)
	if err != nil {
		return xerrors.Errorf("encoding offers: %w", err)
	}
	var agreement sql.NullString
	if n.Agreement != nil {
		b, err := json.Marshal(n.Agreement)
		if err != nil {
			return xerrors.Errorf("encoding agreement: %w", err)
		}
		agreement = sql.NullString{String: string(b), Valid: true}
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			stored      uint64
			correlation sql.NullString
		)
		err := tx.QueryRowContext(ctx, "SELECT state_count, correlation_id FROM negotiations WHERE id = ?", n.ID).
			Scan(&stored, &correlation)
		switch {
		case err == sql.ErrNoRows:
			if n.StateCount != 0 {
				return xerrors.Errorf("negotiation %s: %w", n.ID, cn.ErrNotFound)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO negotiations (`+columns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				n.ID, nullString(n.CorrelationID), n.CounterPartyID, n.CounterPartyAddress, n.Protocol, n.Type,
				n.State, 1, unixNano(n.StateTimestamp), unixNano(n.CreatedAt), string(offers), agreement,
				n.ErrorDetail, n.RetryCount, unixNano(n.NextAttempt), n.Rounds)
			if err != nil {
				return xerrors.Errorf("inserting negotiation %s: %w", n.ID, err)
			}
			return nil
		case err != nil:
			return xerrors.Errorf("reading version of %s: %w", n.ID, err)
		case stored != n.StateCount:
			return xerrors.Errorf("negotiation %s at version %d, stored %d: %w",
				n.ID, n.StateCount, stored, cn.ErrConcurrentModification)
		case correlation.Valid && correlation.String != n.CorrelationID:
			return xerrors.Errorf("negotiation %s: correlation id cannot change from %s to %s",
				n.ID, correlation.String, n.CorrelationID)
		}

		res, err := tx.ExecContext(ctx, `UPDATE negotiations SET
				correlation_id = ?, counter_party_id = ?, counter_party_address = ?, protocol = ?,
				state = ?, state_count = state_count + 1, state_timestamp = ?, offers = ?, agreement = ?,
				error_detail = ?, retry_count = ?, next_attempt = ?, rounds = ?
			WHERE id = ? AND state_count = ?`,
			nullString(n.CorrelationID), n.CounterPartyID, n.CounterPartyAddress, n.Protocol,
			n.State, unixNano(n.StateTimestamp), string(offers), agreement,
			n.ErrorDetail, n.RetryCount, unixNano(n.NextAttempt), n.Rounds,
			n.ID, n.StateCount)
		if err != nil {
			return xerrors.Errorf("updating negotiation %s: %w", n.ID, err)
		}
		// the version read above is already locked by the immediate tx, this only trips on a broken lock mode
		affected, err := res.RowsAffected()
		if err != nil {
			return xerrors.Errorf("updating negotiation %s: %w", n.ID, err)
		}
		if affected != 1 {
			return xerrors.Errorf("negotiation %s at version %d changed during update: %w",
				n.ID, n.StateCount, cn.ErrConcurrentModification)
		}
		return nil
	})
	if err != nil {
		return err
	}
	n.StateCount++
	return nil
}

func (s *Store) LeaseNext(ctx context.Context, owner string, state cn.State, limit int) ([]cn.ContractNegotiation, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.clock.Now()

	var out []cn.ContractNegotiation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM negotiations
			WHERE state = ? AND next_attempt <= ? AND (lease_owner IS NULL OR lease_expires <= ?)
			ORDER BY state_timestamp LIMIT ?`,
			state, now.UnixNano(), now.UnixNano(), limit)
		if err != nil {
			return xerrors.Errorf("selecting negotiations to lease: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		args := []interface{}{owner, now.Add(s.leaseDuration).UnixNano()}
		for _, id := range ids {
			args = append(args, id)
		}
		in := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		if _, err := tx.ExecContext(ctx,
			"UPDATE negotiations SET lease_owner = ?, lease_expires = ? WHERE id IN ("+in+")", args...); err != nil {
			return xerrors.Errorf("leasing negotiations: %w", err)
		}

		rows, err = tx.QueryContext(ctx,
			"SELECT "+columns+" FROM negotiations WHERE id IN ("+in+") ORDER BY state_timestamp", args[2:]...)
		if err != nil {
			return xerrors.Errorf("reading leased negotiations: %w", err)
		}
		defer rows.Close() //nolint:errcheck
		for rows.Next() {
			n, err := scanNegotiation(rows)
			if err != nil {
				return err
			}
			out = append(out, *n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LeaseDuration is how long a lease lasts when not released
func (s *Store) LeaseDuration() time.Duration {
	return s.leaseDuration
}

func (s *Store) ReleaseLease(ctx context.Context, id string, owner string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE negotiations SET lease_owner = NULL, lease_expires = NULL WHERE id = ? AND lease_owner = ?",
		id, owner)
	if err != nil {
		return xerrors.Errorf("releasing lease on %s: %w", id, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]cn.ContractNegotiation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+columns+" FROM negotiations ORDER BY created_at")
	if err != nil {
		return nil, xerrors.Errorf("listing negotiations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []cn.ContractNegotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("beginning transaction: %w", err)
	}
	if err := f(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Warnw("rollback failed", "err", rerr)
		}
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNegotiation(row scanner) (*cn.ContractNegotiation, error) {
	var (
		n                                    cn.ContractNegotiation
		correlation, agreement               sql.NullString
		offers                               string
		stateTimestamp, createdAt, nextTries int64
	)
	err := row.Scan(&n.ID, &correlation, &n.CounterPartyID, &n.CounterPartyAddress, &n.Protocol, &n.Type,
		&n.State, &n.StateCount, &stateTimestamp, &createdAt, &offers, &agreement, &n.ErrorDetail,
		&n.RetryCount, &nextTries, &n.Rounds)
	if err != nil {
		return nil, err
	}

	n.CorrelationID = correlation.String
	n.StateTimestamp = fromUnixNano(stateTimestamp)
	n.CreatedAt = fromUnixNano(createdAt)
	n.NextAttempt = fromUnixNano(nextTries)
	if err := json.Unmarshal([]byte(offers), &n.Offers); err != nil {
		return nil, xerrors.Errorf("decoding offers of %s: %w", n.ID, err)
	}
	if agreement.Valid {
		n.Agreement = new(cn.ContractAgreement)
		if err := json.Unmarshal([]byte(agreement.String), n.Agreement); err != nil {
			return nil, xerrors.Errorf("decoding agreement of %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
