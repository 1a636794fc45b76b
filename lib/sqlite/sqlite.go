package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"
)

var log = logging.Logger("sqlite")

// MigrationFunc moves a database schema up by one version
type MigrationFunc func(ctx context.Context, tx *sql.Tx) error

// connection parameters understood by mattn/go-sqlite3; set in the DSN so every
// pooled connection gets them
const dsnParams = "?mode=rwc" +
	"&_journal_mode=WAL" +
	"&_synchronous=NORMAL" +
	"&_busy_timeout=5000" +
	"&_txlock=immediate" +
	"&_foreign_keys=1"

var pragmas = []string{
	"PRAGMA temp_store = memory",
	"PRAGMA wal_autocheckpoint = 256",
}

const metaTableDdl = `CREATE TABLE IF NOT EXISTS _meta (
	version UINT64 NOT NULL UNIQUE
)`

// Open opens (creating if needed) the sqlite database at path
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, xerrors.Errorf("error creating database base directory [@ %s]: %w", path, err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+dsnParams)
	if err != nil {
		return nil, xerrors.Errorf("error opening database [@ %s]: %w", path, err)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, xerrors.Errorf("error setting database pragma %q: %w", pragma, err)
		}
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("failed to get journal mode: %w", err)
	}
	if journalMode != "wal" {
		log.Warnw("database is not in WAL mode", "path", path, "journal_mode", journalMode)
	}

	return db, nil
}

// InitDb creates the schema of a fresh database, or applies the migrations a
// database created by an older version has not seen yet. The schema version is
// len(migrations)+1 and is tracked in the _meta table.
func InitDb(ctx context.Context, name string, db *sql.DB, ddl []string, migrations []MigrationFunc) error {
	schemaVersion := len(migrations) + 1

	q, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='_meta'")
	if err != nil {
		return xerrors.Errorf("looking for _meta table: %w", err)
	}
	fresh := !q.Next()
	if err := q.Close(); err != nil {
		return xerrors.Errorf("closing _meta query: %w", err)
	}

	if fresh {
		return inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, metaTableDdl); err != nil {
				return xerrors.Errorf("creating _meta table: %w", err)
			}
			for _, stmt := range ddl {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return xerrors.Errorf("executing ddl %q: %w", stmt, err)
				}
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO _meta (version) VALUES (?)", schemaVersion); err != nil {
				return xerrors.Errorf("recording schema version: %w", err)
			}
			log.Infow("created database", "name", name, "version", schemaVersion)
			return nil
		})
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT max(version) FROM _meta").Scan(&current); err != nil {
		return xerrors.Errorf("reading schema version: %w", err)
	}
	if current > schemaVersion {
		return xerrors.Errorf("database %s has schema version %d, newer than supported %d", name, current, schemaVersion)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		migrate := migrations[v-2]
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if err := migrate(ctx, tx); err != nil {
				return xerrors.Errorf("migrating to version %d: %w", v, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO _meta (version) VALUES (?)", v); err != nil {
				return xerrors.Errorf("recording schema version %d: %w", v, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Infow("migrated database", "name", name, "version", v)
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, f func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("beginning transaction: %w", err)
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
