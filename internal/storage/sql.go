package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/superset-studio/cloudchain/internal/chainerr"
	"github.com/superset-studio/cloudchain/internal/models"
	_ "modernc.org/sqlite"
)

const upsertRecordQuery = `
	INSERT INTO credentials (service, username, secret, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (service, username) DO UPDATE
	SET secret = excluded.secret, updated_at = excluded.updated_at`

// SQLStore is the local snapshot of sealed records, backed by SQLite or
// PostgreSQL. Secrets stay KMS-encrypted at rest here as well.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// NewSQLStore connects to the snapshot database and applies pending
// migrations. driver is "sqlite" or "postgres". A bare SQLite path is
// expanded into a DSN with WAL mode and a busy timeout.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		dsn = sqliteDSN(dsn)
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported snapshot driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, chainerr.NewServiceError("connect snapshot database", err)
	}

	if driver == "sqlite" {
		// A single connection avoids "database is locked" on writes.
		db.SetMaxOpenConns(1)
	}

	if err := RunMigrations(db.DB, driver); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{db: db, driver: driver}, nil
}

func sqliteDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
}

func (s *SQLStore) PutRecord(ctx context.Context, rec *models.Record) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertRecordQuery), rec.Service, rec.Username, rec.Secret)
	if err != nil {
		return chainerr.NewServiceError("snapshot put record", err)
	}
	return nil
}

func (s *SQLStore) GetRecord(ctx context.Context, service, username string) (*models.Record, error) {
	query := s.db.Rebind(`
		SELECT service, username, secret
		FROM credentials
		WHERE service = ? AND username = ?`)

	var rec models.Record
	err := s.db.GetContext(ctx, &rec, query, service, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, chainerr.NewServiceError("snapshot get record", err)
	}

	return &rec, nil
}

func (s *SQLStore) ScanRecords(ctx context.Context) ([]*models.Record, error) {
	query := `
		SELECT service, username, secret
		FROM credentials
		ORDER BY service, username`

	var records []*models.Record
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, chainerr.NewServiceError("snapshot scan records", err)
	}

	return records, nil
}

// WriteSnapshot replaces the stored records with the given set in one
// transaction, so a failed snapshot leaves the previous one intact.
func (s *SQLStore) WriteSnapshot(ctx context.Context, records []*models.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return chainerr.NewServiceError("snapshot begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return chainerr.NewServiceError("snapshot clear", err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(upsertRecordQuery))
	if err != nil {
		return chainerr.NewServiceError("snapshot prepare", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Service, rec.Username, rec.Secret); err != nil {
			return chainerr.NewServiceError(fmt.Sprintf("snapshot write %s/%s", rec.Service, rec.Username), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return chainerr.NewServiceError("snapshot commit", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
