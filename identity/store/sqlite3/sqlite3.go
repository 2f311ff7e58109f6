// Package sqlite3 is a goqu + muz-migrated, modernc.org/sqlite-backed
// identity.PersistentStore.
package sqlite3

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/rakunlabs/muz"
	_ "modernc.org/sqlite"

	"github.com/redpesk-core/go-binder/identity"
)

var DefaultTablePrefix = "binder_"

//go:embed migrations/*
var migrationFS embed.FS

type Config struct {
	Datasource  string
	TablePrefix string
}

type Store struct {
	db   *sql.DB
	goqu *goqu.Database

	tableSessions exp.IdentifierExpression
	tableTokens   exp.IdentifierExpression
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != "" {
		tablePrefix = cfg.TablePrefix
	}

	if err := migrate(ctx, cfg.Datasource, tablePrefix); err != nil {
		return nil, fmt.Errorf("migrate identity sqlite store: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to identity store sqlite")

	return &Store{
		db:            db,
		goqu:          goqu.New("sqlite3", db),
		tableSessions: goqu.T(tablePrefix + "sessions"),
		tableTokens:   goqu.T(tablePrefix + "tokens"),
	}, nil
}

func migrate(ctx context.Context, datasource, tablePrefix string) error {
	db, err := sql.Open("sqlite", datasource)
	if err != nil {
		return fmt.Errorf("open sqlite connection for migration: %w", err)
	}
	defer db.Close()

	table := tablePrefix + "migrations"
	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    map[string]string{"TABLE_PREFIX": tablePrefix},
	}
	driver := muz.NewSQLiteDriver(db, table, slog.Default())
	return m.Migrate(ctx, driver)
}

func (s *Store) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close identity store sqlite connection", "error", err)
		}
	}
}

type sessionRow struct {
	UUID      string `db:"uuid"`
	LOAs      string `db:"loas"`
	CreatedAt string `db:"created_at"`
	ExpiresAt string `db:"expires_at"`
}

func (s *Store) UpsertSession(ctx context.Context, rec identity.SessionRecord) error {
	loas, err := json.Marshal(rec.LOAs)
	if err != nil {
		return fmt.Errorf("marshal loas: %w", err)
	}

	query, _, err := s.goqu.Insert(s.tableSessions).Rows(goqu.Record{
		"uuid":       rec.UUID,
		"loas":       string(loas),
		"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
		"expires_at": rec.ExpiresAt.UTC().Format(time.RFC3339),
	}).OnConflict(goqu.DoUpdate("uuid", goqu.Record{
		"loas":       string(loas),
		"expires_at": rec.ExpiresAt.UTC().Format(time.RFC3339),
	})).ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert session query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, uuid string) error {
	query, _, err := s.goqu.Delete(s.tableSessions).Where(goqu.I("uuid").Eq(uuid)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete session query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query)
	return err
}

func (s *Store) ListSessions(ctx context.Context) ([]identity.SessionRecord, error) {
	query, _, err := s.goqu.From(s.tableSessions).
		Select("uuid", "loas", "created_at", "expires_at").ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list sessions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []identity.SessionRecord
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.UUID, &row.LOAs, &row.CreatedAt, &row.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var loas map[string]int
		if err := json.Unmarshal([]byte(row.LOAs), &loas); err != nil {
			return nil, fmt.Errorf("unmarshal loas for %q: %w", row.UUID, err)
		}
		created, _ := time.Parse(time.RFC3339, row.CreatedAt)
		expires, _ := time.Parse(time.RFC3339, row.ExpiresAt)
		out = append(out, identity.SessionRecord{
			UUID: row.UUID, LOAs: loas, CreatedAt: created, ExpiresAt: expires,
		})
	}
	return out, rows.Err()
}

func (s *Store) UpsertToken(ctx context.Context, rec identity.TokenRecord) error {
	query, _, err := s.goqu.Insert(s.tableTokens).Rows(goqu.Record{
		"text":       rec.Text,
		"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
	}).OnConflict(goqu.DoNothing()).ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert token query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query)
	return err
}

func (s *Store) DeleteToken(ctx context.Context, text string) error {
	query, _, err := s.goqu.Delete(s.tableTokens).Where(goqu.I("text").Eq(text)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete token query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query)
	return err
}

func (s *Store) ListTokens(ctx context.Context) ([]identity.TokenRecord, error) {
	query, _, err := s.goqu.From(s.tableTokens).Select("text", "created_at").ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list tokens query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []identity.TokenRecord
	for rows.Next() {
		var text, created string
		if err := rows.Scan(&text, &created); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, created)
		out = append(out, identity.TokenRecord{Text: text, CreatedAt: ts})
	}
	return out, rows.Err()
}
