// Package postgres is a goqu + muz-migrated, pgx-backed
// identity.PersistentStore: connection-pool tuning, a table-prefix
// convention, and goqu query construction over a sessions/tokens schema.
package postgres

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
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rakunlabs/muz"

	"github.com/redpesk-core/go-binder/identity"
)

var (
	ConnMaxLifetime = 15 * time.Minute
	MaxIdleConns    = 3
	MaxOpenConns    = 3

	DefaultTablePrefix = "binder_"
)

//go:embed migrations/*
var migrationFS embed.FS

// Config configures the postgres-backed identity store.
type Config struct {
	Datasource  string
	Schema      string
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
		return nil, errors.New("postgres datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != "" {
		tablePrefix = cfg.TablePrefix
	}

	if err := migrate(ctx, cfg.Datasource, tablePrefix); err != nil {
		return nil, fmt.Errorf("migrate identity postgres store: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set search_path: %w", err)
		}
	}

	db.SetConnMaxLifetime(ConnMaxLifetime)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetMaxOpenConns(MaxOpenConns)

	slog.Info("connected to identity store postgres")

	return &Store{
		db:            db,
		goqu:          goqu.New("postgres", db),
		tableSessions: goqu.T(tablePrefix + "sessions"),
		tableTokens:   goqu.T(tablePrefix + "tokens"),
	}, nil
}

func migrate(ctx context.Context, datasource, tablePrefix string) error {
	db, err := sql.Open("pgx", datasource)
	if err != nil {
		return fmt.Errorf("open postgres connection for migration: %w", err)
	}
	defer db.Close()

	table := tablePrefix + "migrations"
	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    map[string]string{"TABLE_PREFIX": tablePrefix},
	}
	driver := muz.NewPostgresDriver(db, table, slog.Default())
	return m.Migrate(ctx, driver)
}

func (s *Store) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close identity store postgres connection", "error", err)
		}
	}
}

type sessionRow struct {
	UUID      string    `db:"uuid"`
	LOAs      string    `db:"loas"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

func (s *Store) UpsertSession(ctx context.Context, rec identity.SessionRecord) error {
	loas, err := json.Marshal(rec.LOAs)
	if err != nil {
		return fmt.Errorf("marshal loas: %w", err)
	}

	query, _, err := s.goqu.Insert(s.tableSessions).Rows(goqu.Record{
		"uuid":       rec.UUID,
		"loas":       string(loas),
		"created_at": rec.CreatedAt,
		"expires_at": rec.ExpiresAt,
	}).OnConflict(goqu.DoUpdate("uuid", goqu.Record{
		"loas":       string(loas),
		"expires_at": rec.ExpiresAt,
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
		out = append(out, identity.SessionRecord{
			UUID: row.UUID, LOAs: loas, CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt,
		})
	}
	return out, rows.Err()
}

func (s *Store) UpsertToken(ctx context.Context, rec identity.TokenRecord) error {
	query, _, err := s.goqu.Insert(s.tableTokens).Rows(goqu.Record{
		"text":       rec.Text,
		"created_at": rec.CreatedAt,
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
		var r identity.TokenRecord
		if err := rows.Scan(&r.Text, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
