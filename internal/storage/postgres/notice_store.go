// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultNoticeTable is used when no table name is configured.
const DefaultNoticeTable = "interpelli"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxIface is the subset of pgxpool.Pool used by the stores; pgxmock
// implements it as well.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NoticeStore implements crawler.RecordSink on a single Postgres table.
type NoticeStore struct {
	pool  pgxIface
	table string
}

// Connect opens a pool for cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewNoticeStore wraps an existing pool. The table name is validated because
// it is interpolated into SQL.
func NewNoticeStore(pool pgxIface, table string) (*NoticeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultNoticeTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &NoticeStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *NoticeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *NoticeStore) schemaSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            BIGSERIAL PRIMARY KEY,
	school_name   TEXT NOT NULL,
	address       TEXT,
	city          TEXT,
	region        TEXT NOT NULL,
	end_date      TEXT,
	class_code    TEXT,
	weekly_hours  INTEGER,
	position_type TEXT,
	source_url    TEXT NOT NULL,
	inserted_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT %[1]s_notice_key UNIQUE NULLS NOT DISTINCT (school_name, class_code, end_date)
)`, s.table)
}

// EnsureSchema creates the notice table if it does not exist.
func (s *NoticeStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.schemaSQL()); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Insert adds the record unless its (school, class, end date) triple exists,
// in which case crawler.ErrDuplicate is returned.
func (s *NoticeStore) Insert(ctx context.Context, record crawler.Record) (int64, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	school_name,
	address,
	city,
	region,
	end_date,
	class_code,
	weekly_hours,
	position_type,
	source_url
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT DO NOTHING
RETURNING id`, s.table)

	var id int64
	err := s.pool.QueryRow(ctx, query,
		record.SchoolName,
		nullable(record.Address),
		nullable(record.City),
		record.Region,
		nullable(record.EndDate),
		nullable(record.ClassCode),
		record.WeeklyHours,
		nullable(record.PositionType),
		record.SourceURL,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, crawler.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert notice: %w", err)
	}
	return id, nil
}

const selectColumns = `id, school_name, address, city, region, end_date, class_code,
	weekly_hours, position_type, source_url, inserted_at`

const orderBy = ` ORDER BY class_code, region, inserted_at DESC`

// QueryAll returns every record ordered by class, region and newest first.
func (s *NoticeStore) QueryAll(ctx context.Context) ([]crawler.Record, error) {
	return s.query(ctx, fmt.Sprintf("SELECT %s FROM %s", selectColumns, s.table)+orderBy)
}

// QueryBy returns the records matching exactly one filter criterion.
func (s *NoticeStore) QueryBy(ctx context.Context, filter crawler.Filter) ([]crawler.Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	base := fmt.Sprintf("SELECT %s FROM %s", selectColumns, s.table)
	if filter.MinHours != nil {
		return s.query(ctx, base+" WHERE weekly_hours >= $1"+orderBy, *filter.MinHours)
	}
	return s.query(ctx, base+" WHERE class_code = $1"+orderBy, strings.TrimSpace(filter.ClassCode))
}

// DistinctClasses lists the non-null class codes in ascending order.
func (s *NoticeStore) DistinctClasses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT DISTINCT class_code FROM %s WHERE class_code IS NOT NULL ORDER BY class_code", s.table))
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	var classes []string
	for rows.Next() {
		var class string
		if err := rows.Scan(&class); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		classes = append(classes, class)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classes: %w", err)
	}
	return classes, nil
}

// Wipe drops and recreates the table.
func (s *NoticeStore) Wipe(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.table)); err != nil {
		return fmt.Errorf("drop %s table: %w", s.table, err)
	}
	return s.EnsureSchema(ctx)
}

func (s *NoticeStore) query(ctx context.Context, sql string, args ...any) ([]crawler.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query notices: %w", err)
	}
	defer rows.Close()

	var records []crawler.Record
	for rows.Next() {
		var (
			rec                                             crawler.Record
			address, city, endDate, classCode, positionType *string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SchoolName,
			&address,
			&city,
			&rec.Region,
			&endDate,
			&classCode,
			&rec.WeeklyHours,
			&positionType,
			&rec.SourceURL,
			&rec.InsertedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		rec.Address = deref(address)
		rec.City = deref(city)
		rec.EndDate = deref(endDate)
		rec.ClassCode = deref(classCode)
		rec.PositionType = deref(positionType)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notices: %w", err)
	}
	return records, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
