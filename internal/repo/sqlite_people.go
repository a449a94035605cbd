package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/LeventeLantos/cohort-sms/internal/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLitePeopleRepo keeps people in a single SQLite file. It is meant for
// local runs and tests; production deployments use PostgreSQL.
type SQLitePeopleRepo struct {
	db   *sql.DB
	mode DeleteMode
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, mode DeleteMode) (*SQLitePeopleRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Writers are serialized by SQLite anyway; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	r := &SQLitePeopleRepo{db: db, mode: mode, now: time.Now}
	if err := r.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLitePeopleRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (r *SQLitePeopleRepo) Close() error {
	return r.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func (r *SQLitePeopleRepo) Create(ctx context.Context, p model.Person) (model.Person, error) {
	now := r.now().UTC().Truncate(time.Millisecond)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO people (id, phone_number, cohort, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.PhoneNumber, p.Cohort, toMillis(now), toMillis(now))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return model.Person{}, ErrAlreadyEnrolled
		}
		return model.Person{}, fmt.Errorf("failed to insert person: %w", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	p.DeletedAt = nil
	return p, nil
}

func (r *SQLitePeopleRepo) FindOne(ctx context.Context, phoneNumber, cohort string) (model.Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, phone_number, cohort, created_at, updated_at, deleted_at
		FROM people
		WHERE phone_number = ? AND cohort = ? AND deleted_at IS NULL
	`, phoneNumber, cohort)

	p, err := scanSQLitePerson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Person{}, ErrNotFound
		}
		return model.Person{}, fmt.Errorf("failed to query person: %w", err)
	}
	return p, nil
}

func (r *SQLitePeopleRepo) FindAllByCohort(ctx context.Context, scope Scope) ([]model.Person, error) {
	query := `
		SELECT id, phone_number, cohort, created_at, updated_at, deleted_at
		FROM people
		WHERE deleted_at IS NULL`
	var args []any
	if !scope.All() {
		query += ` AND cohort = ?`
		args = append(args, scope.Cohort())
	}
	query += ` ORDER BY phone_number ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cohort %s: %w", scope, err)
	}
	defer rows.Close()

	var out []model.Person
	for rows.Next() {
		p, err := scanSQLitePerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cohort %s: %w", scope, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLitePeopleRepo) DeleteByCohort(ctx context.Context, scope Scope) (int64, error) {
	var args []any
	filter := ""
	if !scope.All() {
		filter = ` AND cohort = ?`
		args = append(args, scope.Cohort())
	}

	if r.mode != HardDelete {
		now := toMillis(r.now())
		res, err := r.db.ExecContext(ctx, `UPDATE people SET deleted_at = ?, updated_at = ? WHERE deleted_at IS NULL`+filter,
			append([]any{now, now}, args...)...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete cohort %s: %w", scope, err)
		}
		return res.RowsAffected()
	}

	rows, err := r.db.QueryContext(ctx, `DELETE FROM people WHERE 1 = 1`+filter+` RETURNING deleted_at IS NULL`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cohort %s: %w", scope, err)
	}
	defer rows.Close()

	var removed []bool
	for rows.Next() {
		var active bool
		if err := rows.Scan(&active); err != nil {
			return 0, fmt.Errorf("failed to delete cohort %s: %w", scope, err)
		}
		removed = append(removed, active)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to delete cohort %s: %w", scope, err)
	}
	return countActive(removed), nil
}

func (r *SQLitePeopleRepo) PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM people
		WHERE deleted_at IS NOT NULL AND deleted_at < ?
	`, toMillis(deletedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted people: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePerson(row rowScanner) (model.Person, error) {
	var (
		p                    model.Person
		createdAt, updatedAt int64
		deletedAt            sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.PhoneNumber, &p.Cohort, &createdAt, &updatedAt, &deletedAt); err != nil {
		return model.Person{}, err
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	if deletedAt.Valid {
		t := fromMillis(deletedAt.Int64)
		p.DeletedAt = &t
	}
	return p, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ PeopleRepository = (*SQLitePeopleRepo)(nil)
	_ Purger           = (*SQLitePeopleRepo)(nil)
)
