package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/cohort-sms/internal/model"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type PostgresPeopleRepo struct {
	pool *pgxpool.Pool
	mode DeleteMode
}

func NewPostgresPeopleRepo(pool *pgxpool.Pool, mode DeleteMode) *PostgresPeopleRepo {
	return &PostgresPeopleRepo{pool: pool, mode: mode}
}

type personRow struct {
	ID          string     `db:"id"`
	PhoneNumber string     `db:"phone_number"`
	Cohort      string     `db:"cohort"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
}

func (r personRow) toModel() model.Person {
	return model.Person{
		ID:          r.ID,
		PhoneNumber: r.PhoneNumber,
		Cohort:      r.Cohort,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		DeletedAt:   r.DeletedAt,
	}
}

func (r *PostgresPeopleRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (r *PostgresPeopleRepo) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresPeopleRepo) Create(ctx context.Context, p model.Person) (model.Person, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO people (id, phone_number, cohort)
		VALUES ($1, $2, $3)
		RETURNING id, phone_number, cohort, created_at, updated_at, deleted_at
	`, p.ID, p.PhoneNumber, p.Cohort)
	if err != nil {
		return model.Person{}, mapPgError(err)
	}

	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[personRow])
	if err != nil {
		return model.Person{}, mapPgError(err)
	}
	return row.toModel(), nil
}

func (r *PostgresPeopleRepo) FindOne(ctx context.Context, phoneNumber, cohort string) (model.Person, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, phone_number, cohort, created_at, updated_at, deleted_at
		FROM people
		WHERE phone_number = $1 AND cohort = $2 AND deleted_at IS NULL
	`, phoneNumber, cohort)
	if err != nil {
		return model.Person{}, fmt.Errorf("failed to query person: %w", err)
	}

	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[personRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Person{}, ErrNotFound
		}
		return model.Person{}, fmt.Errorf("failed to scan person: %w", err)
	}
	return row.toModel(), nil
}

func (r *PostgresPeopleRepo) FindAllByCohort(ctx context.Context, scope Scope) ([]model.Person, error) {
	query := `
		SELECT id, phone_number, cohort, created_at, updated_at, deleted_at
		FROM people
		WHERE deleted_at IS NULL`
	var args []any
	if !scope.All() {
		query += ` AND cohort = $1`
		args = append(args, scope.Cohort())
	}
	query += ` ORDER BY phone_number ASC, created_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cohort %s: %w", scope, err)
	}

	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[personRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan cohort %s: %w", scope, err)
	}

	out := make([]model.Person, 0, len(found))
	for _, row := range found {
		out = append(out, row.toModel())
	}
	return out, nil
}

// DeleteByCohort removes the people in scope and returns how many were
// active. In hard mode rows soft-deleted earlier are removed too but not counted.
func (r *PostgresPeopleRepo) DeleteByCohort(ctx context.Context, scope Scope) (int64, error) {
	var args []any
	filter := ""
	if !scope.All() {
		filter = ` AND cohort = $1`
		args = append(args, scope.Cohort())
	}

	if r.mode != HardDelete {
		tag, err := r.pool.Exec(ctx, `UPDATE people SET deleted_at = now(), updated_at = now() WHERE deleted_at IS NULL`+filter, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete cohort %s: %w", scope, err)
		}
		return tag.RowsAffected(), nil
	}

	rows, err := r.pool.Query(ctx, `DELETE FROM people WHERE TRUE`+filter+` RETURNING deleted_at IS NULL`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cohort %s: %w", scope, err)
	}
	removed, err := pgx.CollectRows(rows, pgx.RowTo[bool])
	if err != nil {
		return 0, fmt.Errorf("failed to delete cohort %s: %w", scope, err)
	}
	return countActive(removed), nil
}

func (r *PostgresPeopleRepo) PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM people
		WHERE deleted_at IS NOT NULL AND deleted_at < $1
	`, deletedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted people: %w", err)
	}
	return tag.RowsAffected(), nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyEnrolled
	}
	return fmt.Errorf("failed to insert person: %w", err)
}

var (
	_ PeopleRepository = (*PostgresPeopleRepo)(nil)
	_ Purger           = (*PostgresPeopleRepo)(nil)
)
