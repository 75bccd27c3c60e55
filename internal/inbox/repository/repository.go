// Package repository persists inbox leads, conversations and messages in
// PostgreSQL and holds the create-or-find helper shared by every creation path.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("unique constraint conflict")
)

const pgUniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateOrFind attempts a unique write and, when the write loses a uniqueness
// race, re-reads the row the winner wrote. created reports which branch
// produced the result.
func CreateOrFind[T any](ctx context.Context, create, find func(context.Context) (T, error)) (result T, created bool, err error) {
	result, err = create(ctx)
	if err == nil {
		return result, true, nil
	}
	if !errors.Is(err, ErrConflict) {
		return result, false, err
	}

	result, err = find(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return result, false, fmt.Errorf("row vanished after conflict: %w", ErrConflict)
		}
		return result, false, err
	}
	return result, false, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// mapErr converts driver errors into the package sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
