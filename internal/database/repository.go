package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("record already exists")
	ErrInvalidData = errors.New("invalid record")
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Repository provides data access methods. It implements every store
// interface of the domain packages.
type Repository struct {
	db     *DB
	logger zerolog.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{
		db:     db,
		logger: db.logger.With().Str("component", "Repository").Logger(),
	}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// IsDuplicate reports whether err is a unique constraint violation
func IsDuplicate(err error) bool {
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, reason)
}

// validID reports whether id can address a UUID key. Lookups with any other
// id find nothing instead of failing the query.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
