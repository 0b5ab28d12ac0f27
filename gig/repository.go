package gig

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested gig does not exist.
var ErrNotFound = errors.New("gig: not found")

// Repository provides read access to the gig catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a gig by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Gig, error) {
	const query = `
		SELECT id::text, freelancer, title, price::text, active, created_at
		FROM gigs
		WHERE id = $1
	`

	var g Gig
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&g.ID,
		&g.Freelancer,
		&g.Title,
		&g.Price,
		&g.Active,
		&g.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == "22P02") {
			return Gig{}, ErrNotFound
		}
		return Gig{}, fmt.Errorf("gig: query by id: %w", err)
	}

	return g, nil
}

// ListByFreelancer fetches up to limit active gigs offered by freelancer, newest first.
func (r *Repository) ListByFreelancer(ctx context.Context, freelancer string, limit int) ([]Gig, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id::text, freelancer, title, price::text, active, created_at
		FROM gigs
		WHERE freelancer = $1 AND active
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, freelancer, limit)
	if err != nil {
		return nil, fmt.Errorf("gig: list: %w", err)
	}
	defer rows.Close()

	gigs := make([]Gig, 0, limit)
	for rows.Next() {
		var g Gig
		if err := rows.Scan(&g.ID, &g.Freelancer, &g.Title, &g.Price, &g.Active, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("gig: scan: %w", err)
		}
		gigs = append(gigs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gig: iterate: %w", err)
	}

	return gigs, nil
}
