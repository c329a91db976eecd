// Package store reads user display data from the CRUD layer's database.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/taskboard-relay/internal/adapters/auth"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const profileQuery = `
	SELECT name, COALESCE(avatar, '')
	FROM users
	WHERE id = $1
`

type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to postgres and returns a pool wrapper.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	log.Info().Str("module", "store").Msg("connected to postgres")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Profile implements core.ProfileLookup.
func (p *Postgres) Profile(ctx context.Context, id domain.UserID) (*domain.User, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	// pgx encodes the text parameter into the column's own type, so the
	// primary key index is used.
	row := p.pool.QueryRow(ctx, profileQuery, string(id))

	var name, avatar string
	if err := row.Scan(&name, &avatar); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	u, err := domain.NewUser(id, name, avatar)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return u, nil
}
