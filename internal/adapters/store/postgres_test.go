package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/dkeye/taskboard-relay/internal/adapters/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RELAY_TEST_PG_URL points at a scratch database; the test only creates a
// temporary table.
func testPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("RELAY_TEST_PG_URL")
	if url == "" {
		t.Skip("RELAY_TEST_PG_URL not set")
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	// One connection, so the temporary table is visible to every query.
	pg, err := NewPostgres(context.Background(), url+sep+"pool_max_conns=1")
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	return pg
}

func TestPostgresProfileByUUIDKey(t *testing.T) {
	pg := testPostgres(t)
	ctx := context.Background()

	_, err := pg.pool.Exec(ctx, `
		CREATE TEMPORARY TABLE users (
			id     uuid PRIMARY KEY,
			name   text NOT NULL,
			avatar text
		)`)
	require.NoError(t, err)
	_, err = pg.pool.Exec(ctx, `INSERT INTO users (id, name, avatar) VALUES
		('6f1c2a9e-0b7d-4c55-9a43-2f1e8d3b7c10', 'Ann', 'ann.png'),
		('0d3e5f7a-1111-4c55-9a43-2f1e8d3b7c11', 'Bob', NULL)`)
	require.NoError(t, err)

	u, err := pg.Profile(ctx, "6f1c2a9e-0b7d-4c55-9a43-2f1e8d3b7c10")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, "ann.png", u.Avatar)

	u, err = pg.Profile(ctx, "0d3e5f7a-1111-4c55-9a43-2f1e8d3b7c11")
	require.NoError(t, err)
	assert.Empty(t, u.Avatar)

	_, err = pg.Profile(ctx, "9a9a9a9a-0000-4c55-9a43-2f1e8d3b7c12")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	_, err = pg.pool.Exec(ctx, "SET enable_seqscan = off")
	require.NoError(t, err)
	var plan string
	require.NoError(t, pg.pool.QueryRow(ctx, "EXPLAIN "+profileQuery, "6f1c2a9e-0b7d-4c55-9a43-2f1e8d3b7c10").Scan(&plan))
	assert.NotContains(t, plan, "Seq Scan")
}
