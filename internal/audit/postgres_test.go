package audit_test

import (
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/audit"
	"github.com/wick3d/customdomains/migrations"
)

func TestPostgresLedger(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping postgres audit tests")
	}
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.Up(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `DELETE FROM domain_audit WHERE idx > 0`)
	require.NoError(t, err)

	l := audit.NewPostgres(pool, zap.NewNop())

	e1, err := l.Append(ctx, "example.com", "domain.registered", "api", map[string]string{"method": "txt"})
	require.NoError(t, err)
	e2, err := l.Append(ctx, "example.com", "domain.verified", "check_now", nil)
	require.NoError(t, err)
	assert.Equal(t, e1.Hash, e2.PrevHash)

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := l.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, e1.Hash, got.Hash)
	assert.True(t, e1.Timestamp.Equal(got.Timestamp))

	page, err := l.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	root, err := l.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, e2.Hash, root)

	// Round-tripped timestamps must still hash the same.
	require.NoError(t, l.Verify(ctx))

	_, err = pool.Exec(ctx, `UPDATE domain_audit SET domain = 'evil.example' WHERE idx = 1`)
	require.NoError(t, err)
	assert.Error(t, l.Verify(ctx))

	_, err = pool.Exec(ctx, `DELETE FROM domain_audit WHERE idx > 0`)
	require.NoError(t, err)
}
