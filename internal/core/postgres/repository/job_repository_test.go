package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-arbor/internal/domain"
)

func TestOpenUnreachableDatabase(t *testing.T) {
	_, err := Open("host=127.0.0.1 port=1 user=arbor dbname=arbor sslmode=disable connect_timeout=1")
	assert.Error(t, err)
}

// Runs against a real database when ARBOR_TEST_DATABASE_DSN is set.
func TestJobRepositoryAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("ARBOR_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("ARBOR_TEST_DATABASE_DSN not set")
	}
	db, err := Open(dsn)
	require.NoError(t, err)
	repo := NewJobRepository(db)
	ctx := context.Background()

	rec := domain.NewJobRecord(3, []float64{2.0, 3.5, 4.5})
	rec.Result = 10
	rec.CorrelationID = 42
	require.NoError(t, repo.Create(ctx, rec))
	t.Cleanup(func() { db.Delete(&domain.JobRecord{}, "id = ?", rec.ID) })

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeID(3), got.WorkerID)
	assert.InDelta(t, 10.0, got.Result, 1e-9)
	assert.JSONEq(t, `[2, 3.5, 4.5]`, string(got.Args))

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, rec.ID, recent[0].ID)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
