package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superset-studio/cloudchain/internal/models"
)

// setupSQLStore opens a named shared in-memory SQLite database. The name is
// derived from t.Name() so tests do not see each other's rows.
func setupSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", url.PathEscape(t.Name()))
	store, err := NewSQLStore(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestSQLStore_PutAndGet(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, &models.Record{Service: "github", Username: "bot", Secret: "c2VhbGVk"}))

	rec, err := store.GetRecord(ctx, "github", "bot")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "c2VhbGVk", rec.Secret)
}

func TestSQLStore_GetMissing(t *testing.T) {
	store := setupSQLStore(t)

	rec, err := store.GetRecord(context.Background(), "github", "nobody")

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLStore_UpsertOverwrites(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, &models.Record{Service: "s", Username: "u", Secret: "old"}))
	require.NoError(t, store.PutRecord(ctx, &models.Record{Service: "s", Username: "u", Secret: "new"}))

	records, err := store.ScanRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Secret)
}

func TestSQLStore_ScanIsOrdered(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	for _, rec := range []models.Record{
		{Service: "web", Username: "bob", Secret: "1"},
		{Service: "db", Username: "root", Secret: "2"},
		{Service: "web", Username: "alice", Secret: "3"},
	} {
		require.NoError(t, store.PutRecord(ctx, &rec))
	}

	records, err := store.ScanRecords(ctx)

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "db", records[0].Service)
	assert.Equal(t, "alice", records[1].Username)
	assert.Equal(t, "bob", records[2].Username)
}

func TestSQLStore_WriteSnapshotReplacesContents(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, &models.Record{Service: "stale", Username: "u", Secret: "x"}))

	err := store.WriteSnapshot(ctx, []*models.Record{
		{Service: "a", Username: "1", Secret: "s1"},
		{Service: "b", Username: "2", Secret: "s2"},
	})
	require.NoError(t, err)

	records, err := store.ScanRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Service)
	assert.Equal(t, "b", records[1].Service)

	rec, err := store.GetRecord(ctx, "stale", "u")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	ctx := context.Background()

	first, err := NewSQLStore(ctx, "sqlite", path)
	require.NoError(t, err)
	require.NoError(t, first.PutRecord(ctx, &models.Record{Service: "s", Username: "u", Secret: "x"}))
	require.NoError(t, first.Close())

	second, err := NewSQLStore(ctx, "sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	rec, err := second.GetRecord(ctx, "s", "u")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "x", rec.Secret)
}

func TestNewSQLStore_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), "mysql", "whatever")
	assert.ErrorContains(t, err, "unsupported snapshot driver")
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/x.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", sqliteDSN("/tmp/x.db"))
	assert.Equal(t, "file:mem?mode=memory", sqliteDSN("file:mem?mode=memory"))
}
