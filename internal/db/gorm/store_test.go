package gorm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/crowdwatch/internal/objstore"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.GetRawDB().Ping())
	assert.Equal(t, DriverSQLite, store.Driver())

	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	assert.True(t, store.DB.Migrator().HasTable("blobs"))
}

func TestMigrationIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := Config{Path: path, LogLevel: logger.Silent}

	store1, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, NewBlobStore(store1).Put(context.Background(), "sessions/a.json", []byte("{}"), objstore.ContentTypeJSON))
	require.NoError(t, store1.Close())

	store2, err := NewStore(cfg)
	require.NoError(t, err)
	defer store2.Close()

	data, err := NewBlobStore(store2).Get(context.Background(), "sessions/a.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)

	_, err = NewStore(Config{Driver: DriverPostgres})
	assert.Error(t, err)

	_, err = NewStore(Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestBlobStore_RoundTrip(t *testing.T) {
	bs := NewBlobStore(testStore(t))
	ctx := context.Background()

	_, err := bs.Get(ctx, "sessions/none.json")
	assert.ErrorIs(t, err, objstore.ErrNotFound)

	ok, err := bs.Exists(ctx, "sessions/none.json")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bs.Put(ctx, "sessions/a.json", []byte(`{"v":1}`), objstore.ContentTypeJSON))
	require.NoError(t, bs.Put(ctx, "sessions/a.json", []byte(`{"v":2}`), objstore.ContentTypeJSON))

	data, err := bs.Get(ctx, "sessions/a.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	var blob Blob
	require.NoError(t, bs.store.DB.First(&blob, "object_key = ?", "sessions/a.json").Error)
	assert.Equal(t, 7, blob.Size)
	assert.NotZero(t, blob.CreatedAtEpoch)
	assert.GreaterOrEqual(t, blob.UpdatedAtEpoch, blob.CreatedAtEpoch)

	ok, err = bs.Exists(ctx, "sessions/a.json")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, bs.Ping(ctx))
	assert.Equal(t, "sqlite", bs.Name())
}

func TestBlobStore_ListEscapesWildcards(t *testing.T) {
	bs := NewBlobStore(testStore(t))
	ctx := context.Background()

	for _, k := range []string{"sessions/b.json", "sessions/a.json", "sessionsXa.json", objstore.FrameKey("a", 2)} {
		require.NoError(t, bs.Put(ctx, k, []byte("x"), ""))
	}

	keys, err := bs.List(ctx, "sessions/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions/a.json", "sessions/b.json"}, keys)

	require.NoError(t, bs.Put(ctx, "a_b", []byte("x"), ""))
	require.NoError(t, bs.Put(ctx, "aXb", []byte("x"), ""))
	keys, err = bs.List(ctx, "a_")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b"}, keys)

	keys, err = bs.List(ctx, "nothing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/cw", redactDSN("postgres://user:secret@db:5432/cw"))
	assert.Equal(t, "host=db password=*** dbname=cw", redactDSN("host=db password=secret dbname=cw"))
}
