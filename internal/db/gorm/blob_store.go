package gorm

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/crowdwatch/internal/objstore"
)

// BlobStore adapts Store to objstore.Store.
type BlobStore struct {
	store *Store
}

var _ objstore.Store = (*BlobStore)(nil)

// NewBlobStore wraps an open Store.
func NewBlobStore(store *Store) *BlobStore {
	return &BlobStore{store: store}
}

// Put inserts or replaces the object at key.
func (b *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	blob := &Blob{ObjectKey: key, Data: data, ContentType: contentType}
	return b.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "content_type", "size", "updated_at_epoch"}),
		}).
		Create(blob).Error
}

func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var blob Blob
	err := b.store.DB.WithContext(ctx).
		Where("object_key = ?", key).
		First(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, objstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}

func (b *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := b.store.DB.WithContext(ctx).
		Model(&Blob{}).
		Where("object_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

// List returns keys under prefix in ascending order.
func (b *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := b.store.DB.WithContext(ctx).
		Model(&Blob{}).
		Where(`object_key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Order("object_key ASC").
		Pluck("object_key", &keys).Error
	return keys, err
}

func (b *BlobStore) URI(key string) string {
	return b.store.driver + "://" + b.store.target + "#" + key
}

func (b *BlobStore) Name() string { return b.store.driver }

func (b *BlobStore) Ping(ctx context.Context) error {
	return b.store.sqlDB.PingContext(ctx)
}

func (b *BlobStore) Close() error {
	return b.store.Close()
}

// escapeLike escapes LIKE wildcards so prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
