package gorm

import (
	"time"

	"gorm.io/gorm"
)

// Blob is one stored object: a session record or a flagged frame image.
type Blob struct {
	ObjectKey      string `gorm:"primaryKey;type:varchar(512)"`
	Data           []byte `gorm:"not null"`
	ContentType    string `gorm:"type:varchar(128)"`
	Size           int    `gorm:"not null;default:0"`
	CreatedAtEpoch int64  `gorm:"not null"`
	UpdatedAtEpoch int64  `gorm:"index:idx_blobs_updated,sort:desc;not null"`
}

func (Blob) TableName() string { return "blobs" }

// BeforeSave keeps size and timestamps in step with Data.
func (b *Blob) BeforeSave(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if b.CreatedAtEpoch == 0 {
		b.CreatedAtEpoch = now
	}
	b.UpdatedAtEpoch = now
	b.Size = len(b.Data)
	return nil
}
