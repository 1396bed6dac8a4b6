// Package objstore defines the durable object store used for session records
// and flagged frame images, with memory, Redis, S3 and COS backends.
// The SQL backend lives in internal/db/gorm.
package objstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("object not found")

// Key layout.
const (
	SessionsPrefix      = "sessions/"
	FlaggedFramesPrefix = "flagged_frames/"
)

// Content types used by crowdwatch.
const (
	ContentTypeJSON = "application/json"
	ContentTypeJPEG = "image/jpeg"
)

// Store is a flat key/value blob store.
type Store interface {
	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the object at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key holds an object.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// URI renders a human-readable location for key.
	URI(key string) string
	// Name identifies the backend.
	Name() string
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// SessionKey is where a session record lives.
func SessionKey(sessionID string) string {
	return SessionsPrefix + sessionID + ".json"
}

// FrameKey is where a flagged frame image lives.
func FrameKey(sessionID string, frameNumber int) string {
	return fmt.Sprintf("%s%s/frame_%03d.jpg", FlaggedFramesPrefix, sessionID, frameNumber)
}
