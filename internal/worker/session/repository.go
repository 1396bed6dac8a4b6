package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/crowdwatch/internal/objstore"
	"github.com/thebtf/crowdwatch/pkg/models"
)

// Repository persists session records and flagged frames in an object store.
type Repository struct {
	store objstore.Store
}

// NewRepository creates a Repository over store.
func NewRepository(store objstore.Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying object store.
func (r *Repository) Store() objstore.Store {
	return r.store
}

// Load reads a session record. A missing key yields ErrNotFound.
func (r *Repository) Load(ctx context.Context, id string) (*models.Session, error) {
	data, err := r.store.Get(ctx, objstore.SessionKey(id))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if s.FlaggedFrames == nil {
		s.FlaggedFrames = []models.FlaggedFrame{}
	}
	return &s, nil
}

// Save writes the full session record.
func (r *Repository) Save(ctx context.Context, s *models.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	if err := r.store.Put(ctx, objstore.SessionKey(s.SessionID), data, objstore.ContentTypeJSON); err != nil {
		return fmt.Errorf("save session %s: %w", s.SessionID, err)
	}
	return nil
}

// SaveFrame uploads a flagged frame image and returns its store URI.
func (r *Repository) SaveFrame(ctx context.Context, id string, frameNumber int, image []byte) (string, error) {
	key := objstore.FrameKey(id, frameNumber)
	if err := r.store.Put(ctx, key, image, objstore.ContentTypeJPEG); err != nil {
		return "", fmt.Errorf("save frame %s: %w", key, err)
	}
	return r.store.URI(key), nil
}

// LoadFrame reads a flagged frame image.
func (r *Repository) LoadFrame(ctx context.Context, id string, frameNumber int) ([]byte, error) {
	return r.store.Get(ctx, objstore.FrameKey(id, frameNumber))
}

// List loads every stored session, ordered by key. Unreadable records are
// logged and skipped.
func (r *Repository) List(ctx context.Context) ([]*models.Session, error) {
	keys, err := r.store.List(ctx, objstore.SessionsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, objstore.SessionsPrefix), ".json")
		s, err := r.Load(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable session record")
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Latest returns the most recently analyzed session at location
// (case-insensitive). Sessions never analyzed fall back to created_at.
func (r *Repository) Latest(ctx context.Context, location string) (*models.Session, error) {
	sessions, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return latestAt(sessions, location)
}

func latestAt(sessions []*models.Session, location string) (*models.Session, error) {
	var (
		latest   *models.Session
		latestTS string
	)
	for _, s := range sessions {
		if !strings.EqualFold(strings.TrimSpace(s.Location), strings.TrimSpace(location)) {
			continue
		}
		at := s.LastAnalysis
		if at == "" {
			at = s.CreatedAt
		}
		// TimestampLayout sorts lexically.
		if latest == nil || at > latestTS {
			latest, latestTS = s, at
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no session at location %q", ErrNotFound, location)
	}
	return latest, nil
}

// SessionURI renders the store location of a session record.
func (r *Repository) SessionURI(id string) string {
	return r.store.URI(objstore.SessionKey(id))
}
