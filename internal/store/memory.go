package store

import (
	"context"
	"sync"
	"time"

	"zk.share/internal/access"
	"zk.share/internal/audit"
	"zk.share/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	secrets map[string]*models.Secret
	events  []*audit.Event
	mu      sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]*models.Secret),
	}
}

func (s *MemoryStore) Save(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[secret.ID]; ok {
		return ErrExists
	}
	s.secrets[secret.ID] = secret.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return secret.Clone(), nil
}

func (s *MemoryStore) RecordView(ctx context.Context, id string, now time.Time) (access.Decision, *models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return access.Decision{}, nil, ErrNotFound
	}

	d, out := applyView(secret, now)
	return d, out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, now time.Time, fn func(*models.Secret) error) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}

	working := secret.Clone()
	gone, err := applyUpdate(working, now, fn)
	if err != nil {
		return nil, err
	}
	s.secrets[id] = working
	if gone {
		return nil, ErrGone
	}
	return working.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string, now time.Time) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if applyDelete(secret, now) {
		return nil, ErrGone
	}
	return secret.Clone(), nil
}

func (s *MemoryStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, secret := range s.secrets {
		if secret.Deleted && secret.DeletedAt != nil && secret.DeletedAt.Before(before) {
			delete(s.secrets, id)
			s.detachEvents(id)
			purged++
		}
	}
	return purged, nil
}

// detachEvents clears the secret reference on events of a hard-deleted secret.
func (s *MemoryStore) detachEvents(id string) {
	for _, e := range s.events {
		if e.SecretID != nil && *e.SecretID == id {
			e.SecretID = nil
		}
	}
}

func (s *MemoryStore) SaveAccessEvent(ctx context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	s.events = append(s.events, &stored)
	return nil
}

func (s *MemoryStore) QueryAccessEvents(ctx context.Context, filter *audit.Filter) ([]*audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := filter.Select(s.events)
	out := make([]*audit.Event, len(selected))
	for i, e := range selected {
		copied := *e
		out[i] = &copied
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets = nil
	s.events = nil
	return nil
}
