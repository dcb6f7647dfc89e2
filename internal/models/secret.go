package models

import (
	"time"

	"zk.share/internal/access"
	"zk.share/internal/crypto"
)

// Secret is the persisted record. It holds the envelope and the access
// counters, never the key.
type Secret struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"orgId"`
	CreatorID  string          `json:"creatorId"`
	Envelope   crypto.Envelope `json:"envelope"`
	ViewCount  int             `json:"viewCount"`
	MaxViews   *int            `json:"maxViews"`
	ExpiresAt  *time.Time      `json:"expiresAt"`
	BurnOnRead bool            `json:"burnOnRead"`
	Deleted    bool            `json:"deleted"`
	State      access.State    `json:"state"`
	CreatedAt  time.Time       `json:"createdAt"`
	DeletedAt  *time.Time      `json:"deletedAt,omitempty"`
}

func (s *Secret) Counters() access.Counters {
	return access.Counters{
		ViewCount:  s.ViewCount,
		MaxViews:   s.MaxViews,
		ExpiresAt:  s.ExpiresAt,
		BurnOnRead: s.BurnOnRead,
		Deleted:    s.Deleted,
		State:      s.State,
	}
}

// Apply writes c back onto the record. The first time the record becomes
// deleted its envelope is wiped so the ciphertext cannot be recovered from
// storage afterwards.
func (s *Secret) Apply(c access.Counters, now time.Time) {
	wasDeleted := s.Deleted

	s.ViewCount = c.ViewCount
	s.MaxViews = c.MaxViews
	s.ExpiresAt = c.ExpiresAt
	s.BurnOnRead = c.BurnOnRead
	s.Deleted = c.Deleted
	s.State = c.State

	if s.Deleted && !wasDeleted {
		at := now.UTC()
		s.DeletedAt = &at
		s.Envelope = crypto.Envelope{}
	}
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (s *Secret) Clone() *Secret {
	out := *s
	if s.MaxViews != nil {
		v := *s.MaxViews
		out.MaxViews = &v
	}
	if s.ExpiresAt != nil {
		v := *s.ExpiresAt
		out.ExpiresAt = &v
	}
	if s.DeletedAt != nil {
		v := *s.DeletedAt
		out.DeletedAt = &v
	}
	if s.Envelope.Salt != nil {
		v := *s.Envelope.Salt
		out.Envelope.Salt = &v
	}
	return &out
}
