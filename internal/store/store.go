package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"zk.share/internal/access"
	"zk.share/internal/audit"
	"zk.share/internal/models"
)

var (
	ErrNotFound = errors.New("secret not found")
	ErrExists   = errors.New("secret already exists")
	ErrGone     = errors.New("secret is no longer available")
)

// Store persists secrets and their access events. RecordView, Update and
// Delete are each a single atomic read-modify-write per secret: no two of
// them may act on the same stale read of a record.
type Store interface {
	audit.Sink

	Save(ctx context.Context, secret *models.Secret) error
	// Get returns the record as stored, tombstones included. It never
	// changes state.
	Get(ctx context.Context, id string) (*models.Secret, error)
	// RecordView runs one access attempt. On a grant the returned secret
	// carries the envelope even if this view deleted the record.
	RecordView(ctx context.Context, id string, now time.Time) (access.Decision, *models.Secret, error)
	// Update applies fn to a live record. Records that are deleted, or that
	// the access rules now deny, yield ErrGone.
	Update(ctx context.Context, id string, now time.Time, fn func(*models.Secret) error) (*models.Secret, error)
	// Delete is the explicit owner delete. It wipes the envelope and keeps a
	// tombstone so later views report why the secret is gone.
	Delete(ctx context.Context, id string, now time.Time) (*models.Secret, error)
	// PurgeDeleted hard-deletes tombstones deleted before the cutoff.
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// The helpers below are the transitions every backend runs inside its own
// atomic section. They mutate s in place.

func applyView(s *models.Secret, now time.Time) (access.Decision, *models.Secret) {
	envelope := s.Clone().Envelope

	d, next := access.Attempt(s.Counters(), now)
	s.Apply(next, now)

	out := s.Clone()
	if d.CanView {
		out.Envelope = envelope
	}
	return d, out
}

func applyUpdate(s *models.Secret, now time.Time, fn func(*models.Secret) error) (gone bool, err error) {
	d, next := access.Settle(s.Counters(), now)
	if !d.CanView {
		s.Apply(next, now)
		return true, nil
	}
	if err := fn(s); err != nil {
		return false, err
	}
	return false, nil
}

func applyDelete(s *models.Secret, now time.Time) (gone bool) {
	if s.Deleted {
		return true
	}
	s.Apply(access.Delete(s.Counters()), now)
	return false
}
