package audit

import "time"

type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionDelete, ActionShare:
		return true
	default:
		return false
	}
}

// Event is one append-only access record. SecretID stays nil once the secret
// has been hard-deleted.
type Event struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"orgId"`
	SecretID   *string   `json:"secretId"`
	Action     Action    `json:"action"`
	IPAddress  *string   `json:"ipAddress"`
	UserAgent  *string   `json:"userAgent"`
	AccessedAt time.Time `json:"accessedAt"`
}

// NewEvent builds an event, mapping empty strings to nil.
func NewEvent(orgID, secretID string, action Action, ip, userAgent string) *Event {
	return &Event{
		OrgID:     orgID,
		SecretID:  optional(secretID),
		Action:    action,
		IPAddress: optional(ip),
		UserAgent: optional(userAgent),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type Filter struct {
	OrgID    string
	SecretID string
	Since    time.Time
	Limit    int
}

// Matches reports whether e passes every non-zero field of f.
func (f *Filter) Matches(e *Event) bool {
	if f == nil {
		return true
	}
	if f.OrgID != "" && e.OrgID != f.OrgID {
		return false
	}
	if f.SecretID != "" && (e.SecretID == nil || *e.SecretID != f.SecretID) {
		return false
	}
	if !f.Since.IsZero() && e.AccessedAt.Before(f.Since) {
		return false
	}
	return true
}

// Select returns the events matching f in their original order. With a
// positive Limit only the most recent Limit matches are kept.
func (f *Filter) Select(events []*Event) []*Event {
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	if f != nil && f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
