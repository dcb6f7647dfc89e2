// Package access decides whether a secret may be revealed and what state it
// moves to. Everything here is pure; callers must read the inputs and persist
// the outputs inside one atomic step per secret.
package access

import "time"

type State string

const (
	Active           State = "active"
	Expired          State = "expired"
	ViewLimitReached State = "view_limit_reached"
	Burned           State = "burned"
	Deleted          State = "deleted"
)

const (
	ReasonExpired   = "Secret has expired"
	ReasonViewLimit = "Maximum view limit reached"
	ReasonBurned    = "Secret was deleted after first view"
	ReasonDeleted   = "Secret has been deleted"
)

// Reason is the user-facing message for a terminal state.
func (s State) Reason() string {
	switch s {
	case Expired:
		return ReasonExpired
	case ViewLimitReached:
		return ReasonViewLimit
	case Burned:
		return ReasonBurned
	case Deleted:
		return ReasonDeleted
	default:
		return ""
	}
}

func (s State) Terminal() bool {
	return s != Active && s != ""
}

type Decision struct {
	CanView bool   `json:"canView"`
	Reason  string `json:"reason,omitempty"`
	State   State  `json:"state"`
}

func grant() Decision { return Decision{CanView: true, State: Active} }

func deny(s State) Decision { return Decision{CanView: false, Reason: s.Reason(), State: s} }

// Evaluate applies the access rules in fixed precedence: expiration, then the
// view limit, then burn-on-read. The first matching rule wins.
func Evaluate(now time.Time, viewCount int, maxViews *int, expiresAt *time.Time, burnOnRead, alreadyViewed bool) Decision {
	if expiresAt != nil && !now.Before(*expiresAt) {
		return deny(Expired)
	}
	if maxViews != nil && viewCount >= *maxViews {
		return deny(ViewLimitReached)
	}
	if burnOnRead && alreadyViewed {
		return deny(Burned)
	}
	return grant()
}

// Counters is the mutable part of a secret record that a view touches.
type Counters struct {
	ViewCount  int
	MaxViews   *int
	ExpiresAt  *time.Time
	BurnOnRead bool
	Deleted    bool
	State      State
}

// Settle applies lazy deletion without consuming a view: a record whose
// rules now deny access is marked deleted with the denial's state.
func Settle(c Counters, now time.Time) (Decision, Counters) {
	next := c
	if c.Deleted {
		state := c.State
		if !state.Terminal() {
			state = Deleted
		}
		next.State = state
		return deny(state), next
	}

	d := Evaluate(now, c.ViewCount, c.MaxViews, c.ExpiresAt, c.BurnOnRead, c.ViewCount > 0)
	if !d.CanView {
		next.Deleted = true
		next.State = d.State
		return d, next
	}
	next.State = Active
	return d, next
}

// Attempt runs one view attempt and returns the decision together with the
// counters to persist. A grant increments the view count and deletes the
// record when it was burn-on-read or has now reached its limit.
func Attempt(c Counters, now time.Time) (Decision, Counters) {
	d, next := Settle(c, now)
	if !d.CanView {
		return d, next
	}

	next.ViewCount++
	switch {
	case c.BurnOnRead:
		next.Deleted = true
		next.State = Burned
	case c.MaxViews != nil && next.ViewCount >= *c.MaxViews:
		next.Deleted = true
		next.State = ViewLimitReached
	}
	return d, next
}

// Delete is the explicit owner action. Already-deleted records keep their reason.
func Delete(c Counters) Counters {
	if c.Deleted {
		return c
	}
	c.Deleted = true
	c.State = Deleted
	return c
}

// ViewsRemaining returns how many grants are left, or nil when unbounded.
func ViewsRemaining(c Counters) *int {
	if c.Deleted {
		n := 0
		return &n
	}
	if c.BurnOnRead {
		n := 1
		if c.ViewCount > 0 {
			n = 0
		}
		if c.MaxViews == nil || *c.MaxViews-c.ViewCount >= n {
			return &n
		}
	}
	if c.MaxViews == nil {
		return nil
	}
	n := *c.MaxViews - c.ViewCount
	if n < 0 {
		n = 0
	}
	return &n
}
