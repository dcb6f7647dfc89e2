package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluate(t *testing.T) {
	expiry := now.Add(time.Hour)

	tests := []struct {
		name          string
		now           time.Time
		viewCount     int
		maxViews      *int
		expiresAt     *time.Time
		burnOnRead    bool
		alreadyViewed bool
		want          Decision
	}{
		{"unbounded", now, 0, nil, nil, false, false, Decision{CanView: true, State: Active}},
		{"one second before expiry", expiry.Add(-time.Second), 0, nil, &expiry, false, false,
			Decision{CanView: true, State: Active}},
		{"at expiry", expiry, 0, nil, &expiry, false, false,
			Decision{Reason: "Secret has expired", State: Expired}},
		{"after expiry", expiry.Add(time.Minute), 0, nil, &expiry, false, false,
			Decision{Reason: "Secret has expired", State: Expired}},
		{"below limit", now, 4, intPtr(5), nil, false, false, Decision{CanView: true, State: Active}},
		{"at limit", now, 5, intPtr(5), nil, false, false,
			Decision{Reason: "Maximum view limit reached", State: ViewLimitReached}},
		{"over limit", now, 7, intPtr(5), nil, false, false,
			Decision{Reason: "Maximum view limit reached", State: ViewLimitReached}},
		{"burn first view", now, 0, nil, nil, true, false, Decision{CanView: true, State: Active}},
		{"burn second view", now, 1, nil, nil, true, true,
			Decision{Reason: "Secret was deleted after first view", State: Burned}},
		{"expired and at limit", expiry, 5, intPtr(5), &expiry, true, true,
			Decision{Reason: "Secret has expired", State: Expired}},
		{"at limit and burned", now, 1, intPtr(1), &expiry, true, true,
			Decision{Reason: "Maximum view limit reached", State: ViewLimitReached}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.now, tt.viewCount, tt.maxViews, tt.expiresAt, tt.burnOnRead, tt.alreadyViewed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttemptGrantIncrements(t *testing.T) {
	c := Counters{MaxViews: intPtr(3), State: Active}

	d, next := Attempt(c, now)
	assert.True(t, d.CanView)
	assert.Equal(t, 1, next.ViewCount)
	assert.False(t, next.Deleted)
	assert.Equal(t, Active, next.State)
	assert.Equal(t, 0, c.ViewCount, "input counters must not be mutated")
}

func TestAttemptViewLimitDeletesOnLastView(t *testing.T) {
	c := Counters{ViewCount: 4, MaxViews: intPtr(5), State: Active}

	d, next := Attempt(c, now)
	require.True(t, d.CanView)
	assert.Equal(t, 5, next.ViewCount)
	assert.True(t, next.Deleted)
	assert.Equal(t, ViewLimitReached, next.State)

	d, after := Attempt(next, now)
	assert.False(t, d.CanView)
	assert.Equal(t, ReasonViewLimit, d.Reason)
	assert.Equal(t, 5, after.ViewCount)
}

func TestAttemptBurnOnRead(t *testing.T) {
	c := Counters{BurnOnRead: true, State: Active}

	d, next := Attempt(c, now)
	require.True(t, d.CanView)
	assert.True(t, next.Deleted)
	assert.Equal(t, Burned, next.State)
	assert.Equal(t, 1, next.ViewCount)

	d, _ = Attempt(next, now)
	assert.False(t, d.CanView)
	assert.Equal(t, "Secret was deleted after first view", d.Reason)
}

func TestAttemptBurnIgnoresHigherLimit(t *testing.T) {
	c := Counters{BurnOnRead: true, MaxViews: intPtr(10), State: Active}

	_, next := Attempt(c, now)
	assert.True(t, next.Deleted)
	assert.Equal(t, Burned, next.State)
}

func TestAttemptLazyExpiry(t *testing.T) {
	c := Counters{ViewCount: 1, MaxViews: intPtr(5), ExpiresAt: timePtr(now), State: Active}

	d, next := Attempt(c, now)
	assert.False(t, d.CanView)
	assert.Equal(t, ReasonExpired, d.Reason)
	assert.True(t, next.Deleted)
	assert.Equal(t, Expired, next.State)
	assert.Equal(t, 1, next.ViewCount)

	// the stored reason survives later attempts even if the clock moves back
	d, _ = Attempt(next, now.Add(-time.Hour))
	assert.Equal(t, ReasonExpired, d.Reason)
}

func TestAttemptDeletedWithoutState(t *testing.T) {
	d, next := Attempt(Counters{Deleted: true}, now)
	assert.False(t, d.CanView)
	assert.Equal(t, ReasonDeleted, d.Reason)
	assert.Equal(t, Deleted, next.State)
}

func TestSettle(t *testing.T) {
	live := Counters{ViewCount: 1, MaxViews: intPtr(3), State: Active}
	d, next := Settle(live, now)
	assert.True(t, d.CanView)
	assert.Equal(t, live, next)

	spent := Counters{ViewCount: 3, MaxViews: intPtr(3), State: Active}
	d, next = Settle(spent, now)
	assert.False(t, d.CanView)
	assert.True(t, next.Deleted)
	assert.Equal(t, ViewLimitReached, next.State)
	assert.Equal(t, 3, next.ViewCount)
}

func TestDelete(t *testing.T) {
	c := Delete(Counters{ViewCount: 2, State: Active})
	assert.True(t, c.Deleted)
	assert.Equal(t, Deleted, c.State)

	burned := Counters{Deleted: true, State: Burned}
	assert.Equal(t, burned, Delete(burned))

	d, _ := Attempt(c, now)
	assert.Equal(t, "Secret has been deleted", d.Reason)
}

func TestViewsRemaining(t *testing.T) {
	tests := []struct {
		name string
		c    Counters
		want *int
	}{
		{"unbounded", Counters{}, nil},
		{"limited", Counters{ViewCount: 2, MaxViews: intPtr(5)}, intPtr(3)},
		{"deleted", Counters{Deleted: true, MaxViews: intPtr(5)}, intPtr(0)},
		{"burn unviewed", Counters{BurnOnRead: true}, intPtr(1)},
		{"burn with limit", Counters{BurnOnRead: true, MaxViews: intPtr(10)}, intPtr(1)},
		{"over limit", Counters{ViewCount: 9, MaxViews: intPtr(5)}, intPtr(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ViewsRemaining(tt.c))
		})
	}
}
