package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"zk.share/internal/audit"
	"zk.share/internal/models"
)

// newTestPostgres connects to POSTGRES_DSN and skips the test when it is unset.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	st, err := NewPostgresStore(context.Background(), dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgresStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return newTestPostgres(t)
	})
}

func TestPostgresPurgeDetachesEvents(t *testing.T) {
	st := newTestPostgres(t)
	ctx := context.Background()

	secret := newSecret(func(s *models.Secret) { s.MaxViews = intPtr(1) })
	require.NoError(t, st.Save(ctx, secret))

	e := audit.NewEvent(secret.OrgID, secret.ID, audit.ActionView, "10.0.0.7", "curl/8")
	e.ID = secret.ID + "-view"
	e.AccessedAt = testNow
	require.NoError(t, st.SaveAccessEvent(ctx, e))

	d, _, err := st.RecordView(ctx, secret.ID, testNow)
	require.NoError(t, err)
	require.True(t, d.CanView)

	_, err = st.PurgeDeleted(ctx, testNow.Add(time.Second))
	require.NoError(t, err)

	_, err = st.Get(ctx, secret.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	events, err := st.QueryAccessEvents(ctx, &audit.Filter{OrgID: secret.OrgID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].SecretID)
	require.NotNil(t, events[0].UserAgent)
	assert.Equal(t, "curl/8", *events[0].UserAgent)
}
