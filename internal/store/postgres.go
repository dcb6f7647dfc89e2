package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"zk.share/internal/access"
	"zk.share/internal/audit"
	"zk.share/internal/models"
)

var _ Store = (*PostgresStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	id           TEXT PRIMARY KEY,
	org_id       TEXT NOT NULL,
	creator_id   TEXT NOT NULL,
	ciphertext   TEXT NOT NULL,
	iv           TEXT NOT NULL,
	salt         TEXT,
	key_hash     TEXT NOT NULL,
	view_count   INTEGER NOT NULL DEFAULT 0 CHECK (view_count >= 0),
	max_views    INTEGER CHECK (max_views > 0),
	expires_at   TIMESTAMPTZ,
	burn_on_read BOOLEAN NOT NULL DEFAULT FALSE,
	deleted      BOOLEAN NOT NULL DEFAULT FALSE,
	state        TEXT NOT NULL DEFAULT 'active',
	created_at   TIMESTAMPTZ NOT NULL,
	deleted_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS access_events (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	org_id      TEXT NOT NULL,
	secret_id   TEXT REFERENCES secrets(id) ON DELETE SET NULL,
	action      TEXT NOT NULL CHECK (action IN ('view', 'edit', 'delete', 'share')),
	ip_address  TEXT,
	user_agent  TEXT,
	accessed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS access_events_org_time_idx ON access_events (org_id, accessed_at);
`

const secretColumns = `id, org_id, creator_id, ciphertext, iv, salt, key_hash, view_count,
	max_views, expires_at, burn_on_read, deleted, state, created_at, deleted_at`

type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresStore connects, verifies the connection and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string, log *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.WithHint(errors.Wrap(err, "postgres ping"), "check store.postgres.dsn")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "applying schema")
	}

	return &PostgresStore{db: db, log: log.Named("postgres")}, nil
}

func (p *PostgresStore) Save(ctx context.Context, secret *models.Secret) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO secrets (`+secretColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		secretArgs(secret)...,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrExists
		}
		return errors.Wrap(err, "inserting secret")
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Secret, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE id = $1`, id)
	return scanSecret(row)
}

func (p *PostgresStore) RecordView(ctx context.Context, id string, now time.Time) (access.Decision, *models.Secret, error) {
	var (
		decision access.Decision
		out      *models.Secret
	)
	err := p.mutate(ctx, id, func(secret *models.Secret) error {
		decision, out = applyView(secret, now)
		return nil
	})
	if err != nil {
		return access.Decision{}, nil, err
	}
	return decision, out, nil
}

func (p *PostgresStore) Update(ctx context.Context, id string, now time.Time, fn func(*models.Secret) error) (*models.Secret, error) {
	var (
		gone bool
		out  *models.Secret
	)
	err := p.mutate(ctx, id, func(secret *models.Secret) error {
		var err error
		gone, err = applyUpdate(secret, now, fn)
		out = secret.Clone()
		return err
	})
	if err != nil {
		return nil, err
	}
	if gone {
		return nil, ErrGone
	}
	return out, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string, now time.Time) (*models.Secret, error) {
	var (
		gone bool
		out  *models.Secret
	)
	err := p.mutate(ctx, id, func(secret *models.Secret) error {
		gone = applyDelete(secret, now)
		out = secret.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if gone {
		return nil, ErrGone
	}
	return out, nil
}

func (p *PostgresStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE deleted AND deleted_at < $1`, before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purging tombstones")
	}
	return res.RowsAffected()
}

// mutate locks the row with SELECT ... FOR UPDATE, applies fn and writes the
// counters back in the same transaction.
func (p *PostgresStore) mutate(ctx context.Context, id string, fn func(*models.Secret) error) error {
	return withTx(ctx, p.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE id = $1 FOR UPDATE`, id)
		secret, err := scanSecret(row)
		if err != nil {
			return err
		}

		if err := fn(secret); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE secrets SET
				ciphertext = $2, iv = $3, salt = $4, key_hash = $5,
				view_count = $6, max_views = $7, expires_at = $8, burn_on_read = $9,
				deleted = $10, state = $11, deleted_at = $12
			WHERE id = $1`,
			secret.ID,
			secret.Envelope.Ciphertext, secret.Envelope.IV, nullString(secret.Envelope.Salt), secret.Envelope.KeyHash,
			secret.ViewCount, nullInt(secret.MaxViews), nullTime(secret.ExpiresAt), secret.BurnOnRead,
			secret.Deleted, string(secret.State), nullTime(secret.DeletedAt),
		)
		if err != nil {
			return errors.Wrap(err, "updating secret")
		}
		return nil
	})
}

func (p *PostgresStore) SaveAccessEvent(ctx context.Context, event *audit.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO access_events (id, org_id, secret_id, action, ip_address, user_agent, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.OrgID, nullString(event.SecretID), string(event.Action),
		nullString(event.IPAddress), nullString(event.UserAgent), event.AccessedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "inserting access event")
	}
	return nil
}

func (p *PostgresStore) QueryAccessEvents(ctx context.Context, filter *audit.Filter) ([]*audit.Event, error) {
	if filter == nil {
		filter = &audit.Filter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	// newest first so LIMIT keeps the most recent, then flipped back below
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, secret_id, action, ip_address, user_agent, accessed_at
		FROM access_events
		WHERE ($1 = '' OR org_id = $1)
		  AND ($2 = '' OR secret_id = $2)
		  AND accessed_at >= $3
		ORDER BY seq DESC
		LIMIT NULLIF($4, -1)`,
		filter.OrgID, filter.SecretID, filter.Since.UTC(), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying access events")
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		var (
			e                       audit.Event
			action                  string
			secretID, ip, userAgent sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &secretID, &action, &ip, &userAgent, &e.AccessedAt); err != nil {
			return nil, errors.Wrap(err, "scanning access event")
		}
		e.Action = audit.Action(action)
		e.SecretID = fromNullString(secretID)
		e.IPAddress = fromNullString(ip)
		e.UserAgent = fromNullString(userAgent)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating access events")
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// withTx runs fn inside a transaction that rolls back on error.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSecret(row rowScanner) (*models.Secret, error) {
	var (
		s         models.Secret
		salt      sql.NullString
		maxViews  sql.NullInt64
		expiresAt sql.NullTime
		deletedAt sql.NullTime
		state     string
	)
	err := row.Scan(
		&s.ID, &s.OrgID, &s.CreatorID,
		&s.Envelope.Ciphertext, &s.Envelope.IV, &salt, &s.Envelope.KeyHash,
		&s.ViewCount, &maxViews, &expiresAt, &s.BurnOnRead, &s.Deleted, &state,
		&s.CreatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "scanning secret")
	}

	s.Envelope.Salt = fromNullString(salt)
	if maxViews.Valid {
		n := int(maxViews.Int64)
		s.MaxViews = &n
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		s.ExpiresAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		s.DeletedAt = &t
	}
	s.State = access.State(state)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func secretArgs(s *models.Secret) []any {
	env := s.Envelope
	return []any{
		s.ID, s.OrgID, s.CreatorID,
		env.Ciphertext, env.IV, nullString(env.Salt), env.KeyHash,
		s.ViewCount, nullInt(s.MaxViews), nullTime(s.ExpiresAt), s.BurnOnRead, s.Deleted,
		string(s.State), s.CreatedAt.UTC(), nullTime(s.DeletedAt),
	}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}
