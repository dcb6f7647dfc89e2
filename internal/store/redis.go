package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"zk.share/internal/access"
	"zk.share/internal/audit"
	"zk.share/internal/models"
)

var _ Store = (*RedisStore)(nil)

// maxTxRetries bounds optimistic retries when concurrent viewers race on
// the same key. Each lost round means another writer committed.
const maxTxRetries = 64

type RedisStore struct {
	client       *redis.Client
	tombstoneTTL time.Duration
	log          *zap.Logger
}

func NewRedisStore(options *redis.Options, tombstoneTTL time.Duration, log *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "redis ping %s", options.Addr)
	}

	return &RedisStore{
		client:       client,
		tombstoneTTL: tombstoneTTL,
		log:          log.Named("redis"),
	}, nil
}

func (r *RedisStore) Save(ctx context.Context, secret *models.Secret) error {
	data, err := encode(secret)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, secretKey(secret.ID), data, r.ttlFor(secret, secret.CreatedAt)).Result()
	if err != nil {
		return errors.Wrap(err, "saving secret")
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.Secret, error) {
	data, err := r.client.Get(ctx, secretKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "loading secret")
	}
	return decode(data)
}

func (r *RedisStore) RecordView(ctx context.Context, id string, now time.Time) (access.Decision, *models.Secret, error) {
	var (
		decision access.Decision
		out      *models.Secret
	)
	err := r.mutate(ctx, id, now, func(secret *models.Secret) error {
		decision, out = applyView(secret, now)
		return nil
	})
	if err != nil {
		return access.Decision{}, nil, err
	}
	return decision, out, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, now time.Time, fn func(*models.Secret) error) (*models.Secret, error) {
	var (
		gone bool
		out  *models.Secret
	)
	err := r.mutate(ctx, id, now, func(secret *models.Secret) error {
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

func (r *RedisStore) Delete(ctx context.Context, id string, now time.Time) (*models.Secret, error) {
	var (
		gone bool
		out  *models.Secret
	)
	err := r.mutate(ctx, id, now, func(secret *models.Secret) error {
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

// PurgeDeleted is a no-op: tombstones carry their own TTL in redis.
func (r *RedisStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// mutate runs fn against the record under WATCH and writes the result back
// in a MULTI block, retrying when another client changed the key first.
func (r *RedisStore) mutate(ctx context.Context, id string, now time.Time, fn func(*models.Secret) error) error {
	key := secretKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		secret, err := decode(data)
		if err != nil {
			return err
		}

		if err := fn(secret); err != nil {
			return err
		}

		newData, err := encode(secret)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, r.ttlFor(secret, now))
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.log.Debug("optimistic transaction retry", zap.String("secret_id", id), zap.Int("attempt", i+1))
			continue
		}
		return err
	}

	return errors.Wrapf(redis.TxFailedErr, "secret %s: too much contention", id)
}

// ttlFor keeps live records until expiry plus the tombstone window so an
// expired secret still reports why it is gone. Zero means no expiry.
func (r *RedisStore) ttlFor(secret *models.Secret, now time.Time) time.Duration {
	if secret.Deleted {
		return r.tombstoneTTL
	}
	if secret.ExpiresAt == nil {
		return 0
	}
	ttl := secret.ExpiresAt.Sub(now) + r.tombstoneTTL
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

func (r *RedisStore) SaveAccessEvent(ctx context.Context, event *audit.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encoding access event")
	}
	return r.client.RPush(ctx, eventsKey(event.OrgID), data).Err()
}

func (r *RedisStore) QueryAccessEvents(ctx context.Context, filter *audit.Filter) ([]*audit.Event, error) {
	if filter == nil || filter.OrgID == "" {
		return nil, errors.New("redis access events are partitioned by organization; OrgID is required")
	}

	raw, err := r.client.LRange(ctx, eventsKey(filter.OrgID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "loading access events")
	}

	events := make([]*audit.Event, 0, len(raw))
	for _, item := range raw {
		var e audit.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, errors.Wrap(err, "decoding access event")
		}
		events = append(events, &e)
	}
	return filter.Select(events), nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func secretKey(id string) string {
	return "secret:" + id
}

func eventsKey(orgID string) string {
	return "access:" + orgID
}

func encode(secret *models.Secret) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(secret); err != nil {
		return nil, errors.Wrap(err, "encoding secret")
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&secret); err != nil {
		return nil, errors.Wrap(err, "decoding secret")
	}
	return &secret, nil
}
