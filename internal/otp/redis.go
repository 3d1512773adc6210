package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-lock retries when two verifications race.
const maxTxRetries = 5

// RedisStore keeps codes in Redis so every instance shares them. Verify runs
// under WATCH so attempts and the verified flag change atomically.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	cfg     Config
	now     func() time.Time
	newCode func() (string, error)
}

// NewRedisStore creates a Redis-backed store. keyPrefix namespaces keys
// (e.g. "notes:").
func NewRedisStore(client redis.UniversalClient, keyPrefix string, cfg Config) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  keyPrefix + "otp:",
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		newCode: GenerateCode,
	}
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + NormalizeIdentity(identity)
}

// Issue implements Store.
func (s *RedisStore) Issue(ctx context.Context, identity, fingerprint string) (string, error) {
	code, err := s.newCode()
	if err != nil {
		return "", err
	}
	now := s.now()
	entry := Entry{
		Identity:    NormalizeIdentity(identity),
		Code:        code,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("otp: marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(identity), raw, s.cfg.TTL).Err(); err != nil {
		return "", fmt.Errorf("otp: store code in redis: %w", err)
	}
	return code, nil
}

// Verify implements Store.
func (s *RedisStore) Verify(ctx context.Context, identity, code, fingerprint string) error {
	return s.update(ctx, identity, func(e *Entry, now time.Time) (action, error) {
		return evaluate(e, code, fingerprint, now, s.cfg.MaxAttempts)
	})
}

// Reopen implements Store.
func (s *RedisStore) Reopen(ctx context.Context, identity, fingerprint string) error {
	return s.update(ctx, identity, func(e *Entry, now time.Time) (action, error) {
		return reopen(e, fingerprint, now)
	})
}

// update reads the entry under WATCH, applies fn and writes the result back in
// one MULTI. fn's error is the verdict returned to the caller.
func (s *RedisStore) update(ctx context.Context, identity string, fn func(*Entry, time.Time) (action, error)) error {
	key := s.key(identity)
	var verdict error

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			verdict = ErrNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("otp: read code from redis: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("otp: decode entry: %w", err)
		}

		act, result := fn(&entry, s.now())
		verdict = result

		switch act {
		case remove:
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				return nil
			})
		case save:
			updated, mErr := json.Marshal(entry)
			if mErr != nil {
				return fmt.Errorf("otp: marshal entry: %w", mErr)
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return verdict
	}
	return errors.New("otp: too much contention on " + NormalizeIdentity(identity))
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, s.key(identity)).Err(); err != nil {
		return fmt.Errorf("otp: delete code from redis: %w", err)
	}
	return nil
}
