package auth

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps credential records in Redis hashes, one hash per token
// id under "<prefix><tokenID>".
type RedisStore struct {
	c      *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(c *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "agentgate:token:"
	}
	return &RedisStore{c: c, prefix: keyPrefix}
}

func (s *RedisStore) key(tokenID string) string {
	return s.prefix + tokenID
}

func (s *RedisStore) Lookup(ctx context.Context, tokenID string) (*Record, error) {
	fields, err := s.c.HGetAll(ctx, s.key(tokenID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}

	rec := &Record{ID: tokenID}
	if v := fields["secret_hash"]; v != "" {
		if rec.SecretHash, err = hex.DecodeString(v); err != nil {
			return nil, err
		}
	}
	if v := fields["salt"]; v != "" {
		if rec.Salt, err = hex.DecodeString(v); err != nil {
			return nil, err
		}
	}
	if v := fields["scopes"]; v != "" {
		rec.Scopes = strings.Split(v, ",")
	}
	if v := fields["expires_at"]; v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		if sec > 0 {
			rec.ExpiresAt = time.Unix(sec, 0)
		}
	}
	rec.Revoked = fields["revoked"] == "1"
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	var expires int64
	if !rec.ExpiresAt.IsZero() {
		expires = rec.ExpiresAt.Unix()
	}
	revoked := "0"
	if rec.Revoked {
		revoked = "1"
	}
	return s.c.HSet(ctx, s.key(rec.ID),
		"secret_hash", hex.EncodeToString(rec.SecretHash),
		"salt", hex.EncodeToString(rec.Salt),
		"scopes", strings.Join(rec.Scopes, ","),
		"expires_at", strconv.FormatInt(expires, 10),
		"revoked", revoked,
	).Err()
}

func (s *RedisStore) Revoke(ctx context.Context, tokenID string) error {
	key := s.key(tokenID)
	exists, err := s.c.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrTokenNotFound
	}
	return s.c.HSet(ctx, key, "revoked", "1").Err()
}
