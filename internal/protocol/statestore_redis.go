package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	stateKeyPrefix     = "protocol:state:"
	userIndexKeyPrefix = "protocol:user:"
)

// RedisStateStore persists instances as JSON with a per-key TTL and a
// per-user index set for List. Redis expiry enforces the instance TTL;
// index members whose state key has expired are pruned on read.
type RedisStateStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	now    func() time.Time
}

var _ StateStore = (*RedisStateStore)(nil)

func NewRedisStateStore(redisClient *redis.Client) *RedisStateStore {
	if redisClient == nil {
		return nil
	}
	return &RedisStateStore{
		redis:  redisClient,
		tracer: otel.Tracer("crisis.internal.protocol.statestore"),
		now:    time.Now,
	}
}

func stateKey(instanceID string) string { return stateKeyPrefix + instanceID }
func userIndexKey(userID string) string { return userIndexKeyPrefix + userID }

func (s *RedisStateStore) Get(ctx context.Context, instanceID string) (*ProtocolState, error) {
	data, err := s.redis.Get(ctx, stateKey(instanceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: redis get %s: %w", instanceID, err)
	}

	var state ProtocolState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal instance %s: %w", instanceID, err)
	}
	if state.Expired(s.now()) {
		return nil, ErrInstanceNotFound
	}
	return &state, nil
}

func (s *RedisStateStore) Put(ctx context.Context, state *ProtocolState) error {
	if state == nil || state.InstanceID == "" {
		return errors.New("protocol: instance id required")
	}

	ctx, span := s.tracer.Start(ctx, "protocol.statestore.put")
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("protocol: marshal instance %s: %w", state.InstanceID, err)
	}

	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, stateKey(state.InstanceID), data, ttl)
	if state.UserID != "" {
		key := userIndexKey(state.UserID)
		pipe.SAdd(ctx, key, state.InstanceID)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("protocol: redis put %s: %w", state.InstanceID, err)
	}
	return nil
}

func (s *RedisStateStore) Delete(ctx context.Context, instanceID string) error {
	state, err := s.Get(ctx, instanceID)
	if err != nil && !errors.Is(err, ErrInstanceNotFound) {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, stateKey(instanceID))
	if state != nil && state.UserID != "" {
		pipe.SRem(ctx, userIndexKey(state.UserID), instanceID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("protocol: redis delete %s: %w", instanceID, err)
	}
	return nil
}

// List requires a user filter; the user index set is the only scan path.
func (s *RedisStateStore) List(ctx context.Context, filter Filter) ([]*ProtocolState, error) {
	if filter.UserID == "" {
		return nil, errors.New("protocol: redis list requires a user filter")
	}

	ids, err := s.redis.SMembers(ctx, userIndexKey(filter.UserID)).Result()
	if err != nil {
		return nil, fmt.Errorf("protocol: redis list for user %s: %w", filter.UserID, err)
	}

	var out []*ProtocolState
	var stale []any
	for _, id := range ids {
		state, err := s.Get(ctx, id)
		if errors.Is(err, ErrInstanceNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.matches(state) {
			out = append(out, state)
		}
	}
	if len(stale) > 0 {
		s.redis.SRem(ctx, userIndexKey(filter.UserID), stale...)
	}
	return out, nil
}
