package upload

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisIndexKey  = "nasupload:uploads"
	redisKeyPrefix = "nasupload:upload:"
	ttlInfinite    = 0
)

// redisStore implements TaskStore with one JSON value per upload plus a set
// indexing the known ids.
type redisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) TaskStore { //nolint:ireturn
	return &redisStore{client: client}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *redisStore) SaveTask(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal upload: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := pipe.Set(ctx, redisKey(t.ID), payload, ttlInfinite).Err(); err != nil {
			return err
		}
		return pipe.SAdd(ctx, redisIndexKey, t.ID).Err()
	})
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}

func (s *redisStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := pipe.Del(ctx, redisKey(id)).Err(); err != nil {
			return err
		}
		return pipe.SRem(ctx, redisIndexKey, id).Err()
	})
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

func (s *redisStore) LoadTasks(ctx context.Context) ([]Task, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read uploads: %w", err)
	}
	tasks := make([]Task, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil || t.ID == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
