package pagination

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Source is an ordered collection of references. Range bounds are inclusive.
type Source interface {
	Len(ctx context.Context) (int64, error)
	Range(ctx context.Context, start, stop int64) ([]string, error)
	Remove(ctx context.Context, refs ...string) error
}

// ListSource pages a redis list in stored order.
type ListSource struct {
	Client redis.Cmdable
	Key    string
}

func (s ListSource) Len(ctx context.Context) (int64, error) {
	return s.Client.LLen(ctx, s.Key).Result()
}

func (s ListSource) Range(ctx context.Context, start, stop int64) ([]string, error) {
	return s.Client.LRange(ctx, s.Key, start, stop).Result()
}

func (s ListSource) Remove(ctx context.Context, refs ...string) error {
	_, err := s.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, r := range refs {
			p.LRem(ctx, s.Key, 0, r)
		}
		return nil
	})
	return err
}

// SortedSetSource pages a redis sorted set by score, newest first when Desc.
type SortedSetSource struct {
	Client redis.Cmdable
	Key    string
	Desc   bool
}

func (s SortedSetSource) Len(ctx context.Context) (int64, error) {
	return s.Client.ZCard(ctx, s.Key).Result()
}

func (s SortedSetSource) Range(ctx context.Context, start, stop int64) ([]string, error) {
	if s.Desc {
		return s.Client.ZRevRange(ctx, s.Key, start, stop).Result()
	}
	return s.Client.ZRange(ctx, s.Key, start, stop).Result()
}

func (s SortedSetSource) Remove(ctx context.Context, refs ...string) error {
	if len(refs) == 0 {
		return nil
	}
	members := make([]interface{}, len(refs))
	for i, r := range refs {
		members[i] = r
	}
	return s.Client.ZRem(ctx, s.Key, members...).Err()
}
