package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/internal/model"
)

// SubscriptionRepository 帖子订阅者集合 uid -> reason
type SubscriptionRepository interface {
	// Subscribe 写入或升级订阅原因；不会降级，未变化时返回 false
	Subscribe(ctx context.Context, userID, postID string, reason model.SubscriptionReason) (bool, error)
	Unsubscribe(ctx context.Context, userID, postID string) (bool, error)
	Reason(ctx context.Context, userID, postID string) (model.SubscriptionReason, error)
	Subscribers(ctx context.Context, postID string) (map[string]model.SubscriptionReason, error)
	Delete(ctx context.Context, postID string) error
}

type subscriptionRepository struct{ rdb *redis.Client }

func NewSubscriptionRepository(rdb *redis.Client) SubscriptionRepository {
	return &subscriptionRepository{rdb: rdb}
}

func (r *subscriptionRepository) Subscribe(ctx context.Context, userID, postID string, reason model.SubscriptionReason) (bool, error) {
	n, err := subscribeScript.Run(ctx, r.rdb, []string{SubscribersKey(postID)}, userID, int(reason)).Int()
	return n == 1, err
}

func (r *subscriptionRepository) Unsubscribe(ctx context.Context, userID, postID string) (bool, error) {
	n, err := r.rdb.ZRem(ctx, SubscribersKey(postID), userID).Result()
	return n == 1, err
}

func (r *subscriptionRepository) Reason(ctx context.Context, userID, postID string) (model.SubscriptionReason, error) {
	s, err := r.rdb.ZScore(ctx, SubscribersKey(postID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return model.ReasonNone, nil
	}
	if err != nil {
		return model.ReasonNone, err
	}
	return model.SubscriptionReason(int(s)), nil
}

func (r *subscriptionRepository) Subscribers(ctx context.Context, postID string) (map[string]model.SubscriptionReason, error) {
	zs, err := r.rdb.ZRangeWithScores(ctx, SubscribersKey(postID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.SubscriptionReason, len(zs))
	for _, z := range zs {
		if uid, ok := z.Member.(string); ok {
			out[uid] = model.SubscriptionReason(int(z.Score))
		}
	}
	return out, nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, postID string) error {
	return r.rdb.Del(ctx, SubscribersKey(postID)).Err()
}
