package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/pagination"
)

// AlertRepository 告警只存一份，收件人队列中保存引用
type AlertRepository interface {
	// Store 在一个 MULTI 中写入告警内容并推入所有收件人队列
	Store(ctx context.Context, alertID string, blob []byte, ttl time.Duration, recipients []string, at time.Time) error
	// SubscribeAndStore 在一个脚本中升级订阅并写入告警；recipients 为空时只订阅
	SubscribeAndStore(ctx context.Context, postID string, reason model.SubscriptionReason, subscribers []string, alertID string, blob []byte, ttl time.Duration, recipients []string, at time.Time) (int64, error)
	Load(ctx context.Context, alertIDs []string) (map[string][]byte, error)
	Source(userID string) pagination.Source
	Remove(ctx context.Context, userID string, alertIDs ...string) (int64, error)
	Drop(ctx context.Context, alertIDs ...string) error
	LastChecked(ctx context.Context, userID string) (time.Time, error)
	MarkChecked(ctx context.Context, userID string, at time.Time) error
	CountSince(ctx context.Context, userID string, since time.Time) (int64, error)
	DeleteUser(ctx context.Context, userID string) error
}

type alertRepository struct{ rdb *redis.Client }

func NewAlertRepository(rdb *redis.Client) AlertRepository { return &alertRepository{rdb: rdb} }

func (r *alertRepository) Store(ctx context.Context, alertID string, blob []byte, ttl time.Duration, recipients []string, at time.Time) error {
	if len(recipients) == 0 {
		return nil
	}
	score := float64(at.UnixMilli())
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, AlertKey(alertID), blob, ttl)
		for _, uid := range recipients {
			p.ZAdd(ctx, AlertsKey(uid), redis.Z{Score: score, Member: alertID})
		}
		return nil
	})
	return err
}

func (r *alertRepository) SubscribeAndStore(ctx context.Context, postID string, reason model.SubscriptionReason, subscribers []string, alertID string, blob []byte, ttl time.Duration, recipients []string, at time.Time) (int64, error) {
	if len(subscribers) == 0 && len(recipients) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(recipients)+2)
	keys = append(keys, SubscribersKey(postID), AlertKey(alertID))
	for _, uid := range recipients {
		keys = append(keys, AlertsKey(uid))
	}
	args := make([]interface{}, 0, len(subscribers)+5)
	args = append(args, int(reason), alertID, blob, ttl.Milliseconds(), at.UnixMilli())
	for _, uid := range subscribers {
		args = append(args, uid)
	}
	return subscribeNotifyScript.Run(ctx, r.rdb, keys, args...).Int64()
}

func (r *alertRepository) Load(ctx context.Context, alertIDs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(alertIDs))
	if len(alertIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(alertIDs))
	for i, id := range alertIDs {
		keys[i] = AlertKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[alertIDs[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *alertRepository) Source(userID string) pagination.Source {
	return pagination.SortedSetSource{Client: r.rdb, Key: AlertsKey(userID), Desc: true}
}

func (r *alertRepository) Remove(ctx context.Context, userID string, alertIDs ...string) (int64, error) {
	if len(alertIDs) == 0 {
		return 0, nil
	}
	members := make([]interface{}, len(alertIDs))
	for i, id := range alertIDs {
		members[i] = id
	}
	return r.rdb.ZRem(ctx, AlertsKey(userID), members...).Result()
}

func (r *alertRepository) Drop(ctx context.Context, alertIDs ...string) error {
	if len(alertIDs) == 0 {
		return nil
	}
	keys := make([]string, len(alertIDs))
	for i, id := range alertIDs {
		keys[i] = AlertKey(id)
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *alertRepository) LastChecked(ctx context.Context, userID string) (time.Time, error) {
	s, err := r.rdb.Get(ctx, AlertsSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func (r *alertRepository) MarkChecked(ctx context.Context, userID string, at time.Time) error {
	return r.rdb.Set(ctx, AlertsSeenKey(userID), at.UnixMilli(), 0).Err()
}

func (r *alertRepository) CountSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	lo := "-inf"
	if !since.IsZero() {
		lo = "(" + strconv.FormatInt(since.UnixMilli(), 10)
	}
	return r.rdb.ZCount(ctx, AlertsKey(userID), lo, "+inf").Result()
}

func (r *alertRepository) DeleteUser(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, AlertsKey(userID), AlertsSeenKey(userID)).Err()
}
