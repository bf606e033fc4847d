package repository

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/internal/pagination"
)

// FanRepository 粉丝侧只读视图，由 FollowRepository 的脚本维护镜像
type FanRepository interface {
	ListFans(ctx context.Context, userID string, offset, limit int) ([]string, error)
	// ListTrustedFans 被 userID 信任的粉丝
	ListTrustedFans(ctx context.Context, userID string, offset, limit int) ([]string, error)
	CountFans(ctx context.Context, userID string) (int64, error)
	FansSource(userID string) pagination.Source
}

type fanRepository struct{ rdb *redis.Client }

func NewFanRepository(rdb *redis.Client) FanRepository { return &fanRepository{rdb: rdb} }

// ListFans 按关注时间升序分页，扇出遍历时新增粉丝不会打乱已读区间
func (r *fanRepository) ListFans(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	return r.rdb.ZRange(ctx, FollowersKey(userID), int64(offset), int64(offset+limit-1)).Result()
}

func (r *fanRepository) ListTrustedFans(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	return r.rdb.ZRange(ctx, TrustedKey(userID), int64(offset), int64(offset+limit-1)).Result()
}

func (r *fanRepository) CountFans(ctx context.Context, userID string) (int64, error) {
	return r.rdb.ZCard(ctx, FollowersKey(userID)).Result()
}

func (r *fanRepository) FansSource(userID string) pagination.Source {
	return pagination.SortedSetSource{Client: r.rdb, Key: FollowersKey(userID), Desc: true}
}
