package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/alert"
	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/pagination"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/tracing"
)

// RelationshipService 关系链服务
type RelationshipService interface {
	// Follow 自己关注自己或重复关注返回 false
	Follow(ctx context.Context, fromUserID, toUserID string) (bool, error)
	Unfollow(ctx context.Context, fromUserID, toUserID string) (bool, error)
	IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error)
	// Trust userID 信任其粉丝 fanID；fanID 未关注 userID 时返回 false
	Trust(ctx context.Context, userID, fanID string) (bool, error)
	Untrust(ctx context.Context, userID, fanID string) (bool, error)
	IsTrusted(ctx context.Context, userID, fanID string) (bool, error)
	ListFollowing(ctx context.Context, userID string, page, pageSize int) (*pagination.Page[*cache.UserSnapshot], error)
	ListFans(ctx context.Context, userID string, page, pageSize int) (*pagination.Page[*cache.UserSnapshot], error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	fanRepo    repository.FanRepository
	users      *cache.UserCache
	feed       FeedService
	alerts     AlertService
	maxPerPage int
}

func NewRelationshipService(followRepo repository.FollowRepository, fanRepo repository.FanRepository, users *cache.UserCache, feed FeedService, alerts AlertService, maxPerPage int) RelationshipService {
	return &relationshipService{
		followRepo: followRepo,
		fanRepo:    fanRepo,
		users:      users,
		feed:       feed,
		alerts:     alerts,
		maxPerPage: maxPerPage,
	}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	if fromUserID == toUserID {
		return false, nil
	}
	ctx, span := tracing.Start(ctx, "graph.follow",
		attribute.String("follower.id", fromUserID), attribute.String("followee.id", toUserID))
	defer span.End()

	if err := s.requireUsers(ctx, fromUserID, toUserID); err != nil {
		return false, err
	}
	ok, err := s.followRepo.Follow(ctx, fromUserID, toUserID, time.Now())
	if err != nil || !ok {
		return false, err
	}

	// 回填与告警失败不影响关注结果
	if n, err := s.feed.Backfill(ctx, fromUserID, toUserID); err != nil {
		logger.Warn("backfill failed", zap.String("follower", fromUserID), zap.String("followee", toUserID), zap.Error(err))
	} else {
		logger.Debug("backfilled feed", zap.String("follower", fromUserID), zap.Int64("posts", n))
	}
	if err := s.alerts.Notify(ctx, alert.NewFollowAlert(fromUserID, time.Now()), toUserID); err != nil {
		logger.Warn("follow alert failed", zap.String("follower", fromUserID), zap.Error(err))
	}
	return true, nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	ok, err := s.followRepo.Unfollow(ctx, fromUserID, toUserID)
	if err != nil || !ok {
		return false, err
	}
	if err := s.feed.Prune(ctx, fromUserID, toUserID); err != nil {
		logger.Warn("prune feed failed", zap.String("follower", fromUserID), zap.String("followee", toUserID), zap.Error(err))
	}
	return true, nil
}

func (s *relationshipService) IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	return s.followRepo.IsFollowing(ctx, fromUserID, toUserID)
}

func (s *relationshipService) Trust(ctx context.Context, userID, fanID string) (bool, error) {
	if userID == fanID {
		return false, nil
	}
	return s.followRepo.Trust(ctx, userID, fanID, time.Now())
}

func (s *relationshipService) Untrust(ctx context.Context, userID, fanID string) (bool, error) {
	ok, err := s.followRepo.Untrust(ctx, userID, fanID)
	if err != nil || !ok {
		return ok, err
	}
	if err := s.feed.PruneTrusted(ctx, fanID, userID); err != nil {
		logger.Warn("prune trusted posts failed", zap.String("user", userID), zap.String("fan", fanID), zap.Error(err))
	}
	return true, nil
}

func (s *relationshipService) IsTrusted(ctx context.Context, userID, fanID string) (bool, error) {
	return s.followRepo.IsTrusted(ctx, userID, fanID)
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) (*pagination.Page[*cache.UserSnapshot], error) {
	return pagination.Paginate(ctx, s.followRepo.FollowingSource(userID), s.users.Load, page, pageSize, s.maxPerPage)
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, page, pageSize int) (*pagination.Page[*cache.UserSnapshot], error) {
	return pagination.Paginate(ctx, s.fanRepo.FansSource(userID), s.users.Load, page, pageSize, s.maxPerPage)
}

func (s *relationshipService) requireUsers(ctx context.Context, ids ...string) error {
	found, err := s.users.Load(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return ErrNotFound
		}
	}
	return nil
}
