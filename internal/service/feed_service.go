package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/pagination"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/tracing"
)

// FeedService 时间线：发布、回填与读取
type FeedService interface {
	// Publish 落库并写入作者自己的 feed；粉丝 feed 由 FanoutWorker 异步写入
	Publish(ctx context.Context, post *model.Post) error
	// Backfill 将 followee 最近的帖子复制到 follower 的 feed
	Backfill(ctx context.Context, followerID, followeeID string) (int64, error)
	// Prune 取消关注后移除 followee 的帖子
	Prune(ctx context.Context, followerID, followeeID string) error
	// PruneTrusted 取消信任后移除作者仅信任可见的帖子
	PruneTrusted(ctx context.Context, followerID, authorID string) error
	// RemoveOwn 删除帖子时立即从作者自己的列表中移除
	RemoveOwn(ctx context.Context, post *model.Post) error
	GetFeed(ctx context.Context, userID string, page, perPage int) (*pagination.Page[*model.Post], error)
	GetUserPosts(ctx context.Context, viewerID, authorID string, page, perPage int) (*pagination.Page[*model.Post], error)
}

type waker interface{ Wake() }

type feedService struct {
	publisher     *Publisher
	feed          repository.FeedRepository
	posts         repository.PostRepository
	follows       repository.FollowRepository
	hydrator      *postHydrator
	worker        waker
	backfillCount int
	maxPerPage    int
}

func NewFeedService(publisher *Publisher, feed repository.FeedRepository, posts repository.PostRepository, follows repository.FollowRepository, hydrator *postHydrator, worker waker, backfillCount, maxPerPage int) FeedService {
	if backfillCount < 0 {
		backfillCount = 0
	}
	return &feedService{
		publisher:     publisher,
		feed:          feed,
		posts:         posts,
		follows:       follows,
		hydrator:      hydrator,
		worker:        worker,
		backfillCount: backfillCount,
		maxPerPage:    maxPerPage,
	}
}

func (s *feedService) Publish(ctx context.Context, post *model.Post) error {
	ctx, span := tracing.Start(ctx, "feed.publish", attribute.String("post.id", post.ID))
	defer span.End()

	if err := s.publisher.Publish(ctx, post); err != nil {
		return fmt.Errorf("publish post: %w", err)
	}
	if err := s.feed.PublishOwn(ctx, post.AuthorID, post.ID, post.CreatedAt); err != nil {
		return fmt.Errorf("author feed: %w", err)
	}
	if s.worker != nil {
		s.worker.Wake()
	}
	return nil
}

func (s *feedService) Backfill(ctx context.Context, followerID, followeeID string) (int64, error) {
	if s.backfillCount == 0 {
		return 0, nil
	}
	maxPerm := model.PermissionRegistered
	trusted, err := s.follows.IsTrusted(ctx, followeeID, followerID)
	if err != nil {
		return 0, err
	}
	if trusted {
		maxPerm = model.PermissionTrusted
	}
	recent, err := s.posts.ListRecentByAuthor(ctx, followeeID, maxPerm, s.backfillCount)
	if err != nil {
		return 0, err
	}
	entries := make([]repository.FeedEntry, len(recent))
	// 旧到新写入
	for i, p := range recent {
		entries[len(recent)-1-i] = repository.FeedEntry{PostID: p.ID, PostedAt: p.CreatedAt}
	}
	return s.feed.Merge(ctx, followerID, entries)
}

func (s *feedService) Prune(ctx context.Context, followerID, followeeID string) error {
	src := s.feed.UserPostsSource(followeeID)
	pids, err := src.Range(ctx, 0, int64(s.feed.Bound())-1)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return nil
	}
	return s.feed.FeedSource(followerID).Remove(ctx, pids...)
}

func (s *feedService) PruneTrusted(ctx context.Context, followerID, authorID string) error {
	pids, err := s.posts.ListIDsByAuthorPermission(ctx, authorID, model.PermissionTrusted)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return nil
	}
	return s.feed.FeedSource(followerID).Remove(ctx, pids...)
}

func (s *feedService) RemoveOwn(ctx context.Context, post *model.Post) error {
	return s.feed.RemoveUserPost(ctx, post.AuthorID, post.ID)
}

func (s *feedService) GetFeed(ctx context.Context, userID string, page, perPage int) (*pagination.Page[*model.Post], error) {
	ctx, span := tracing.Start(ctx, "feed.get", attribute.String("user.id", userID))
	defer span.End()
	return pagination.Paginate(ctx, s.feed.FeedSource(userID), s.hydrator.resolve, page, perPage, s.maxPerPage)
}

func (s *feedService) GetUserPosts(ctx context.Context, viewerID, authorID string, page, perPage int) (*pagination.Page[*model.Post], error) {
	maxPerm := model.PermissionTrusted
	if viewerID != authorID {
		maxPerm = model.PermissionPublic
		if viewerID != "" {
			maxPerm = model.PermissionRegistered
			trusted, err := s.follows.IsTrusted(ctx, authorID, viewerID)
			if err != nil {
				return nil, err
			}
			if trusted {
				maxPerm = model.PermissionTrusted
			}
		}
	}
	// 全部可见时走作者列表（可自愈）；否则按可见级别查询文档存储，隐藏的帖子不会被当作失效删除
	src := s.feed.UserPostsSource(authorID)
	if maxPerm != model.PermissionTrusted {
		src = s.posts.AuthorPostsSource(authorID, maxPerm)
		logger.Debug("profile posts filtered", zap.String("author", authorID), zap.Int("max_permission", int(maxPerm)))
	}
	return pagination.Paginate(ctx, src, s.hydrator.resolve, page, perPage, s.maxPerPage)
}
