package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// UserService 账号生命周期
type UserService interface {
	Create(ctx context.Context, in CreateUserInput) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// Delete 先删除文档，再尽力清理图、feed、告警与内容；残留由读路径自愈
	Delete(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) error
	SetBanned(ctx context.Context, id string, banned bool) error
	SetMuted(ctx context.Context, id string, muted bool) error
	SetOperator(ctx context.Context, id string, op bool) error
	SetReplySort(ctx context.Context, id string, sort model.ReplySort) error
	// PurgeExpired 删除超过激活期限仍未激活的账号
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type userService struct {
	users            repository.UserRepository
	cache            *cache.UserCache
	follows          repository.FollowRepository
	feed             repository.FeedRepository
	alerts           repository.AlertRepository
	votes            repository.VoteRepository
	content          PostService
	activationWindow time.Duration
	now              func() time.Time
}

type UserServiceDeps struct {
	Users   repository.UserRepository
	Cache   *cache.UserCache
	Follows repository.FollowRepository
	Feed    repository.FeedRepository
	Alerts  repository.AlertRepository
	Votes   repository.VoteRepository
	Content PostService
}

func NewUserService(d UserServiceDeps, activationWindow time.Duration) UserService {
	return &userService{
		users:            d.Users,
		cache:            d.Cache,
		follows:          d.Follows,
		feed:             d.Feed,
		alerts:           d.Alerts,
		votes:            d.Votes,
		content:          d.Content,
		activationWindow: activationWindow,
		now:              time.Now,
	}
}

func (s *userService) Create(ctx context.Context, in CreateUserInput) (*model.User, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	u := &model.User{
		ID:        uuid.NewString(),
		Username:  in.Username,
		Email:     strings.TrimSpace(in.Email),
		Active:    in.Active,
		ReplySort: model.ReplySortNewest,
		CreatedAt: now,
	}
	if !in.Active && s.activationWindow > 0 {
		deadline := now.Add(s.activationWindow)
		u.ActivationDeadline = &deadline
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, mapRepoErr(err)
	}
	return u, nil
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.overlayScore(ctx, u)
	return u, nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.overlayScore(ctx, u)
	return u, nil
}

func (s *userService) overlayScore(ctx context.Context, u *model.User) {
	if score, ok, err := s.votes.UserScore(ctx, u.ID); err == nil && ok {
		u.Score = score
	}
}

func (s *userService) Delete(ctx context.Context, id string) error {
	deleted, err := s.users.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	// 以下步骤失败不重试
	cleanup := multierr.Combine(
		s.cache.Invalidate(ctx, id),
		s.follows.RemoveUser(ctx, id),
		s.feed.DeleteUser(ctx, id),
		s.alerts.DeleteUser(ctx, id),
		s.votes.DeleteUser(ctx, id),
	)
	if s.content != nil {
		cleanup = multierr.Append(cleanup, s.content.DeleteAuthorContent(ctx, id))
	}
	if cleanup != nil {
		logger.Warn("account cleanup incomplete", zap.String("user", id), zap.Error(cleanup))
	}
	logger.Info("account deleted", zap.String("user", id))
	return nil
}

func (s *userService) update(ctx context.Context, id string, fields map[string]any) error {
	if err := s.users.UpdateFields(ctx, id, fields); err != nil {
		return mapRepoErr(err)
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.Warn("invalidate user cache failed", zap.String("user", id), zap.Error(err))
	}
	return nil
}

func (s *userService) Activate(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]any{"active": true, "activation_deadline": nil})
}

func (s *userService) SetBanned(ctx context.Context, id string, banned bool) error {
	return s.update(ctx, id, map[string]any{"banned": banned})
}

func (s *userService) SetMuted(ctx context.Context, id string, muted bool) error {
	return s.update(ctx, id, map[string]any{"muted": muted})
}

func (s *userService) SetOperator(ctx context.Context, id string, op bool) error {
	return s.update(ctx, id, map[string]any{"operator": op})
}

func (s *userService) SetReplySort(ctx context.Context, id string, sort model.ReplySort) error {
	if sort != model.ReplySortNewest && sort != model.ReplySortOldest {
		return ErrInvalidArgument
	}
	return s.update(ctx, id, map[string]any{"reply_sort": sort})
}

func (s *userService) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.users.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return purged, err
		}
		purged++
	}
	return purged, nil
}
