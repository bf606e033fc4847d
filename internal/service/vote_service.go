package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/tracing"
)

// VoteService 投票：窗口期内可撤销或翻转，过期后不可再改
type VoteService interface {
	Vote(ctx context.Context, voterID, postID string, amount int, at time.Time) (*repository.VoteResult, error)
	VoteUp(ctx context.Context, voterID, postID string) (*repository.VoteResult, error)
	VoteDown(ctx context.Context, voterID, postID string) (*repository.VoteResult, error)
	// HasVoted 返回当前投票方向，0 表示未投票
	HasVoted(ctx context.Context, voterID, postID string) (int, error)
}

type voteService struct {
	votes  repository.VoteRepository
	posts  repository.PostRepository
	users  repository.UserRepository
	cache  *cache.UserCache
	window time.Duration
	now    func() time.Time
}

func NewVoteService(votes repository.VoteRepository, posts repository.PostRepository, users repository.UserRepository, userCache *cache.UserCache, window time.Duration) VoteService {
	return &voteService{votes: votes, posts: posts, users: users, cache: userCache, window: window, now: time.Now}
}

func (s *voteService) Vote(ctx context.Context, voterID, postID string, amount int, at time.Time) (*repository.VoteResult, error) {
	if err := validateStruct(VoteInput{VoterID: voterID, PostID: postID, Amount: amount}); err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "vote.cast",
		attribute.String("voter.id", voterID), attribute.String("post.id", postID), attribute.Int("amount", amount))
	defer span.End()

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if post.AuthorID == voterID {
		return nil, ErrCantVoteOnOwn
	}
	voter, err := s.cache.Get(ctx, voterID)
	if err != nil {
		return nil, err
	}
	if voter == nil {
		return nil, ErrNotFound
	}

	res, err := s.votes.Cast(ctx, voterID, postID, post.AuthorID, amount, at, s.window)
	if err != nil {
		if errors.Is(err, repository.ErrVoteWindowClosed) {
			return nil, ErrAlreadyVoted
		}
		return nil, err
	}

	// 文档存储中的分数只是副本，写失败由下一次投票覆盖
	if err := s.posts.SetScore(ctx, postID, res.PostScore); err != nil {
		logger.Warn("write post score failed", zap.String("post", postID), zap.Error(err))
	}
	if err := s.users.SetScore(ctx, post.AuthorID, res.AuthorScore); err != nil {
		logger.Warn("write user score failed", zap.String("user", post.AuthorID), zap.Error(err))
	}
	return res, nil
}

func (s *voteService) VoteUp(ctx context.Context, voterID, postID string) (*repository.VoteResult, error) {
	return s.Vote(ctx, voterID, postID, 1, s.now())
}

func (s *voteService) VoteDown(ctx context.Context, voterID, postID string) (*repository.VoteResult, error) {
	return s.Vote(ctx, voterID, postID, -1, s.now())
}

func (s *voteService) HasVoted(ctx context.Context, voterID, postID string) (int, error) {
	sign, _, ok, err := s.votes.Get(ctx, voterID, postID)
	if err != nil || !ok {
		return 0, err
	}
	return sign, nil
}
