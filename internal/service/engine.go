package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/notify"
	"github.com/d60-Lab/socialfeed/internal/pagination"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// Engine 对外的调用入口，组装各服务；所有操作显式传入操作者 uid
type Engine struct {
	Users      UserService
	Posts      PostService
	Feed       FeedService
	Graph      RelationshipService
	Votes      VoteService
	Alerts     AlertService
	UserCache  *cache.UserCache
	Worker     *FanoutWorker
	Dispatcher *Dispatcher

	cfg *config.Config
}

// NewEngine notifier 为 nil 时只记录日志；media 为 nil 时忽略上传
func NewEngine(cfg *config.Config, db *gorm.DB, rdb *redis.Client, notifier notify.Notifier, media MediaStore) *Engine {
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	followRepo := repository.NewFollowRepository(rdb)
	fanRepo := repository.NewFanRepository(rdb)
	feedRepo := repository.NewFeedRepository(rdb, cfg.Feed.MaxLength)
	replyRepo := repository.NewReplyRepository(rdb)
	voteRepo := repository.NewVoteRepository(rdb)
	subRepo := repository.NewSubscriptionRepository(rdb)
	alertRepo := repository.NewAlertRepository(rdb)

	userCache := cache.NewUserCache(rdb, userRepo, cfg.Redis.UserCacheTTL)
	hydrator := &postHydrator{posts: postRepo, users: userCache, votes: voteRepo}

	worker := NewFanoutWorker(outboxRepo, fanRepo, feedRepo, postRepo, FanoutOptions{
		Workers:      cfg.Feed.Workers,
		BatchSize:    cfg.Feed.BatchSize,
		ClaimLimit:   cfg.Feed.ClaimLimit,
		PollInterval: cfg.Feed.PollInterval,
		RateLimit:    cfg.Feed.RateLimit,
		MaxAttempts:  cfg.Feed.MaxAttempts,
		StaleAfter:   cfg.Feed.StaleAfter,
	})
	dispatcher := NewDispatcher(notifier, userCache, subRepo, cfg.Dispatch.QueueSize)

	maxPerPage := cfg.Pagination.MaxPerPage
	feed := NewFeedService(NewPublisher(db), feedRepo, postRepo, followRepo, hydrator, worker, cfg.Feed.BackfillCount, maxPerPage)
	alerts := NewAlertService(subRepo, alertRepo, userCache, postRepo, dispatcher, cfg.Alert.TTL, maxPerPage)
	graph := NewRelationshipService(followRepo, fanRepo, userCache, feed, alerts, maxPerPage)
	votes := NewVoteService(voteRepo, postRepo, userRepo, userCache, cfg.Vote.Window)
	posts := NewPostService(PostServiceDeps{
		Posts:    postRepo,
		Replies:  replyRepo,
		Votes:    voteRepo,
		Users:    userCache,
		UserRepo: userRepo,
		Follows:  followRepo,
		Feed:     feed,
		Alerts:   alerts,
		Media:    media,
	}, maxPerPage)
	users := NewUserService(UserServiceDeps{
		Users:   userRepo,
		Cache:   userCache,
		Follows: followRepo,
		Feed:    feedRepo,
		Alerts:  alertRepo,
		Votes:   voteRepo,
		Content: posts,
	}, cfg.Account.ActivationWindow)

	return &Engine{
		Users:      users,
		Posts:      posts,
		Feed:       feed,
		Graph:      graph,
		Votes:      votes,
		Alerts:     alerts,
		UserCache:  userCache,
		Worker:     worker,
		Dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Start 启动扇出 worker 与告警外发；返回的函数按相反顺序停止
func (e *Engine) Start() func(context.Context) error {
	stopWorker := e.Worker.Start()
	stopDispatcher := e.Dispatcher.Start(e.cfg.Dispatch.Workers)
	return func(ctx context.Context) error {
		return multierr.Combine(stopWorker(ctx), stopDispatcher(ctx))
	}
}

func perPageOr(perPage, def int) int {
	if perPage == 0 {
		return def
	}
	return perPage
}

func (e *Engine) CreatePost(ctx context.Context, authorID, body string, perm model.Permission) (*model.Post, error) {
	return e.Posts.CreatePost(ctx, CreatePostInput{AuthorID: authorID, Body: body, Permission: perm})
}

func (e *Engine) CreateReply(ctx context.Context, authorID, parentID, body string) (*model.Post, error) {
	return e.Posts.CreateReply(ctx, CreateReplyInput{AuthorID: authorID, ParentID: parentID, Body: body})
}

func (e *Engine) DeletePost(ctx context.Context, actorID, postID string) error {
	return e.Posts.DeletePost(ctx, actorID, postID)
}

func (e *Engine) GetPost(ctx context.Context, viewerID, postID string) (*model.Post, error) {
	return e.Posts.GetPost(ctx, viewerID, postID)
}

// GetFeed perPage 为 0 时使用配置的默认值
func (e *Engine) GetFeed(ctx context.Context, userID string, page, perPage int) (*pagination.Page[*model.Post], error) {
	return e.Feed.GetFeed(ctx, userID, page, perPageOr(perPage, e.cfg.Pagination.FeedPerPage))
}

func (e *Engine) GetUserPosts(ctx context.Context, viewerID, authorID string, page, perPage int) (*pagination.Page[*model.Post], error) {
	return e.Feed.GetUserPosts(ctx, viewerID, authorID, page, perPageOr(perPage, e.cfg.Pagination.ProfilePerPage))
}

func (e *Engine) GetReplies(ctx context.Context, viewerID, postID string, page, perPage int) (*pagination.Page[*model.Post], error) {
	return e.Posts.GetReplies(ctx, viewerID, postID, page, perPageOr(perPage, e.cfg.Pagination.FeedPerPage))
}

func (e *Engine) Follow(ctx context.Context, followerID, followeeID string) (bool, error) {
	return e.Graph.Follow(ctx, followerID, followeeID)
}

func (e *Engine) Unfollow(ctx context.Context, followerID, followeeID string) (bool, error) {
	return e.Graph.Unfollow(ctx, followerID, followeeID)
}

func (e *Engine) VoteUp(ctx context.Context, voterID, postID string) (*repository.VoteResult, error) {
	return e.Votes.VoteUp(ctx, voterID, postID)
}

func (e *Engine) VoteDown(ctx context.Context, voterID, postID string) (*repository.VoteResult, error) {
	return e.Votes.VoteDown(ctx, voterID, postID)
}

// Subscribe 手动订阅使用最低优先级 TAGEE，不会降低已有原因
func (e *Engine) Subscribe(ctx context.Context, userID, postID string) (bool, error) {
	if _, err := e.Posts.GetPost(ctx, userID, postID); err != nil {
		return false, err
	}
	return e.Alerts.Subscribe(ctx, userID, postID, model.ReasonTagee)
}

func (e *Engine) Unsubscribe(ctx context.Context, userID, postID string) (bool, error) {
	return e.Alerts.Unsubscribe(ctx, userID, postID)
}

func (e *Engine) GetAlerts(ctx context.Context, userID string, page, perPage int) (*pagination.Page[*AlertView], error) {
	return e.Alerts.AlertsFor(ctx, userID, page, perPageOr(perPage, e.cfg.Pagination.AlertsPerPage))
}

// PurgeLoop 定期删除过期未激活账号，ctx 取消后返回
func (e *Engine) PurgeLoop(ctx context.Context) {
	interval := e.cfg.Account.PurgeInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := e.Users.PurgeExpired(ctx, now, 100)
			if err != nil {
				logger.Warn("purge inactive accounts failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("purged inactive accounts", zap.Int("count", n))
			}
		}
	}
}
