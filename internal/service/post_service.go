package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/alert"
	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/pagination"
	"github.com/d60-Lab/socialfeed/internal/parser"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// MediaStore 外部媒体存储，引擎只保存返回的引用
type MediaStore interface {
	Store(ctx context.Context, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// PostService 帖子与评论
type PostService interface {
	CreatePost(ctx context.Context, in CreatePostInput) (*model.Post, error)
	CreateReply(ctx context.Context, in CreateReplyInput) (*model.Post, error)
	// DeletePost 作者或管理员可删除；评论、投票、订阅一并清理
	DeletePost(ctx context.Context, actorID, postID string) error
	GetPost(ctx context.Context, viewerID, postID string) (*model.Post, error)
	GetReplies(ctx context.Context, viewerID, postID string, page, perPage int) (*pagination.Page[*model.Post], error)
	// DeleteAuthorContent 删除作者的全部帖子与评论（账号注销）
	DeleteAuthorContent(ctx context.Context, authorID string) error
}

type postService struct {
	posts      repository.PostRepository
	replies    repository.ReplyRepository
	votes      repository.VoteRepository
	users      *cache.UserCache
	userRepo   repository.UserRepository
	follows    repository.FollowRepository
	feed       FeedService
	alerts     AlertService
	media      MediaStore
	hydrator   *postHydrator
	maxPerPage int
	now        func() time.Time
}

type PostServiceDeps struct {
	Posts    repository.PostRepository
	Replies  repository.ReplyRepository
	Votes    repository.VoteRepository
	Users    *cache.UserCache
	UserRepo repository.UserRepository
	Follows  repository.FollowRepository
	Feed     FeedService
	Alerts   AlertService
	Media    MediaStore
}

func NewPostService(d PostServiceDeps, maxPerPage int) PostService {
	return &postService{
		posts:      d.Posts,
		replies:    d.Replies,
		votes:      d.Votes,
		users:      d.Users,
		userRepo:   d.UserRepo,
		follows:    d.Follows,
		feed:       d.Feed,
		alerts:     d.Alerts,
		media:      d.Media,
		hydrator:   &postHydrator{posts: d.Posts, users: d.Users, votes: d.Votes},
		maxPerPage: maxPerPage,
		now:        time.Now,
	}
}

func (s *postService) author(ctx context.Context, uid string) (*cache.UserSnapshot, error) {
	a, err := s.users.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	if a.Banned || a.Muted {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *postService) storeMedia(ctx context.Context, r io.Reader) (string, error) {
	if r == nil || s.media == nil {
		return "", nil
	}
	ref, err := s.media.Store(ctx, r)
	if err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}
	return ref, nil
}

func (s *postService) CreatePost(ctx context.Context, in CreatePostInput) (*model.Post, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	author, err := s.author(ctx, in.AuthorID)
	if err != nil {
		return nil, err
	}
	upload, err := s.storeMedia(ctx, in.Media)
	if err != nil {
		return nil, err
	}

	post := &model.Post{
		ID:         uuid.NewString(),
		AuthorID:   author.ID,
		Body:       in.Body,
		Permission: in.Permission,
		Upload:     upload,
		CreatedAt:  s.now(),
	}
	if err := s.feed.Publish(ctx, post); err != nil {
		return nil, err
	}
	post.AuthorName = author.Username

	if _, err := s.alerts.Subscribe(ctx, author.ID, post.ID, model.ReasonPoster); err != nil {
		logger.Warn("subscribe poster failed", zap.String("post", post.ID), zap.Error(err))
	}
	s.tagMentions(ctx, author.ID, post.ID, in.Body)
	return post, nil
}

func (s *postService) CreateReply(ctx context.Context, in CreateReplyInput) (*model.Post, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	author, err := s.author(ctx, in.AuthorID)
	if err != nil {
		return nil, err
	}
	parent, err := s.posts.GetByID(ctx, in.ParentID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if parent.IsReply() {
		return nil, fmt.Errorf("%w: cannot reply to a reply", ErrInvalidArgument)
	}
	upload, err := s.storeMedia(ctx, in.Media)
	if err != nil {
		return nil, err
	}

	parentID := parent.ID
	reply := &model.Post{
		ID:         uuid.NewString(),
		AuthorID:   author.ID,
		Body:       in.Body,
		Permission: parent.Permission,
		Upload:     upload,
		ReplyTo:    &parentID,
		CreatedAt:  s.now(),
	}
	if err := s.posts.CreateReply(ctx, reply); err != nil {
		return nil, mapRepoErr(err)
	}
	if err := s.replies.Add(ctx, parentID, reply.ID, reply.CreatedAt); err != nil {
		return nil, fmt.Errorf("index reply: %w", err)
	}
	reply.AuthorName = author.Username

	// 先取当前订阅者，再登记评论者
	subscribers, err := s.alerts.Subscribers(ctx, parentID)
	if err != nil {
		logger.Warn("load subscribers failed", zap.String("post", parentID), zap.Error(err))
	}
	recipients := make([]string, 0, len(subscribers))
	for uid := range subscribers {
		if uid != author.ID {
			recipients = append(recipients, uid)
		}
	}
	commented := alert.NewCommentingAlert(author.ID, parentID, reply.CreatedAt)
	if err := s.alerts.SubscribeAndNotify(ctx, parentID, model.ReasonCommenter, []string{author.ID}, commented, recipients...); err != nil {
		logger.Warn("comment alert failed", zap.String("post", parentID), zap.Error(err))
	}
	s.tagMentions(ctx, author.ID, parentID, in.Body)
	return reply, nil
}

// tagMentions 订阅被 @ 的用户（TAGEE）并发送 TaggingAlert；忽略自己
func (s *postService) tagMentions(ctx context.Context, authorID, postID, body string) {
	names := parser.Usernames(body)
	if len(names) == 0 {
		return
	}
	tagged, err := s.userRepo.FindByUsernames(ctx, names)
	if err != nil {
		logger.Warn("resolve mentions failed", zap.String("post", postID), zap.Error(err))
		return
	}
	tagees := make([]string, 0, len(tagged))
	for _, u := range tagged {
		if u.ID != authorID {
			tagees = append(tagees, u.ID)
		}
	}
	if len(tagees) == 0 {
		return
	}
	if err := s.alerts.SubscribeAndNotify(ctx, postID, model.ReasonTagee, tagees, alert.NewTaggingAlert(authorID, postID, s.now()), tagees...); err != nil {
		logger.Warn("tagging alert failed", zap.String("post", postID), zap.Strings("tagees", tagees), zap.Error(err))
	}
}

func (s *postService) DeletePost(ctx context.Context, actorID, postID string) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return mapRepoErr(err)
	}
	if post.AuthorID != actorID {
		actor, err := s.users.Get(ctx, actorID)
		if err != nil {
			return err
		}
		if actor == nil || !actor.Operator {
			return ErrForbidden
		}
	}
	return s.deletePost(ctx, post)
}

// deletePost 先删文档，其余索引清理尽力而为；粉丝 feed 中的引用读时自愈
func (s *postService) deletePost(ctx context.Context, post *model.Post) error {
	var errs error
	if !post.IsReply() {
		ids, err := s.posts.ListReplyIDs(ctx, post.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			reply, err := s.posts.GetByID(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			errs = multierr.Append(errs, s.deletePost(ctx, reply))
		}
	}

	deleted, err := s.posts.Delete(ctx, post)
	if err != nil {
		return multierr.Append(errs, err)
	}
	if !deleted {
		return errs
	}

	cleanup := multierr.Combine(
		s.votes.DeletePost(ctx, post.ID),
		s.alerts.DropSubscribers(ctx, post.ID),
		s.replies.Delete(ctx, post.ID),
	)
	if post.IsReply() {
		cleanup = multierr.Append(cleanup, s.replies.Remove(ctx, *post.ReplyTo, post.ID))
	} else {
		cleanup = multierr.Append(cleanup, s.feed.RemoveOwn(ctx, post))
	}
	if post.Upload != "" && s.media != nil {
		cleanup = multierr.Append(cleanup, s.media.Delete(ctx, post.Upload))
	}
	if cleanup != nil {
		logger.Warn("post cleanup incomplete", zap.String("post", post.ID), zap.Error(cleanup))
	}
	return errs
}

func (s *postService) GetPost(ctx context.Context, viewerID, postID string) (*model.Post, error) {
	post, err := s.hydrator.one(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVisible(ctx, viewerID, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *postService) checkVisible(ctx context.Context, viewerID string, post *model.Post) error {
	if post.Permission != model.PermissionTrusted || viewerID == post.AuthorID {
		if post.Visible(viewerID, false) {
			return nil
		}
		return ErrNotFound
	}
	trusted, err := s.follows.IsTrusted(ctx, post.AuthorID, viewerID)
	if err != nil {
		return err
	}
	if !post.Visible(viewerID, trusted) {
		return ErrNotFound
	}
	return nil
}

func (s *postService) GetReplies(ctx context.Context, viewerID, postID string, page, perPage int) (*pagination.Page[*model.Post], error) {
	parent, err := s.GetPost(ctx, viewerID, postID)
	if err != nil {
		return nil, err
	}
	newestFirst := true
	if viewerID != "" {
		viewer, err := s.users.Get(ctx, viewerID)
		if err != nil {
			return nil, err
		}
		if viewer != nil && viewer.ReplySort == model.ReplySortOldest {
			newestFirst = false
		}
	}
	return pagination.Paginate(ctx, s.replies.Source(parent.ID, newestFirst), s.hydrator.resolve, page, perPage, s.maxPerPage)
}

func (s *postService) DeleteAuthorContent(ctx context.Context, authorID string) error {
	ids, err := s.posts.ListIDsByAuthor(ctx, authorID)
	if err != nil {
		return err
	}
	var errs error
	for _, id := range ids {
		post, err := s.posts.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			// 已随父帖删除
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, s.deletePost(ctx, post))
	}
	return errs
}
