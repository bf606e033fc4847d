package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/pagination"
)

type PostRepository interface {
	// CreateReply 在一个事务内写入评论并累加父帖 reply_count
	CreateReply(ctx context.Context, p *model.Post) error
	GetByID(ctx context.Context, id string) (*model.Post, error)
	FindByIDs(ctx context.Context, ids []string) ([]*model.Post, error)
	Exists(ctx context.Context, id string) (bool, error)
	ListIDsByAuthor(ctx context.Context, authorID string) ([]string, error)
	// ListRecentByAuthor 作者最近的顶层帖子，按可见级别过滤，新到旧
	ListRecentByAuthor(ctx context.Context, authorID string, maxPerm model.Permission, limit int) ([]*model.Post, error)
	// ListIDsByAuthorPermission 作者某一可见级别的顶层帖子 id
	ListIDsByAuthorPermission(ctx context.Context, authorID string, perm model.Permission) ([]string, error)
	// AuthorPostsSource 按可见级别过滤后的作者顶层帖子，新到旧；文档存储是权威数据，不做清理
	AuthorPostsSource(authorID string, maxPerm model.Permission) pagination.Source
	ListReplyIDs(ctx context.Context, parentID string) ([]string, error)
	// Delete 删除帖子；若为评论则在同一事务内递减父帖 reply_count
	Delete(ctx context.Context, p *model.Post) (bool, error)
	SetScore(ctx context.Context, id string, score int64) error
}

type postRepository struct{ db *gorm.DB }

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) CreateReply(ctx context.Context, p *model.Post) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return translate(err)
		}
		res := tx.Model(&model.Post{}).Where("id = ?", *p.ReplyTo).
			UpdateColumn("reply_count", gorm.Expr("reply_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *postRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []*model.Post
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

func (r *postRepository) Exists(ctx context.Context, id string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&model.Post{}).Where("id = ?", id).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *postRepository) ListIDsByAuthor(ctx context.Context, authorID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *postRepository) ListRecentByAuthor(ctx context.Context, authorID string, maxPerm model.Permission, limit int) ([]*model.Post, error) {
	var res []*model.Post
	err := r.db.WithContext(ctx).
		Where("author_id = ? AND reply_to IS NULL AND permission <= ?", authorID, maxPerm).
		Order("created_at DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *postRepository) ListIDsByAuthorPermission(ctx context.Context, authorID string, perm model.Permission) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("author_id = ? AND reply_to IS NULL AND permission = ?", authorID, perm).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *postRepository) AuthorPostsSource(authorID string, maxPerm model.Permission) pagination.Source {
	return authorPostsSource{db: r.db, authorID: authorID, maxPerm: maxPerm}
}

type authorPostsSource struct {
	db       *gorm.DB
	authorID string
	maxPerm  model.Permission
}

func (s authorPostsSource) scope(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&model.Post{}).
		Where("author_id = ? AND reply_to IS NULL AND permission <= ?", s.authorID, s.maxPerm)
}

func (s authorPostsSource) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.scope(ctx).Count(&n).Error
	return n, err
}

func (s authorPostsSource) Range(ctx context.Context, start, stop int64) ([]string, error) {
	if stop < 0 {
		n, err := s.Len(ctx)
		if err != nil {
			return nil, err
		}
		stop = n - 1
	}
	if stop < start {
		return nil, nil
	}
	var ids []string
	err := s.scope(ctx).
		Order("created_at DESC, id DESC").
		Offset(int(start)).
		Limit(int(stop-start+1)).
		Pluck("id", &ids).Error
	return ids, err
}

func (authorPostsSource) Remove(context.Context, ...string) error { return nil }

func (r *postRepository) ListReplyIDs(ctx context.Context, parentID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Post{}).Where("reply_to = ?", parentID).Pluck("id", &ids).Error
	return ids, err
}

func (r *postRepository) Delete(ctx context.Context, p *model.Post) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", p.ID).Delete(&model.Post{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		if !deleted || !p.IsReply() {
			return nil
		}
		return tx.Model(&model.Post{}).
			Where("id = ? AND reply_count > 0", *p.ReplyTo).
			UpdateColumn("reply_count", gorm.Expr("reply_count - 1")).Error
	})
	return deleted, err
}

func (r *postRepository) SetScore(ctx context.Context, id string, score int64) error {
	return r.db.WithContext(ctx).Model(&model.Post{}).Where("id = ?", id).UpdateColumn("score", score).Error
}
