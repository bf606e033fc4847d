package service

import (
	"context"

	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
)

// postHydrator 解析 pid 引用：作者已删除的帖子视为失效，分数以索引存储为准
type postHydrator struct {
	posts repository.PostRepository
	users *cache.UserCache
	votes repository.VoteRepository
}

func (h *postHydrator) resolve(ctx context.Context, refs []string) (map[string]*model.Post, error) {
	posts, err := h.posts.FindByIDs(ctx, refs)
	if err != nil {
		return nil, err
	}
	authorIDs := make([]string, 0, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		authorIDs = append(authorIDs, p.AuthorID)
		ids = append(ids, p.ID)
	}
	authors, err := h.users.Load(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	scores, err := h.votes.PostScores(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Post, len(posts))
	for _, p := range posts {
		a, ok := authors[p.AuthorID]
		if !ok {
			continue
		}
		p.AuthorName = a.Username
		if sc, ok := scores[p.ID]; ok {
			p.Score = sc
		}
		out[p.ID] = p
	}
	return out, nil
}

func (h *postHydrator) one(ctx context.Context, pid string) (*model.Post, error) {
	m, err := h.resolve(ctx, []string{pid})
	if err != nil {
		return nil, err
	}
	p, ok := m[pid]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// docChecker 供告警校验使用
type docChecker struct {
	users *cache.UserCache
	posts repository.PostRepository
}

func (c docChecker) UserExists(ctx context.Context, uid string) (bool, error) {
	snap, err := c.users.Get(ctx, uid)
	return snap != nil, err
}

func (c docChecker) PostExists(ctx context.Context, pid string) (bool, error) {
	return c.posts.Exists(ctx, pid)
}
