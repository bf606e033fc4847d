package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
)

type memMedia struct {
	mu   sync.Mutex
	next int
	blob map[string][]byte
}

func (m *memMedia) Store(_ context.Context, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ref := fmt.Sprintf("media/%d", m.next)
	m.blob[ref] = b
	return ref, nil
}

func (m *memMedia) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blob, ref)
	return nil
}

func TestRepliesOrderFollowsViewerPreference(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	reader := env.user(t, "reader")
	p := env.post(t, author, "root")

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := env.CreateReply(ctx, reader.ID, p.ID, fmt.Sprintf("reply %d", i))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	got, err := env.GetReplies(ctx, reader.ID, p.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, postIDs(got.Items))

	require.NoError(t, env.Users.SetReplySort(ctx, reader.ID, model.ReplySortOldest))
	got, err = env.GetReplies(ctx, reader.ID, p.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, ids, postIDs(got.Items))

	root, err := env.GetPost(ctx, reader.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), root.ReplyCount)

	_, err = env.CreateReply(ctx, reader.ID, ids[0], "nested")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.CreateReply(ctx, reader.ID, "missing", "orphan")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, env.Users.SetReplySort(ctx, reader.ID, 0), ErrInvalidArgument)
}

func TestDeletePostCascades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	reader := env.user(t, "reader")
	p := env.post(t, author, "root")
	reply, err := env.CreateReply(ctx, reader.ID, p.ID, "reply")
	require.NoError(t, err)
	_, err = env.VoteUp(ctx, reader.ID, p.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, env.DeletePost(ctx, reader.ID, p.ID), ErrForbidden)

	require.NoError(t, env.DeletePost(ctx, reader.ID, reply.ID))
	root, err := env.GetPost(ctx, author.ID, p.ID)
	require.NoError(t, err)
	assert.Zero(t, root.ReplyCount)

	reply, err = env.CreateReply(ctx, reader.ID, p.ID, "again")
	require.NoError(t, err)
	require.NoError(t, env.DeletePost(ctx, author.ID, p.ID))

	_, err = env.GetPost(ctx, author.ID, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.GetPost(ctx, author.ID, reply.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, env.mr.Exists(repository.SubscribersKey(p.ID)))
	assert.False(t, env.mr.Exists(repository.VotesKey(p.ID)))

	posts, err := env.GetUserPosts(ctx, author.ID, author.ID, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, posts.Total)
	assert.ErrorIs(t, env.DeletePost(ctx, author.ID, p.ID), ErrNotFound)
}

func TestOperatorCanDeleteAnyPost(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	op := env.user(t, "operator")
	require.NoError(t, env.Users.SetOperator(ctx, op.ID, true))

	p := env.post(t, author, "rule breaking")
	require.NoError(t, env.DeletePost(ctx, op.ID, p.ID))
	_, err := env.GetPost(ctx, op.ID, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBannedAndMutedCannotPost(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	banned := env.user(t, "banned")
	muted := env.user(t, "muted")
	require.NoError(t, env.Users.SetBanned(ctx, banned.ID, true))
	require.NoError(t, env.Users.SetMuted(ctx, muted.ID, true))

	_, err := env.CreatePost(ctx, banned.ID, "hi", model.PermissionPublic)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.CreatePost(ctx, muted.ID, "hi", model.PermissionPublic)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.CreatePost(ctx, "ghost", "hi", model.PermissionPublic)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.CreatePost(ctx, muted.ID, "", model.PermissionPublic)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPostMediaReference(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	media := &memMedia{blob: map[string][]byte{}}
	env.Posts.(*postService).media = media
	author := env.user(t, "author")

	p, err := env.Posts.CreatePost(ctx, CreatePostInput{
		AuthorID: author.ID,
		Body:     "look",
		Media:    bytes.NewBufferString("png bytes"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.Upload)
	assert.Equal(t, []byte("png bytes"), media.blob[p.Upload])

	require.NoError(t, env.DeletePost(ctx, author.ID, p.ID))
	assert.Empty(t, media.blob)
}

func TestRegisteredPostsHiddenFromAnonymous(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	reader := env.user(t, "reader")
	p, err := env.CreatePost(ctx, author.ID, "members only", model.PermissionRegistered)
	require.NoError(t, err)

	_, err = env.GetPost(ctx, "", p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := env.GetPost(ctx, reader.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}
