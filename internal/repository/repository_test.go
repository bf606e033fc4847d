package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/internal/model"
)

func setupRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func setupDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "repo.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Post{}, &model.Outbox{}))
	return db
}

func TestFollowMirrorsEdges(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	follows := NewFollowRepository(rdb)
	fans := NewFanRepository(rdb)
	now := time.Now()

	ok, err := follows.Follow(ctx, "a", "b", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = follows.Follow(ctx, "a", "b", now)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate follow is a no-op")

	following, err := follows.IsFollowing(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, following)
	ids, err := fans.ListFans(ctx, "b", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	ok, err = follows.Unfollow(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = follows.Unfollow(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	cnt, err := fans.CountFans(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, cnt)
	cnt, err = follows.CountFollowings(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, cnt)
}

func TestTrustRequiresFollowEdge(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	follows := NewFollowRepository(rdb)
	fans := NewFanRepository(rdb)
	now := time.Now()

	ok, err := follows.Trust(ctx, "a", "b", now)
	require.NoError(t, err)
	assert.False(t, ok, "b does not follow a")

	_, err = follows.Follow(ctx, "b", "a", now)
	require.NoError(t, err)
	ok, err = follows.Trust(ctx, "a", "b", now)
	require.NoError(t, err)
	assert.True(t, ok)

	trusted, err := fans.ListTrustedFans(ctx, "a", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, trusted)

	_, err = follows.Unfollow(ctx, "b", "a")
	require.NoError(t, err)
	isTrusted, err := follows.IsTrusted(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, isTrusted, "unfollow revokes trust")
}

func TestRemoveUserClearsBothSides(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	follows := NewFollowRepository(rdb)
	fans := NewFanRepository(rdb)
	now := time.Now()

	_, _ = follows.Follow(ctx, "x", "a", now)
	_, _ = follows.Follow(ctx, "a", "y", now)
	_, _ = follows.Trust(ctx, "y", "a", now)

	require.NoError(t, follows.RemoveUser(ctx, "a"))

	n, err := follows.CountFollowings(ctx, "x")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = fans.CountFans(ctx, "y")
	require.NoError(t, err)
	assert.Zero(t, n)
	trusted, err := follows.IsTrusted(ctx, "y", "a")
	require.NoError(t, err)
	assert.False(t, trusted)
}

func TestFeedPushTrimsToBound(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	feed := NewFeedRepository(rdb, 3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		_, err := feed.Push(ctx, fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Second), "u1", "u2")
		require.NoError(t, err)
	}
	for _, uid := range []string{"u1", "u2"} {
		n, err := feed.Len(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		ids, err := feed.FeedSource(uid).Range(ctx, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"p4", "p3", "p2"}, ids)
	}
}

func TestFeedMergeKeepsNewest(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	feed := NewFeedRepository(rdb, 2)
	base := time.Now()

	require.NoError(t, feed.PublishOwn(ctx, "u1", "own", base.Add(10*time.Second)))
	_, err := feed.Merge(ctx, "u1", []FeedEntry{
		{PostID: "old", PostedAt: base},
		{PostID: "mid", PostedAt: base.Add(time.Second)},
	})
	require.NoError(t, err)

	ids, err := feed.FeedSource("u1").Range(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"own", "mid"}, ids)

	posts, err := feed.UserPostsSource("u1").Range(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"own"}, posts)

	require.NoError(t, feed.RemoveUserPost(ctx, "u1", "own"))
	has, err := feed.Contains(ctx, "u1", "own")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestVoteStateMachine(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	votes := NewVoteRepository(rdb)
	window := time.Minute
	t0 := time.UnixMilli(1_700_000_000_000)

	res, err := votes.Cast(ctx, "v", "p", "author", 1, t0, window)
	require.NoError(t, err)
	assert.Equal(t, VoteResult{Sign: 1, Delta: 1, PostScore: 1, AuthorScore: 1}, *res)

	res, err = votes.Cast(ctx, "v", "p", "author", 1, t0.Add(time.Second), window)
	require.NoError(t, err)
	assert.Equal(t, VoteResult{Sign: 0, Delta: -1, PostScore: 0, AuthorScore: 0}, *res)

	res, err = votes.Cast(ctx, "v", "p", "author", 1, t0.Add(2*time.Second), window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.PostScore)

	// 翻转：净变化为 2 倍
	res, err = votes.Cast(ctx, "v", "p", "author", -1, t0.Add(3*time.Second), window)
	require.NoError(t, err)
	assert.Equal(t, VoteResult{Sign: -1, Delta: -2, PostScore: -1, AuthorScore: -1}, *res)

	sign, castAt, ok, err := votes.Get(ctx, "v", "p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, -1, sign)
	assert.Equal(t, t0.Add(2*time.Second).UnixMilli(), castAt.UnixMilli(), "flip keeps the first cast time")

	_, err = votes.Cast(ctx, "v", "p", "author", 1, t0.Add(2*time.Second+window), window)
	assert.ErrorIs(t, err, ErrVoteWindowClosed)

	scores, err := votes.PostScores(ctx, "p", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p": -1}, scores)
	us, ok, err := votes.UserScore(ctx, "author")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), us)
}

func TestSubscriptionNeverDowngrades(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	subs := NewSubscriptionRepository(rdb)

	ok, err := subs.Subscribe(ctx, "u", "p", model.ReasonPoster)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = subs.Subscribe(ctx, "u", "p", model.ReasonCommenter)
	require.NoError(t, err)
	assert.False(t, ok)

	r, err := subs.Reason(ctx, "u", "p")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonPoster, r)

	ok, err = subs.Subscribe(ctx, "t", "p", model.ReasonTagee)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = subs.Subscribe(ctx, "t", "p", model.ReasonCommenter)
	require.NoError(t, err)
	assert.True(t, ok, "upgrade from tagee to commenter")

	all, err := subs.Subscribers(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, map[string]model.SubscriptionReason{"u": model.ReasonPoster, "t": model.ReasonCommenter}, all)

	ok, err = subs.Unsubscribe(ctx, "t", "p")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = subs.Unsubscribe(ctx, "t", "p")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = subs.Unsubscribe(ctx, "never", "p")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAlertStoreAndCount(t *testing.T) {
	ctx := context.Background()
	rdb, mr := setupRedis(t)
	alerts := NewAlertRepository(rdb)
	t0 := time.Now().Truncate(time.Millisecond)

	require.NoError(t, alerts.Store(ctx, "a1", []byte(`{"k":1}`), time.Hour, []string{"u1", "u2"}, t0))
	require.NoError(t, alerts.Store(ctx, "a2", []byte(`{"k":2}`), time.Hour, []string{"u1"}, t0.Add(time.Second)))

	n, err := alerts.CountSince(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, alerts.MarkChecked(ctx, "u1", t0))
	since, err := alerts.LastChecked(ctx, "u1")
	require.NoError(t, err)
	n, err = alerts.CountSince(ctx, "u1", since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := alerts.Source("u1").Range(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, ids)

	mr.FastForward(2 * time.Hour)
	blobs, err := alerts.Load(ctx, ids)
	require.NoError(t, err)
	assert.Empty(t, blobs, "alert bodies expire")

	removed, err := alerts.Remove(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSubscribeAndStoreWritesBothSides(t *testing.T) {
	ctx := context.Background()
	rdb, mr := setupRedis(t)
	subs := NewSubscriptionRepository(rdb)
	alerts := NewAlertRepository(rdb)
	t0 := time.Now().Truncate(time.Millisecond)

	_, err := subs.Subscribe(ctx, "poster", "p", model.ReasonPoster)
	require.NoError(t, err)

	changed, err := alerts.SubscribeAndStore(ctx, "p", model.ReasonTagee, []string{"poster", "t1", "t2"},
		"a1", []byte(`{"k":1}`), time.Hour, []string{"poster", "t1", "t2"}, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed, "poster is not downgraded")

	all, err := subs.Subscribers(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, map[string]model.SubscriptionReason{
		"poster": model.ReasonPoster,
		"t1":     model.ReasonTagee,
		"t2":     model.ReasonTagee,
	}, all)
	for _, uid := range []string{"poster", "t1", "t2"} {
		ids, err := alerts.Source(uid).Range(ctx, 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, ids, uid)
	}
	assert.True(t, mr.Exists(AlertKey("a1")))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL(AlertKey("a1")).Seconds(), 1)

	// 没有收件人时只订阅，不写告警
	changed, err = alerts.SubscribeAndStore(ctx, "p", model.ReasonCommenter, []string{"t1"},
		"a2", []byte(`{"k":2}`), time.Hour, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	assert.False(t, mr.Exists(AlertKey("a2")))
	r, err := subs.Reason(ctx, "t1", "p")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonCommenter, r)
}

func TestRepliesKeepInsertOrderWithinMillisecond(t *testing.T) {
	ctx := context.Background()
	rdb, _ := setupRedis(t)
	replies := NewReplyRepository(rdb)
	at := time.UnixMilli(1_700_000_000_000)

	ids := []string{"r-c", "r-a", "r-b"}
	for _, id := range ids {
		require.NoError(t, replies.Add(ctx, "p", id, at))
	}
	require.NoError(t, replies.Add(ctx, "p", "r-late", at.Add(time.Millisecond)))
	require.NoError(t, replies.Add(ctx, "p", "r-early", at.Add(-time.Millisecond)))

	got, err := replies.Source("p", false).Range(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-early", "r-c", "r-a", "r-b", "r-late"}, got)

	got, err = replies.Source("p", true).Range(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-late", "r-b", "r-a", "r-c", "r-early"}, got)

	require.NoError(t, replies.Delete(ctx, "p"))
	n, err := rdb.Exists(ctx, RepliesKey("p"), ReplySeqKey("p")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	outbox := NewOutboxRepository(db)
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&model.Outbox{
			ID:        fmt.Sprintf("o%d", i),
			PostID:    fmt.Sprintf("p%d", i),
			AuthorID:  "a",
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			Status:    model.OutboxPending,
		}).Error)
	}

	batch, err := outbox.Claim(ctx, 2, now)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "o0", batch[0].ID)
	assert.Equal(t, 1, batch[0].Attempts)

	again, err := outbox.Claim(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, again, 1, "claimed rows are not handed out twice")

	require.NoError(t, outbox.Complete(ctx, "o0", 7, now))
	require.NoError(t, outbox.Release(ctx, "o1", "boom", false))
	require.NoError(t, outbox.Release(ctx, "o2", "boom", true))

	cnt, err := outbox.CountByStatus(ctx, model.OutboxPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cnt)
	cnt, err = outbox.CountByStatus(ctx, model.OutboxFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cnt)

	batch, err = outbox.Claim(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 2, batch[0].Attempts)

	n, err := outbox.RequeueStale(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostReplyCount(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	posts := NewPostRepository(db)
	now := time.Now()

	require.NoError(t, db.Create(&model.Post{ID: "root", AuthorID: "a", Body: "hi", CreatedAt: now}).Error)
	parent := "root"
	reply := &model.Post{ID: "r1", AuthorID: "b", Body: "yo", ReplyTo: &parent, CreatedAt: now}
	require.NoError(t, posts.CreateReply(ctx, reply))

	missing := "ghost"
	err := posts.CreateReply(ctx, &model.Post{ID: "r2", AuthorID: "b", Body: "x", ReplyTo: &missing, CreatedAt: now})
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := posts.Exists(ctx, "r2")
	require.NoError(t, err)
	assert.False(t, exists, "reply rolled back")

	root, err := posts.GetByID(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(1), root.ReplyCount)

	deleted, err := posts.Delete(ctx, reply)
	require.NoError(t, err)
	assert.True(t, deleted)
	root, err = posts.GetByID(ctx, "root")
	require.NoError(t, err)
	assert.Zero(t, root.ReplyCount)

	deleted, err = posts.Delete(ctx, reply)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUserLookupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	users := NewUserRepository(db)

	require.NoError(t, users.Create(ctx, &model.User{ID: "u1", Username: "Alice", Email: "Alice@Example.com"}))
	u, err := users.GetByUsername(ctx, "aLiCe")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	_, err = users.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	err = users.Create(ctx, &model.User{ID: "u2", Username: "ALICE", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = users.UpdateFields(ctx, "ghost", map[string]any{"muted": true})
	assert.ErrorIs(t, err, ErrNotFound)
}
