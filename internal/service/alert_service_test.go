package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/socialfeed/internal/alert"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
)

func messages(views []*AlertView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Message
	}
	return out
}

func TestPosterKeepsPriorityAfterCommenting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	p := env.post(t, author, "thread")

	_, err := env.CreateReply(ctx, author.ID, p.ID, "my own reply")
	require.NoError(t, err)
	r, err := env.Alerts.Reason(ctx, author.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonPoster, r)

	alerts, err := env.GetAlerts(ctx, author.ID, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts.Items, "no alert for commenting on your own post")
}

func TestCommentAlertsUseRecipientReason(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	carol := env.user(t, "carol")
	dave := env.user(t, "dave")
	erin := env.user(t, "erin")

	p := env.post(t, author, "hey @carol")
	_, err := env.CreateReply(ctx, dave.ID, p.ID, "first")
	require.NoError(t, err)

	r, err := env.Alerts.Reason(ctx, dave.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonCommenter, r)

	_, err = env.CreateReply(ctx, erin.ID, p.ID, "second")
	require.NoError(t, err)

	got, err := env.GetAlerts(ctx, author.ID, 1, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"@dave commented on a post you posted",
		"@erin commented on a post you posted",
	}, messages(got.Items))

	got, err = env.GetAlerts(ctx, carol.ID, 1, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"@author tagged you in a post",
		"@dave commented on a post you were tagged in",
		"@erin commented on a post you were tagged in",
	}, messages(got.Items))

	got, err = env.GetAlerts(ctx, dave.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"@erin commented on a post you commented on"}, messages(got.Items))
}

func TestTaggingIgnoresSelfAndUnknown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	carol := env.user(t, "carol")

	p := env.post(t, author, "@author @Carol @nobody look")

	ok, err := env.Alerts.IsSubscribed(ctx, carol.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	r, err := env.Alerts.Reason(ctx, author.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonPoster, r)

	n, err := env.Alerts.NewAlertCount(ctx, author.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.Alerts.NewAlertCount(ctx, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = env.GetAlerts(ctx, carol.ID, 1, 0)
	require.NoError(t, err)
	n, err = env.Alerts.NewAlertCount(ctx, carol.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "reading alerts marks them checked")
	has, err := env.Alerts.HasNewAlerts(ctx, carol.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSubscribedTageeGetsCommentAndTagAlerts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	carol := env.user(t, "carol")
	dave := env.user(t, "dave")

	p := env.post(t, author, "thread")
	_, err := env.CreateReply(ctx, dave.ID, p.ID, "ping @carol")
	require.NoError(t, err)

	got, err := env.GetAlerts(ctx, carol.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"@dave tagged you in a post"}, messages(got.Items))

	// carol 已订阅，再次被 @ 时评论告警与 @ 告警都会收到
	erin := env.user(t, "erin")
	_, err = env.CreateReply(ctx, erin.ID, p.ID, "hi @carol")
	require.NoError(t, err)
	got, err = env.GetAlerts(ctx, carol.ID, 1, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"@dave tagged you in a post",
		"@erin commented on a post you were tagged in",
		"@erin tagged you in a post",
	}, messages(got.Items))

	r, err := env.Alerts.Reason(ctx, carol.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonTagee, r)

	// 评论者被 @ 时保持 COMMENTER
	_, err = env.CreateReply(ctx, carol.ID, p.ID, "thanks @erin")
	require.NoError(t, err)
	r, err = env.Alerts.Reason(ctx, erin.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonCommenter, r)
	got, err = env.GetAlerts(ctx, erin.ID, 1, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"@carol commented on a post you commented on",
		"@carol tagged you in a post",
	}, messages(got.Items))
}

func TestSubscribeUnsubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	reader := env.user(t, "reader")
	p := env.post(t, author, "follow along")

	ok, err := env.Subscribe(ctx, reader.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.Subscribe(ctx, reader.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = env.Subscribe(ctx, author.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, ok, "poster is never downgraded")

	ok, err = env.Unsubscribe(ctx, reader.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.Unsubscribe(ctx, reader.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.Alerts.Subscribe(ctx, reader.ID, p.ID, model.ReasonNone)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.Subscribe(ctx, reader.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAlertsHealAfterActorDeleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	x := env.user(t, "xavier")
	y := env.user(t, "yvonne")
	r := env.user(t, "rita")

	_, err := env.Follow(ctx, x.ID, r.ID)
	require.NoError(t, err)
	_, err = env.Follow(ctx, y.ID, r.ID)
	require.NoError(t, err)

	got, err := env.GetAlerts(ctx, r.ID, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Total)
	var fromX string
	for _, v := range got.Items {
		if v.Alert.Actor() == x.ID {
			fromX = v.Alert.AlertID()
		}
	}
	require.NotEmpty(t, fromX)
	require.True(t, env.mr.Exists(repository.AlertKey(fromX)))

	require.NoError(t, env.Users.Delete(ctx, x.ID))

	got, err = env.GetAlerts(ctx, r.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Total)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "@yvonne has started following you", got.Items[0].Message)
	assert.False(t, env.mr.Exists(repository.AlertKey(fromX)), "stale alert record removed")
}

func TestAlertsHealAfterPostDeleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	author := env.user(t, "author")
	carol := env.user(t, "carol")

	p := env.post(t, author, "hello @carol")
	n, err := env.Alerts.NewAlertCount(ctx, carol.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, env.DeletePost(ctx, author.ID, p.ID))
	got, err := env.GetAlerts(ctx, carol.ID, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Zero(t, got.Total)
}

func TestDeleteAlert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.user(t, "alice")
	b := env.user(t, "bob")

	fa := alert.NewFollowAlert(a.ID, env.Posts.(*postService).now())
	require.NoError(t, env.Alerts.Notify(ctx, fa, b.ID))

	ok, err := env.Alerts.DeleteAlert(ctx, b.ID, fa.AlertID())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.Alerts.DeleteAlert(ctx, b.ID, fa.AlertID())
	require.NoError(t, err)
	assert.False(t, ok)
}
