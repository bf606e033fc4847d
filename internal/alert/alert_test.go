package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/socialfeed/internal/model"
)

type fakeChecker struct {
	users map[string]bool
	posts map[string]bool
}

func (f fakeChecker) UserExists(_ context.Context, uid string) (bool, error) { return f.users[uid], nil }
func (f fakeChecker) PostExists(_ context.Context, pid string) (bool, error) { return f.posts[pid], nil }

func TestDecodeRestoresKind(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, a := range []Alert{
		NewFollowAlert("u1", now),
		NewTaggingAlert("u1", "p1", now),
		NewCommentingAlert("u1", "p2", now),
	} {
		data, err := Encode(a)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"poke","id":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	c := fakeChecker{
		users: map[string]bool{"alive": true},
		posts: map[string]bool{"p1": true},
	}
	now := time.Now()

	ok, err := Verify(ctx, NewFollowAlert("alive", now), c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = Verify(ctx, NewFollowAlert("gone", now), c)
	assert.False(t, ok)

	ok, _ = Verify(ctx, NewTaggingAlert("alive", "p1", now), c)
	assert.True(t, ok)

	ok, _ = Verify(ctx, NewTaggingAlert("alive", "deleted", now), c)
	assert.False(t, ok)

	ok, _ = Verify(ctx, NewCommentingAlert("gone", "p1", now), c)
	assert.False(t, ok)
}

func TestMessage(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "@ann has started following you", Message(NewFollowAlert("a", now), "ann", model.ReasonNone))
	assert.Equal(t, "@ann tagged you in a post", Message(NewTaggingAlert("a", "p", now), "ann", model.ReasonTagee))

	c := NewCommentingAlert("a", "p", now)
	assert.Equal(t, "@ann commented on a post you posted", Message(c, "ann", model.ReasonPoster))
	assert.Equal(t, "@ann commented on a post you commented on", Message(c, "ann", model.ReasonCommenter))
	assert.Equal(t, "@ann commented on a post you were tagged in", Message(c, "ann", model.ReasonTagee))
	assert.Equal(t, "@ann commented on a post you are subscribed to", Message(c, "ann", model.ReasonNone))
}
