// Package alert defines the closed set of alert kinds delivered to users,
// their storage encoding and the checks that decide whether an alert is
// still worth showing.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/socialfeed/internal/model"
)

type Kind string

const (
	KindFollow     Kind = "follow"
	KindTagging    Kind = "tagging"
	KindCommenting Kind = "commenting"
)

var ErrUnknownKind = errors.New("unknown alert kind")

// Alert is implemented only by the types in this package.
type Alert interface {
	AlertID() string
	Actor() string
	Created() time.Time
	Kind() Kind
	isAlert()
}

// Base carries the fields shared by every alert.
type Base struct {
	ID        string
	ActorID   string
	CreatedAt time.Time
}

func (b Base) AlertID() string { return b.ID }
func (b Base) Actor() string { return b.ActorID }
func (b Base) Created() time.Time { return b.CreatedAt }

func newBase(actorID string, at time.Time) Base {
	return Base{ID: uuid.NewString(), ActorID: actorID, CreatedAt: at.UTC()}
}

// FollowAlert: the actor started following the recipient.
type FollowAlert struct {
	Base
}

// TaggingAlert: the actor mentioned the recipient in a post.
type TaggingAlert struct {
	Base
	PostID string
}

// CommentingAlert: the actor replied to a post the recipient is subscribed to.
type CommentingAlert struct {
	Base
	PostID string
}

func (FollowAlert) Kind() Kind     { return KindFollow }
func (TaggingAlert) Kind() Kind    { return KindTagging }
func (CommentingAlert) Kind() Kind { return KindCommenting }

func (FollowAlert) isAlert()     {}
func (TaggingAlert) isAlert()    {}
func (CommentingAlert) isAlert() {}

func NewFollowAlert(actorID string, at time.Time) FollowAlert {
	return FollowAlert{Base: newBase(actorID, at)}
}

func NewTaggingAlert(actorID, postID string, at time.Time) TaggingAlert {
	return TaggingAlert{Base: newBase(actorID, at), PostID: postID}
}

func NewCommentingAlert(actorID, postID string, at time.Time) CommentingAlert {
	return CommentingAlert{Base: newBase(actorID, at), PostID: postID}
}

// PostID returns the post an alert refers to, if any.
func PostID(a Alert) string {
	switch v := a.(type) {
	case TaggingAlert:
		return v.PostID
	case CommentingAlert:
		return v.PostID
	}
	return ""
}

type envelope struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
	PostID    string    `json:"post_id,omitempty"`
}

// Encode serializes an alert for the shared alert store.
func Encode(a Alert) ([]byte, error) {
	env := envelope{Kind: a.Kind(), ID: a.AlertID(), ActorID: a.Actor(), CreatedAt: a.Created()}
	switch v := a.(type) {
	case FollowAlert:
	case TaggingAlert:
		env.PostID = v.PostID
	case CommentingAlert:
		env.PostID = v.PostID
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, a)
	}
	return json.Marshal(env)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Alert, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	base := Base{ID: env.ID, ActorID: env.ActorID, CreatedAt: env.CreatedAt}
	switch env.Kind {
	case KindFollow:
		return FollowAlert{Base: base}, nil
	case KindTagging:
		return TaggingAlert{Base: base, PostID: env.PostID}, nil
	case KindCommenting:
		return CommentingAlert{Base: base, PostID: env.PostID}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
}

// Checker answers existence questions against the document store.
type Checker interface {
	UserExists(ctx context.Context, uid string) (bool, error)
	PostExists(ctx context.Context, pid string) (bool, error)
}

// Verify reports whether every entity the alert references still exists.
func Verify(ctx context.Context, a Alert, c Checker) (bool, error) {
	ok, err := c.UserExists(ctx, a.Actor())
	if err != nil || !ok {
		return false, err
	}
	switch v := a.(type) {
	case FollowAlert:
		return true, nil
	case TaggingAlert:
		return c.PostExists(ctx, v.PostID)
	case CommentingAlert:
		return c.PostExists(ctx, v.PostID)
	}
	return false, nil
}

// Message renders the plain-text description shown to the recipient.
// reason is the recipient's subscription reason for comment alerts.
func Message(a Alert, actorName string, reason model.SubscriptionReason) string {
	who := "@" + actorName
	switch a.(type) {
	case FollowAlert:
		return who + " has started following you"
	case TaggingAlert:
		return who + " tagged you in a post"
	case CommentingAlert:
		switch reason {
		case model.ReasonPoster:
			return who + " commented on a post you posted"
		case model.ReasonCommenter:
			return who + " commented on a post you commented on"
		case model.ReasonTagee:
			return who + " commented on a post you were tagged in"
		}
		return who + " commented on a post you are subscribed to"
	}
	return ""
}
