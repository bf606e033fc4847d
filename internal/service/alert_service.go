package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/alert"
	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/pagination"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/tracing"
)

// AlertView 一条可展示的告警
type AlertView struct {
	Alert     alert.Alert
	ActorName string
	Message   string
}

// AlertService 订阅与告警
type AlertService interface {
	Subscribe(ctx context.Context, userID, postID string, reason model.SubscriptionReason) (bool, error)
	Unsubscribe(ctx context.Context, userID, postID string) (bool, error)
	IsSubscribed(ctx context.Context, userID, postID string) (bool, error)
	Reason(ctx context.Context, userID, postID string) (model.SubscriptionReason, error)
	Subscribers(ctx context.Context, postID string) (map[string]model.SubscriptionReason, error)
	DropSubscribers(ctx context.Context, postID string) error
	// Notify 告警只存一份，向每个收件人队列写入引用，并异步外发
	Notify(ctx context.Context, a alert.Alert, recipients ...string) error
	// SubscribeAndNotify 以 reason 订阅 subscribers，同时把告警推给 recipients，一次原子写入
	SubscribeAndNotify(ctx context.Context, postID string, reason model.SubscriptionReason, subscribers []string, a alert.Alert, recipients ...string) error
	// AlertsFor 读取时校验告警，失效的从队列和存储中删除
	AlertsFor(ctx context.Context, userID string, page, perPage int) (*pagination.Page[*AlertView], error)
	DeleteAlert(ctx context.Context, userID, alertID string) (bool, error)
	NewAlertCount(ctx context.Context, userID string) (int64, error)
	HasNewAlerts(ctx context.Context, userID string) (bool, error)
}

type alertService struct {
	subs       repository.SubscriptionRepository
	alerts     repository.AlertRepository
	users      *cache.UserCache
	checker    alert.Checker
	dispatcher *Dispatcher
	ttl        time.Duration
	maxPerPage int
	now        func() time.Time
}

func NewAlertService(subs repository.SubscriptionRepository, alerts repository.AlertRepository, users *cache.UserCache, posts repository.PostRepository, dispatcher *Dispatcher, ttl time.Duration, maxPerPage int) AlertService {
	return &alertService{
		subs:       subs,
		alerts:     alerts,
		users:      users,
		checker:    docChecker{users: users, posts: posts},
		dispatcher: dispatcher,
		ttl:        ttl,
		maxPerPage: maxPerPage,
		now:        time.Now,
	}
}

func (s *alertService) Subscribe(ctx context.Context, userID, postID string, reason model.SubscriptionReason) (bool, error) {
	if !reason.Valid() {
		return false, fmt.Errorf("%w: subscription reason %d", ErrInvalidArgument, reason)
	}
	return s.subs.Subscribe(ctx, userID, postID, reason)
}

func (s *alertService) Unsubscribe(ctx context.Context, userID, postID string) (bool, error) {
	return s.subs.Unsubscribe(ctx, userID, postID)
}

func (s *alertService) IsSubscribed(ctx context.Context, userID, postID string) (bool, error) {
	r, err := s.subs.Reason(ctx, userID, postID)
	return r != model.ReasonNone, err
}

func (s *alertService) Reason(ctx context.Context, userID, postID string) (model.SubscriptionReason, error) {
	return s.subs.Reason(ctx, userID, postID)
}

func (s *alertService) Subscribers(ctx context.Context, postID string) (map[string]model.SubscriptionReason, error) {
	return s.subs.Subscribers(ctx, postID)
}

func (s *alertService) DropSubscribers(ctx context.Context, postID string) error {
	return s.subs.Delete(ctx, postID)
}

func (s *alertService) Notify(ctx context.Context, a alert.Alert, recipients ...string) error {
	if len(recipients) == 0 {
		return nil
	}
	blob, err := alert.Encode(a)
	if err != nil {
		return err
	}
	if err := s.alerts.Store(ctx, a.AlertID(), blob, s.ttl, recipients, a.Created()); err != nil {
		return fmt.Errorf("store alert: %w", err)
	}
	if s.dispatcher != nil {
		s.dispatcher.Enqueue(a, recipients...)
	}
	return nil
}

func (s *alertService) SubscribeAndNotify(ctx context.Context, postID string, reason model.SubscriptionReason, subscribers []string, a alert.Alert, recipients ...string) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: subscription reason %d", ErrInvalidArgument, reason)
	}
	blob, err := alert.Encode(a)
	if err != nil {
		return err
	}
	if _, err := s.alerts.SubscribeAndStore(ctx, postID, reason, subscribers, a.AlertID(), blob, s.ttl, recipients, a.Created()); err != nil {
		return fmt.Errorf("subscribe and store alert: %w", err)
	}
	if s.dispatcher != nil && len(recipients) > 0 {
		s.dispatcher.Enqueue(a, recipients...)
	}
	return nil
}

func (s *alertService) AlertsFor(ctx context.Context, userID string, page, perPage int) (*pagination.Page[*AlertView], error) {
	ctx, span := tracing.Start(ctx, "alerts.get", attribute.String("user.id", userID))
	defer span.End()

	var invalid []string
	resolve := func(ctx context.Context, refs []string) (map[string]*AlertView, error) {
		blobs, err := s.alerts.Load(ctx, refs)
		if err != nil {
			return nil, err
		}
		out := make(map[string]*AlertView, len(blobs))
		for _, id := range refs {
			blob, ok := blobs[id]
			if !ok {
				// 已过期
				continue
			}
			a, err := alert.Decode(blob)
			if err != nil {
				logger.Warn("undecodable alert", zap.String("alert", id), zap.Error(err))
				invalid = append(invalid, id)
				continue
			}
			ok, err = alert.Verify(ctx, a, s.checker)
			if err != nil {
				return nil, err
			}
			if !ok {
				invalid = append(invalid, id)
				continue
			}
			view, err := s.render(ctx, userID, a)
			if err != nil {
				return nil, err
			}
			if view == nil {
				invalid = append(invalid, id)
				continue
			}
			out[id] = view
		}
		return out, nil
	}

	p, err := pagination.Paginate(ctx, s.alerts.Source(userID), resolve, page, perPage, s.maxPerPage)
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		if err := s.alerts.Drop(ctx, invalid...); err != nil {
			logger.Warn("drop invalid alerts failed", zap.Strings("alerts", invalid), zap.Error(err))
		}
	}
	if err := s.alerts.MarkChecked(ctx, userID, s.now()); err != nil {
		logger.Warn("mark alerts checked failed", zap.String("user", userID), zap.Error(err))
	}
	return p, nil
}

func (s *alertService) render(ctx context.Context, userID string, a alert.Alert) (*AlertView, error) {
	actor, err := s.users.Get(ctx, a.Actor())
	if err != nil || actor == nil {
		return nil, err
	}
	reason := model.ReasonNone
	if _, ok := a.(alert.CommentingAlert); ok {
		if reason, err = s.subs.Reason(ctx, userID, alert.PostID(a)); err != nil {
			return nil, err
		}
	}
	return &AlertView{Alert: a, ActorName: actor.Username, Message: alert.Message(a, actor.Username, reason)}, nil
}

func (s *alertService) DeleteAlert(ctx context.Context, userID, alertID string) (bool, error) {
	n, err := s.alerts.Remove(ctx, userID, alertID)
	return n > 0, err
}

func (s *alertService) NewAlertCount(ctx context.Context, userID string) (int64, error) {
	since, err := s.alerts.LastChecked(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.alerts.CountSince(ctx, userID, since)
}

func (s *alertService) HasNewAlerts(ctx context.Context, userID string) (bool, error) {
	n, err := s.NewAlertCount(ctx, userID)
	return n > 0, err
}
