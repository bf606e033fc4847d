package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/alert"
	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/notify"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/errtrack"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

type dispatchJob struct {
	alert       alert.Alert
	recipientID string
	enqAt       time.Time
}

// Dispatcher 本地异步外发执行器：渲染告警文本并交给 Notifier
type Dispatcher struct {
	notifier  notify.Notifier
	users     *cache.UserCache
	subs      repository.SubscriptionRepository
	ch        chan dispatchJob
	metricsCh chan time.Duration
}

func NewDispatcher(notifier notify.Notifier, users *cache.UserCache, subs repository.SubscriptionRepository, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 10000
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Dispatcher{
		notifier:  notifier,
		users:     users,
		subs:      subs,
		ch:        make(chan dispatchJob, queueSize),
		metricsCh: make(chan time.Duration, 65536),
	}
}

func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-d.ch:
					d.run(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		// 等待队列自然排空一小段时间
		timeout := time.After(2 * time.Second)
	drain:
		for len(d.ch) > 0 {
			select {
			case <-timeout:
				break drain
			case <-ctx.Done():
				break drain
			case <-time.After(50 * time.Millisecond):
			}
		}
		close(stopCh)
		wg.Wait()
		return nil
	}
}

func (d *Dispatcher) run(job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.deliver(ctx, job); err != nil {
		logger.Warn("alert dispatch failed",
			zap.String("recipient", job.recipientID), zap.String("alert", job.alert.AlertID()), zap.Error(err))
		errtrack.Capture(err, map[string]string{"component": "dispatcher", "kind": string(job.alert.Kind())})
	}
	if !job.enqAt.IsZero() {
		select {
		case d.metricsCh <- time.Since(job.enqAt):
		default:
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job dispatchJob) error {
	actor, err := d.users.Get(ctx, job.alert.Actor())
	if err != nil {
		return err
	}
	if actor == nil {
		// 发起者已删除，读取时会被清理
		return nil
	}
	reason := model.ReasonNone
	if _, ok := job.alert.(alert.CommentingAlert); ok {
		if reason, err = d.subs.Reason(ctx, job.recipientID, alert.PostID(job.alert)); err != nil {
			return err
		}
	}
	return d.notifier.Notify(ctx, notify.Message{
		RecipientID: job.recipientID,
		AlertID:     job.alert.AlertID(),
		Kind:        string(job.alert.Kind()),
		Text:        alert.Message(job.alert, actor.Username, reason),
		CreatedAt:   job.alert.Created(),
	})
}

// Enqueue 非阻塞入队，队列满时丢弃（告警已落库，仅外发丢失）
func (d *Dispatcher) Enqueue(a alert.Alert, recipients ...string) {
	now := time.Now()
	for _, uid := range recipients {
		select {
		case d.ch <- dispatchJob{alert: a, recipientID: uid, enqAt: now}:
		default:
			logger.Warn("dispatch queue full, drop", zap.String("recipient", uid), zap.String("alert", a.AlertID()))
		}
	}
}

// Metrics 返回外发耗时的只读通道（每处理一条发送一次 duration）。
func (d *Dispatcher) Metrics() <-chan time.Duration { return d.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (d *Dispatcher) QueueLen() int { return len(d.ch) }
