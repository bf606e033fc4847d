package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/errtrack"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/tracing"
)

// FanoutOptions 扇出 worker 参数，零值使用默认
type FanoutOptions struct {
	Workers      int
	BatchSize    int
	ClaimLimit   int
	PollInterval time.Duration
	RateLimit    float64 // feed 写入/秒，0 不限速
	MaxAttempts  int
	StaleAfter   time.Duration
}

// FanoutWorker 从 outbox 领取事件，将帖子推入粉丝 feed
type FanoutWorker struct {
	outbox  repository.OutboxRepository
	fanRepo repository.FanRepository
	feed    repository.FeedRepository
	posts   repository.PostRepository
	limiter *rate.Limiter
	opts    FanoutOptions

	wake      chan struct{}
	metricsCh chan time.Duration // outbox -> done latency
}

func NewFanoutWorker(outbox repository.OutboxRepository, fanRepo repository.FanRepository, feed repository.FeedRepository, posts repository.PostRepository, opts FanoutOptions) *FanoutWorker {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.ClaimLimit <= 0 {
		opts.ClaimLimit = 64
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Minute
	}
	w := &FanoutWorker{
		outbox:    outbox,
		fanRepo:   fanRepo,
		feed:      feed,
		posts:     posts,
		opts:      opts,
		wake:      make(chan struct{}, 1),
		metricsCh: make(chan time.Duration, 65536),
	}
	if opts.RateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.BatchSize)
	}
	return w
}

func (w *FanoutWorker) Metrics() <-chan time.Duration { return w.metricsCh }

// Wake 提示 worker 立即轮询，不阻塞
func (w *FanoutWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start 启动若干 worker 轮询处理 outbox；返回停止函数
func (w *FanoutWorker) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reaper(ctx)
	}()
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (w *FanoutWorker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("fanout poll failed", zap.Error(err))
		}
	}
}

// reaper 回收崩溃 worker 遗留的 processing 事件
func (w *FanoutWorker) reaper(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StaleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.outbox.RequeueStale(ctx, time.Now().Add(-w.opts.StaleAfter))
			if err != nil {
				logger.Warn("outbox requeue failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("outbox requeued stale events", zap.Int64("count", n))
			}
		}
	}
}

// ProcessOnce 领取一批 pending outbox 并扇出，返回处理条数
func (w *FanoutWorker) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := w.outbox.Claim(ctx, w.opts.ClaimLimit, time.Now())
	if err != nil {
		return 0, err
	}
	for _, ob := range batch {
		w.process(ctx, ob)
	}
	return len(batch), nil
}

func (w *FanoutWorker) process(ctx context.Context, ob *model.Outbox) {
	ctx, span := tracing.Start(ctx, "fanout.process",
		attribute.String("post.id", ob.PostID), attribute.String("author.id", ob.AuthorID))
	defer span.End()

	written, err := w.fanout(ctx, ob)
	if err != nil {
		terminal := ob.Attempts >= w.opts.MaxAttempts
		logger.Error("fanout failed",
			zap.String("post", ob.PostID), zap.Int("attempt", ob.Attempts), zap.Bool("terminal", terminal), zap.Error(err))
		span.RecordError(err)
		if terminal {
			errtrack.Capture(err, map[string]string{"component": "fanout", "post": ob.PostID})
		}
		if rErr := w.outbox.Release(context.WithoutCancel(ctx), ob.ID, err.Error(), terminal); rErr != nil {
			logger.Error("outbox release failed", zap.String("outbox", ob.ID), zap.Error(rErr))
		}
		return
	}
	if err := w.outbox.Complete(context.WithoutCancel(ctx), ob.ID, written, time.Now()); err != nil {
		logger.Error("outbox complete failed", zap.String("outbox", ob.ID), zap.Error(err))
		return
	}
	span.SetAttributes(attribute.Int64("fanout.count", written))
	if !ob.CreatedAt.IsZero() {
		select {
		case w.metricsCh <- time.Since(ob.CreatedAt):
		default:
		}
	}
}

func (w *FanoutWorker) fanout(ctx context.Context, ob *model.Outbox) (int64, error) {
	// 帖子在扇出前已被删除则无需写入
	exists, err := w.posts.Exists(ctx, ob.PostID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	list := w.fanRepo.ListFans
	if ob.Permission == model.PermissionTrusted {
		list = w.fanRepo.ListTrustedFans
	}
	postedAt := ob.PostedAt
	if postedAt.IsZero() {
		postedAt = ob.CreatedAt
	}

	var total int64
	for offset := 0; ; offset += w.opts.BatchSize {
		fans, err := list(ctx, ob.AuthorID, offset, w.opts.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list fans: %w", err)
		}
		if len(fans) == 0 {
			break
		}
		if w.limiter != nil {
			if err := w.limiter.WaitN(ctx, len(fans)); err != nil {
				return total, err
			}
		}
		if _, err := w.feed.Push(ctx, ob.PostID, postedAt, fans...); err != nil {
			return total, fmt.Errorf("push feeds: %w", err)
		}
		total += int64(len(fans))
		if len(fans) < w.opts.BatchSize {
			break
		}
	}
	return total, nil
}
