// internal/service/voucher/application/order_worker.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flashdeal/internal/pkg/logger"
	"flashdeal/internal/service/voucher/domain"
	"flashdeal/internal/service/voucher/domain/port"
)

const (
	// persistLockLease 是落库期间持有的用户锁租约。
	persistLockLease = 10 * time.Second

	// defaultRetryDelay 是恢复循环两次失败尝试之间的固定间隔。
	defaultRetryDelay = 20 * time.Millisecond

	// defaultMaxAttempts 是单条记录在恢复循环里的重试上限，
	// 超过后走死信路径，防止毒消息堵死整个队列。
	// 锁被占用不计入：上一个进程崩溃留下的租约最长要 10s 才自清，
	// 这类失败重试多少次都不说明记录本身有问题。
	defaultMaxAttempts = 16

	// releaseTimeout 是锁释放调用自己的超时。
	releaseTimeout = 2 * time.Second
)

// errLockUnavailable 标记一次因用户锁被占用而失败的落库尝试。
// 恢复循环靠它区分「等租约过期」和「毒消息」。
var errLockUnavailable = errors.New("persistence lock unavailable")

// LockManager 是落库串行化所需的抢锁能力，由 internal/pkg/redlock 提供。
type LockManager interface {
	TryAcquire(ctx context.Context, resource string, lease time.Duration) (string, bool, error)
	Release(ctx context.Context, resource, token string) error
}

// OrderWorker 是订单持久化的后台 worker。
//
// 刻意只跑一个消费者：订单落库串行执行，避免多个消费者
// 对同一镜像/权威库存做协调（见部署说明，横向扩展需要按券分片日志）。
// 正常路径 tailing 新记录；任何一次处理失败都会切入 pending-list
// 恢复循环，把本消费者的未确认记录从头补完后再回到正常路径。
type OrderWorker struct {
	log    port.OrderLog
	store  domain.OrderStore
	locks  LockManager
	events port.EventProducer

	retryDelay  time.Duration
	maxAttempts int

	wg      sync.WaitGroup
	stopped atomic.Bool
	cancel  context.CancelFunc
}

// NewOrderWorker 创建订单持久化 worker。
func NewOrderWorker(log port.OrderLog, store domain.OrderStore, locks LockManager, events port.EventProducer) *OrderWorker {
	return &OrderWorker{
		log:         log,
		store:       store,
		locks:       locks,
		events:      events,
		retryDelay:  defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
	}
}

// Start 启动唯一的消费 goroutine。这是一个长期运行的任务。
func (w *OrderWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		logger.Ctx(ctx).Info().Msg("order worker started")
		w.run(ctx)
	}()
}

// Stop 优雅地停止 worker，等待在途记录处理完。
func (w *OrderWorker) Stop() {
	w.stopped.Store(true)
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	logger.Logger.Info().Msg("order worker stopped")
}

func (w *OrderWorker) run(ctx context.Context) {
	// 先补偿上一次进程退出留下的未确认记录，再开始 tailing
	w.handlePendingList(ctx)

	for {
		if w.stopped.Load() {
			return
		}

		rec, err := w.log.ReadNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("order worker shutting down")
				return
			}
			if errors.Is(err, port.ErrMalformedRecord) && rec != nil {
				w.deadLetter(ctx, rec, "unparsable record")
				continue
			}
			logger.Ctx(ctx).Error().Err(err).Msg("failed to read order record")
			w.handlePendingList(ctx)
			continue
		}
		if rec == nil {
			// 阻塞窗口内没有新消息，回去检查退出信号
			continue
		}

		if err := w.handleOrder(ctx, rec); err != nil {
			// 记录保持未确认，由恢复循环补偿
			logger.Ctx(ctx).Error().Err(err).Str("record_id", rec.ID).Msg("failed to persist order")
			w.handlePendingList(ctx)
		}
	}
}

// handleOrder 在用户级分布式锁内落库并确认一条记录。
// 锁用来防止同一条记录被并发的第二遍恢复同时处理。
func (w *OrderWorker) handleOrder(ctx context.Context, rec *port.OrderRecord) error {
	resource := fmt.Sprintf("order:%d", rec.Order.UserID)
	token, ok, err := w.locks.TryAcquire(ctx, resource, persistLockLease)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d: %w", rec.Order.UserID, errLockUnavailable)
	}
	defer func() {
		// 释放用独立的 context：Stop 触发的取消不能让锁悬到租约过期
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := w.locks.Release(releaseCtx, resource, token); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("resource", resource).Msg("failed to release persistence lock")
		}
	}()

	if err := w.store.Create(ctx, &rec.Order); err != nil {
		return err
	}

	// 事务提交之后才确认日志记录
	if err := w.log.Ack(ctx, rec.ID); err != nil {
		return err
	}
	ordersPersistedTotal.Inc()

	// 事件投递失败不回滚持久化
	if err := w.events.OrderPersisted(ctx, &rec.Order); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("order_id", rec.Order.OrderID).Msg("failed to publish order event")
	}
	return nil
}

// handlePendingList 反复补偿本消费者的未确认记录（从最旧的开始），
// 直到 pending-list 清空才返回正常消费。两次失败之间固定短暂停顿；
// 单条记录超过重试上限后进入死信路径。
func (w *OrderWorker) handlePendingList(ctx context.Context) {
	attempts := make(map[string]int)

	for {
		if w.stopped.Load() || ctx.Err() != nil {
			return
		}

		rec, err := w.log.ReadPending(ctx)
		if err != nil {
			if errors.Is(err, port.ErrMalformedRecord) && rec != nil {
				w.deadLetter(ctx, rec, "unparsable record")
				continue
			}
			logger.Ctx(ctx).Error().Err(err).Msg("failed to read pending record")
			w.sleep(ctx)
			continue
		}
		if rec == nil {
			// pending-list 已清空
			return
		}

		if attempts[rec.ID] >= w.maxAttempts {
			w.deadLetter(ctx, rec, fmt.Sprintf("retry limit %d exceeded", w.maxAttempts))
			delete(attempts, rec.ID)
			continue
		}

		if err := w.handleOrder(ctx, rec); err != nil {
			recoveryRetriesTotal.Inc()
			if errors.Is(err, errLockUnavailable) {
				// 锁没抢到：等待，不消耗重试预算
				logger.Ctx(ctx).Warn().Str("record_id", rec.ID).Msg("user lock held, waiting for lease to clear")
			} else {
				attempts[rec.ID]++
				logger.Ctx(ctx).Error().Err(err).Str("record_id", rec.ID).Msg("pending order retry failed")
			}
			w.sleep(ctx)
			continue
		}
		delete(attempts, rec.ID)
	}
}

// deadLetter 把一条放弃的记录发到死信 topic，发布成功后才确认，
// 发布失败则记录留在 pending-list，下一轮恢复时重试上报。
func (w *OrderWorker) deadLetter(ctx context.Context, rec *port.OrderRecord, reason string) {
	if err := w.events.DeadLetter(ctx, rec.ID, reason, rec.Raw); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("record_id", rec.ID).Msg("failed to publish dead letter")
		w.sleep(ctx)
		return
	}
	if err := w.log.Ack(ctx, rec.ID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("record_id", rec.ID).Msg("failed to ack dead letter")
		return
	}
	deadLettersTotal.Inc()
	logger.Ctx(ctx).Warn().Str("record_id", rec.ID).Str("reason", reason).Msg("order record dead-lettered")
}

func (w *OrderWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.retryDelay):
	}
}
