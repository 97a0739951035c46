// internal/service/voucher/application/seckill_service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashdeal/internal/pkg/cache"
	"flashdeal/internal/pkg/logger"
	"flashdeal/internal/service/voucher/domain"
	"flashdeal/internal/service/voucher/domain/port"
)

const (
	// orderIDNamespace 是订单 ID 在发号器里的命名空间。
	orderIDNamespace = "order"

	voucherCacheKeyPrefix    = "cache:voucher:"
	hotVoucherCacheKeyPrefix = "cache:voucher:hot:"

	voucherCacheTTL      = 30 * time.Minute
	hotVoucherLogicalTTL = 30 * time.Second
)

// IDAllocator 是订单 ID 发号能力，由 internal/pkg/idgen 提供。
type IDAllocator interface {
	NextID(ctx context.Context, namespace string) (int64, error)
}

// SeckillService 编排秒杀的提交路径：发号、窗口校验、原子准入。
// 提交在调用方自己的请求线程上执行，准入判定的线性一致性
// 来自 Redis 脚本的串行执行，这一层不持任何锁。
type SeckillService struct {
	ids       IDAllocator
	admission port.AdmissionService
	vouchers  domain.VoucherRepository
	cache     *cache.Client
	tracer    trace.Tracer
}

// NewSeckillService 创建秒杀应用服务。
func NewSeckillService(ids IDAllocator, admission port.AdmissionService, vouchers domain.VoucherRepository, cacheClient *cache.Client, tracer trace.Tracer) *SeckillService {
	return &SeckillService{
		ids:       ids,
		admission: admission,
		vouchers:  vouchers,
		cache:     cacheClient,
		tracer:    tracer,
	}
}

// Seckill 处理一次秒杀提交，成功时返回订单 ID。
// 调用方拿到的是"准入"结果：订单的持久化由后台 worker 异步完成，
// 这里不等待落库。业务性拒绝通过 ErrStockInsufficient / ErrDuplicateOrder
// / ErrSaleNotStarted / ErrSaleEnded 返回。
func (s *SeckillService) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "app.Seckill")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("voucher.id", voucherID),
		attribute.Int64("user.id", userID),
	)

	// 1. 校验秒杀窗口（走缓存，防止热券查询打穿数据库）
	voucher, err := s.QueryVoucher(ctx, voucherID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "voucher lookup failed")
		return 0, err
	}
	if err := voucher.InSaleWindow(time.Now()); err != nil {
		span.AddEvent("rejected outside sale window")
		return 0, err
	}

	// 2. 先发号：订单 ID 要和扣减、登记一起进同一个原子脚本
	orderID, err := s.ids.NextID(ctx, orderIDNamespace)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "id allocation failed")
		return 0, fmt.Errorf("failed to allocate order id: %w", err)
	}

	// 3. 原子准入：库存、一人一单、入队一次脚本判定
	start := time.Now()
	result, err := s.admission.Attempt(ctx, voucherID, userID, orderID)
	admissionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		admissionTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission script failed")
		return 0, err
	}

	switch result {
	case port.AdmissionAccepted:
		admissionTotal.WithLabelValues("accepted").Inc()
		span.AddEvent("admission accepted")
		return orderID, nil
	case port.AdmissionSoldOut:
		admissionTotal.WithLabelValues("sold_out").Inc()
		return 0, domain.ErrStockInsufficient
	case port.AdmissionDuplicate:
		admissionTotal.WithLabelValues("duplicate").Inc()
		return 0, domain.ErrDuplicateOrder
	default:
		admissionTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("unknown admission result: %d", result)
	}
}

// PublishVoucher 发布一张秒杀券：落权威库、预置镜像库存、预热热点缓存。
func (s *SeckillService) PublishVoucher(ctx context.Context, voucher *domain.SeckillVoucher) error {
	ctx, span := s.tracer.Start(ctx, "app.PublishVoucher")
	defer span.End()

	if err := s.vouchers.Save(ctx, voucher); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.admission.PrepareVoucherStock(ctx, voucher.VoucherID, voucher.Stock); err != nil {
		span.RecordError(err)
		return err
	}
	// 权威数据变了，旧的穿透缓存条目（包括空值标记）必须作废
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("%s%d", voucherCacheKeyPrefix, voucher.VoucherID)); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("voucher_id", voucher.VoucherID).Msg("failed to invalidate voucher cache")
	}
	// 热点 key 预热：逻辑过期策略不做首次加载，必须在这里写入
	key := fmt.Sprintf("%s%d", hotVoucherCacheKeyPrefix, voucher.VoucherID)
	if err := cache.SetWithLogicalExpire(ctx, s.cache, key, voucher, hotVoucherLogicalTTL); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("voucher_id", voucher.VoucherID).Msg("failed to warm hot voucher cache")
	}

	logger.Ctx(ctx).Info().
		Int64("voucher_id", voucher.VoucherID).
		Int("stock", voucher.Stock).
		Msg("voucher published")
	return nil
}

// QueryVoucher 查询一张券，走穿透防护缓存。
func (s *SeckillService) QueryVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	key := fmt.Sprintf("%s%d", voucherCacheKeyPrefix, voucherID)
	voucher, err := cache.GetOrLoad(ctx, s.cache, key, voucherCacheTTL, func(ctx context.Context) (*domain.SeckillVoucher, error) {
		return s.vouchers.FindByID(ctx, voucherID)
	})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, domain.ErrVoucherNotFound
	}
	return voucher, err
}

// QueryHotVoucher 查询一张热点券，走逻辑过期缓存。
// 返回值可能是逻辑上已过期的旧数据，重建在后台进行。
func (s *SeckillService) QueryHotVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	key := fmt.Sprintf("%s%d", hotVoucherCacheKeyPrefix, voucherID)
	voucher, err := cache.GetOrRefresh(ctx, s.cache, key, hotVoucherLogicalTTL, func(ctx context.Context) (*domain.SeckillVoucher, error) {
		v, err := s.vouchers.FindByID(ctx, voucherID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("voucher %d disappeared from authoritative store", voucherID)
		}
		return v, nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, domain.ErrVoucherNotFound
	}
	return voucher, err
}
