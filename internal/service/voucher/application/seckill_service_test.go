package application

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"flashdeal/internal/pkg/cache"
	"flashdeal/internal/pkg/logger"
	"flashdeal/internal/service/voucher/domain"
	"flashdeal/internal/service/voucher/domain/port"
)

func TestMain(m *testing.M) {
	logger.Init("voucher-test")
	os.Exit(m.Run())
}

// fakeAdmission 在内存里复刻准入脚本的判定语义：
// 整个判定在一把互斥锁内完成，对应脚本在 Redis 里的串行执行。
type fakeAdmission struct {
	mu        sync.Mutex
	stock     map[int64]int
	purchased map[int64]map[int64]bool
	enqueued  []domain.VoucherOrder
}

func newFakeAdmission() *fakeAdmission {
	return &fakeAdmission{
		stock:     make(map[int64]int),
		purchased: make(map[int64]map[int64]bool),
	}
}

func (f *fakeAdmission) Attempt(_ context.Context, voucherID, userID, orderID int64) (port.AdmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stock[voucherID] <= 0 {
		return port.AdmissionSoldOut, nil
	}
	if f.purchased[voucherID][userID] {
		return port.AdmissionDuplicate, nil
	}
	f.stock[voucherID]--
	if f.purchased[voucherID] == nil {
		f.purchased[voucherID] = make(map[int64]bool)
	}
	f.purchased[voucherID][userID] = true
	f.enqueued = append(f.enqueued, domain.VoucherOrder{OrderID: orderID, UserID: userID, VoucherID: voucherID})
	return port.AdmissionAccepted, nil
}

func (f *fakeAdmission) PrepareVoucherStock(_ context.Context, voucherID int64, stock int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[voucherID] = stock
	f.purchased[voucherID] = make(map[int64]bool)
	return nil
}

func (f *fakeAdmission) enqueuedOrders() []domain.VoucherOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.VoucherOrder, len(f.enqueued))
	copy(out, f.enqueued)
	return out
}

// fakeIDAllocator 发递增 ID，带锁保证并发下不重号。
type fakeIDAllocator struct {
	mu   sync.Mutex
	next int64
}

func (f *fakeIDAllocator) NextID(_ context.Context, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}

// fakeVoucherRepo 是内存版的权威券库。
type fakeVoucherRepo struct {
	mu       sync.Mutex
	vouchers map[int64]*domain.SeckillVoucher
}

func newFakeVoucherRepo() *fakeVoucherRepo {
	return &fakeVoucherRepo{vouchers: make(map[int64]*domain.SeckillVoucher)}
}

func (r *fakeVoucherRepo) FindByID(_ context.Context, id int64) (*domain.SeckillVoucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *fakeVoucherRepo) Save(_ context.Context, v *domain.SeckillVoucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.vouchers[v.VoucherID] = &cp
	return nil
}

// memStore / memLocks 给缓存层用的内存实现。
type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore { return &memStore{values: make(map[string]string)} }

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]string)} }

func (l *memLocks) TryAcquire(_ context.Context, resource string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[resource]; ok {
		return "", false, nil
	}
	l.held[resource] = resource
	return resource, true, nil
}

func (l *memLocks) Release(_ context.Context, resource, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[resource] == token {
		delete(l.held, resource)
	}
	return nil
}

type seckillFixture struct {
	svc       *SeckillService
	admission *fakeAdmission
	repo      *fakeVoucherRepo
}

func newSeckillFixture(t *testing.T) *seckillFixture {
	t.Helper()
	pool := cache.NewRebuildPool(2)
	t.Cleanup(pool.Close)
	cacheClient := cache.NewClient(newMemStore(), newMemLocks(), pool)

	admission := newFakeAdmission()
	repo := newFakeVoucherRepo()
	svc := NewSeckillService(&fakeIDAllocator{}, admission, repo, cacheClient, noop.NewTracerProvider().Tracer("test"))
	return &seckillFixture{svc: svc, admission: admission, repo: repo}
}

func (f *seckillFixture) publish(t *testing.T, voucherID int64, stock int, begin, end time.Time) {
	t.Helper()
	err := f.svc.PublishVoucher(context.Background(), &domain.SeckillVoucher{
		VoucherID: voucherID,
		Title:     fmt.Sprintf("券%d", voucherID),
		Stock:     stock,
		BeginTime: begin,
		EndTime:   end,
	})
	require.NoError(t, err)
}

func openWindow() (time.Time, time.Time) {
	now := time.Now()
	return now.Add(-time.Hour), now.Add(time.Hour)
}

func TestSeckill_Accepted(t *testing.T) {
	f := newSeckillFixture(t)
	begin, end := openWindow()
	f.publish(t, 10, 5, begin, end)

	orderID, err := f.svc.Seckill(context.Background(), 10, 1001)
	require.NoError(t, err)
	assert.Positive(t, orderID)

	// 订单意向已原子入队，携带同一个订单 ID
	orders := f.admission.enqueuedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, orderID, orders[0].OrderID)
	assert.Equal(t, int64(1001), orders[0].UserID)
	assert.Equal(t, int64(10), orders[0].VoucherID)
}

func TestSeckill_SameUserOnlyOneOrder(t *testing.T) {
	f := newSeckillFixture(t)
	begin, end := openWindow()
	f.publish(t, 10, 100, begin, end)

	const attempts = 50
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Seckill(context.Background(), 10, 1001)
		}(i)
	}
	wg.Wait()

	var accepted, duplicate int
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case assert.ErrorIs(t, err, domain.ErrDuplicateOrder):
			duplicate++
		}
	}
	assert.Equal(t, 1, accepted, "同一用户并发提交只能成功一次")
	assert.Equal(t, attempts-1, duplicate)
	assert.Len(t, f.admission.enqueuedOrders(), 1)
}

func TestSeckill_NeverOversells(t *testing.T) {
	f := newSeckillFixture(t)
	begin, end := openWindow()
	const stock = 10
	const users = 40
	f.publish(t, 10, stock, begin, end)

	var wg sync.WaitGroup
	results := make([]error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Seckill(context.Background(), 10, int64(2000+i))
		}(i)
	}
	wg.Wait()

	var accepted, soldOut int
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case assert.ErrorIs(t, err, domain.ErrStockInsufficient):
			soldOut++
		}
	}
	assert.Equal(t, stock, accepted, "成功数必须等于库存数")
	assert.Equal(t, users-stock, soldOut)
	assert.Len(t, f.admission.enqueuedOrders(), stock)
}

func TestSeckill_OutsideSaleWindow(t *testing.T) {
	f := newSeckillFixture(t)
	now := time.Now()

	// 未开始
	f.publish(t, 20, 10, now.Add(time.Hour), now.Add(2*time.Hour))
	_, err := f.svc.Seckill(context.Background(), 20, 1001)
	require.ErrorIs(t, err, domain.ErrSaleNotStarted)

	// 已结束
	f.publish(t, 21, 10, now.Add(-2*time.Hour), now.Add(-time.Hour))
	_, err = f.svc.Seckill(context.Background(), 21, 1001)
	require.ErrorIs(t, err, domain.ErrSaleEnded)

	// 窗口外的拒绝不消耗库存
	assert.Empty(t, f.admission.enqueuedOrders())
}

func TestSeckill_UnknownVoucher(t *testing.T) {
	f := newSeckillFixture(t)

	_, err := f.svc.Seckill(context.Background(), 404, 1001)
	require.ErrorIs(t, err, domain.ErrVoucherNotFound)
}

func TestPublishVoucher_PreparesStockAndWarmsCache(t *testing.T) {
	f := newSeckillFixture(t)
	begin, end := openWindow()
	f.publish(t, 30, 7, begin, end)

	// 镜像库存就位
	assert.Equal(t, 7, f.admission.stock[30])

	// 热点缓存已预热，不触发任何回源即可命中
	v, err := f.svc.QueryHotVoucher(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), v.VoucherID)
	assert.Equal(t, 7, v.Stock)
}

func TestPublishVoucher_ResetClearsPurchasedSet(t *testing.T) {
	f := newSeckillFixture(t)
	begin, end := openWindow()
	f.publish(t, 40, 1, begin, end)

	_, err := f.svc.Seckill(context.Background(), 40, 1001)
	require.NoError(t, err)
	_, err = f.svc.Seckill(context.Background(), 40, 1001)
	require.ErrorIs(t, err, domain.ErrStockInsufficient)

	// 重新发布会重置镜像库存和已购集合
	f.publish(t, 40, 1, begin, end)
	_, err = f.svc.Seckill(context.Background(), 40, 1001)
	require.NoError(t, err)
}

func TestPublishVoucher_InvalidatesStaleCachedCopy(t *testing.T) {
	f := newSeckillFixture(t)
	begin, end := openWindow()
	f.publish(t, 60, 3, begin, end)

	v, err := f.svc.QueryVoucher(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Stock)

	// 重新发布后旧缓存条目作废，立刻能读到新库存
	f.publish(t, 60, 8, begin, end)
	v, err = f.svc.QueryVoucher(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, 8, v.Stock)
}

func TestQueryVoucher_CachesAuthoritativeCopy(t *testing.T) {
	f := newSeckillFixture(t)
	begin, end := openWindow()
	f.publish(t, 50, 3, begin, end)

	v, err := f.svc.QueryVoucher(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), v.VoucherID)

	// 缓存命中后，权威库的后续变化在 TTL 内不可见
	require.NoError(t, f.repo.Save(context.Background(), &domain.SeckillVoucher{
		VoucherID: 50, Title: "改了", Stock: 99, BeginTime: begin, EndTime: end,
	}))
	v, err = f.svc.QueryVoucher(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Stock)
}
