// internal/pkg/cache/pool.go
package cache

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// RebuildPool 是缓存重建专用的固定大小工作池。
// 池在启动时显式创建、在关停时显式排空，不依赖任何全局执行器。
type RebuildPool struct {
	tasks chan func()
	g     *errgroup.Group

	mu     sync.Mutex
	closed bool
}

// NewRebuildPool 创建并启动一个有 size 个 worker 的重建池。
func NewRebuildPool(size int) *RebuildPool {
	if size <= 0 {
		size = 1
	}
	p := &RebuildPool{
		tasks: make(chan func(), size*2),
		g:     new(errgroup.Group),
	}
	for i := 0; i < size; i++ {
		p.g.Go(func() error {
			for task := range p.tasks {
				task()
			}
			return nil
		})
	}
	return p
}

// Submit 提交一个重建任务。队列已满或池已关闭时返回 false，任务被丢弃，
// 由调用方决定善后（通常是立刻释放重建锁，等待下一次请求触发）。
// 关停窗口内在途请求仍然会调用 Submit，所以 Close 之后必须安全。
func (p *RebuildPool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Close 停止接收新任务并等待在途任务执行完毕。重复调用无副作用。
func (p *RebuildPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	_ = p.g.Wait()
}
