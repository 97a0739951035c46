// internal/pkg/idgen/worker.go
package idgen

import (
	"context"
	"fmt"
	"time"
)

const (
	// beginTimestamp 是 ID 时间分量的起始纪元（2022-01-01 00:00:00 UTC）。
	beginTimestamp = 1640995200

	// countBits 是序列号占用的位数。
	countBits = 32
)

// Sequencer 提供按 key 原子自增的能力，由 internal/pkg/redis.Client 提供。
type Sequencer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Worker 生成全局趋势递增的 64 位 ID。
//
// 高 32 位为距纪元的整秒数，低 32 位为当日计数器的自增序列。
// 计数器 key 形如 icr:<namespace>:<yyyy:MM:dd>，按天切分，
// 顺带可以按日期统计每个命名空间的发号量。
//
// 同一命名空间单日发号超过 2^32 时序列号会溢出到时间分量，
// 唯一性以此为上限；时钟回拨期间不保证严格递增。
type Worker struct {
	seq Sequencer
	now func() time.Time
}

// NewWorker 创建一个 ID 生成器。
func NewWorker(seq Sequencer) *Worker {
	return &Worker{seq: seq, now: time.Now}
}

// NextID 为指定命名空间生成下一个 ID。
func (w *Worker) NextID(ctx context.Context, namespace string) (int64, error) {
	// 1. 生成时间戳分量
	now := w.now().UTC()
	timestamp := now.Unix() - beginTimestamp

	// 2. 生成当日序列号
	date := now.Format("2006:01:02")
	count, err := w.seq.Incr(ctx, "icr:"+namespace+":"+date)
	if err != nil {
		return 0, fmt.Errorf("failed to increment id counter for %s: %w", namespace, err)
	}

	// 3. 拼接
	return timestamp<<countBits | count, nil
}
