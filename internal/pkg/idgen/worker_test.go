package idgen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSequencer 模拟按 key 自增的计数器。
type fakeSequencer struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{counts: make(map[string]int64)}
}

func (f *fakeSequencer) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func TestNextID_Composition(t *testing.T) {
	seq := newFakeSequencer()
	w := NewWorker(seq)

	fixed := time.Unix(beginTimestamp+100, 0).UTC()
	w.now = func() time.Time { return fixed }

	id, err := w.NextID(context.Background(), "order")
	require.NoError(t, err)

	// 高位是距纪元的秒数，低 32 位是当日序列号
	assert.Equal(t, int64(100), id>>countBits)
	assert.Equal(t, int64(1), id&0xFFFFFFFF)
}

func TestNextID_DailyCounterKey(t *testing.T) {
	seq := newFakeSequencer()
	w := NewWorker(seq)

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	_, err := w.NextID(context.Background(), "order")
	require.NoError(t, err)

	assert.Contains(t, seq.counts, "icr:order:2026:08:30")
}

func TestNextID_StrictlyIncreasingWithinSecond(t *testing.T) {
	seq := newFakeSequencer()
	w := NewWorker(seq)

	fixed := time.Unix(beginTimestamp+42, 0).UTC()
	w.now = func() time.Time { return fixed }

	var prev int64
	for i := 0; i < 1000; i++ {
		id, err := w.NextID(context.Background(), "order")
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNextID_LaterSecondAlwaysGreater(t *testing.T) {
	seq := newFakeSequencer()
	w := NewWorker(seq)

	early := time.Unix(beginTimestamp+10, 0).UTC()
	w.now = func() time.Time { return early }

	var maxEarly int64
	for i := 0; i < 100; i++ {
		id, err := w.NextID(context.Background(), "order")
		require.NoError(t, err)
		if id > maxEarly {
			maxEarly = id
		}
	}

	w.now = func() time.Time { return early.Add(time.Second) }
	id, err := w.NextID(context.Background(), "order")
	require.NoError(t, err)
	assert.Greater(t, id, maxEarly)
}

func TestNextID_NamespacesIndependent(t *testing.T) {
	seq := newFakeSequencer()
	w := NewWorker(seq)

	fixed := time.Unix(beginTimestamp+7, 0).UTC()
	w.now = func() time.Time { return fixed }

	orderID, err := w.NextID(context.Background(), "order")
	require.NoError(t, err)
	shopID, err := w.NextID(context.Background(), "shop")
	require.NoError(t, err)

	// 两个命名空间各自从 1 开始计数
	assert.Equal(t, int64(1), orderID&0xFFFFFFFF)
	assert.Equal(t, int64(1), shopID&0xFFFFFFFF)
}
