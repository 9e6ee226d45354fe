package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(initial, min, max int) TunableConfig {
	return TunableConfig{
		InitialSize:  initial,
		MinSize:      min,
		MaxSize:      max,
		GrowFactor:   2.0,
		ShrinkFactor: 0.5,
		SampleWindow: 0, // 测试里每次 Tune 都立即采样
	}
}

func TestTunableChannel_SendReceive(t *testing.T) {
	tc := NewTunableChannel[string](testConfig(4, 2, 16))

	require.True(t, tc.TrySend("snapshot-1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := tc.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshot-1", v)
}

func TestTunableChannel_TrySendDropsWhenFull(t *testing.T) {
	tc := NewTunableChannel[int](testConfig(2, 2, 2))

	require.True(t, tc.TrySend(1))
	require.True(t, tc.TrySend(2))
	assert.False(t, tc.TrySend(3))

	stats := tc.Stats()
	assert.Equal(t, int64(2), stats.Sends)
	assert.Equal(t, int64(1), stats.Blocks)
	assert.Equal(t, 2, stats.Length)
}

func TestTunableChannel_ReceiveHonorsContext(t *testing.T) {
	tc := NewTunableChannel[int](testConfig(2, 2, 4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tc.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTunableChannel_TryReceive(t *testing.T) {
	tc := NewTunableChannel[int](testConfig(2, 2, 4))

	_, ok := tc.TryReceive()
	assert.False(t, ok)

	require.True(t, tc.TrySend(7))
	v, ok := tc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestTunableChannel_TuneGrowsUnderPressure(t *testing.T) {
	tc := NewTunableChannel[int](testConfig(2, 2, 8))

	// 填满后再入队一次制造阻塞，阻塞率 1/3 超过扩容阈值
	require.True(t, tc.TrySend(1))
	require.True(t, tc.TrySend(2))
	require.False(t, tc.TrySend(3))

	tc.Tune()
	assert.Equal(t, 4, tc.Cap())
	// 积压随扩容迁移，顺序不变
	assert.Equal(t, 2, tc.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := tc.Receive(ctx)
	require.NoError(t, err)
	second, err := tc.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{first, second})
}

func TestTunableChannel_TuneShrinksWhenIdle(t *testing.T) {
	tc := NewTunableChannel[int](testConfig(8, 2, 16))

	require.True(t, tc.TrySend(1))
	v, ok := tc.TryReceive()
	require.True(t, ok)
	require.Equal(t, 1, v)

	tc.Tune()
	assert.Equal(t, 4, tc.Cap())
}

func TestTunableChannel_TuneRespectsBounds(t *testing.T) {
	tc := NewTunableChannel[int](testConfig(2, 2, 2))

	require.True(t, tc.TrySend(1))
	require.True(t, tc.TrySend(2))
	require.False(t, tc.TrySend(3))

	// 已在上界，扩容不生效
	tc.Tune()
	assert.Equal(t, 2, tc.Cap())
}
