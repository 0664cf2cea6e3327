package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/translate"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	return New(translate.New(0))
}

func TestPublish_DeliveryOrder(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("producer", "numbers", typeexpr.IntT))
	mb, err := b.Subscribe("consumer", "data", "producer.numbers", typeexpr.IntT, 16, OverflowBlock)
	require.NoError(t, err)
	b.Seal()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(ctx, "producer", "numbers", i))
	}

	for i := 1; i <= 5; i++ {
		env, ok := mb.Receive(ctx)
		require.True(t, ok)
		assert.Equal(t, i, env.Payload())
		assert.Equal(t, "producer", env.Source)
		assert.Equal(t, "producer.numbers", env.Topic)
		assert.Equal(t, "data", env.Input)
		assert.False(t, env.Timestamp.After(time.Now()))
	}
}

func TestPublish_TranslatesOnTypeMismatch(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("producer", "x", typeexpr.IntT))
	mb, err := b.Subscribe("consumer", "y", "producer.x", typeexpr.FloatT, 4, OverflowBlock)
	require.NoError(t, err)
	b.Seal()

	require.NoError(t, b.Publish(context.Background(), "producer", "x", 3))

	env, ok := mb.Receive(context.Background())
	require.True(t, ok)
	assert.Equal(t, 3.0, env.Payload())
	assert.Equal(t, "float", env.DataType.String())
}

func TestPublish_TranslationFailureSkipsOnlyThatBinding(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("producer", "word", typeexpr.StrT))
	intBox, err := b.Subscribe("ints", "n", "producer.word", typeexpr.IntT, 4, OverflowBlock)
	require.NoError(t, err)
	anyBox, err := b.Subscribe("anys", "v", "producer.word", typeexpr.AnyT, 4, OverflowBlock)
	require.NoError(t, err)
	b.Seal()

	require.NoError(t, b.Publish(context.Background(), "producer", "word", "not-an-int"))

	assert.Equal(t, 0, intBox.Len(), "failed binding must be skipped")
	env, ok := anyBox.Receive(context.Background())
	require.True(t, ok)
	assert.Equal(t, "not-an-int", env.Payload())
	assert.Equal(t, int64(1), b.Stats().TranslationFailures)
}

func TestPublish_NoSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("producer", "unwired", typeexpr.StrT))
	b.Seal()

	require.NoError(t, b.Publish(context.Background(), "producer", "unwired", "lost"))
	assert.Equal(t, int64(1), b.Stats().NoSubscriber)
}

func TestSubscribe_Idempotent(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("p", "o", typeexpr.StrT))
	first, err := b.Subscribe("s", "i", "p.o", typeexpr.StrT, 4, OverflowBlock)
	require.NoError(t, err)
	second, err := b.Subscribe("s", "i", "p.o", typeexpr.StrT, 4, OverflowBlock)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSubscribe_UnknownTopic(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	_, err := b.Subscribe("s", "i", "ghost.out", typeexpr.AnyT, 4, OverflowBlock)
	assert.ErrorContains(t, err, "does not exist")
}

func TestSealedBusRejectsWiring(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("p", "o", typeexpr.StrT))
	b.Seal()

	assert.Error(t, b.RegisterOutput("p", "late", typeexpr.StrT))
	_, err := b.Subscribe("s", "i", "p.o", typeexpr.StrT, 4, OverflowBlock)
	assert.Error(t, err)
}

func TestMailbox_BlockPolicySuspendsPublisher(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("p", "o", typeexpr.IntT))
	mb, err := b.Subscribe("s", "i", "p.o", typeexpr.IntT, 2, OverflowBlock)
	require.NoError(t, err)
	b.Seal()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 5; i++ {
			if err := b.Publish(ctx, "p", "o", i); err != nil {
				return
			}
		}
	}()

	// Let the publisher fill the mailbox and suspend.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, mb.Len())

	var got []int
	for i := 0; i < 5; i++ {
		env, ok := mb.Receive(ctx)
		require.True(t, ok)
		got = append(got, env.Payload().(int))
	}
	<-done

	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	stats := mb.Stats()
	assert.Equal(t, int64(5), stats.Enqueued)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.GreaterOrEqual(t, stats.Suspensions, int64(1))
}

func TestMailbox_DropOldest(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("p", "o", typeexpr.IntT))
	mb, err := b.Subscribe("s", "i", "p.o", typeexpr.IntT, 2, OverflowDropOldest)
	require.NoError(t, err)
	b.Seal()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(ctx, "p", "o", i))
	}

	var got []int
	for mb.Len() > 0 {
		env, ok := mb.Receive(ctx)
		require.True(t, ok)
		got = append(got, env.Payload().(int))
	}
	assert.Equal(t, []int{4, 5}, got, "newest two survive")
	assert.Equal(t, int64(3), mb.Stats().Dropped)
}

func TestMailbox_DropNew(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("p", "o", typeexpr.IntT))
	mb, err := b.Subscribe("s", "i", "p.o", typeexpr.IntT, 2, OverflowDropNew)
	require.NoError(t, err)
	b.Seal()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(ctx, "p", "o", i))
	}

	var got []int
	for mb.Len() > 0 {
		env, ok := mb.Receive(ctx)
		require.True(t, ok)
		got = append(got, env.Payload().(int))
	}
	assert.Equal(t, []int{1, 2}, got, "oldest two survive")
	assert.Equal(t, int64(3), mb.Stats().Dropped)
}

func TestMailbox_Drain(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	require.NoError(t, b.RegisterOutput("p", "o", typeexpr.IntT))
	mb, err := b.Subscribe("s", "i", "p.o", typeexpr.IntT, 8, OverflowBlock)
	require.NoError(t, err)
	b.Seal()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, "p", "o", i))
	}
	assert.False(t, b.AllMailboxesEmpty())
	assert.Equal(t, 3, mb.Drain())
	assert.True(t, b.AllMailboxesEmpty())
}
