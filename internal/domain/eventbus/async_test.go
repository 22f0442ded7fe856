package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens-server-go/internal/domain/verdict"
	testhelpers "chartlens-server-go/internal/platform/testing"
)

func TestAsyncEventBusDelivers(t *testing.T) {
	bus := NewAsyncEventBus(2, testhelpers.SetupTestLogger(t))
	bus.Start()
	t.Cleanup(bus.Stop)

	var mu sync.Mutex
	var got []string
	require.NoError(t, bus.Subscribe(EventChartVerdict, func(data VerdictEventData) {
		mu.Lock()
		got = append(got, data.Verdict.ID)
		mu.Unlock()
	}))
	assert.True(t, bus.HasCallback(EventChartVerdict))

	for _, id := range []string{"a", "b", "c"} {
		bus.PublishAsync(EventChartVerdict, VerdictEventData{Verdict: verdict.Verdict{ID: id}})
	}
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, bus.Dropped())
}

func TestAsyncEventBusRecoversFromPanics(t *testing.T) {
	bus := NewAsyncEventBus(1, testhelpers.SetupTestLogger(t))
	bus.Start()
	t.Cleanup(bus.Stop)

	var calls atomic.Int32
	require.NoError(t, bus.Subscribe(EventSystemError, func(SystemEventData) {
		calls.Add(1)
		panic("boom")
	}))

	bus.PublishAsync(EventSystemError, SystemEventData{Level: "error"})
	bus.PublishAsync(EventSystemError, SystemEventData{Level: "error"})
	bus.WaitAsync()

	assert.EqualValues(t, 2, calls.Load())
}

func TestAsyncEventBusDropsWhenFull(t *testing.T) {
	// never started, so nothing drains the queue
	bus := NewAsyncEventBus(1, testhelpers.SetupTestLogger(t))

	for i := 0; i < defaultQueueSize+5; i++ {
		bus.PublishAsync(EventChartBatch, BatchEventData{Total: i})
	}
	assert.EqualValues(t, 5, bus.Dropped())
}

func TestAsyncEventBusUnsubscribe(t *testing.T) {
	bus := NewAsyncEventBus(1, testhelpers.SetupTestLogger(t))
	bus.Start()
	t.Cleanup(bus.Stop)

	var calls atomic.Int32
	handler := func(VerdictEventData) { calls.Add(1) }
	require.NoError(t, bus.Subscribe(EventChartVerdict, handler))

	bus.Publish(EventChartVerdict, VerdictEventData{})
	require.NoError(t, bus.Unsubscribe(EventChartVerdict, handler))
	bus.Publish(EventChartVerdict, VerdictEventData{})

	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, bus.HasCallback(EventChartVerdict))
}

func TestStopIsIdempotent(t *testing.T) {
	bus := NewAsyncEventBus(1, nil)
	bus.Start()
	bus.Start()
	bus.Stop()
	bus.Stop()
}
