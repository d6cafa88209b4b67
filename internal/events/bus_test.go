package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testHandler collects deliveries and fails a configurable number of times.
type testHandler struct {
	mu        sync.Mutex
	messages  []*Message
	failTimes int32
	permanent bool
	delivered chan struct{}
}

func newTestHandler(capacity int) *testHandler {
	return &testHandler{delivered: make(chan struct{}, capacity)}
}

func (h *testHandler) handle(_ context.Context, msg *Message) error {
	if n := atomic.LoadInt32(&h.failTimes); n > 0 {
		atomic.AddInt32(&h.failTimes, -1)
		if h.permanent {
			return Permanent(fmt.Errorf("permanently broken"))
		}
		return fmt.Errorf("transient failure")
	}
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
	h.delivered <- struct{}{}
	return nil
}

func (h *testHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func testConfig() *Config {
	return &Config{
		BufferSize:     16,
		Workers:        2,
		MaxAttempts:    3,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
	}
}

func waitDelivered(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func TestFanoutDeliversToEveryQueue(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	first := newTestHandler(4)
	second := newTestHandler(4)
	require.NoError(t, bus.Subscribe(TopicDataReceived, "q-first", first.handle))
	require.NoError(t, bus.Subscribe(TopicDataReceived, "q-second", second.handle))

	payload := map[string]string{"datasetId": "ds-1"}
	require.NoError(t, bus.Publish(context.Background(), TopicDataReceived, payload))

	waitDelivered(t, first.delivered, 1)
	waitDelivered(t, second.delivered, 1)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())

	var got map[string]string
	require.NoError(t, json.Unmarshal(first.messages[0].Payload, &got))
	assert.Equal(t, "ds-1", got["datasetId"])
}

func TestQueueUnrelatedTopicNotDelivered(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	h := newTestHandler(4)
	require.NoError(t, bus.Subscribe(TopicDataStored, "q-stored", h.handle))

	require.NoError(t, bus.Publish(context.Background(), TopicDataReceived, []byte(`{}`)))

	select {
	case <-h.delivered:
		t.Fatal("queue bound to a different topic received the message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedeliveryAfterTransientFailure(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	h := newTestHandler(4)
	h.failTimes = 2 // fail twice, succeed on third attempt (MaxAttempts is 3)
	require.NoError(t, bus.Subscribe(TopicDataReceived, "q-retry", h.handle))

	require.NoError(t, bus.Publish(context.Background(), TopicDataReceived, []byte(`{}`)))

	waitDelivered(t, h.delivered, 1)
	assert.Equal(t, 1, h.count())
	assert.Equal(t, 3, h.messages[0].Attempts)

	stats := bus.GetStats()
	assert.Equal(t, uint64(2), stats.Redelivered)
	assert.Equal(t, uint64(0), stats.DeadLettered)
}

func TestDeadLetterAfterAttemptCap(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	h := newTestHandler(4)
	h.failTimes = 100 // never succeeds
	require.NoError(t, bus.Subscribe(TopicDataReceived, "q-dead", h.handle))

	require.NoError(t, bus.Publish(context.Background(), TopicDataReceived, []byte(`{}`)))

	require.Eventually(t, func() bool {
		return bus.GetStats().DeadLettered == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, h.count())
}

func TestPermanentErrorSkipsRedelivery(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	h := newTestHandler(4)
	h.failTimes = 1
	h.permanent = true
	require.NoError(t, bus.Subscribe(TopicDataReceived, "q-perm", h.handle))

	require.NoError(t, bus.Publish(context.Background(), TopicDataReceived, []byte(`{}`)))

	require.Eventually(t, func() bool {
		return bus.GetStats().DeadLettered == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(0), bus.GetStats().Redelivered)
}

func TestDuplicateQueueNameRejected(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	h := newTestHandler(1)
	require.NoError(t, bus.Subscribe(TopicDataReceived, "q-dup", h.handle))
	err := bus.Subscribe(TopicDataStored, "q-dup", h.handle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already subscribed")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	require.NoError(t, bus.Subscribe(TopicDataReceived, "q-panic", func(context.Context, *Message) error {
		panic("boom")
	}))

	require.NoError(t, bus.Publish(context.Background(), TopicDataReceived, []byte(`{}`)))

	require.Eventually(t, func() bool {
		return bus.GetStats().DeadLettered == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAfterShutdownFails(t *testing.T) {
	bus := NewBus(testConfig(), nil)
	require.NoError(t, bus.Shutdown(time.Second))

	err := bus.Publish(context.Background(), TopicDataReceived, []byte(`{}`))
	assert.Error(t, err)
	assert.False(t, bus.TryPublish(TopicDataReceived, []byte(`{}`)))
}
