package emit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenledger/qagate/internal/events"
	"github.com/greenledger/qagate/internal/review"
	"github.com/greenledger/qagate/internal/reviewstore"
)

// capture collects decoded quality-assured messages from a probe queue.
type capture struct {
	mu       sync.Mutex
	messages []DataQualityAssuredMessage
}

func (c *capture) handle(_ context.Context, msg *events.Message) error {
	var decoded DataQualityAssuredMessage
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		return events.Permanent(err)
	}
	c.mu.Lock()
	c.messages = append(c.messages, decoded)
	c.mu.Unlock()
	return nil
}

func (c *capture) snapshot() []DataQualityAssuredMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DataQualityAssuredMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *capture) waitFor(t *testing.T, n int) []DataQualityAssuredMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := c.snapshot(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d quality-assured messages", n)
	return nil
}

func newTestPipeline(t *testing.T) (*review.Engine, *events.Bus, *capture) {
	t.Helper()
	bus := events.NewBus(&events.Config{
		BufferSize:     64,
		Workers:        1,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = bus.Shutdown(2 * time.Second) })

	probe := &capture{}
	require.NoError(t, bus.Subscribe(events.TopicDataQualityAssured, "probe.dataQualityAssured", probe.handle))

	engine := review.NewEngine(reviewstore.NewMemoryStore(), nil)
	require.NoError(t, engine.RegisterListener(NewPublisher(bus, engine)))
	return engine, bus, probe
}

func TestPublisherEmitsOnAcceptance(t *testing.T) {
	t.Parallel()
	engine, _, probe := newTestPipeline(t)
	ctx := context.Background()

	_, err := engine.CreateReview(ctx, &review.DatasetReview{
		DatasetID:       "ds-pub",
		CompanyID:       "comp-1",
		DataType:        "sfdr",
		ReportingPeriod: "2025",
		DataPointIDs:    []string{"p1"},
	}, "upload-pipeline")
	require.NoError(t, err)

	_, err = engine.SubmitDecision(ctx, "ds-pub", &review.Decision{
		ReviewerUserID: "rev-1",
		Approvals:      []string{"p1"},
	})
	require.NoError(t, err)

	msgs := probe.waitFor(t, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ds-pub", msgs[0].DatasetID)
	assert.Equal(t, "comp-1", msgs[0].CompanyID)
	assert.Equal(t, "rev-1", msgs[0].ReviewerUserID)
	assert.False(t, msgs[0].AssuredAt.IsZero())
}

func TestPublisherSilentOnRejection(t *testing.T) {
	t.Parallel()
	engine, _, probe := newTestPipeline(t)
	ctx := context.Background()

	_, err := engine.CreateReview(ctx, &review.DatasetReview{
		DatasetID:    "ds-rej",
		DataPointIDs: []string{"p1"},
	}, "upload-pipeline")
	require.NoError(t, err)

	_, err = engine.SubmitDecision(ctx, "ds-rej", &review.Decision{
		ReviewerUserID: "rev-1",
		Rejections:     []string{"p1"},
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, probe.snapshot(), "rejections stay internal")
}

func TestPublisherEmitsAfterCommit(t *testing.T) {
	t.Parallel()
	engine, _, probe := newTestPipeline(t)
	ctx := context.Background()

	_, err := engine.CreateReview(ctx, &review.DatasetReview{DatasetID: "ds-order"}, "upload-pipeline")
	require.NoError(t, err)

	_, err = engine.Evaluate(ctx, "ds-order")
	require.NoError(t, err)

	msgs := probe.waitFor(t, 1)

	// The emitted snapshot reflects the already committed acceptance.
	r, err := engine.GetReview(ctx, "ds-order")
	require.NoError(t, err)
	assert.Equal(t, review.StatusAccepted, r.Status)
	assert.Equal(t, "ds-order", msgs[0].DatasetID)
	assert.Empty(t, msgs[0].ReviewerUserID)
}

func TestPublisherRecordsPublishMarker(t *testing.T) {
	t.Parallel()
	engine, _, probe := newTestPipeline(t)
	ctx := context.Background()

	_, err := engine.CreateReview(ctx, &review.DatasetReview{DatasetID: "ds-marker"}, "upload-pipeline")
	require.NoError(t, err)
	_, err = engine.Evaluate(ctx, "ds-marker")
	require.NoError(t, err)

	probe.waitFor(t, 1)

	entries, err := engine.AuditTrail(ctx, "ds-marker")
	require.NoError(t, err)
	marked := false
	for _, e := range entries {
		if e.Action == review.AuditEventPublished {
			marked = true
		}
	}
	assert.True(t, marked, "publish must leave an audit marker")
}

func TestReplayResendsUnmarkedAcceptances(t *testing.T) {
	t.Parallel()
	bus := events.NewBus(&events.Config{
		BufferSize:     64,
		Workers:        1,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = bus.Shutdown(2 * time.Second) })

	probe := &capture{}
	require.NoError(t, bus.Subscribe(events.TopicDataQualityAssured, "probe.dataQualityAssured", probe.handle))

	// No listener registered: the acceptance commits without a publish,
	// as when the process dies between commit and publish.
	engine := review.NewEngine(reviewstore.NewMemoryStore(), nil)
	ctx := context.Background()

	_, err := engine.CreateReview(ctx, &review.DatasetReview{
		DatasetID: "ds-replay",
		CompanyID: "comp-1",
	}, "upload-pipeline")
	require.NoError(t, err)
	_, err = engine.Evaluate(ctx, "ds-replay")
	require.NoError(t, err)

	publisher := NewPublisher(bus, engine)
	require.NoError(t, publisher.Replay(ctx))

	msgs := probe.waitFor(t, 1)
	assert.Equal(t, "ds-replay", msgs[0].DatasetID)

	// The replay left a marker, so a second replay sends nothing.
	require.NoError(t, publisher.Replay(ctx))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, probe.snapshot(), 1)
}

func TestStoredConsumerAppendsAudit(t *testing.T) {
	t.Parallel()
	engine, bus, _ := newTestPipeline(t)
	ctx := context.Background()

	consumer := NewStoredConsumer(engine)
	require.NoError(t, consumer.Attach(bus))

	_, err := engine.CreateReview(ctx, &review.DatasetReview{DatasetID: "ds-store"}, "upload-pipeline")
	require.NoError(t, err)
	_, err = engine.Evaluate(ctx, "ds-store")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, events.TopicDataStored, DataStoredMessage{
		DatasetID: "ds-store",
		StoredAt:  time.Now(),
	}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := engine.AuditTrail(ctx, "ds-store")
		require.NoError(t, err)
		if len(entries) > 0 && entries[len(entries)-1].Action == review.AuditDatasetStored {
			assert.Equal(t, StorageActor, entries[len(entries)-1].Actor)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for storage confirmation audit entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStoredConsumerRejectsBadConfirmations(t *testing.T) {
	t.Parallel()
	engine := review.NewEngine(reviewstore.NewMemoryStore(), nil)
	consumer := NewStoredConsumer(engine)
	ctx := context.Background()

	err := consumer.Handle(ctx, &events.Message{ID: "bad", Payload: []byte("nope")})
	require.Error(t, err)
	assert.True(t, events.IsPermanent(err))

	payload, _ := json.Marshal(DataStoredMessage{DatasetID: "unknown"})
	err = consumer.Handle(ctx, &events.Message{ID: "m", Payload: payload})
	require.Error(t, err)
	assert.True(t, events.IsPermanent(err), "unknown dataset cannot be fixed by redelivery")
}
