package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenledger/qagate/internal/events"
)

// fakeClient records publishes instead of hitting a broker.
type fakeClient struct {
	mu        sync.Mutex
	published map[string][][]byte
	failNext  bool
	connected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: make(map[string][][]byte), connected: true}
}

func (f *fakeClient) Connect(context.Context) error { f.connected = true; return nil }
func (f *fakeClient) IsConnected() bool             { return f.connected }
func (f *fakeClient) Disconnect()                   { f.connected = false }

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("broker unavailable")
	}
	f.published[topic] = append(f.published[topic], payload)
	return nil
}

func (f *fakeClient) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[topic])
}

func TestExternalTopicMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "esg/qa/dataQualityAssured",
		NewBridge(newFakeClient(), "esg/qa").ExternalTopic(events.TopicDataQualityAssured))
	assert.Equal(t, "esg/qa/dataQualityAssured",
		NewBridge(newFakeClient(), "esg/qa/").ExternalTopic(events.TopicDataQualityAssured))
	assert.Equal(t, "dataQualityAssured",
		NewBridge(newFakeClient(), "").ExternalTopic(events.TopicDataQualityAssured))
}

func TestHandleRepublishesPayload(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	bridge := NewBridge(client, "esg/qa")

	err := bridge.Handle(context.Background(), &events.Message{
		ID:      "m1",
		Topic:   events.TopicDataQualityAssured,
		Payload: []byte(`{"datasetId":"ds-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, client.count("esg/qa/dataQualityAssured"))
}

func TestHandleReturnsErrorForRedelivery(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.failNext = true
	bridge := NewBridge(client, "esg/qa")

	msg := &events.Message{ID: "m1", Topic: events.TopicDataQualityAssured, Payload: []byte("{}")}

	err := bridge.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, events.IsPermanent(err), "broker outages are retryable")

	require.NoError(t, bridge.Handle(context.Background(), msg))
	assert.Equal(t, 1, client.count("esg/qa/dataQualityAssured"))
}
