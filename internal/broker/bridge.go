package broker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/greenledger/qagate/internal/events"
	"github.com/greenledger/qagate/internal/logging"
)

// QueueBridge is the bridge's durable queue on the quality-assured topic.
const QueueBridge = "qagate.broker.dataQualityAssured"

// Bridge republishes quality-assured messages on the external broker.
// Each internal topic maps to <prefix>/<topic>.
type Bridge struct {
	client      Client
	topicPrefix string
	logger      *slog.Logger
}

func NewBridge(client Client, topicPrefix string) *Bridge {
	b := &Bridge{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		logger:      logging.ForService("broker"),
	}
	if b.logger == nil {
		b.logger = slog.Default().With("service", "broker")
	}
	return b
}

// Attach binds the bridge's queue to the quality-assured topic.
func (b *Bridge) Attach(bus *events.Bus) error {
	return bus.Subscribe(events.TopicDataQualityAssured, QueueBridge, b.Handle)
}

// ExternalTopic maps an internal topic name to its broker topic.
func (b *Bridge) ExternalTopic(topic string) string {
	if b.topicPrefix == "" {
		return topic
	}
	return b.topicPrefix + "/" + topic
}

// Handle republishes one message. Broker failures return a plain error so
// the bus redelivers until the connection recovers or the attempt cap hits.
func (b *Bridge) Handle(ctx context.Context, msg *events.Message) error {
	topic := b.ExternalTopic(msg.Topic)
	if err := b.client.Publish(ctx, topic, msg.Payload); err != nil {
		return err
	}
	b.logger.Debug("republished to broker", "topic", topic, "message_id", msg.ID)
	return nil
}
