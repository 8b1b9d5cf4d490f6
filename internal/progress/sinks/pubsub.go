package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/progress"
)

// Publisher sends one message and returns the server-assigned id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// TopicPublisher adapts a Pub/Sub topic to Publisher.
type TopicPublisher struct {
	topic *pubsub.Topic
}

// NewTopicPublisher wraps topic.
func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

// Publish blocks until the server acknowledges the message.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if p.topic == nil {
		return "", errors.New("pubsub topic is not configured")
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *TopicPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}

// PubSubSink forwards finished runs and successfully enriched journals to a
// Pub/Sub topic for downstream consumers. Other events are dropped.
type PubSubSink struct {
	publisher Publisher
}

// NewPubSubSink builds a PubSubSink.
func NewPubSubSink(publisher Publisher) (*PubSubSink, error) {
	if publisher == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	return &PubSubSink{publisher: publisher}, nil
}

// Consume publishes the forwarded events in order.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if !forwarded(evt) {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		attrs := map[string]string{
			"run_id": evt.RunID,
			"kind":   string(evt.Kind),
		}
		if evt.JournalID != "" {
			attrs["journal_id"] = evt.JournalID
		}
		otel.GetTextMapPropagator().Inject(ctx, attributeCarrier(attrs))
		if _, err := s.publisher.Publish(ctx, data, attrs); err != nil {
			return err
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PubSubSink) Close(context.Context) error {
	if p, ok := s.publisher.(*TopicPublisher); ok {
		p.Stop()
	}
	return nil
}

func forwarded(evt progress.Event) bool {
	switch evt.Kind {
	case progress.KindRunDone:
		return true
	case progress.KindFetchResult:
		return evt.State == journal.FetchSuccess
	default:
		return false
	}
}

// attributeCarrier implements propagation.TextMapCarrier over message attributes.
type attributeCarrier map[string]string

func (c attributeCarrier) Get(key string) string { return c[key] }

func (c attributeCarrier) Set(key, value string) { c[key] = value }

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
