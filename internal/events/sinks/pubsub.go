package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/sharkted/collector/internal/events"
)

// PubSubSink forwards escalation-relevant events to a Pub/Sub topic so
// downstream consumers (alerting, the repair queue) can react. Routine
// outcome events are filtered out to keep the topic low-volume.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps an existing topic handle.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

func publishable(kind events.Kind) bool {
	switch kind {
	case events.KindModeEscalated,
		events.KindSourceBlocked,
		events.KindSourceUnblocked,
		events.KindProxyTierEscalated,
		events.KindStructuralBreakage:
		return true
	}
	return false
}

// Consume publishes each relevant event as a JSON message with kind and
// source attributes for subscription filtering.
func (s *PubSubSink) Consume(ctx context.Context, batch []events.Event) error {
	var results []*pubsub.PublishResult
	for _, evt := range batch {
		if !publishable(evt.Kind) {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.ID, err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"kind":   string(evt.Kind),
				"source": evt.Source,
			},
		}))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
	}
	return nil
}

// Close stops the topic's publish goroutines after flushing.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	return nil
}
