package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

// Message attribute keys.
const (
	AttrTeamID    = "team_id"
	AttrSwimmerID = "swimmer_id"
)

// Publisher publishes every recorded swimmer to a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher wraps topic.
func NewPublisher(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Record publishes one JSON message per entity and waits for the server
// acknowledgements.
func (p *Publisher) Record(ctx context.Context, parent string, entities []crawler.ParsedEntity) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	results := make([]*pubsub.PublishResult, 0, len(entities))
	for _, e := range entities {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal swimmer %s: %w", e.ID, err)
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				AttrTeamID:    parent,
				AttrSwimmerID: e.ID,
			},
		}))
	}
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish swimmer %s: %w", entities[i].ID, err)
		}
	}
	return nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
