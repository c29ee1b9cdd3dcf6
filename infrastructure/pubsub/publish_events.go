package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub"

	"social-publisher/infrastructure/logger"
)

// OutcomeEvent is emitted once per terminal publish outcome so downstream
// consumers (analytics, billing) can react without polling the database.
type OutcomeEvent struct {
	PostID         int64     `json:"post_id"`
	UserID         string    `json:"user_id"`
	Platform       string    `json:"platform"`
	Status         string    `json:"status"`
	ExternalPostID string    `json:"external_post_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type IPublishEvents interface {
	PublishOutcome(ctx context.Context, event OutcomeEvent)
}

// PublishEvents sends outcome events to a Google Pub/Sub topic. A nil client
// degrades every call to a logged no-op, so the worker never depends on
// Pub/Sub availability.
type PublishEvents struct {
	client    *pubsub.Client
	topicName string
}

func NewPubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	return pubsub.NewClient(ctx, projectID)
}

func NewPublishEvents(client *pubsub.Client, topicName string) IPublishEvents {
	return &PublishEvents{client: client, topicName: topicName}
}

func (p *PublishEvents) PublishOutcome(ctx context.Context, event OutcomeEvent) {
	if p.client == nil || p.topicName == "" {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while marshalling outcome event")
		return
	}

	topic := p.client.Topic(p.topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while checking outcome topic")
		return
	}
	if !exists {
		logger.GetLogger().WithField("topic", p.topicName).Info("Topic doesn't exist - creating it")
		if _, err := p.client.CreateTopic(ctx, p.topicName); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while creating outcome topic")
			return
		}
	}

	serverID, err := topic.Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while publishing outcome event")
		return
	}
	logger.GetLogger().
		WithField("server ID", serverID).
		WithField("postId", event.PostID).
		Info("Outcome event published")
}
