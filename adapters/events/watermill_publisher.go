package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/cerberus/ports"
)

// RevokedTopic is the topic session revocations are published on.
const RevokedTopic = "auth.session.revoked"

// RevokedEvent notifies other instances that a session no longer exists.
type RevokedEvent struct {
	Pseudo    string `json:"pseudo"`
	SessionID string `json:"session_id"`
}

// WatermillPublisher implements ports.EventPublisher on top of a Watermill
// publisher (redis streams in production).
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher wraps a Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     RevokedTopic,
	}
}

// PublishRevoked publishes a session-revoked event.
func (p *WatermillPublisher) PublishRevoked(ctx context.Context, pseudo string, sessionID string) error {
	payload, err := json.Marshal(RevokedEvent{Pseudo: pseudo, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshal revoked event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish revoked event: %w", err)
	}
	return nil
}
