package ports

import "context"

// EventPublisher notifies other instances about revoked sessions so that any
// state they cache about a token can be dropped.
type EventPublisher interface {
	PublishRevoked(ctx context.Context, pseudo string, sessionID string) error
}
