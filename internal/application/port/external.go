package port

import "context"

// MessageSender delivers direct messages through an external IM platform
type MessageSender interface {
	SendMessage(ctx context.Context, openID string, content string) error
}

// RealtimePublisher pushes a payload to every connection subscribed to any
// of rooms. A connection in several rooms receives the payload once. It
// returns how many connections accepted the payload.
type RealtimePublisher interface {
	Publish(rooms []string, payload []byte) int
}
