package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/dispatcher"
	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

// Handler names, visible through Dispatcher.ListHandlers
const (
	HandlerRealtime  = "realtime-fanout"
	HandlerMessenger = "im-message"
)

// Message is the frame pushed to realtime subscribers
type Message struct {
	Kind  string       `json:"kind"`
	Event *event.Event `json:"event"`
}

// MessageKindLetterEvent tags letter change frames
const MessageKindLetterEvent = "letter_event"

// RealtimeHandler pushes every event to its rooms
func RealtimeHandler(pub port.RealtimePublisher, logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		payload, err := json.Marshal(Message{Kind: MessageKindLetterEvent, Event: evt})
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		rooms := Rooms(evt)
		n := pub.Publish(rooms, payload)
		logger.Debug("Event published",
			zap.String("event_type", evt.Type.String()),
			zap.String("letter_id", evt.LetterID),
			zap.Int64("version", evt.Version),
			zap.Strings("rooms", rooms),
			zap.Int("connections", n))
		return nil
	}
}

// MessengerHandler sends a direct IM message to the event's recipient when
// the recipient has an IM identity on file.
func MessengerHandler(actors port.ActorRepository, sender port.MessageSender, logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		recipientID := evt.GetPayloadString(event.PayloadRecipientID)
		if recipientID == "" || recipientID == evt.ActorID {
			return nil
		}

		recipient, err := actors.GetByID(ctx, recipientID)
		if err != nil {
			return fmt.Errorf("load recipient %s: %w", recipientID, err)
		}
		if recipient == nil || recipient.LarkOpenID == "" {
			logger.Debug("Recipient has no IM identity, skipping",
				zap.String("recipient_id", recipientID))
			return nil
		}

		if err := sender.SendMessage(ctx, recipient.LarkOpenID, MessageText(evt)); err != nil {
			return fmt.Errorf("send message to %s: %w", recipientID, err)
		}
		return nil
	}
}

// MessageText renders the human-readable IM text for evt
func MessageText(evt *event.Event) string {
	title := evt.GetPayloadString(event.PayloadTitle)
	switch evt.Type {
	case event.TypeLetterSubmitted, event.TypeLetterAdvanced:
		return fmt.Sprintf("Letter %q is waiting for your approval.", title)
	case event.TypeLetterApproved:
		return fmt.Sprintf("Letter %q is fully approved and waiting for your signature.", title)
	case event.TypeLetterRejected:
		return fmt.Sprintf("Your letter %q was rejected.", title)
	case event.TypeLetterSigned:
		return fmt.Sprintf("Your letter %q has been signed.", title)
	case event.TypeLetterReminder:
		if msg := evt.GetPayloadString(event.PayloadMessage); msg != "" {
			return msg
		}
		return fmt.Sprintf("Reminder: letter %q is waiting for your approval.", title)
	}
	return fmt.Sprintf("Letter %q changed: %s", title, evt.Type)
}

// Register wires the fan-out handlers into d. sender may be nil when no IM
// platform is configured.
func Register(d dispatcher.Dispatcher, pub port.RealtimePublisher, actors port.ActorRepository, sender port.MessageSender, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub != nil {
		d.SubscribeAll(HandlerRealtime, RealtimeHandler(pub, logger))
	}
	if sender != nil {
		d.SubscribeAll(HandlerMessenger, MessengerHandler(actors, sender, logger))
	}
}
