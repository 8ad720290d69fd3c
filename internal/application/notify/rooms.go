package notify

import (
	"github.com/garyjia/letter-approval/internal/domain/event"
)

// Room names
const (
	RoomAdmins  = "role:admin"
	actorPrefix = "actor:"
)

// ActorRoom is the room every connection of actorID joins
func ActorRoom(actorID string) string {
	return actorPrefix + actorID
}

// Rooms lists who hears about evt: the submitter, every approver in the
// chain, the reminder recipient, and all admins. Order is stable and
// duplicates are removed.
func Rooms(evt *event.Event) []string {
	seen := make(map[string]bool)
	rooms := make([]string, 0, 6)
	add := func(id string) {
		if id == "" {
			return
		}
		room := ActorRoom(id)
		if !seen[room] {
			seen[room] = true
			rooms = append(rooms, room)
		}
	}

	add(evt.GetPayloadString(event.PayloadSubmitterID))
	for _, id := range evt.GetPayloadStrings(event.PayloadApproverIDs) {
		add(id)
	}
	add(evt.GetPayloadString(event.PayloadRecipientID))

	return append(rooms, RoomAdmins)
}
