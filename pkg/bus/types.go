package bus

import "github.com/TernFolbaek/anthra-sync/pkg/message"

// EventKind discriminates the two live notifications the push channel emits.
type EventKind string

const (
	EventMessageCreated EventKind = "message_created"
	EventMessageUpdated EventKind = "message_updated"
)

// PatchEvent is a partial status update for an existing message.
type PatchEvent struct {
	MessageID int64              `json:"id"`
	Patch     message.StatePatch `json:"patch"`
}

// Event is one live notification. Room is the push-channel room the event
// arrived on; the controller drops events whose room does not match the
// active conversation, so the tag is mandatory.
type Event struct {
	Kind    EventKind        `json:"kind"`
	Room    string           `json:"room"`
	Message *message.Message `json:"message,omitempty"`
	Patch   *PatchEvent      `json:"patch,omitempty"`
}
