package live

import "github.com/TernFolbaek/anthra-sync/pkg/message"

// Frame types exchanged with the push endpoint.
const (
	frameJoin           = "join"
	frameLeave          = "leave"
	frameMessageCreated = "message_created"
	frameMessageUpdated = "message_updated"
)

// frame is the JSON wire format of the push channel. Outbound frames carry
// type and room only; inbound frames additionally carry a message or a patch.
// Every inbound frame is tagged with the room it was emitted for.
type frame struct {
	Type    string              `json:"type"`
	Room    string              `json:"room,omitempty"`
	Message *message.Message    `json:"message,omitempty"`
	ID      int64               `json:"id,omitempty"`
	Patch   *message.StatePatch `json:"patch,omitempty"`
}
