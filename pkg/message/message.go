// Package message defines the conversation data model shared by the store,
// the history fetcher and the live channel: messages, their mutable status
// for invitation/referral cards, and conversation/room key derivation.
package message

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a message at creation time and never changes afterwards.
type Kind string

const (
	KindPlain           Kind = "plain"
	KindGroupInvitation Kind = "group_invitation"
	KindReferralCard    Kind = "referral_card"
)

// Action is the user decision recorded on an invitation or referral card.
type Action string

const (
	ActionNone      Action = "none"
	ActionAccepted  Action = "accepted"
	ActionDeclined  Action = "declined"
	ActionConnected Action = "connected"
	ActionSkipped   Action = "skipped"
)

// MutableState is the only part of a message that can change after creation.
// It is present for invitation and referral kinds only.
type MutableState struct {
	Resolved bool   `json:"resolved"`
	Action   Action `json:"action"`
}

// StatePatch is a partial update to a message's MutableState. Nil fields are
// left untouched when the patch is applied.
type StatePatch struct {
	Resolved *bool   `json:"resolved,omitempty"`
	Action   *Action `json:"action,omitempty"`
}

// Apply merges the patch into st. Applying the same patch twice yields the
// same state as applying it once.
func (p StatePatch) Apply(st *MutableState) {
	if p.Resolved != nil {
		st.Resolved = *p.Resolved
	}
	if p.Action != nil {
		st.Action = *p.Action
	}
}

// Attachment is an immutable file reference carried by a message.
type Attachment struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

// Message is one entry in a conversation stream. ID is assigned by the server,
// unique within the conversation, and is the sole merge key.
type Message struct {
	ID          int64         `json:"id"`
	SenderID    string        `json:"sender_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Kind        Kind          `json:"kind"`
	State       *MutableState `json:"state,omitempty"`
}

// Before reports whether m sorts before other in stream order: ascending
// timestamp, ties broken by ID.
func (m Message) Before(other Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}

// ErrInvalidKey is returned for conversation keys with missing participants.
var ErrInvalidKey = errors.New("invalid conversation key")

// ConversationKey identifies a direct conversation (unordered participant
// pair) or a group conversation (group id).
type ConversationKey struct {
	UserA   string
	UserB   string
	GroupID string
}

// DirectKey builds a key for a two-party conversation. Participant order does
// not matter; the pair is normalized so equal pairs compare equal.
func DirectKey(a, b string) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey{UserA: a, UserB: b}
}

// GroupKey builds a key for a group conversation.
func GroupKey(groupID string) ConversationKey {
	return ConversationKey{GroupID: groupID}
}

// IsGroup reports whether the key addresses a group conversation.
func (k ConversationKey) IsGroup() bool {
	return k.GroupID != ""
}

// IsZero reports whether no conversation is addressed.
func (k ConversationKey) IsZero() bool {
	return k == ConversationKey{}
}

// Validate checks that the key addresses exactly one conversation form.
func (k ConversationKey) Validate() error {
	if k.IsGroup() {
		if k.UserA != "" || k.UserB != "" {
			return fmt.Errorf("%w: both group and participants set", ErrInvalidKey)
		}
		return nil
	}
	if k.UserA == "" || k.UserB == "" {
		return fmt.Errorf("%w: direct key requires two participants", ErrInvalidKey)
	}
	return nil
}

// RoomKey derives the push-channel room name. Direct conversations use the
// lexicographically sorted participant pair; groups use the "Group_" prefix.
// The derivation is deterministic so both ends compute the same room.
func (k ConversationKey) RoomKey() string {
	if k.IsGroup() {
		return "Group_" + k.GroupID
	}
	a, b := k.UserA, k.UserB
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

func (k ConversationKey) String() string {
	return k.RoomKey()
}

// ParseRoomKey is the inverse of RoomKey, used by the CLI to accept room-style
// input. Returns an error for malformed keys.
func ParseRoomKey(s string) (ConversationKey, error) {
	if rest, ok := strings.CutPrefix(s, "Group_"); ok {
		if rest == "" {
			return ConversationKey{}, fmt.Errorf("%w: empty group id", ErrInvalidKey)
		}
		return GroupKey(rest), nil
	}
	a, b, ok := strings.Cut(s, "_")
	if !ok || a == "" || b == "" {
		return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return DirectKey(a, b), nil
}
