// Package conversation orchestrates the sync engine for the currently
// active conversation: it combines paged history backfill with live push
// delivery into one ordered, deduplicated stream, and survives the user
// switching conversations while fetches are still in flight.
package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/TernFolbaek/anthra-sync/pkg/bus"
	"github.com/TernFolbaek/anthra-sync/pkg/history"
	"github.com/TernFolbaek/anthra-sync/pkg/logger"
	"github.com/TernFolbaek/anthra-sync/pkg/message"
	"github.com/TernFolbaek/anthra-sync/pkg/scroll"
	"github.com/TernFolbaek/anthra-sync/pkg/store"
)

// State is the load state of the active conversation. Failed is distinct
// from Ready-with-zero-messages: "could not load conversation" and "empty
// conversation" render differently.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Flags is the loading state the presentation layer renders from.
type Flags struct {
	State       State
	LoadingMore bool
	Exhausted   bool
}

// HistorySource is the paged history endpoint. Implemented by
// history.Fetcher.
type HistorySource interface {
	FetchFirstPage(ctx context.Context, key message.ConversationKey, pageSize int) (*history.Page, error)
	FetchOlderPage(ctx context.Context, key message.ConversationKey, cursor string, pageSize int) (*history.Page, error)
}

// RoomChannel is the room-membership surface of the live channel. The
// controller borrows the session-wide channel; it joins and leaves rooms but
// never starts or stops the connection.
type RoomChannel interface {
	JoinRoom(room string) error
	LeaveRoom(room string) error
}

// ActionSender dispatches a user action on an invitation or referral card to
// its endpoint. Implemented by actions.Client.
type ActionSender interface {
	ForAction(ctx context.Context, messageID int64, action message.Action) (*message.StatePatch, error)
}

// Controller reacts to conversation selection, scroll-to-top and live
// events. All mutations of the store funnel through it.
type Controller struct {
	store    *store.MessageStore
	fetcher  HistorySource
	channel  RoomChannel
	anchor   *scroll.Anchor
	actions  ActionSender
	pageSize int

	mu          sync.Mutex
	active      message.ConversationKey
	activeRoom  string
	switchToken uint64
	state       State
	loadingMore bool
	exhausted   bool
	cursor      string
}

func NewController(
	st *store.MessageStore,
	fetcher HistorySource,
	channel RoomChannel,
	anchor *scroll.Anchor,
	sender ActionSender,
	pageSize int,
) *Controller {
	return &Controller{
		store:    st,
		fetcher:  fetcher,
		channel:  channel,
		anchor:   anchor,
		actions:  sender,
		pageSize: pageSize,
		state:    StateIdle,
	}
}

// Snapshot returns the ordered message list for rendering.
func (c *Controller) Snapshot() []message.Message {
	return c.store.Snapshot()
}

// Flags returns the current loading flags.
func (c *Controller) Flags() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Flags{State: c.state, LoadingMore: c.loadingMore, Exhausted: c.exhausted}
}

// Active returns the currently selected conversation key.
func (c *Controller) Active() message.ConversationKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SelectConversation makes key the active conversation: resets the store and
// anchor, leaves the previous room, fetches the first page, merges it, joins
// the new room and scrolls to the newest message. Selecting the already
// active key is a no-op.
//
// The user may switch again before the fetch resolves; every call bumps the
// switch token, and a completion carrying a stale token is discarded without
// touching the store.
func (c *Controller) SelectConversation(ctx context.Context, key message.ConversationKey) error {
	c.mu.Lock()
	if key == c.active {
		c.mu.Unlock()
		return nil
	}
	c.switchToken++
	token := c.switchToken
	prevRoom := c.activeRoom
	c.active = key
	c.activeRoom = key.RoomKey()
	c.state = StateLoading
	c.loadingMore = false
	c.exhausted = false
	c.cursor = ""
	c.mu.Unlock()

	c.store.Reset()
	c.anchor.Reset()

	if prevRoom != "" {
		if err := c.channel.LeaveRoom(prevRoom); err != nil {
			logger.WarnCF("conversation", "leave room failed", map[string]any{
				"room":  prevRoom,
				"error": err.Error(),
			})
		}
	}

	page, err := c.fetcher.FetchFirstPage(ctx, key, c.pageSize)

	c.mu.Lock()
	if token != c.switchToken {
		// The user moved on while this fetch was in flight.
		c.mu.Unlock()
		logger.DebugCF("conversation", "discarding stale first page", map[string]any{
			"conversation": key.RoomKey(),
		})
		return nil
	}
	if err != nil {
		c.state = StateFailed
		c.mu.Unlock()
		logger.ErrorCF("conversation", "first page load failed", map[string]any{
			"conversation": key.RoomKey(),
			"error":        err.Error(),
		})
		return err
	}
	c.cursor = page.NextCursor
	c.exhausted = pageExhausted(page, c.pageSize)
	c.state = StateReady
	c.mu.Unlock()

	c.store.MergeOlderPage(page.Messages)

	room := key.RoomKey()
	if err := c.channel.JoinRoom(room); err != nil {
		logger.WarnCF("conversation", "join room failed", map[string]any{
			"room":  room,
			"error": err.Error(),
		})
	}

	c.anchor.ScrollToBottomIfFirstLoad()
	return nil
}

// RequestOlderIfAtTop loads the next older page. Inert while the first page
// is loading, while another older fetch is in flight, or once the
// conversation is exhausted. A failed fetch clears LoadingMore so a later
// scroll can retry; what is already loaded stays.
func (c *Controller) RequestOlderIfAtTop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReady || c.loadingMore || c.exhausted {
		c.mu.Unlock()
		return nil
	}
	c.loadingMore = true
	token := c.switchToken
	key := c.active
	cursor := c.cursor
	c.mu.Unlock()

	c.anchor.CaptureBeforePrepend()

	page, err := c.fetcher.FetchOlderPage(ctx, key, cursor, c.pageSize)

	c.mu.Lock()
	if token != c.switchToken {
		c.mu.Unlock()
		c.anchor.DropCapture()
		return nil
	}
	if err != nil {
		c.loadingMore = false
		c.mu.Unlock()
		c.anchor.DropCapture()
		logger.ErrorCF("conversation", "older page load failed", map[string]any{
			"conversation": key.RoomKey(),
			"error":        err.Error(),
		})
		return err
	}
	c.cursor = page.NextCursor
	c.exhausted = pageExhausted(page, c.pageSize)
	c.loadingMore = false
	c.mu.Unlock()

	inserted := c.store.MergeOlderPage(page.Messages)
	c.anchor.RestoreAfterPrepend()

	logger.DebugCF("conversation", "older page merged", map[string]any{
		"conversation": key.RoomKey(),
		"fetched":      len(page.Messages),
		"inserted":     inserted,
	})
	return nil
}

// Run consumes live events until the bus closes or ctx is cancelled.
func (c *Controller) Run(ctx context.Context, events *bus.EventBus) {
	for {
		ev, ok := events.Consume(ctx)
		if !ok {
			return
		}
		c.HandleEvent(ev)
	}
}

// HandleEvent applies one live event. Events tagged with a room other than
// the active one are dropped, not queued; they may still be in flight from
// a conversation the user already left.
func (c *Controller) HandleEvent(ev bus.Event) {
	c.mu.Lock()
	room := c.activeRoom
	c.mu.Unlock()

	if ev.Room != room {
		logger.DebugCF("conversation", "dropping event for inactive room", map[string]any{
			"room":   ev.Room,
			"active": room,
		})
		return
	}

	switch ev.Kind {
	case bus.EventMessageCreated:
		if ev.Message != nil {
			c.store.AppendLive(*ev.Message)
		}
	case bus.EventMessageUpdated:
		if ev.Patch != nil {
			c.store.ApplyPatch(ev.Patch.MessageID, ev.Patch.Patch)
		}
	}
}

// ApplyLocalAction records a user decision on an invitation or referral card
// optimistically, then issues the side-effecting request. The optimistic
// patch is not rolled back on failure; the authoritative state arrives via
// the next live patch or page fetch. When the endpoint returns the
// authoritative patch synchronously it is applied immediately.
func (c *Controller) ApplyLocalAction(ctx context.Context, id int64, action message.Action) error {
	resolved := true
	act := action
	c.store.ApplyPatch(id, message.StatePatch{Resolved: &resolved, Action: &act})

	c.mu.Lock()
	token := c.switchToken
	c.mu.Unlock()

	patch, err := c.actions.ForAction(ctx, id, action)
	if err != nil {
		logger.WarnCF("conversation", "action request failed", map[string]any{
			"message_id": id,
			"action":     string(action),
			"error":      err.Error(),
		})
		return err
	}
	if patch == nil {
		return nil
	}

	c.mu.Lock()
	stale := token != c.switchToken
	c.mu.Unlock()
	if stale {
		// Message ids are only unique within a conversation; never apply a
		// patch from a previous conversation's action to the current store.
		return nil
	}

	c.store.ApplyPatch(id, *patch)
	return nil
}

// Refresh re-fetches the newest page of the active conversation and folds
// unseen messages into the tail. Used by the poll fallback while the live
// channel is degraded; pagination state is left untouched.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil
	}
	token := c.switchToken
	key := c.active
	c.mu.Unlock()

	page, err := c.fetcher.FetchFirstPage(ctx, key, c.pageSize)

	c.mu.Lock()
	stale := token != c.switchToken
	c.mu.Unlock()
	if stale {
		return nil
	}
	if err != nil {
		return err
	}

	// The page may interleave with messages that already arrived live while
	// the refresh was in flight, so each entry is placed by stream order
	// rather than tail-appended.
	for _, m := range page.Messages {
		c.store.InsertOrdered(m)
	}
	return nil
}

func pageExhausted(page *history.Page, pageSize int) bool {
	return len(page.Messages) < pageSize || page.NextCursor == ""
}
