// Package store holds the in-memory message collection for the currently
// active conversation. It owns the dedup and ordering invariants: ids are
// unique, order is ascending (timestamp, id), and entries are only ever
// inserted at the front (older history) or the back (live arrivals); the
// collection is never re-sorted wholesale.
package store

import (
	"sync"

	"github.com/TernFolbaek/anthra-sync/pkg/message"
)

// MessageStore is the merge point for the two message sources: paginated
// history backfill and live push delivery. Duplicates are rejected by id, not
// by value, since content can legitimately repeat.
type MessageStore struct {
	mu       sync.RWMutex
	messages []message.Message
	known    map[int64]struct{}

	// Patches that arrived before their target message. Applied lazily when
	// the message is first inserted, then discarded.
	pending map[int64]message.StatePatch
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		known:   make(map[int64]struct{}),
		pending: make(map[int64]message.StatePatch),
	}
}

// Reset clears all messages and pending patches. Called on conversation
// switch; always succeeds.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.known = make(map[int64]struct{})
	s.pending = make(map[int64]message.StatePatch)
}

// MergeOlderPage prepends a batch fetched as older history, preserving the
// batch's internal order. Messages whose id is already present are skipped;
// a live event may have delivered them before the page request resolved.
// Returns the count actually inserted.
func (s *MessageStore) MergeOlderPage(msgs []message.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := s.known[m.ID]; dup {
			continue
		}
		s.applyPendingLocked(&m)
		fresh = append(fresh, m)
		s.known[m.ID] = struct{}{}
	}
	if len(fresh) == 0 {
		return 0
	}

	merged := make([]message.Message, 0, len(fresh)+len(s.messages))
	merged = append(merged, fresh...)
	merged = append(merged, s.messages...)
	s.messages = merged
	return len(fresh)
}

// AppendLive inserts a newly arrived message at the tail. Silently a no-op if
// the id is already present.
func (s *MessageStore) AppendLive(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.known[m.ID]; dup {
		return
	}
	s.applyPendingLocked(&m)
	s.messages = append(s.messages, m)
	s.known[m.ID] = struct{}{}
}

// InsertOrdered places a message at its position in stream order, scanning
// back from the tail. Silently a no-op if the id is already present. Refresh
// pages can trail messages already delivered live, so unlike AppendLive this
// must not assume the new message is the newest.
func (s *MessageStore) InsertOrdered(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.known[m.ID]; dup {
		return
	}
	s.applyPendingLocked(&m)

	i := len(s.messages)
	for i > 0 && m.Before(s.messages[i-1]) {
		i--
	}
	s.messages = append(s.messages, message.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
	s.known[m.ID] = struct{}{}
}

// ApplyPatch merges a partial status update into the message with the given
// id. The message is neither moved nor duplicated. If the id is unknown the
// patch is retained and applied when the message is later paged in.
func (s *MessageStore) ApplyPatch(id int64, patch message.StatePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.known[id]; !ok {
		// Target not fetched yet; keep the latest patch for lazy application.
		merged := s.pending[id]
		if patch.Resolved != nil {
			merged.Resolved = patch.Resolved
		}
		if patch.Action != nil {
			merged.Action = patch.Action
		}
		s.pending[id] = merged
		return
	}

	for i := range s.messages {
		if s.messages[i].ID == id {
			patchState(&s.messages[i], patch)
			return
		}
	}
}

// Snapshot returns a copy of the current ordered list for rendering. Mutable
// state is copied too, so patches applied after the call never alter a
// snapshot already handed to a renderer.
func (s *MessageStore) Snapshot() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]message.Message, len(s.messages))
	copy(out, s.messages)
	for i := range out {
		if st := out[i].State; st != nil {
			cp := *st
			out[i].State = &cp
		}
	}
	return out
}

// Len returns the number of messages currently held.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Contains reports whether a message with the given id is present.
func (s *MessageStore) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[id]
	return ok
}

func (s *MessageStore) applyPendingLocked(m *message.Message) {
	p, ok := s.pending[m.ID]
	if !ok {
		return
	}
	patchState(m, p)
	delete(s.pending, m.ID)
}

func patchState(m *message.Message, p message.StatePatch) {
	if m.State == nil {
		m.State = &message.MutableState{Action: message.ActionNone}
	}
	p.Apply(m.State)
}
