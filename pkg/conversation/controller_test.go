package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TernFolbaek/anthra-sync/pkg/bus"
	"github.com/TernFolbaek/anthra-sync/pkg/history"
	"github.com/TernFolbaek/anthra-sync/pkg/message"
	"github.com/TernFolbaek/anthra-sync/pkg/scroll"
	"github.com/TernFolbaek/anthra-sync/pkg/store"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id int64) message.Message {
	return message.Message{
		ID:        id,
		SenderID:  "u1",
		Timestamp: base.Add(time.Duration(id) * time.Minute),
		Kind:      message.KindPlain,
	}
}

func card(id int64) message.Message {
	m := msg(id)
	m.Kind = message.KindReferralCard
	m.State = &message.MutableState{Action: message.ActionNone}
	return m
}

func pageOf(cursor string, ids ...int64) history.Page {
	msgs := make([]message.Message, len(ids))
	for i, id := range ids {
		msgs[i] = msg(id)
	}
	return history.Page{Messages: msgs, NextCursor: cursor}
}

// fakeFetcher serves canned pages keyed by room (first pages) and by cursor
// (older pages). A gate registered for a room blocks that room's first-page
// fetch until released, to simulate in-flight requests.
type fakeFetcher struct {
	mu         sync.Mutex
	first      map[string]history.Page
	older      map[string]history.Page
	firstErr   error
	olderErr   error
	gates      map[string]chan struct{}
	firstCalls int
	olderCalls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		first: make(map[string]history.Page),
		older: make(map[string]history.Page),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) FetchFirstPage(_ context.Context, key message.ConversationKey, _ int) (*history.Page, error) {
	f.mu.Lock()
	f.firstCalls++
	gate := f.gates[key.RoomKey()]
	err := f.firstErr
	p := f.first[key.RoomKey()]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (f *fakeFetcher) FetchOlderPage(_ context.Context, _ message.ConversationKey, cursor string, _ int) (*history.Page, error) {
	f.mu.Lock()
	f.olderCalls++
	gate := f.gates[cursor]
	err := f.olderErr
	p := f.older[cursor]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (f *fakeFetcher) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstCalls, f.olderCalls
}

type fakeChannel struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
}

func (c *fakeChannel) JoinRoom(room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, room)
	return nil
}

func (c *fakeChannel) LeaveRoom(room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = append(c.leaves, room)
	return nil
}

func (c *fakeChannel) joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joins...)
}

type fakeActions struct {
	mu    sync.Mutex
	calls int
	patch *message.StatePatch
	err   error
}

func (a *fakeActions) ForAction(_ context.Context, _ int64, _ message.Action) (*message.StatePatch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.patch, a.err
}

type fakeViewport struct {
	extent int
	offset int
}

func (v *fakeViewport) Extent() int          { return v.extent }
func (v *fakeViewport) Offset() int          { return v.offset }
func (v *fakeViewport) SetOffset(offset int) { v.offset = offset }

func newTestController(f *fakeFetcher, ch *fakeChannel, acts *fakeActions, pageSize int) *Controller {
	return NewController(
		store.NewMessageStore(),
		f,
		ch,
		scroll.NewAnchor(&fakeViewport{}),
		acts,
		pageSize,
	)
}

func ids(msgs []message.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertIDs(t *testing.T, got []message.Message, want ...int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, ids(got))
	}
	for i, m := range got {
		if m.ID != want[i] {
			t.Fatalf("expected ids %v, got %v", want, ids(got))
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSelectConversationLoadsFirstPage(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("c1", 10, 11)
	ch := &fakeChannel{}
	c := newTestController(f, ch, &fakeActions{}, 3)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	assertIDs(t, c.Snapshot(), 10, 11)
	flags := c.Flags()
	if flags.State != StateReady {
		t.Errorf("expected ready, got %s", flags.State)
	}
	// 2 < 3: short first page exhausts the conversation immediately.
	if !flags.Exhausted {
		t.Error("expected exhausted")
	}
	if got := ch.joined(); len(got) != 1 || got[0] != "Group_1" {
		t.Errorf("expected join of Group_1, got %v", got)
	}
}

func TestSelectSameConversationIsNoop(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("c1", 10)
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 3)

	key := message.GroupKey("1")
	if err := c.SelectConversation(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if err := c.SelectConversation(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	if first, _ := f.calls(); first != 1 {
		t.Errorf("expected 1 first-page fetch, got %d", first)
	}
}

func TestSwitchDiscardsStaleFirstPage(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("", 10, 11)
	f.first["Group_2"] = pageOf("", 20, 21)
	gate := make(chan struct{})
	f.gates["Group_1"] = gate

	ch := &fakeChannel{}
	c := newTestController(f, ch, &fakeActions{}, 30)

	done := make(chan error, 1)
	go func() {
		done <- c.SelectConversation(context.Background(), message.GroupKey("1"))
	}()
	waitFor(t, func() bool { first, _ := f.calls(); return first == 1 })

	// User switches before the first fetch resolves.
	if err := c.SelectConversation(context.Background(), message.GroupKey("2")); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	assertIDs(t, c.Snapshot(), 20, 21)
	for _, room := range ch.joined() {
		if room == "Group_1" {
			t.Error("stale selection must not join its room")
		}
	}
	if c.Flags().State != StateReady {
		t.Errorf("expected ready, got %s", c.Flags().State)
	}
}

func TestRequestOlderMergesAndPreservesOrder(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("c1", 10, 11)
	f.older["c1"] = pageOf("", 5, 6)
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 2)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestOlderIfAtTop(context.Background()); err != nil {
		t.Fatal(err)
	}

	assertIDs(t, c.Snapshot(), 5, 6, 10, 11)
	if !c.Flags().Exhausted {
		t.Error("empty next cursor must exhaust the conversation")
	}
}

func TestExhaustionIsMonotonic(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("c1", 10) // 1 < pageSize 5
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 5)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := c.RequestOlderIfAtTop(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if _, older := f.calls(); older != 0 {
		t.Errorf("exhausted conversation issued %d older fetches", older)
	}

	// Switching re-arms paging.
	f.mu.Lock()
	f.first["Group_2"] = pageOf("c2", 20, 21, 22, 23, 24)
	f.older["c2"] = pageOf("c3", 15, 16, 17, 18, 19)
	f.mu.Unlock()
	if err := c.SelectConversation(context.Background(), message.GroupKey("2")); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestOlderIfAtTop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, older := f.calls(); older != 1 {
		t.Errorf("expected 1 older fetch after switch, got %d", older)
	}
}

func TestOnlyOneOlderFetchInFlight(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("c1", 10, 11)
	f.older["c1"] = pageOf("", 5, 6)
	gate := make(chan struct{})
	f.gates["c1"] = gate

	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 2)
	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.RequestOlderIfAtTop(context.Background()) }()
	waitFor(t, func() bool { _, older := f.calls(); return older == 1 })

	// Second scroll while the first fetch is still in flight is inert.
	if err := c.RequestOlderIfAtTop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, older := f.calls(); older != 1 {
		t.Errorf("expected 1 older fetch, got %d", older)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	assertIDs(t, c.Snapshot(), 5, 6, 10, 11)
}

func TestOlderFetchFailureAllowsScrollRetry(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("c1", 10, 11)
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 2)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	f.olderErr = &history.FetchError{Status: 503}
	f.mu.Unlock()
	if err := c.RequestOlderIfAtTop(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	// What was loaded stays, and the next scroll retries.
	assertIDs(t, c.Snapshot(), 10, 11)
	if c.Flags().LoadingMore {
		t.Error("LoadingMore stuck after failure")
	}

	f.mu.Lock()
	f.olderErr = nil
	f.older["c1"] = pageOf("", 5, 6)
	f.mu.Unlock()
	if err := c.RequestOlderIfAtTop(context.Background()); err != nil {
		t.Fatal(err)
	}
	assertIDs(t, c.Snapshot(), 5, 6, 10, 11)
}

func TestFirstPageFailureIsDistinctFromEmpty(t *testing.T) {
	f := newFakeFetcher()
	f.firstErr = errors.New("boom")
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 5)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err == nil {
		t.Fatal("expected error")
	}
	if c.Flags().State != StateFailed {
		t.Errorf("expected failed state, got %s", c.Flags().State)
	}

	// An actually empty conversation is Ready with zero messages.
	f.mu.Lock()
	f.firstErr = nil
	f.first["Group_2"] = pageOf("")
	f.mu.Unlock()
	if err := c.SelectConversation(context.Background(), message.GroupKey("2")); err != nil {
		t.Fatal(err)
	}
	if got := c.Flags().State; got != StateReady {
		t.Errorf("expected ready for empty conversation, got %s", got)
	}
	if len(c.Snapshot()) != 0 {
		t.Error("expected empty snapshot")
	}
}

func TestEventsForInactiveRoomAreDropped(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("", 10)
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 5)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	other := msg(99)
	c.HandleEvent(bus.Event{Kind: bus.EventMessageCreated, Room: "Group_2", Message: &other})
	assertIDs(t, c.Snapshot(), 10)

	mine := msg(11)
	c.HandleEvent(bus.Event{Kind: bus.EventMessageCreated, Room: "Group_1", Message: &mine})
	assertIDs(t, c.Snapshot(), 10, 11)

	resolved := true
	c.HandleEvent(bus.Event{
		Kind:  bus.EventMessageUpdated,
		Room:  "Group_2",
		Patch: &bus.PatchEvent{MessageID: 10, Patch: message.StatePatch{Resolved: &resolved}},
	})
	if st := c.Snapshot()[0].State; st != nil && st.Resolved {
		t.Error("patch for inactive room mutated active store")
	}
}

func TestLiveDuplicateAbsorbed(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("", 10, 11)
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 5)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	dup := msg(11)
	c.HandleEvent(bus.Event{Kind: bus.EventMessageCreated, Room: "Group_1", Message: &dup})
	assertIDs(t, c.Snapshot(), 10, 11)
}

func TestApplyLocalActionIsOptimistic(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = history.Page{Messages: []message.Message{card(7)}}
	acts := &fakeActions{err: errors.New("endpoint down")}
	c := newTestController(f, &fakeChannel{}, acts, 5)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	err := c.ApplyLocalAction(context.Background(), 7, message.ActionAccepted)
	if err == nil {
		t.Fatal("expected error from endpoint")
	}

	// No rollback: the optimistic patch stays until authoritative state
	// arrives some other way.
	st := c.Snapshot()[0].State
	if st == nil || !st.Resolved || st.Action != message.ActionAccepted {
		t.Errorf("optimistic patch missing: %+v", st)
	}
}

func TestApplyLocalActionAppliesAuthoritativePatch(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = history.Page{Messages: []message.Message{card(7)}}
	resolved := true
	connected := message.ActionConnected
	acts := &fakeActions{patch: &message.StatePatch{Resolved: &resolved, Action: &connected}}
	c := newTestController(f, &fakeChannel{}, acts, 5)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}
	if err := c.ApplyLocalAction(context.Background(), 7, message.ActionConnected); err != nil {
		t.Fatal(err)
	}

	st := c.Snapshot()[0].State
	if st == nil || !st.Resolved || st.Action != message.ActionConnected {
		t.Errorf("authoritative patch not applied: %+v", st)
	}
}

func TestRefreshKeepsOrderWhenLiveOutpacesPoll(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("c1", 28)
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 1)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	// 31 lands live while 29 and 30 were missed during a degraded spell.
	late := msg(31)
	c.HandleEvent(bus.Event{Kind: bus.EventMessageCreated, Room: "Group_1", Message: &late})

	f.mu.Lock()
	f.first["Group_1"] = pageOf("c1", 28, 29, 30, 31)
	f.mu.Unlock()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := c.Snapshot()
	assertIDs(t, snap, 28, 29, 30, 31)
	for i := 1; i < len(snap); i++ {
		if !snap[i-1].Before(snap[i]) {
			t.Fatalf("snapshot not ordered at %d: %v", i, ids(snap))
		}
	}
}

func TestRunConsumesBusUntilClose(t *testing.T) {
	f := newFakeFetcher()
	f.first["Group_1"] = pageOf("", 10)
	c := newTestController(f, &fakeChannel{}, &fakeActions{}, 5)

	if err := c.SelectConversation(context.Background(), message.GroupKey("1")); err != nil {
		t.Fatal(err)
	}

	eb := bus.NewEventBus()
	stopped := make(chan struct{})
	go func() {
		c.Run(context.Background(), eb)
		close(stopped)
	}()

	m := msg(11)
	if err := eb.Publish(context.Background(), bus.Event{
		Kind:    bus.EventMessageCreated,
		Room:    "Group_1",
		Message: &m,
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(c.Snapshot()) == 2 })

	eb.Close()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on bus close")
	}
}
