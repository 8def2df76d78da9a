package message

import (
	"testing"
	"time"
)

func TestDirectKeyNormalizesOrder(t *testing.T) {
	a := DirectKey("maria", "jonas")
	b := DirectKey("jonas", "maria")

	if a != b {
		t.Errorf("expected normalized keys to be equal, got %v and %v", a, b)
	}
	if a.RoomKey() != "jonas_maria" {
		t.Errorf("expected sorted pair room key, got %q", a.RoomKey())
	}
}

func TestGroupRoomKey(t *testing.T) {
	k := GroupKey("42")
	if k.RoomKey() != "Group_42" {
		t.Errorf("expected Group_42, got %q", k.RoomKey())
	}
	if !k.IsGroup() {
		t.Error("expected group key")
	}
}

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		in      string
		want    ConversationKey
		wantErr bool
	}{
		{"jonas_maria", DirectKey("jonas", "maria"), false},
		{"maria_jonas", DirectKey("jonas", "maria"), false},
		{"Group_42", GroupKey("42"), false},
		{"Group_", ConversationKey{}, true},
		{"loner", ConversationKey{}, true},
		{"", ConversationKey{}, true},
	}

	for _, tt := range tests {
		got, err := ParseRoomKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRoomKey(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRoomKey(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRoomKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := DirectKey("a", "b").Validate(); err != nil {
		t.Errorf("direct key: %v", err)
	}
	if err := GroupKey("g").Validate(); err != nil {
		t.Errorf("group key: %v", err)
	}
	if err := (ConversationKey{UserA: "a"}).Validate(); err == nil {
		t.Error("expected error for single participant")
	}
	if err := (ConversationKey{UserA: "a", UserB: "b", GroupID: "g"}).Validate(); err == nil {
		t.Error("expected error for mixed key")
	}
}

func TestBefore(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	early := Message{ID: 5, Timestamp: t0}
	late := Message{ID: 2, Timestamp: t0.Add(time.Second)}
	if !early.Before(late) {
		t.Error("earlier timestamp should sort first regardless of id")
	}

	tieLow := Message{ID: 3, Timestamp: t0}
	tieHigh := Message{ID: 7, Timestamp: t0}
	if !tieLow.Before(tieHigh) {
		t.Error("timestamp tie should break by id")
	}
	if tieHigh.Before(tieLow) {
		t.Error("ordering must be asymmetric")
	}
}

func TestStatePatchApplyIdempotent(t *testing.T) {
	resolved := true
	act := ActionAccepted
	patch := StatePatch{Resolved: &resolved, Action: &act}

	st := MutableState{Action: ActionNone}
	patch.Apply(&st)
	once := st
	patch.Apply(&st)

	if st != once {
		t.Errorf("second apply changed state: %+v vs %+v", st, once)
	}
	if !st.Resolved || st.Action != ActionAccepted {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestStatePatchPartial(t *testing.T) {
	st := MutableState{Resolved: true, Action: ActionAccepted}

	act := ActionDeclined
	StatePatch{Action: &act}.Apply(&st)

	if !st.Resolved {
		t.Error("nil Resolved field must leave value untouched")
	}
	if st.Action != ActionDeclined {
		t.Errorf("expected declined, got %s", st.Action)
	}
}
