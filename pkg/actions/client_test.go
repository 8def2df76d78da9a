package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/TernFolbaek/anthra-sync/pkg/message"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
	c, err := NewClient(srv.URL, ts, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestAcceptInvitationReturnsPatch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups/invitations/accept" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Error("missing bearer header")
		}
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.MessageID != 7 {
			t.Errorf("expected message id 7, got %d", req.MessageID)
		}

		resolved := true
		act := message.ActionAccepted
		json.NewEncoder(w).Encode(actionResponse{
			Patch: &message.StatePatch{Resolved: &resolved, Action: &act},
		})
	})

	patch, err := c.AcceptInvitation(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if patch == nil || patch.Action == nil || *patch.Action != message.ActionAccepted {
		t.Errorf("unexpected patch %+v", patch)
	}
}

func TestBodylessSuccessYieldsNoPatch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	patch, err := c.SkipReferral(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if patch != nil {
		t.Errorf("expected nil patch, got %+v", patch)
	}
}

func TestNonSuccessStatusIsError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	})

	if _, err := c.DeclineInvitation(context.Background(), 3); err == nil {
		t.Error("expected error for 409")
	}
}

func TestForActionRoutes(t *testing.T) {
	var paths []string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	for _, action := range []message.Action{
		message.ActionAccepted,
		message.ActionDeclined,
		message.ActionConnected,
		message.ActionSkipped,
	} {
		if _, err := c.ForAction(ctx, 1, action); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}

	want := []string{
		"/groups/invitations/accept",
		"/groups/invitations/decline",
		"/referrals/connect",
		"/referrals/skip",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), paths)
	}
	for i, p := range paths {
		if p != want[i] {
			t.Errorf("call %d hit %s, want %s", i, p, want[i])
		}
	}

	if _, err := c.ForAction(ctx, 1, message.ActionNone); err == nil {
		t.Error("expected error for ActionNone")
	}
}
