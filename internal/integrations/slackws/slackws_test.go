package slackws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
)

func TestSyncOnce(t *testing.T) {
	// Timestamps after the startup watermark, which is taken at "now".
	future := time.Now().Unix() + 60
	tsNew1 := fmt.Sprintf("%d.000100", future)
	tsNew2 := fmt.Sprintf("%d.000200", future)

	var gotOldest []string
	var posted map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.history":
			gotOldest = append(gotOldest, r.URL.Query().Get("oldest"))
			if len(gotOldest) == 1 {
				// Historical backlog, newest first as the real API returns.
				json.NewEncoder(w).Encode(map[string]any{
					"ok": true,
					"messages": []map[string]string{
						{"ts": "1700000002.000000", "user": "bob", "text": "old chatter"},
						{"ts": "1700000001.000000", "user": "alice", "text": "older chatter"},
					},
				})
				return
			}
			// Two new messages plus the backlog boundary echoed back.
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"messages": []map[string]string{
					{"ts": tsNew2, "user": "bob", "text": "second"},
					{"ts": tsNew1, "user": "alice", "text": "first"},
					{"ts": "1700000002.000000", "user": "bob", "text": "old chatter"},
				},
			})
		case "/chat.postMessage":
			json.NewDecoder(r.Body).Decode(&posted)
			json.NewEncoder(w).Encode(map[string]any{"ok": true})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	b := bus.New()
	src := New(Config{Token: "tok", APIBase: srv.URL, Channels: []string{"C1"}}, b)
	if !src.IsConnected() {
		t.Fatal("source with token and channels should report connected")
	}

	// First poll only establishes the watermark: history must not be
	// replayed into the pipeline.
	if err := src.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-b.Raw():
		t.Fatalf("startup poll published historical message %+v", ev)
	default:
	}

	if err := src.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Oldest first despite newest-first API order; the echoed boundary
	// message stays filtered out.
	ev1 := <-b.Raw()
	ev2 := <-b.Raw()
	if ev1.Sender != "alice" || ev1.Body != "first" {
		t.Errorf("first event = %+v", ev1)
	}
	if ev2.Sender != "bob" || ev2.Body != "second" {
		t.Errorf("second event = %+v", ev2)
	}
	select {
	case ev := <-b.Raw():
		t.Errorf("extra event published: %+v", ev)
	default:
	}

	if err := ev1.ReplyHandle.Reply(context.Background(), "on it"); err != nil {
		t.Fatal(err)
	}
	if posted["channel"] != "C1" || posted["text"] != "on it" {
		t.Errorf("posted payload = %v", posted)
	}

	// Third poll resumes from the newest published timestamp.
	if err := src.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(gotOldest) != 3 || gotOldest[0] != "" || gotOldest[1] == "" || gotOldest[2] != tsNew2 {
		t.Errorf("oldest params = %v", gotOldest)
	}
}

func TestSyncOnce_EmptyChannelStartsLive(t *testing.T) {
	tsNew := fmt.Sprintf("%d.000100", time.Now().Unix()+60)
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": []map[string]string{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":       true,
			"messages": []map[string]string{{"ts": tsNew, "user": "carol", "text": "anyone around?"}},
		})
	}))
	defer srv.Close()

	b := bus.New()
	src := New(Config{Token: "tok", APIBase: srv.URL, Channels: []string{"C1"}}, b)

	if err := src.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := src.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-b.Raw():
		if ev.Sender != "carol" || ev.Body != "anyone around?" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("message arriving after an empty startup poll must be published")
	}
}

func TestSyncOnce_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_auth"})
	}))
	defer srv.Close()

	src := New(Config{Token: "bad", APIBase: srv.URL, Channels: []string{"C1"}}, bus.New())
	if err := src.SyncOnce(context.Background()); err == nil {
		t.Error("api error must surface")
	}
}
