package mailbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
)

func TestSyncOnce(t *testing.T) {
	var sent map[string]string
	var sinceParams []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/messages" && r.Method == http.MethodGet:
			sinceParams = append(sinceParams, r.URL.Query().Get("since"))
			json.NewEncoder(w).Encode([]map[string]string{{
				"id":          "m1",
				"from":        "boss@example.com",
				"subject":     "Quarterly report",
				"snippet":     "Can you send the numbers?",
				"body":        "Can you send the numbers by Friday?",
				"received_at": "2026-08-30T10:00:00Z",
			}})
		case r.URL.Path == "/send" && r.Method == http.MethodPost:
			json.NewDecoder(r.Body).Decode(&sent)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	b := bus.New()
	src := New(Config{BaseURL: srv.URL, Token: "tok"}, b)
	if !src.IsConnected() {
		t.Fatal("configured mailbox should report connected")
	}

	if err := src.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	ev := <-b.Raw()
	if ev.SourceID != "mailbox" || ev.Sender != "boss@example.com" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Title != "Quarterly report" || ev.ExpandedBody == "" {
		t.Errorf("subject/body not carried: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", ev.Timestamp)
	}

	if err := ev.ReplyHandle.Reply(context.Background(), "Numbers attached"); err != nil {
		t.Fatal(err)
	}
	if sent["to"] != "boss@example.com" || sent["in_reply_to"] != "m1" {
		t.Errorf("send payload = %v", sent)
	}

	// Second poll resumes from the newest received_at and skips the same
	// mail even when the service echoes it back.
	if err := src.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sinceParams) != 2 || sinceParams[1] == "" {
		t.Errorf("since params = %v", sinceParams)
	}
	select {
	case ev := <-b.Raw():
		t.Errorf("duplicate mail republished: %+v", ev)
	default:
	}
}
