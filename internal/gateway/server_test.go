package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/backoff"
	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/dispatch"
	"github.com/nextlevelbuilder/veilgate/internal/handle"
	"github.com/nextlevelbuilder/veilgate/internal/integrations"
	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/store/memory"
)

type testEnv struct {
	store   *memory.Store
	handles *handle.Cache
	mux     *http.ServeMux
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	st := memory.New()
	b := bus.New()
	t.Cleanup(b.Close)
	handles := handle.New()
	reg := integrations.NewRegistry()
	d := dispatch.New(st, handles, reg, b, nil)
	sched := integrations.NewScheduler(reg, time.Minute, backoff.Default())
	srv := NewServer(cfg, st, d, sched, b, nil)
	return &testEnv{store: st, handles: handles, mux: srv.BuildMux()}
}

func (e *testEnv) seed(t *testing.T, status message.Status, bucket message.Bucket) int64 {
	t.Helper()
	id, err := e.store.Insert(context.Background(), &message.Message{
		SourceID:         "telegram",
		Sender:           "Alice",
		OriginalContent:  "lunch?",
		VeiledContent:    "Social message from Alice",
		GeneratedReplies: []string{"Sure!", "Can't today"},
		Status:           status,
		Bucket:           bucket,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestListMessages(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seed(t, message.StatusProcessed, message.BucketSocial)
	env.seed(t, message.StatusProcessed, message.BucketWork)
	env.seed(t, message.StatusDismissed, message.BucketWork)

	t.Run("all", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body struct {
			Messages []message.Message `json:"messages"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Messages) != 3 {
			t.Errorf("got %d messages", len(body.Messages))
		}
	})

	t.Run("by bucket", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages?bucket=work", nil))
		var body struct {
			Messages []message.Message `json:"messages"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Messages) != 2 {
			t.Errorf("got %d work messages", len(body.Messages))
		}
	})

	t.Run("by status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages?status=dismissed", nil))
		var body struct {
			Messages []message.Message `json:"messages"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Messages) != 1 {
			t.Errorf("got %d dismissed messages", len(body.Messages))
		}
	})
}

func TestReplyEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.seed(t, message.StatusProcessed, message.BucketSocial)

	var delivered string
	env.handles.Save(id, bus.ReplyFunc(func(_ context.Context, text string) error {
		delivered = text
		return nil
	}))

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/messages/1/reply", strings.NewReader(`{"text":"Can't today"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if delivered != "Can't today" {
		t.Errorf("delivered %q", delivered)
	}

	m, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != message.StatusSent {
		t.Errorf("status = %s", m.Status)
	}
}

func TestReplyEndpoint_DefaultsToTopCandidate(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.seed(t, message.StatusProcessed, message.BucketSocial)

	var delivered string
	env.handles.Save(id, bus.ReplyFunc(func(_ context.Context, text string) error {
		delivered = text
		return nil
	}))

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages/1/reply", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if delivered != "Sure!" {
		t.Errorf("delivered %q, want the top candidate", delivered)
	}
}

func TestReplyEndpoint_Errors(t *testing.T) {
	env := newTestEnv(t, Config{})

	t.Run("unknown id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/messages/42/reply", strings.NewReader(`{"text":"x"}`)))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("bad id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/messages/abc/reply", strings.NewReader(`{"text":"x"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("not yet processed", func(t *testing.T) {
		env.seed(t, message.StatusReceived, message.BucketUnknown)
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/messages/1/reply", strings.NewReader(`{"text":"x"}`)))
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("no delivery channel", func(t *testing.T) {
		env2 := newTestEnv(t, Config{})
		env2.seed(t, message.StatusProcessed, message.BucketSocial)
		rec := httptest.NewRecorder()
		env2.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/messages/1/reply", strings.NewReader(`{"text":"x"}`)))
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestDismissEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.seed(t, message.StatusProcessed, message.BucketSocial)

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages/1/dismiss", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	m, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != message.StatusDismissed {
		t.Errorf("status = %s", m.Status)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, Config{Token: "sekrit"})

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", rec.Code)
	}

	// Health stays open for probes.
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("no connected sources should still sync cleanly, status = %d", rec.Code)
	}
}
