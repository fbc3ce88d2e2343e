package brain

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/backoff"
	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/providers"
	"github.com/nextlevelbuilder/veilgate/internal/store/memory"
)

type stubClassifier struct {
	bucket message.Bucket
	err    error
	calls  atomic.Int64
}

func (s *stubClassifier) Classify(context.Context, string) (message.Bucket, error) {
	s.calls.Add(1)
	return s.bucket, s.err
}

type stubGenerator struct {
	res providers.GenerateResult
	err error
}

func (s *stubGenerator) Generate(context.Context, string, string, message.Bucket) (providers.GenerateResult, error) {
	return s.res, s.err
}

func waitForStatus(t *testing.T, st *memory.Store, id int64, want message.Status) message.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := st.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if m.Status == want {
			return *m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message %d never reached %s", id, want)
	return message.Message{}
}

func TestProcessor_ProcessesReceivedMessage(t *testing.T) {
	st := memory.New()
	id, err := st.Insert(context.Background(), &message.Message{
		SourceID:        "telegram",
		Sender:          "Alice",
		OriginalContent: "can you call me back?",
		Status:          message.StatusReceived,
		Bucket:          message.BucketUnknown,
	})
	if err != nil {
		t.Fatal(err)
	}

	gen := &stubGenerator{res: providers.GenerateResult{
		Veil:    "Urgent message from Alice",
		Replies: []string{"Calling now", "Give me 5 minutes"},
	}}
	p := New(st, &stubClassifier{bucket: message.BucketUrgent}, gen, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	m := waitForStatus(t, st, id, message.StatusProcessed)
	if m.Bucket != message.BucketUrgent {
		t.Errorf("bucket = %q, want urgent", m.Bucket)
	}
	if m.VeiledContent != "Urgent message from Alice" {
		t.Errorf("veil = %q", m.VeiledContent)
	}
	if len(m.GeneratedReplies) != 2 {
		t.Errorf("replies = %v", m.GeneratedReplies)
	}
	if m.OriginalContent != "can you call me back?" {
		t.Error("original content must survive processing")
	}
}

func TestProcessor_FailureBacksOff(t *testing.T) {
	st := memory.New()
	id, err := st.Insert(context.Background(), &message.Message{
		SourceID:        "sms",
		Sender:          "+1555",
		OriginalContent: "hey",
		Status:          message.StatusReceived,
		Bucket:          message.BucketUnknown,
	})
	if err != nil {
		t.Fatal(err)
	}

	cls := &stubClassifier{err: errors.New("provider down")}
	p := New(st, cls, &stubGenerator{}, nil, Config{
		Retry: backoff.Policy{Initial: time.Hour, Multiplier: 2, Max: time.Hour},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for cls.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cls.calls.Load() == 0 {
		t.Fatal("classifier was never called")
	}

	// With an hour-long retry window a second attempt must not happen.
	time.Sleep(50 * time.Millisecond)
	if got := cls.calls.Load(); got != 1 {
		t.Errorf("classifier called %d times, want 1 before backoff expires", got)
	}

	m, err := st.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != message.StatusReceived {
		t.Errorf("failed message should stay received, got %s", m.Status)
	}
}

func TestProcessor_SkipsNonReceived(t *testing.T) {
	st := memory.New()
	if _, err := st.Insert(context.Background(), &message.Message{
		SourceID: "sms",
		Sender:   "+1555",
		Status:   message.StatusDismissed,
		Bucket:   message.BucketUnknown,
	}); err != nil {
		t.Fatal(err)
	}

	cls := &stubClassifier{bucket: message.BucketSocial}
	p := New(st, cls, &stubGenerator{res: providers.GenerateResult{Veil: "x"}}, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if got := cls.calls.Load(); got != 0 {
		t.Errorf("classifier called %d times for a terminal message", got)
	}
}

func TestProcessor_PrunesBackoffStateWhenMessageSettles(t *testing.T) {
	st := memory.New()
	id, err := st.Insert(context.Background(), &message.Message{
		SourceID:        "sms",
		Sender:          "+1555",
		OriginalContent: "hey",
		Status:          message.StatusReceived,
		Bucket:          message.BucketUnknown,
	})
	if err != nil {
		t.Fatal(err)
	}

	cls := &stubClassifier{err: errors.New("provider down")}
	p := New(st, cls, &stubGenerator{}, nil, Config{
		Retry: backoff.Policy{Initial: time.Hour, Multiplier: 2, Max: time.Hour},
	})

	snapshot := []message.Message{{ID: id, Status: message.StatusReceived, OriginalContent: "hey"}}
	p.sweep(context.Background(), snapshot)
	p.wg.Wait()

	p.mu.Lock()
	_, tracked := p.notBefore[id]
	p.mu.Unlock()
	if !tracked {
		t.Fatal("failed message should be inside its retry window")
	}

	// The user dismisses the message while it waits out the backoff.
	if _, err := st.Update(context.Background(), id, []message.Status{message.StatusReceived}, func(cur *message.Message) {
		cur.Status = message.StatusDismissed
	}); err != nil {
		t.Fatal(err)
	}

	p.sweep(context.Background(), []message.Message{{ID: id, Status: message.StatusDismissed}})

	p.mu.Lock()
	_, hasFailures := p.failures[id]
	_, hasWindow := p.notBefore[id]
	p.mu.Unlock()
	if hasFailures || hasWindow {
		t.Error("settled message must not keep backoff state")
	}
}

func TestProcessor_ArmsAutoResponder(t *testing.T) {
	st := memory.New()
	id, err := st.Insert(context.Background(), &message.Message{
		SourceID:        "telegram",
		Sender:          "Bob",
		OriginalContent: "lunch?",
		Status:          message.StatusReceived,
		Bucket:          message.BucketUnknown,
	})
	if err != nil {
		t.Fatal(err)
	}

	fired := make(chan string, 1)
	auto := NewAutoResponder(10 * time.Millisecond)
	auto.Bind(dispatchFunc(func(_ context.Context, gotID int64, text string) error {
		if gotID == id {
			fired <- text
		}
		return nil
	}))
	defer auto.Stop()

	gen := &stubGenerator{res: providers.GenerateResult{
		Veil:    "Social message from Bob",
		Replies: []string{"Sure!", "Busy today"},
	}}
	p := New(st, &stubClassifier{bucket: message.BucketSocial}, gen, auto, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitForStatus(t, st, id, message.StatusProcessed)
	select {
	case text := <-fired:
		if text != "Sure!" {
			t.Errorf("auto-respond used %q, want the first candidate", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auto-respond never fired")
	}
}

type dispatchFunc func(ctx context.Context, id int64, text string) error

func (f dispatchFunc) Dispatch(ctx context.Context, id int64, text string) error {
	return f(ctx, id, text)
}
