package integrations

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

type sendingSource struct {
	countingSource
	sent []string
}

func (s *sendingSource) Send(_ context.Context, _ *message.Message, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&countingSource{id: "slack", connected: true})
	reg.Register(&countingSource{id: "mailbox", connected: false})
	reg.Register(&sendingSource{countingSource: countingSource{id: "sms", connected: true}})

	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("All() = %d sources", len(all))
	}
	// Stable id order.
	if all[0].SourceID() != "mailbox" || all[1].SourceID() != "slack" || all[2].SourceID() != "sms" {
		t.Errorf("order = %s,%s,%s", all[0].SourceID(), all[1].SourceID(), all[2].SourceID())
	}

	connected := reg.Connected()
	if len(connected) != 2 {
		t.Errorf("Connected() = %d, want 2", len(connected))
	}

	if _, ok := reg.SenderFor("slack"); ok {
		t.Error("slack source does not implement outbound delivery")
	}
	snd, ok := reg.SenderFor("sms")
	if !ok {
		t.Fatal("sms source should be a sender")
	}
	if err := snd.Send(context.Background(), &message.Message{}, "hi"); err != nil {
		t.Fatal(err)
	}

	if _, ok := reg.SenderFor("ghost"); ok {
		t.Error("unknown id cannot have a sender")
	}
}
