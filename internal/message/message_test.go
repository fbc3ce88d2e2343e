package message

import "testing"

func TestThreadKey(t *testing.T) {
	tests := []struct {
		sourceID, sender, want string
	}{
		{"telegram", "Alice", "telegram|alice"},
		{"slack", "  Bob Smith ", "slack|bob smith"},
		{"sms", "", ""},
		{"sms", "   ", ""},
	}
	for _, tt := range tests {
		if got := ThreadKey(tt.sourceID, tt.sender); got != tt.want {
			t.Errorf("ThreadKey(%q, %q) = %q, want %q", tt.sourceID, tt.sender, got, tt.want)
		}
	}
}

func TestStatus_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusReceived, StatusProcessed, true},
		{StatusProcessed, StatusQueued, true},
		{StatusQueued, StatusSent, true},
		{StatusProcessed, StatusSent, true},
		{StatusProcessed, StatusReceived, false}, // never regress
		{StatusQueued, StatusProcessed, false},
		{StatusReceived, StatusDismissed, true}, // dismiss from any non-terminal
		{StatusQueued, StatusDismissed, true},
		{StatusSent, StatusDismissed, false}, // terminal states are final
		{StatusDismissed, StatusSent, false},
		{StatusSent, StatusSent, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusReceived, StatusProcessed, StatusQueued} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusSent, StatusDismissed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestParseBucket(t *testing.T) {
	if got := ParseBucket(" Urgent "); got != BucketUrgent {
		t.Errorf("ParseBucket(' Urgent ') = %q", got)
	}
	if got := ParseBucket("spam"); got != BucketUnknown {
		t.Errorf("ParseBucket('spam') = %q, want unknown", got)
	}
}

func TestClone_NoAliasing(t *testing.T) {
	m := Message{ID: 1, GeneratedReplies: []string{"a", "b"}}
	cp := m.Clone()
	cp.GeneratedReplies[0] = "mutated"
	if m.GeneratedReplies[0] != "a" {
		t.Error("Clone shares the replies slice with the original")
	}
}
