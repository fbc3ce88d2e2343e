package filter

import (
	"testing"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
)

func TestShouldProcess_OTP(t *testing.T) {
	f := New(Policy{})

	tests := []struct {
		name string
		ev   bus.RawEvent
		want bool
	}{
		{
			name: "otp keyword plus digit run is suppressed",
			ev:   bus.RawEvent{SourceID: "sms", Body: "your code is 482913"},
			want: false,
		},
		{
			name: "otp keyword in title, digits in body",
			ev:   bus.RawEvent{SourceID: "sms", Title: "Verification", Body: "Use 4829 to sign in"},
			want: false,
		},
		{
			name: "keyword without digit run passes",
			ev:   bus.RawEvent{SourceID: "sms", Body: "what's the dress code tonight?"},
			want: true,
		},
		{
			name: "digit run without keyword passes",
			ev:   bus.RawEvent{SourceID: "sms", Body: "call me at lunch, flight 48291 got moved"},
			want: true,
		},
		{
			name: "nine digits is not an otp",
			ev:   bus.RawEvent{SourceID: "sms", Body: "your code is 123456789"},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ShouldProcess(tt.ev); got != tt.want {
				t.Errorf("ShouldProcess = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldProcess_SystemNoise(t *testing.T) {
	f := New(Policy{SystemSourceID: "android.system"})

	sys := bus.RawEvent{SourceID: "android.system", Body: "battery low"}
	if f.ShouldProcess(sys) {
		t.Error("battery text from the system source should be suppressed")
	}

	chat := bus.RawEvent{SourceID: "telegram", Body: "battery low"}
	if !f.ShouldProcess(chat) {
		t.Error("battery text from a non-system source should pass")
	}
}

func TestShouldProcess_Ongoing(t *testing.T) {
	f := New(Policy{})
	ev := bus.RawEvent{SourceID: "telegram", Body: "Now playing: lo-fi beats", Ongoing: true}
	if f.ShouldProcess(ev) {
		t.Error("ongoing status indicators should be suppressed")
	}
}

func TestSetPolicy_HotSwap(t *testing.T) {
	f := New(Policy{})
	ev := bus.RawEvent{SourceID: "custom.system", Body: "battery low"}
	if !f.ShouldProcess(ev) {
		t.Fatal("battery from non-system source should pass before the swap")
	}

	f.SetPolicy(Policy{SystemSourceID: "custom.system"})
	if f.ShouldProcess(ev) {
		t.Error("battery from the new system source should be suppressed after the swap")
	}
}

func TestHasDigitRun(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"code 1234", true},
		{"code 12345678", true},
		{"code 123", false},
		{"code 123456789", false},
		{"no digits here", false},
		{"1234", true},
	}
	for _, tt := range tests {
		if got := hasDigitRun(tt.text, 4, 8); got != tt.want {
			t.Errorf("hasDigitRun(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
