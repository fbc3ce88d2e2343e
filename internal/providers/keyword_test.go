package providers

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	ctx := context.Background()

	tests := []struct {
		content string
		want    message.Bucket
	}{
		{"URGENT: server is down, call me now", message.BucketUrgent},
		{"standup moved to 10am, see you in the meeting", message.BucketWork},
		{"drinks this weekend?", message.BucketSocial},
		{"50% off everything, limited time only", message.BucketPromotional},
		{"your order has shipped", message.BucketTransactional},
		{"hmm interesting", message.BucketUnknown},
		// urgent outranks work when both match
		{"urgent: the deploy broke the meeting room display", message.BucketUrgent},
	}
	for _, tt := range tests {
		got, err := c.Classify(ctx, tt.content)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestTemplateGeneratorBasic(t *testing.T) {
	g := NewTemplateGenerator()
	ctx := context.Background()

	res, err := g.Generate(ctx, "Alice", "can you review my PR before the deadline?", message.BucketWork)
	if err != nil {
		t.Fatal(err)
	}
	if res.Veil == "" {
		t.Error("veil must not be empty")
	}
	if len(res.Replies) == 0 {
		t.Error("work bucket should produce reply candidates")
	}

	promo, err := g.Generate(ctx, "MegaStore", "50% off!", message.BucketPromotional)
	if err != nil {
		t.Fatal(err)
	}
	if len(promo.Replies) != 0 {
		t.Error("promotional bucket should produce no reply candidates")
	}
	if promo.Veil == "" {
		t.Error("promotional veil must still be written")
	}
}

func TestExtractJSON(t *testing.T) {
	in := "```json\n{\"summary\":\"s\",\"replies\":[]}\n```"
	want := `{"summary":"s","replies":[]}`
	if got := extractJSON(in); got != want {
		t.Errorf("extractJSON = %q, want %q", got, want)
	}
	if got := extractJSON(want); got != want {
		t.Errorf("extractJSON without fences should be identity, got %q", got)
	}
}
