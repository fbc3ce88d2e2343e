package providers

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

func TestTemplateGenerator(t *testing.T) {
	g := NewTemplateGenerator()

	t.Run("veil names sender and bucket", func(t *testing.T) {
		res, err := g.Generate(context.Background(), "Alice", "lunch tomorrow?", message.BucketSocial)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(res.Veil, "Alice") || !strings.HasPrefix(res.Veil, "Social") {
			t.Errorf("veil = %q", res.Veil)
		}
		if len(res.Replies) == 0 {
			t.Error("social bucket should carry reply candidates")
		}
	})

	t.Run("promotional gets no candidates", func(t *testing.T) {
		res, err := g.Generate(context.Background(), "", "SALE ends tonight", message.BucketPromotional)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Replies) != 0 {
			t.Errorf("replies = %v, want none", res.Replies)
		}
	})

	t.Run("truncation keeps valid utf-8", func(t *testing.T) {
		// Multi-byte runes straddling the preview cut must not be split.
		content := strings.Repeat("日本語のとても長いメッセージ", 10)
		res, err := g.Generate(context.Background(), "Bob", content, message.BucketWork)
		if err != nil {
			t.Fatal(err)
		}
		if !utf8.ValidString(res.Veil) {
			t.Errorf("veil contains invalid utf-8: %q", res.Veil)
		}
		if !strings.Contains(res.Veil, "…") {
			t.Errorf("long content should be truncated, veil = %q", res.Veil)
		}
	})
}
