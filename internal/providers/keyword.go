package providers

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// KeywordClassifier buckets content by keyword lists. Pure and allocation
// light; the offline default and the fallback when no LLM is configured.
type KeywordClassifier struct {
	buckets []bucketKeywords
}

type bucketKeywords struct {
	bucket   message.Bucket
	keywords []string
}

// NewKeywordClassifier builds the classifier with the stock keyword lists.
// Order matters: the first bucket whose keyword matches wins, so urgent is
// checked before work, and the promotional/transactional buckets last.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		buckets: []bucketKeywords{
			{message.BucketUrgent, []string{"urgent", "asap", "emergency", "immediately", "right away", "call me now"}},
			{message.BucketTransactional, []string{"receipt", "invoice", "order", "shipped", "delivery", "payment", "confirmed your"}},
			{message.BucketPromotional, []string{"sale", "% off", "discount", "unsubscribe", "limited time", "offer ends"}},
			{message.BucketWork, []string{"meeting", "standup", "review", "deadline", "ticket", "deploy", "merge", "pr ", "sprint"}},
			{message.BucketSocial, []string{"dinner", "drinks", "weekend", "party", "lunch", "hang out", "movie", "happy birthday"}},
		},
	}
}

func (c *KeywordClassifier) Classify(_ context.Context, content string) (message.Bucket, error) {
	text := strings.ToLower(content)
	for _, bk := range c.buckets {
		for _, kw := range bk.keywords {
			if strings.Contains(text, kw) {
				return bk.bucket, nil
			}
		}
	}
	return message.BucketUnknown, nil
}
