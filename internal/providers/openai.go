package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// OpenAIProvider implements Generator and Classifier for OpenAI-compatible
// chat completion APIs (OpenAI, Groq, OpenRouter, DeepSeek, VLLM, etc.).
type OpenAIProvider struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a provider. apiBase defaults to the OpenAI
// endpoint when empty.
func NewOpenAIProvider(apiKey, apiBase, model string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

const generateSystemPrompt = `You triage personal messages. Given the sender, the classification bucket and the raw message, reply with strict JSON:
{"summary": "<one-sentence safe summary that does not quote the message verbatim>", "replies": ["<short reply candidate>", ...]}
Provide 1 to 3 reply candidates, most appropriate first. Keep replies under 140 characters. For promotional content return an empty replies array.`

const classifySystemPrompt = `Classify the message into exactly one bucket: urgent, work, social, promotional, transactional, unknown. Respond with only the bucket name.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate asks the model for a veil summary and reply candidates.
func (p *OpenAIProvider) Generate(ctx context.Context, sender, content string, bucket message.Bucket) (GenerateResult, error) {
	user := fmt.Sprintf("Sender: %s\nBucket: %s\nMessage:\n%s", sender, bucket, content)
	raw, err := p.complete(ctx, generateSystemPrompt, user, 0.7)
	if err != nil {
		return GenerateResult{}, err
	}

	var parsed struct {
		Summary string   `json:"summary"`
		Replies []string `json:"replies"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return GenerateResult{}, fmt.Errorf("openai: parse generation output: %w", err)
	}
	if parsed.Summary == "" {
		return GenerateResult{}, fmt.Errorf("openai: empty summary in generation output")
	}
	return GenerateResult{Veil: parsed.Summary, Replies: parsed.Replies}, nil
}

// Classify asks the model for a single bucket name.
func (p *OpenAIProvider) Classify(ctx context.Context, content string) (message.Bucket, error) {
	raw, err := p.complete(ctx, classifySystemPrompt, content, 0)
	if err != nil {
		return message.BucketUnknown, err
	}
	return message.ParseBucket(raw), nil
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   512,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// extractJSON strips markdown fences some models wrap around JSON output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
