package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Candidate is one durable fact proposed by the extraction model.
type Candidate struct {
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

const minConfidence = 0.55

// Extractor asks a completion model for durable facts in a conversation turn.
type Extractor interface {
	Extract(ctx context.Context, userText, assistantText string, maxItems int) ([]Candidate, error)
}

type openAIExtractor struct {
	client openai.Client
	model  string
}

func NewOpenAIExtractor(apiKey, model string) Extractor {
	return &openAIExtractor{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func extractionSystemPrompt(maxItems int) string {
	return "You are a memory extraction engine for a conversational AI.\n" +
		"Extract ONLY durable, stable information worth remembering for future chats.\n" +
		"Return STRICT JSON only (no markdown), with schema:\n" +
		"{\n" +
		"  \"memories\": [\n" +
		"    {\"text\": \"...\", \"kind\": \"preference|profile|relationship|fact\", \"confidence\": 0.0}\n" +
		"  ]\n" +
		"}\n" +
		"Rules:\n" +
		fmt.Sprintf("- Output 0 to %d memories.\n", maxItems) +
		"- Each memory must be a short single sentence.\n" +
		"- Prefer: user preferences, stable facts, relationships, names, nicknames, speaking style cues.\n" +
		"- Avoid ephemeral info (plans, one-off Q&A).\n" +
		"- Avoid sensitive medical/political/sexual info unless user explicitly asked to remember it.\n"
}

func (e *openAIExtractor) Extract(ctx context.Context, userText, assistantText string, maxItems int) ([]Candidate, error) {
	user := "Conversation snippet:\n" +
		"USER SAID:\n" + userText + "\n\n" +
		"ASSISTANT REPLIED:\n" + assistantText + "\n\n" +
		"Now output the JSON.\n"

	completion, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt(maxItems)),
			openai.UserMessage(user),
		},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, nil
	}

	return ParseCandidates(completion.Choices[0].Message.Content, maxItems), nil
}

var jsonBlobRe = regexp.MustCompile(`(?s)\{.*\}`)

type rawCandidate struct {
	Text       string   `json:"text"`
	Kind       string   `json:"kind"`
	Confidence *float64 `json:"confidence"`
}

type extractionPayload struct {
	Memories []rawCandidate `json:"memories"`
}

// ParseCandidates decodes the model's JSON, tolerating prose around the blob,
// and normalizes each candidate.
func ParseCandidates(raw string, maxItems int) []Candidate {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		blob := jsonBlobRe.FindString(raw)
		if blob == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(blob), &payload); err != nil {
			return nil
		}
	}

	out := make([]Candidate, 0, maxItems)
	for _, rc := range payload.Memories {
		if len(out) >= maxItems {
			break
		}
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			continue
		}
		kind := strings.TrimSpace(rc.Kind)
		if kind == "" {
			kind = "fact"
		}
		conf := 0.6
		if rc.Confidence != nil {
			conf = clamp01(*rc.Confidence)
		}
		out = append(out, Candidate{Text: text, Kind: kind, Confidence: conf})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
