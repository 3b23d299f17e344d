package redact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/blindreview/redactor/internal/stage"
)

const redactSystemPrompt = `You redact identifying information from legal case documents.
You will be given a narrative and a list of NAME => ALIAS pairs.
Return the narrative EXACTLY as given, except that every occurrence of each
name (including partial renderings such as surname only) must be replaced with
its alias wrapped in the markers ` + stage.OpenDelim + ` and ` + stage.CloseDelim + `.
Never change, add, or remove any other text.`

// openaiRedactor calls a chat-completion model to mask subject names, then
// aligns the model output back onto the original text to recover spans.
type openaiRedactor struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIFactory returns the registry factory for the openai redact
// backend. Recognized params: apiKey (required), baseUrl, model,
// requestsPerMinute.
func NewOpenAIFactory() stage.Factory {
	return func(raw map[string]any) (stage.Stage, error) {
		p := stage.Params(raw)
		apiKey := p.String("apiKey", "")
		if apiKey == "" {
			return nil, fmt.Errorf("apiKey is required for the openai redact backend")
		}
		cfg := openai.DefaultConfig(apiKey)
		if base := p.String("baseUrl", ""); base != "" {
			cfg.BaseURL = base
		}
		rpm := p.Int("requestsPerMinute", 60)
		return &openaiRedactor{
			client:  openai.NewClientWithConfig(cfg),
			model:   p.String("model", openai.GPT4oMini),
			limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		}, nil
	}
}

func (o *openaiRedactor) Capability() string     { return stage.CapabilityRedact }
func (o *openaiRedactor) Backend() string        { return "openai" }
func (o *openaiRedactor) InputKind() stage.Kind  { return stage.KindText }
func (o *openaiRedactor) OutputKind() stage.Kind { return stage.KindRedacted }

func (o *openaiRedactor) Run(ctx context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error) {
	if rc == nil || len(rc.Placeholders) == 0 {
		return stage.Payload{}, stage.Fail(o, fmt.Errorf("no placeholders for case"))
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return stage.Payload{}, stage.Retryable(o, err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: redactSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildRedactPrompt(in.Text, rc.Placeholders)},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return stage.Payload{}, stage.Retryable(o, err)
		}
		return stage.Payload{}, stage.Retryable(o, fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return stage.Payload{}, stage.Retryable(o, fmt.Errorf("no completion choices returned"))
	}

	out := strings.TrimRight(resp.Choices[0].Message.Content, "\n")
	return stage.RedactedPayload(Align(in.Text, out)), nil
}

func buildRedactPrompt(text string, placeholders map[string]string) string {
	names := make([]string, 0, len(placeholders))
	for name := range placeholders {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Name replacements:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s => %s\n", name, placeholders[name])
	}
	b.WriteString("\nNarrative:\n")
	b.WriteString(text)
	return b.String()
}
