package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/config"
)

const systemPrompt = `You extract routing intent from user requests in a multi-agent system.

Split the request into sequential sub-tasks only when it clearly asks for
more than one action (e.g. "open the page, then summarize it"). Most
requests are a single step.

For each step return the step's own utterance and 3-8 lowercase keywords
describing what kind of capability it needs (e.g. "time", "calculate",
"browse", "query", "database").

CRITICAL: Respond with a single JSON object and no prose:
{"steps":[{"utterance":"...","keywords":["...", "..."]}]}`

// OpenAIClassifier asks a chat-completion model for ranked intent. When
// construction finds no API key the classifier is disabled and Classify
// returns ErrDisabled, letting the caller fall back to keywords.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	logger *logrus.Logger
}

// ErrDisabled is returned when no language-model backend is configured.
var ErrDisabled = fmt.Errorf("intent backend disabled")

func NewOpenAIClassifier(cfg config.LLMConfig, logger *logrus.Logger) *OpenAIClassifier {
	if !cfg.Enabled || cfg.APIKey == "" {
		logger.Warn("Intent backend disabled, falling back to keyword matching")
		return &OpenAIClassifier{logger: logger}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

// IsEnabled checks if the backend is available.
func (c *OpenAIClassifier) IsEnabled() bool {
	return c.client != nil
}

func (c *OpenAIClassifier) Classify(ctx context.Context, utterance string, history []string) (*Result, error) {
	if !c.IsEnabled() {
		return nil, ErrDisabled
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if len(history) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Recent conversation:\n" + strings.Join(history, "\n"),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: utterance,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   512,
	})
	if err != nil {
		return nil, fmt.Errorf("intent backend request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from intent backend")
	}

	content := cleanMarkdownJSON(resp.Choices[0].Message.Content)

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		c.logger.Errorf("Failed to parse intent response: %v", err)
		return nil, fmt.Errorf("failed to parse intent response as JSON: %w", err)
	}
	if len(result.Steps) == 0 {
		return nil, fmt.Errorf("intent backend returned no steps")
	}

	for i := range result.Steps {
		if result.Steps[i].Utterance == "" {
			result.Steps[i].Utterance = utterance
		}
		for j, kw := range result.Steps[i].Keywords {
			result.Steps[i].Keywords[j] = strings.ToLower(kw)
		}
	}

	return &result, nil
}

// cleanMarkdownJSON removes markdown code block formatting from a JSON response
func cleanMarkdownJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimSpace(strings.TrimPrefix(content, "```json"))
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimSpace(strings.TrimPrefix(content, "```"))
	}

	if strings.HasSuffix(content, "```") {
		content = strings.TrimSpace(strings.TrimSuffix(content, "```"))
	}

	return content
}
