package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

var ErrEmptyCompletion = errors.New("llm returned no choices")

// OpenAIHandler generates turns through any OpenAI-compatible chat completion endpoint
type OpenAIHandler struct {
	client    *openai.Client
	model     string
	systemMsg string
	logger    *logrus.Logger
}

// NewOpenAIHandler creates a new OpenAI-compatible handler
func NewOpenAIHandler(cfg Config, logger *logrus.Logger) *OpenAIHandler {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIHandler{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		systemMsg: cfg.SystemPrompt,
		logger:    logger,
	}
}

// Generate queries the model once and returns the whole answer
func (h *OpenAIHandler) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if h.systemMsg != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: h.systemMsg})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	start := time.Now()
	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    h.model,
		Messages: messages,
	})
	if err != nil {
		h.logger.WithError(err).WithField("model", h.model).Error("chat completion failed")
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	h.logger.WithFields(logrus.Fields{
		"model":             h.model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"elapsed":           time.Since(start).String(),
	}).Debug("chat completion finished")
	return resp.Choices[0].Message.Content, nil
}
