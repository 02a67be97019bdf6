package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TextGenerator produces the full response text for one conversational turn.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures the text generator.
type Config struct {
	Provider     string // openai | ollama | echo
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// New creates the generator named by cfg.Provider.
func New(cfg Config, logger *logrus.Logger) (TextGenerator, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIHandler(cfg, logger), nil
	case "ollama":
		return NewOllamaHandler(cfg, logger), nil
	case "echo":
		return EchoGenerator{}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// EchoGenerator answers with the prompt itself. Used with the fake synthesis provider.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return prompt, ctx.Err()
}
