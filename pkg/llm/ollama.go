package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaHandler generates turns through a local Ollama server
type OllamaHandler struct {
	systemMsg string
	model     string
	logger    *logrus.Logger
	apiKey    string
	ollamaURL string
	client    *http.Client
}

// NewOllamaHandler creates a new Ollama handler
func NewOllamaHandler(cfg Config, logger *logrus.Logger) *OllamaHandler {
	url := strings.TrimRight(cfg.BaseURL, "/")
	if url == "" {
		url = defaultOllamaURL
	}
	return &OllamaHandler{
		systemMsg: cfg.SystemPrompt,
		model:     cfg.Model,
		logger:    logger,
		apiKey:    cfg.APIKey,
		ollamaURL: url,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate queries Ollama with streaming disabled
func (h *OllamaHandler) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  h.model,
		Prompt: prompt,
		System: h.systemMsg,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.ollamaURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		h.logger.WithField("status", resp.StatusCode).Error("ollama generate failed: ", out.Error)
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, out.Error)
	}
	return out.Response, nil
}
