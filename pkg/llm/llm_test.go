package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoiceForge/pkg/llm"
)

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestOpenAIHandler_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen-turbo", req["model"])
		msgs := req["messages"].([]interface{})
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Tell me about yourself."},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`))
	}))
	defer srv.Close()

	gen, err := llm.New(llm.Config{
		Provider:     "openai",
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		Model:        "qwen-turbo",
		SystemPrompt: "You are an interviewer.",
	}, newLogger())
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), "Start the interview.")
	require.NoError(t, err)
	assert.Equal(t, "Tell me about yourself.", text)
}

func TestOpenAIHandler_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","choices":[]}`))
	}))
	defer srv.Close()

	gen := llm.NewOpenAIHandler(llm.Config{BaseURL: srv.URL}, newLogger())
	_, err := gen.Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
}

func TestOllamaHandler_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])
		assert.Equal(t, "llama3", req["model"])
		w.Write([]byte(`{"response":"Why this role?","done":true}`))
	}))
	defer srv.Close()

	gen, err := llm.New(llm.Config{Provider: "ollama", BaseURL: srv.URL, Model: "llama3"}, newLogger())
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), "Ask a question.")
	require.NoError(t, err)
	assert.Equal(t, "Why this role?", text)
}

func TestOllamaHandler_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	gen := llm.NewOllamaHandler(llm.Config{BaseURL: srv.URL, Model: "missing"}, newLogger())
	_, err := gen.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestNew_Unknown(t *testing.T) {
	_, err := llm.New(llm.Config{Provider: "bard"}, nil)
	assert.Error(t, err)

	gen, err := llm.New(llm.Config{Provider: "echo"}, nil)
	require.NoError(t, err)
	text, err := gen.Generate(context.Background(), "Hello.")
	require.NoError(t, err)
	assert.Equal(t, "Hello.", text)
}
