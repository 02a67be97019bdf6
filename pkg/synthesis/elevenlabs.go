package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io/v1"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"
	elevenLabsFormatMP3    = "mp3_44100_128"

	defaultElevenLabsTimeout = 60 * time.Second
	serverErrorThreshold     = 500

	// streamFrameSize bounds how much of the response body one Recv returns.
	streamFrameSize = 4096
)

// ElevenLabsGateway implements Gateway against the ElevenLabs REST API.
type ElevenLabsGateway struct {
	cfg    Config
	client *http.Client
}

// ElevenLabsOption configures the gateway.
type ElevenLabsOption func(*ElevenLabsGateway)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ElevenLabsOption {
	return func(g *ElevenLabsGateway) {
		g.client = client
	}
}

// NewElevenLabs creates a gateway, filling unset config fields with provider defaults.
func NewElevenLabs(cfg Config, opts ...ElevenLabsOption) *ElevenLabsGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = elevenLabsDefaultModel
	}
	if cfg.DefaultVoiceID == "" {
		cfg.DefaultVoiceID = elevenLabsDefaultVoice
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = elevenLabsFormatMP3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultElevenLabsTimeout
	}
	g := &ElevenLabsGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *ElevenLabsGateway) Config() Config {
	return g.cfg
}

type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (g *ElevenLabsGateway) GenerateSpeech(ctx context.Context, text, voiceID string, p Prosody) ([]byte, error) {
	resp, err := g.speak(ctx, "", text, voiceID, p)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: "elevenlabs", Message: "read audio", Cause: err, Retryable: true}
	}
	return data, nil
}

func (g *ElevenLabsGateway) StreamSpeech(ctx context.Context, text, voiceID string, p Prosody) (AudioStream, error) {
	resp, err := g.speak(ctx, "/stream", text, voiceID, p)
	if err != nil {
		return nil, err
	}
	return &bodyStream{body: resp.Body, buf: make([]byte, streamFrameSize)}, nil
}

func (g *ElevenLabsGateway) speak(ctx context.Context, suffix, text, voiceID string, p Prosody) (*http.Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voiceID == "" {
		voiceID = g.cfg.DefaultVoiceID
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: g.cfg.ModelID,
		VoiceSettings: &voiceSettings{
			Stability:       p.Stability,
			SimilarityBoost: p.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s%s?output_format=%s",
		g.cfg.BaseURL, url.PathEscape(voiceID), suffix, url.QueryEscape(g.cfg.OutputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentType(g.cfg.OutputFormat))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "elevenlabs", Message: "request failed", Cause: err, Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, handleError(resp)
	}
	return resp, nil
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

func (g *ElevenLabsGateway) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "elevenlabs", Message: "list voices failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, handleError(resp)
	}

	var out voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	return out.Voices, nil
}

type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

func (g *ElevenLabsGateway) CreateVoiceFromSample(ctx context.Context, name string, sample []byte, filename string) (*ClonedVoice, error) {
	if len(sample) == 0 {
		return nil, ErrEmptySample
	}
	if filename == "" {
		filename = "sample.mp3"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("files", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(sample); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/voices/add", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", g.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "elevenlabs", Message: "clone request failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, handleError(resp)
	}

	var out addVoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode clone response: %w", err)
	}
	if out.VoiceID == "" {
		return nil, &ProviderError{Provider: "elevenlabs", Message: "clone response", Cause: ErrNoVoiceReturn}
	}
	return &ClonedVoice{VoiceID: out.VoiceID, VoiceName: name}, nil
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func handleError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= serverErrorThreshold

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &ProviderError{
			Provider:  "elevenlabs",
			Status:    resp.StatusCode,
			Message:   "unknown error",
			Cause:     err,
			Retryable: retryable,
		}
	}

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusUnauthorized:
		cause = ErrUnauthorized
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	}

	return &ProviderError{
		Provider:  "elevenlabs",
		Status:    resp.StatusCode,
		Code:      errResp.Detail.Status,
		Message:   errResp.Detail.Message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// bodyStream hands out an HTTP response body in bounded frames.
type bodyStream struct {
	mu     sync.Mutex
	body   io.ReadCloser
	buf    []byte
	closed bool
}

func (s *bodyStream) Recv() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	// io.Reader may legally return (0, nil); bound the retries
	for i := 0; i < 100; i++ {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, s.buf[:n])
			return out, nil
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, &ProviderError{Provider: "elevenlabs", Message: "stream read", Cause: err, Retryable: true}
		}
	}
	return nil, io.ErrNoProgress
}

func (s *bodyStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
