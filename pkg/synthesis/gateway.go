// Package synthesis abstracts the text-to-speech provider: one-shot and streaming
// synthesis, voice listing and voice cloning from a recorded sample.
package synthesis

import (
	"context"
	"strings"
	"time"
)

// Prosody carries the provider voice settings that shape delivery.
type Prosody struct {
	Stability       float64
	SimilarityBoost float64
}

// DefaultProsody is used when a persona has no configured voice settings, and always
// for previews.
var DefaultProsody = Prosody{Stability: 0.5, SimilarityBoost: 0.75}

// Voice describes a voice available from the provider.
type Voice struct {
	VoiceID     string            `json:"voice_id"`
	Name        string            `json:"name"`
	Category    string            `json:"category,omitempty"`
	Description string            `json:"description,omitempty"`
	PreviewURL  string            `json:"preview_url,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// ClonedVoice is returned by CreateVoiceFromSample.
type ClonedVoice struct {
	VoiceID   string
	VoiceName string
}

// Config is the provider-facing part of the voice configuration.
type Config struct {
	Enabled               bool
	APIKey                string
	BaseURL               string
	ModelID               string
	DefaultVoiceID        string
	OutputFormat          string
	MaxCharsPerRequest    int
	MaxRequestsPerMessage int
	UseFakeProvider       bool
	Timeout               time.Duration
}

// AudioStream is a lazy, finite sequence of audio byte chunks. Recv returns io.EOF
// after the last chunk. Close releases the underlying connection and may be called at
// any point.
type AudioStream interface {
	Recv() ([]byte, error)
	Close() error
}

// Gateway is the synthesis provider contract.
type Gateway interface {
	GenerateSpeech(ctx context.Context, text, voiceID string, p Prosody) ([]byte, error)
	StreamSpeech(ctx context.Context, text, voiceID string, p Prosody) (AudioStream, error)
	ListVoices(ctx context.Context) ([]Voice, error)
	CreateVoiceFromSample(ctx context.Context, name string, sample []byte, filename string) (*ClonedVoice, error)
	Config() Config
}

// New returns the fake provider when configured, the ElevenLabs gateway otherwise.
func New(cfg Config) Gateway {
	if cfg.UseFakeProvider {
		return NewFake(cfg)
	}
	return NewElevenLabs(cfg)
}

// ContentType maps a provider output format such as "mp3_44100_128" to a MIME type.
func ContentType(format string) string {
	switch {
	case strings.HasPrefix(format, "pcm"):
		return "audio/pcm"
	case strings.HasPrefix(format, "ulaw"):
		return "audio/basic"
	case strings.HasPrefix(format, "opus"):
		return "audio/ogg"
	case strings.HasPrefix(format, "wav"):
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}

// Extension maps a provider output format to a file extension without the dot.
func Extension(format string) string {
	if i := strings.IndexByte(format, '_'); i > 0 {
		format = format[:i]
	}
	switch format {
	case "", "mp3":
		return "mp3"
	case "ulaw":
		return "ulaw"
	default:
		return format
	}
}
