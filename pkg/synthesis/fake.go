package synthesis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// fakeFrames is the number of sub-chunks a fake stream yields per request.
const fakeFrames = 3

// FakeGateway is a deterministic in-process provider for development and tests.
// Audio bytes encode the request so callers can assert on what was synthesized.
type FakeGateway struct {
	cfg Config

	mu     sync.Mutex
	voices []Voice
	// CloneErr, when set, makes CreateVoiceFromSample fail with it.
	CloneErr error
	// SpeakErr, when set, makes GenerateSpeech and StreamSpeech fail with it.
	SpeakErr error

	speakCalls  atomic.Int64
	streamCalls atomic.Int64
	cloneCalls  atomic.Int64
}

func NewFake(cfg Config) *FakeGateway {
	if cfg.ModelID == "" {
		cfg.ModelID = "fake-model"
	}
	if cfg.DefaultVoiceID == "" {
		cfg.DefaultVoiceID = "fake-voice"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = elevenLabsFormatMP3
	}
	return &FakeGateway{
		cfg: cfg,
		voices: []Voice{
			{VoiceID: "fake-voice", Name: "Fake Default", Category: "premade"},
			{VoiceID: "fake-voice-2", Name: "Fake Alternate", Category: "premade"},
		},
	}
}

func (f *FakeGateway) Config() Config {
	return f.cfg
}

// FakeAudio returns the bytes the fake provider produces for a request.
func FakeAudio(text, voiceID string, p Prosody) []byte {
	return []byte(fmt.Sprintf("AUDIO|%s|%g|%g|%s", voiceID, p.Stability, p.SimilarityBoost, text))
}

func (f *FakeGateway) GenerateSpeech(ctx context.Context, text, voiceID string, p Prosody) ([]byte, error) {
	f.speakCalls.Add(1)
	if err := f.check(ctx, text); err != nil {
		return nil, err
	}
	if voiceID == "" {
		voiceID = f.cfg.DefaultVoiceID
	}
	return FakeAudio(text, voiceID, p), nil
}

func (f *FakeGateway) StreamSpeech(ctx context.Context, text, voiceID string, p Prosody) (AudioStream, error) {
	f.streamCalls.Add(1)
	if err := f.check(ctx, text); err != nil {
		return nil, err
	}
	if voiceID == "" {
		voiceID = f.cfg.DefaultVoiceID
	}
	return newSliceStream(ctx, splitFrames(FakeAudio(text, voiceID, p), fakeFrames)), nil
}

func (f *FakeGateway) check(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SpeakErr
}

func (f *FakeGateway) ListVoices(ctx context.Context) ([]Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Voice, len(f.voices))
	copy(out, f.voices)
	return out, nil
}

func (f *FakeGateway) CreateVoiceFromSample(ctx context.Context, name string, sample []byte, filename string) (*ClonedVoice, error) {
	f.cloneCalls.Add(1)
	if len(sample) == 0 {
		return nil, ErrEmptySample
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CloneErr != nil {
		return nil, f.CloneErr
	}
	sum := sha256.Sum256(append([]byte(name+"|"), sample...))
	v := Voice{VoiceID: "cloned-" + hex.EncodeToString(sum[:6]), Name: name, Category: "cloned"}
	f.voices = append(f.voices, v)
	return &ClonedVoice{VoiceID: v.VoiceID, VoiceName: name}, nil
}

// SpeakCalls counts GenerateSpeech invocations.
func (f *FakeGateway) SpeakCalls() int64 { return f.speakCalls.Load() }

// StreamCalls counts StreamSpeech invocations.
func (f *FakeGateway) StreamCalls() int64 { return f.streamCalls.Load() }

// CloneCalls counts CreateVoiceFromSample invocations.
func (f *FakeGateway) CloneCalls() int64 { return f.cloneCalls.Load() }

func splitFrames(data []byte, n int) [][]byte {
	size := (len(data) + n - 1) / n
	if size == 0 {
		return nil
	}
	var frames [][]byte
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		frames = append(frames, data[start:end])
	}
	return frames
}

// sliceStream replays prepared frames, stopping early when ctx is done.
type sliceStream struct {
	ctx    context.Context
	frames [][]byte
	pos    int
	closed bool
}

func newSliceStream(ctx context.Context, frames [][]byte) *sliceStream {
	return &sliceStream{ctx: ctx, frames: frames}
}

func (s *sliceStream) Recv() ([]byte, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
