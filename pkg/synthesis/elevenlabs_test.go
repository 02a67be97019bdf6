package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *ElevenLabsGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewElevenLabs(Config{APIKey: "key", BaseURL: srv.URL, ModelID: "eleven_turbo_v2_5"})
}

func TestGenerateSpeechSendsVoiceSettings(t *testing.T) {
	var got ttsRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("mp3-bytes"))
	})

	data, err := g.GenerateSpeech(context.Background(), "Hello there.", "voice-1", Prosody{Stability: 0.3, SimilarityBoost: 0.9})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), data)
	assert.Equal(t, "Hello there.", got.Text)
	assert.Equal(t, "eleven_turbo_v2_5", got.ModelID)
	assert.Equal(t, 0.3, got.VoiceSettings.Stability)
	assert.Equal(t, 0.9, got.VoiceSettings.SimilarityBoost)
}

func TestStreamSpeechYieldsBodyUntilEOF(t *testing.T) {
	payload := strings.Repeat("a", streamFrameSize+10)
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/stream"))
		w.Write([]byte(payload))
	})

	stream, err := g.StreamSpeech(context.Background(), "Hi.", "", DefaultProsody)
	require.NoError(t, err)
	defer stream.Close()

	var total int
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), streamFrameSize)
		total += len(chunk)
	}
	assert.Equal(t, len(payload), total)
}

func TestProviderErrorsAreClassified(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"detail":{"status":"too_many_concurrent_requests","message":"slow down"}}`))
	})

	_, err := g.GenerateSpeech(context.Background(), "Hi.", "v", DefaultProsody)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, IsRetryable(err))

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "too_many_concurrent_requests", pe.Code)
}

func TestCreateVoiceFromSampleUploadsMultipart(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voices/add", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Ada", r.FormValue("name"))
		f, hdr, err := r.FormFile("files")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "ada.wav", hdr.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(body))
		w.Write([]byte(`{"voice_id":"cloned-123"}`))
	})

	v, err := g.CreateVoiceFromSample(context.Background(), "Ada", []byte("RIFF"), "ada.wav")
	require.NoError(t, err)
	assert.Equal(t, "cloned-123", v.VoiceID)
	assert.Equal(t, "Ada", v.VoiceName)

	_, err = g.CreateVoiceFromSample(context.Background(), "Ada", nil, "")
	assert.ErrorIs(t, err, ErrEmptySample)
}

func TestListVoices(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"voices":[{"voice_id":"a","name":"Rachel","category":"premade"}]}`))
	})

	voices, err := g.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "Rachel", voices[0].Name)
}

func TestFakeStreamIsDeterministic(t *testing.T) {
	f := NewFake(Config{})
	stream, err := f.StreamSpeech(context.Background(), "Hello.", "", DefaultProsody)
	require.NoError(t, err)

	var got []byte
	frames := 0
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk...)
		frames++
	}
	assert.Equal(t, fakeFrames, frames)
	assert.Equal(t, FakeAudio("Hello.", "fake-voice", DefaultProsody), got)
	assert.Equal(t, int64(1), f.StreamCalls())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "audio/mpeg", ContentType("mp3_44100_128"))
	assert.Equal(t, "audio/pcm", ContentType("pcm_24000"))
	assert.Equal(t, "mp3", Extension("mp3_44100_128"))
	assert.Equal(t, "pcm", Extension("pcm_16000"))
	assert.Equal(t, "mp3", Extension(""))
}
