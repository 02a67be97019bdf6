package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"VoiceForge/internal/models"
	"VoiceForge/internal/voice"
	"VoiceForge/pkg/config"
	"VoiceForge/pkg/llm"
	"VoiceForge/pkg/middleware"
	"VoiceForge/pkg/speech"
	stores "VoiceForge/pkg/storage"
	"VoiceForge/pkg/synthesis"
	"VoiceForge/pkg/util"
)

type testServer struct {
	db      *gorm.DB
	engine  *gin.Engine
	store   *stores.MemoryStore
	samples *stores.MemoryStore
	gateway *synthesis.FakeGateway
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := util.InitDatabase(zap.NewNop(), "sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	gw := synthesis.NewFake(synthesis.Config{Enabled: true, MaxCharsPerRequest: 100, MaxRequestsPerMessage: 10})
	store := stores.NewMemoryStore()
	sc := speech.NewCache(speech.CacheConfig{OutputFormat: gw.Config().OutputFormat}, store, nil, nil)
	samples := stores.NewMemoryStore()
	lc := voice.NewLifecycle(db, gw, sc, samples, config.CloneConfig{
		RateLimitCap:    5,
		RateLimitWindow: 24 * time.Hour,
		MinSeconds:      10,
		MaxSeconds:      300,
		PendingStaleAge: 15 * time.Minute,
	}, nil)
	orch := voice.NewOrchestrator(db, gw, sc, llm.EchoGenerator{}, true, nil)

	engine := gin.New()
	NewHandlers(db, lc, orch, limiter).Register(engine, "/api")
	return &testServer{db: db, engine: engine, store: store, samples: samples, gateway: gw}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) consent(t *testing.T, user, persona string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/voice/consents", user, gin.H{
		"personaId": persona, "consentTextVersion": "v1", "attested": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		ConsentRecordID string `json:"consentRecordId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.ConsentRecordID
}

func (s *testServer) clone(t *testing.T, user, persona, consentID, duration string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("personaId", persona))
	require.NoError(t, mw.WriteField("voiceName", "My Voice"))
	require.NoError(t, mw.WriteField("consentRecordId", consentID))
	require.NoError(t, mw.WriteField("durationSeconds", duration))
	fw, err := mw.CreateFormFile("sample", "take1.WAV")
	require.NoError(t, err)
	_, err = fw.Write([]byte("RIFF-sample"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/voice/clones", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.UserIDHeader, user)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/system/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestCloneFlow(t *testing.T) {
	s := newTestServer(t, nil)
	consentID := s.consent(t, "u1", "p1")

	w := s.clone(t, "u1", "p1", consentID, "30")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var job models.VoiceCloneJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, models.CloneStatusSuccess, job.Status)
	assert.True(t, strings.HasPrefix(job.SampleBlobRef, "samples/u1/"))
	assert.True(t, strings.HasSuffix(job.SampleBlobRef, ".wav"))
	assert.Equal(t, 1, s.samples.PutCount(job.SampleBlobRef))
	obj, err := s.samples.Get(context.Background(), job.SampleBlobRef)
	require.NoError(t, err)
	defer obj.Body.Close()
	assert.Equal(t, job.ID, obj.Metadata["job-id"])

	w = s.do(t, http.MethodGet, "/api/voice/clones/"+job.ID, "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/voice/clones/"+job.ID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/voice/quota", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining":4`)
}

func TestCloneErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t, nil)
	consentID := s.consent(t, "u1", "p1")

	// 时长不合法
	w := s.clone(t, "u1", "p1", consentID, "3")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 授权属于其他用户
	w = s.clone(t, "u2", "p1", consentID, "30")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.clone(t, "", "p1", consentID, "30")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 被拒绝的请求不写样本
	assert.Equal(t, 0, s.samples.Len())
}

func TestCloneRateLimitReturns429(t *testing.T) {
	s := newTestServer(t, nil)
	consentID := s.consent(t, "u1", "p1")
	for i := 0; i < 5; i++ {
		w := s.clone(t, "u1", "p1", consentID, "30")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	require.Equal(t, 5, s.samples.Len())
	w := s.clone(t, "u1", "p1", consentID, "30")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.Equal(t, 5, s.samples.Len())
}

func TestSelectPersonaVoiceAndPreview(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.db.Create(&models.Persona{ID: "p9", Name: "Interviewer"}).Error)

	w := s.do(t, http.MethodPut, "/api/voice/personas/p9/voice", "u1", gin.H{
		"type": models.VoiceTypePrebuilt, "voiceId": "fake-voice-2", "voiceName": "Alt",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "fake-voice-2")

	w = s.do(t, http.MethodPost, "/api/voice/preview", "u1", gin.H{"personaId": "p9", "text": "Hello there."})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, synthesis.FakeAudio("Hello there.", "fake-voice-2", synthesis.DefaultProsody), w.Body.Bytes())

	w = s.do(t, http.MethodPost, "/api/voice/preview", "u1", gin.H{"personaId": "missing", "text": "Hi."})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListVoices(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/voice/voices", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fake-voice-2")
}

func TestRateLimiterGuardsPreview(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:          "100-M",
		PerRouteRates: map[string]string{"/api/voice/preview": "1-M"},
		Identifier:    "user",
	}, nil, nil)
	s := newTestServer(t, rl)

	w := s.do(t, http.MethodPost, "/api/voice/preview", "u1", gin.H{"text": "Hi."})
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/voice/preview", "u1", gin.H{"text": "Hi."})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	w = s.do(t, http.MethodPost, "/api/voice/preview", "u2", gin.H{"text": "Hi."})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTurnSocketStreamsChunks(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/voice/turns/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(turnRequest{Prompt: "First one. Second one."}))

	var (
		events []turnEvent
		audio  [][]byte
	)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if mt == websocket.BinaryMessage {
			audio = append(audio, data)
			continue
		}
		var ev turnEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
		if ev.Type == "done" || ev.Type == "error" {
			break
		}
	}

	require.Len(t, events, 3)
	assert.Equal(t, "chunk", events[0].Type)
	assert.Equal(t, "First one.", events[0].Text)
	assert.Equal(t, "Second one.", events[1].Text)
	assert.Equal(t, 1, events[1].ChunkIndex)
	assert.Equal(t, "done", events[2].Type)
	assert.Equal(t, 2, events[2].Requests)
	require.Len(t, audio, 2)
	assert.Equal(t, synthesis.FakeAudio("First one.", "fake-voice", synthesis.DefaultProsody), audio[0])
}

func TestTurnSocketReportsErrors(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/voice/turns/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(turnRequest{PersonaID: "missing", Text: "Hello."}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev turnEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "not_found", ev.Kind)
}

func TestTurnEventsStreamsOverSSE(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/voice/turns", "u1", gin.H{"text": "Only one."})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var events []turnEvent
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev turnEvent
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			events = append(events, ev)
		}
	}
	require.Len(t, events, 2)
	assert.Equal(t, "chunk", events[0].Type)
	assert.Equal(t, synthesis.FakeAudio("Only one.", "fake-voice", synthesis.DefaultProsody), events[0].Audio)
	assert.Equal(t, "done", events[1].Type)
	assert.Equal(t, "Only one.", events[1].Text)
}

func TestTurnEventsCarryZeroIndexes(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/voice/turns", "u1", gin.H{"text": "Only one."})
	require.Equal(t, http.StatusOK, w.Code)

	var first string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			first = data
			break
		}
	}
	require.NotEmpty(t, first)
	assert.Contains(t, first, `"type":"chunk"`)
	assert.Contains(t, first, `"chunkIndex":0`)
	assert.Contains(t, first, `"subIndex":0`)
}
