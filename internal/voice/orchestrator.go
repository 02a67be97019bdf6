package voice

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"VoiceForge/internal/models"
	"VoiceForge/pkg/errors"
	"VoiceForge/pkg/llm"
	"VoiceForge/pkg/logger"
	"VoiceForge/pkg/metrics"
	"VoiceForge/pkg/speech"
	"VoiceForge/pkg/synthesis"
)

const defaultMaxCharsPerRequest = 250

// TurnRequest asks for one spoken conversational turn.
type TurnRequest struct {
	PersonaID string
	// VoiceID overrides the persona's voice when set.
	VoiceID string
	Prompt  string
}

// AudioChunk is one piece of turn audio. Chunks arrive in sentence order and, within a
// sentence, in provider order.
type AudioChunk struct {
	ChunkIndex  int    `json:"chunkIndex"`
	SubIndex    int    `json:"subIndex"`
	Text        string `json:"text"`
	Data        []byte `json:"-"`
	ContentType string `json:"contentType"`
}

// Orchestrator speaks generated turns sentence by sentence.
type Orchestrator struct {
	db        *gorm.DB
	gateway   synthesis.Gateway
	speech    *speech.Cache
	generator llm.TextGenerator
	// cacheAudio resolves every chunk through the speech cache; otherwise chunks stream
	// straight from the provider.
	cacheAudio bool
	metrics    *metrics.Metrics
	lg         *zap.Logger
}

func NewOrchestrator(db *gorm.DB, gateway synthesis.Gateway, sc *speech.Cache, generator llm.TextGenerator, cacheAudio bool, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		db:         db,
		gateway:    gateway,
		speech:     sc,
		generator:  generator,
		cacheAudio: cacheAudio,
		metrics:    m,
		lg:         logger.Named("voice.orchestrator"),
	}
}

// StreamTurn generates the turn's text and returns a stream of its audio.
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest) (*TurnStream, error) {
	if !o.gateway.Config().Enabled {
		return nil, errors.FeatureDisabled("voice synthesis is disabled")
	}
	voiceID, prosody, err := o.resolveVoice(ctx, req.PersonaID, req.VoiceID)
	if err != nil {
		return nil, err
	}
	text, err := o.generator.Generate(ctx, req.Prompt)
	if err != nil {
		return nil, errors.Wrap(err, "generate turn text")
	}
	return o.newStream(ctx, text, voiceID, prosody), nil
}

// SynthesizeText streams audio for text that has already been generated.
func (o *Orchestrator) SynthesizeText(ctx context.Context, personaID, voiceID, text string) (*TurnStream, error) {
	if !o.gateway.Config().Enabled {
		return nil, errors.FeatureDisabled("voice synthesis is disabled")
	}
	voiceID, prosody, err := o.resolveVoice(ctx, personaID, voiceID)
	if err != nil {
		return nil, err
	}
	return o.newStream(ctx, text, voiceID, prosody), nil
}

func (o *Orchestrator) resolveVoice(ctx context.Context, personaID, override string) (string, synthesis.Prosody, error) {
	voiceID := override
	prosody := synthesis.DefaultProsody
	if personaID != "" {
		var p models.Persona
		err := o.db.WithContext(ctx).First(&p, "id = ?", personaID).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return "", prosody, errors.NotFound("persona %s not found", personaID)
		}
		if err != nil {
			return "", prosody, errors.Wrap(err, "load persona")
		}
		if voiceID == "" {
			voiceID = p.VoiceID
		}
		if p.Stability != nil {
			prosody.Stability = *p.Stability
		}
		if p.SimilarityBoost != nil {
			prosody.SimilarityBoost = *p.SimilarityBoost
		}
	}
	if voiceID == "" {
		voiceID = o.gateway.Config().DefaultVoiceID
	}
	return voiceID, prosody, nil
}

func (o *Orchestrator) newStream(ctx context.Context, text, voiceID string, prosody synthesis.Prosody) *TurnStream {
	cfg := o.gateway.Config()
	maxChars := cfg.MaxCharsPerRequest
	if maxChars <= 0 {
		maxChars = defaultMaxCharsPerRequest
	}
	return &TurnStream{
		ctx:         ctx,
		o:           o,
		text:        text,
		chunks:      speech.Split(text, maxChars),
		voiceID:     voiceID,
		modelID:     cfg.ModelID,
		prosody:     prosody,
		maxRequests: cfg.MaxRequestsPerMessage,
		chunkIndex:  -1,
	}
}

// TurnStream is a pull-based, single-use stream of a turn's audio. Recv returns io.EOF
// when the text is exhausted, the request budget is spent, or ctx is cancelled.
// Synthesis is sequential: the next sentence is requested only after the previous
// one's audio has been handed out.
type TurnStream struct {
	ctx         context.Context
	o           *Orchestrator
	text        string
	chunks      *speech.Chunks
	voiceID     string
	modelID     string
	prosody     synthesis.Prosody
	maxRequests int
	requests    int

	chunkIndex int
	chunkText  string
	subIndex   int
	current    synthesis.AudioStream

	done bool
	err  error
}

// Text is the full generated response for the turn.
func (s *TurnStream) Text() string { return s.text }

// VoiceID is the voice the turn is spoken in.
func (s *TurnStream) VoiceID() string { return s.voiceID }

// Requests is the number of synthesis requests issued so far.
func (s *TurnStream) Requests() int { return s.requests }

func (s *TurnStream) Recv() (AudioChunk, error) {
	for {
		if s.done {
			if s.err != nil {
				return AudioChunk{}, s.err
			}
			return AudioChunk{}, io.EOF
		}
		if s.ctx.Err() != nil {
			s.o.metrics.RecordTurnChunk("cancelled")
			s.finish(nil)
			continue
		}
		if s.current != nil {
			data, err := s.current.Recv()
			if err == io.EOF {
				s.closeCurrent()
				continue
			}
			if err != nil {
				s.fail(err, "stream chunk")
				continue
			}
			return s.emit(data), nil
		}

		text, ok := s.chunks.Next()
		if !ok {
			s.finish(nil)
			continue
		}
		if s.maxRequests > 0 && s.requests >= s.maxRequests {
			s.o.metrics.RecordTurnChunk("capped")
			s.o.lg.Debug("turn request budget reached", zap.Int("max_requests", s.maxRequests))
			s.finish(nil)
			continue
		}
		s.requests++
		s.chunkIndex++
		s.chunkText = text
		s.subIndex = 0
		s.o.metrics.RecordTurnChunk("sent")

		if s.o.cacheAudio {
			data, err := s.cached(text)
			if err != nil {
				s.fail(err, "synthesize chunk")
				continue
			}
			return s.emit(data), nil
		}

		start := time.Now()
		st, err := s.o.gateway.StreamSpeech(s.ctx, text, s.voiceID, s.prosody)
		s.o.metrics.RecordSynthesis("stream", time.Since(start), err)
		if err != nil {
			s.fail(err, "open chunk stream")
			continue
		}
		s.current = st
	}
}

func (s *TurnStream) cached(text string) ([]byte, error) {
	key := s.o.speech.Key(speech.Request{
		VoiceID: s.voiceID,
		ModelID: s.modelID,
		Prosody: s.prosody,
		Text:    text,
	})
	return s.o.speech.GetOrGenerate(s.ctx, key, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		data, err := s.o.gateway.GenerateSpeech(ctx, text, s.voiceID, s.prosody)
		s.o.metrics.RecordSynthesis("generate", time.Since(start), err)
		return data, err
	})
}

func (s *TurnStream) emit(data []byte) AudioChunk {
	c := AudioChunk{
		ChunkIndex:  s.chunkIndex,
		SubIndex:    s.subIndex,
		Text:        s.chunkText,
		Data:        data,
		ContentType: synthesis.ContentType(s.o.gateway.Config().OutputFormat),
	}
	s.subIndex++
	return c
}

// fail ends the stream with err unless the failure is the caller's own cancellation.
func (s *TurnStream) fail(err error, msg string) {
	if s.ctx.Err() != nil {
		s.finish(nil)
		return
	}
	if errors.KindOf(err) == errors.KindUnknown {
		err = errors.SynthesisProvider(err, msg).WithContext("chunk", s.chunkText)
	}
	s.o.lg.Warn("turn synthesis failed", zap.Int("chunk_index", s.chunkIndex), zap.Error(err))
	s.finish(err)
}

func (s *TurnStream) finish(err error) {
	s.closeCurrent()
	s.done = true
	s.err = err
}

func (s *TurnStream) closeCurrent() {
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}

// Close releases the in-flight provider stream. Later Recv calls return io.EOF.
func (s *TurnStream) Close() error {
	if !s.done {
		s.finish(nil)
	}
	return nil
}
