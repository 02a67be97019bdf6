package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"VoiceForge/internal/voice"
	"VoiceForge/pkg/errors"
	"VoiceForge/pkg/logger"
	"VoiceForge/pkg/response"
	"VoiceForge/pkg/sse"
)

const writeWait = 10 * time.Second

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 跨域由上游网关控制
			return true
		},
	}
}

// turnRequest 客户端发来的一轮请求；Text 非空时跳过文本生成
type turnRequest struct {
	PersonaID string `json:"personaId"`
	VoiceID   string `json:"voiceId"`
	Prompt    string `json:"prompt"`
	Text      string `json:"text"`
}

// turnEvent 每段音频的元数据，或结束、错误事件
type turnEvent struct {
	Type       string `json:"type"` // chunk | done | error
	ChunkIndex int    `json:"chunkIndex"` // 从 0 开始，首段也要带上
	SubIndex   int    `json:"subIndex"`
	Text       string `json:"text,omitempty"`
	MimeType   string `json:"contentType,omitempty"`
	Requests   int    `json:"requests"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
	Audio      []byte `json:"audio,omitempty"`
}

// handleTurnSocket 一个连接上依次处理多轮；客户端断开时取消进行中的合成
func (h *Handlers) handleTurnSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	reqs := make(chan turnRequest)
	go func() {
		defer cancel()
		defer close(reqs)
		for {
			var req turnRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range reqs {
		if err := h.speakTurn(ctx, conn, req); err != nil {
			logger.Debug("turn socket closed", zap.Error(err))
			return
		}
	}
}

// speakTurn 只在写连接失败时返回错误
func (h *Handlers) speakTurn(ctx context.Context, conn *websocket.Conn, req turnRequest) error {
	return h.pumpTurn(ctx, req, func(ev turnEvent, audio []byte) error {
		if err := writeEvent(conn, ev); err != nil || audio == nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.BinaryMessage, audio)
	})
}

// handleTurnEvents 单轮的 SSE 版本，音频以 base64 放在事件里
func (h *Handlers) handleTurnEvents(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", gin.H{"error": err.Error()})
		return
	}
	sw, err := sse.NewWriter(c, 0)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	err = h.pumpTurn(c.Request.Context(), req, func(ev turnEvent, audio []byte) error {
		ev.Audio = audio
		return sw.Event(ev.Type, ev)
	})
	if err != nil {
		logger.Debug("turn event stream closed", zap.Error(err))
	}
}

// pumpTurn 把一轮的音频依次交给 send，结束或失败时再发一个终止事件
func (h *Handlers) pumpTurn(ctx context.Context, req turnRequest, send func(ev turnEvent, audio []byte) error) error {
	var (
		stream *voice.TurnStream
		err    error
	)
	if req.Text != "" {
		stream, err = h.orchestrator.SynthesizeText(ctx, req.PersonaID, req.VoiceID, req.Text)
	} else {
		stream, err = h.orchestrator.StreamTurn(ctx, voice.TurnRequest{PersonaID: req.PersonaID, VoiceID: req.VoiceID, Prompt: req.Prompt})
	}
	if err != nil {
		return send(errorEvent(err), nil)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return send(turnEvent{Type: "done", Text: stream.Text(), Requests: stream.Requests()}, nil)
		}
		if err != nil {
			return send(errorEvent(err), nil)
		}
		if err := send(turnEvent{
			Type:       "chunk",
			ChunkIndex: chunk.ChunkIndex,
			SubIndex:   chunk.SubIndex,
			Text:       chunk.Text,
			MimeType:   chunk.ContentType,
		}, chunk.Data); err != nil {
			return err
		}
	}
}

func errorEvent(err error) turnEvent {
	kind := errors.KindOf(err)
	msg := errors.GetMessage(err)
	if kind == errors.KindUnknown || kind == errors.KindInternal {
		msg = "internal error"
	}
	return turnEvent{Type: "error", Kind: string(kind), Error: msg}
}

func writeEvent(conn *websocket.Conn, ev turnEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
