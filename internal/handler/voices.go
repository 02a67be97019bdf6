package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"VoiceForge/internal/voice"
	"VoiceForge/pkg/errors"
	"VoiceForge/pkg/middleware"
	"VoiceForge/pkg/response"
)

// 克隆样本上限
const maxSampleBytes = 20 << 20

func currentUserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(middleware.UserIDHeader))
}

func requireUser(c *gin.Context) (string, bool) {
	userID := currentUserID(c)
	if userID == "" {
		response.AbortWithError(c, errors.Validation("missing %s header", middleware.UserIDHeader))
		return "", false
	}
	return userID, true
}

// 获取可用的声音列表
func (h *Handlers) handleListVoices(c *gin.Context) {
	voices, err := h.lifecycle.ListVoices(c.Request.Context())
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	response.Success(c, "list voices", voices)
}

// 记录克隆授权
func (h *Handlers) handleRecordConsent(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		PersonaID          string `json:"personaId" binding:"required"`
		ConsentTextVersion string `json:"consentTextVersion" binding:"required"`
		Attested           bool   `json:"attested"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", gin.H{"error": err.Error()})
		return
	}

	id, err := h.lifecycle.RecordConsent(c.Request.Context(), userID, req.PersonaID, req.ConsentTextVersion, req.Attested)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"consentRecordId": id})
}

// 上传样本并克隆声音
func (h *Handlers) handleCloneVoice(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var form struct {
		PersonaID       string  `form:"personaId" binding:"required"`
		VoiceName       string  `form:"voiceName" binding:"required"`
		ConsentRecordID string  `form:"consentRecordId" binding:"required"`
		DurationSeconds float64 `form:"durationSeconds" binding:"required"`
		StyleLane       string  `form:"styleLane"`
	}
	if err := c.ShouldBind(&form); err != nil {
		response.Fail(c, "invalid request", gin.H{"error": err.Error()})
		return
	}
	fh, err := c.FormFile("sample")
	if err != nil {
		response.Fail(c, "sample file is required", nil)
		return
	}
	if fh.Size > maxSampleBytes {
		response.Fail(c, "sample file too large", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	defer f.Close()
	sample, err := io.ReadAll(f)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}

	// 样本由 lifecycle 在预占成功后写入
	ref := "samples/" + userID + "/" + uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))
	job, err := h.lifecycle.CloneVoice(c.Request.Context(), voice.CloneRequest{
		UserID:                userID,
		PersonaID:             form.PersonaID,
		VoiceName:             form.VoiceName,
		SampleBlobRef:         ref,
		Sample:                sample,
		SampleFilename:        fh.Filename,
		SampleContentType:     fh.Header.Get("Content-Type"),
		SampleDurationSeconds: form.DurationSeconds,
		ConsentRecordID:       form.ConsentRecordID,
		StyleLane:             form.StyleLane,
	})
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handlers) handleListCloneJobs(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobs, err := h.lifecycle.ListCloneJobs(c.Request.Context(), userID)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	response.Success(c, "list clone jobs", jobs)
}

func (h *Handlers) handleGetCloneJob(c *gin.Context) {
	job, err := h.lifecycle.GetCloneJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	if userID := currentUserID(c); userID != "" && job.UserID != userID {
		response.AbortWithError(c, errors.NotFound("clone job %s not found", job.ID))
		return
	}
	response.Success(c, "get clone job", job)
}

func (h *Handlers) handleRemainingClones(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	n, err := h.lifecycle.RemainingClones(c.Request.Context(), userID)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	response.Success(c, "remaining clones", gin.H{"remaining": n})
}

// 为角色选择声音
func (h *Handlers) handleSelectPersonaVoice(c *gin.Context) {
	var req struct {
		Provider  string `json:"provider"`
		Type      string `json:"type" binding:"required"`
		VoiceID   string `json:"voiceId" binding:"required"`
		VoiceName string `json:"voiceName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", gin.H{"error": err.Error()})
		return
	}
	p, err := h.lifecycle.SelectPersonaVoice(c.Request.Context(), voice.SelectVoiceRequest{
		PersonaID: c.Param("id"),
		Provider:  req.Provider,
		Type:      req.Type,
		VoiceID:   req.VoiceID,
		VoiceName: req.VoiceName,
	})
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	response.Success(c, "persona voice updated", p)
}

// 试听，返回音频
func (h *Handlers) handlePreview(c *gin.Context) {
	var req struct {
		VoiceID   string `json:"voiceId"`
		PersonaID string `json:"personaId"`
		Text      string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", gin.H{"error": err.Error()})
		return
	}
	var (
		audio *voice.Audio
		err   error
	)
	if req.PersonaID != "" {
		audio, err = h.lifecycle.PreviewPersonaVoice(c.Request.Context(), req.PersonaID, req.Text)
	} else {
		audio, err = h.lifecycle.PreviewVoice(c.Request.Context(), req.VoiceID, req.Text)
	}
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, audio.ContentType, audio.Data)
}
