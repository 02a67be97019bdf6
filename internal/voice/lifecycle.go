// Package voice holds the voice identity lifecycle (consent, cloning, persona binding,
// previews) and the conversation orchestrator that speaks generated turns.
package voice

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VoiceForge/internal/models"
	"VoiceForge/pkg/config"
	"VoiceForge/pkg/errors"
	"VoiceForge/pkg/logger"
	"VoiceForge/pkg/metrics"
	"VoiceForge/pkg/speech"
	stores "VoiceForge/pkg/storage"
	"VoiceForge/pkg/synthesis"
)

const abandonedMessage = "abandoned: no provider result before the pending horizon"

// CloneRequest carries one voice-cloning attempt.
type CloneRequest struct {
	UserID                string
	PersonaID             string
	VoiceName             string
	SampleBlobRef         string
	Sample                []byte
	SampleFilename        string
	SampleContentType     string
	SampleDurationSeconds float64
	ConsentRecordID       string
	StyleLane             string
}

// SelectVoiceRequest binds a persona to an existing voice.
type SelectVoiceRequest struct {
	PersonaID string
	Provider  string
	Type      string
	VoiceID   string
	VoiceName string
}

// Audio is synthesized speech with its MIME type.
type Audio struct {
	Data        []byte
	ContentType string
}

// Lifecycle manages consent, clone jobs and persona voice bindings.
type Lifecycle struct {
	db      *gorm.DB
	gateway synthesis.Gateway
	speech  *speech.Cache
	samples stores.Store
	limits  config.CloneConfig
	metrics *metrics.Metrics
	lg      *zap.Logger
	now     func() time.Time
}

// NewLifecycle wires the lifecycle. samples receives clone samples under their
// SampleBlobRef once a job is reserved; nil means samples are stored elsewhere.
func NewLifecycle(db *gorm.DB, gateway synthesis.Gateway, sc *speech.Cache, samples stores.Store, limits config.CloneConfig, m *metrics.Metrics) *Lifecycle {
	if limits.RateLimitCap <= 0 {
		limits.RateLimitCap = 5
	}
	if limits.RateLimitWindow <= 0 {
		limits.RateLimitWindow = 24 * time.Hour
	}
	if limits.MaxSeconds <= 0 {
		limits.MinSeconds, limits.MaxSeconds = 10, 300
	}
	if limits.PendingStaleAge <= 0 {
		limits.PendingStaleAge = 15 * time.Minute
	}
	return &Lifecycle{
		db:      db,
		gateway: gateway,
		speech:  sc,
		samples: samples,
		limits:  limits,
		metrics: m,
		lg:      logger.Named("voice.lifecycle"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordConsent stores an attested consent and returns its id.
func (l *Lifecycle) RecordConsent(ctx context.Context, userID, personaID, consentTextVersion string, attested bool) (string, error) {
	if !attested {
		return "", errors.Validation("consent must be attested")
	}
	if userID == "" || personaID == "" {
		return "", errors.Validation("user and persona are required")
	}
	rec := models.ConsentRecord{
		UserID:             userID,
		PersonaID:          personaID,
		ConsentTextVersion: consentTextVersion,
		Attested:           true,
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", errors.Wrap(err, "record consent")
	}
	return rec.ID, nil
}

// CloneVoice creates a voice from a recorded sample and binds it to the persona. The
// job row is left Failed when the provider rejects the sample, and the provider error
// is returned.
func (l *Lifecycle) CloneVoice(ctx context.Context, req CloneRequest) (*models.VoiceCloneJob, error) {
	if err := l.checkConsent(ctx, req); err != nil {
		return nil, err
	}
	job, err := l.reserve(ctx, req)
	if err != nil {
		return nil, err
	}

	// 即使请求被取消也要写完审计
	dbCtx := context.WithoutCancel(ctx)

	// 样本只在预占成功后写入，被拒绝的请求不留对象
	if err := l.storeSample(ctx, job.ID, req); err != nil {
		l.markFailed(dbCtx, job.ID, err)
		l.lg.Warn("store clone sample failed", zap.String("job_id", job.ID), zap.String("sample", req.SampleBlobRef), zap.Error(err))
		return nil, errors.CacheStorage(err, "store voice sample").WithContext("job_id", job.ID)
	}

	cloned, cloneErr := l.gateway.CreateVoiceFromSample(ctx, req.VoiceName, req.Sample, req.SampleFilename)
	if cloneErr != nil {
		l.markFailed(dbCtx, job.ID, cloneErr)
		l.lg.Warn("voice clone failed", zap.String("job_id", job.ID), zap.String("user_id", req.UserID), zap.Error(cloneErr))
		return nil, errors.SynthesisProvider(cloneErr, "clone voice").WithContext("job_id", job.ID)
	}

	now := l.now()
	err = l.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		if err := l.transition(dbCtx, tx, job.ID, models.CloneStatusSuccess, map[string]interface{}{
			"external_voice_id": cloned.VoiceID,
			"error_message":     "",
		}); err != nil {
			return err
		}
		createdBy := req.UserID
		return tx.Where(models.Persona{ID: req.PersonaID}).
			Assign(map[string]interface{}{
				"voice_provider":           models.ClonedVoiceProvider,
				"voice_type":               models.VoiceTypeUserCloned,
				"voice_id":                 cloned.VoiceID,
				"voice_name":               cloned.VoiceName,
				"voice_created_at":         &now,
				"voice_created_by_user_id": &createdBy,
			}).
			FirstOrCreate(&models.Persona{}).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "complete clone job")
	}
	l.metrics.RecordCloneJob(string(models.CloneStatusSuccess))
	l.lg.Info("voice cloned", zap.String("job_id", job.ID), zap.String("voice_id", cloned.VoiceID), zap.String("persona_id", req.PersonaID))
	return l.GetCloneJob(dbCtx, job.ID)
}

func (l *Lifecycle) storeSample(ctx context.Context, jobID string, req CloneRequest) error {
	if l.samples == nil || req.SampleBlobRef == "" {
		return nil
	}
	return l.samples.Put(ctx, req.SampleBlobRef, req.Sample, req.SampleContentType, map[string]string{
		"user-id":    req.UserID,
		"persona-id": req.PersonaID,
		"job-id":     jobID,
	})
}

func (l *Lifecycle) markFailed(ctx context.Context, jobID string, cause error) {
	if err := l.transition(ctx, l.db, jobID, models.CloneStatusFailed, map[string]interface{}{
		"error_message": cause.Error(),
	}); err != nil {
		l.lg.Error("mark clone job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	l.metrics.RecordCloneJob(string(models.CloneStatusFailed))
}

func (l *Lifecycle) checkConsent(ctx context.Context, req CloneRequest) error {
	if req.ConsentRecordID == "" {
		return errors.NotFound("consent record is required")
	}
	var rec models.ConsentRecord
	err := l.db.WithContext(ctx).First(&rec, "id = ?", req.ConsentRecordID).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound("consent record %s not found", req.ConsentRecordID)
	}
	if err != nil {
		return errors.Wrap(err, "load consent record")
	}
	if rec.UserID != req.UserID || rec.PersonaID != req.PersonaID || !rec.Attested {
		return errors.ConsentMismatch("consent record %s does not cover this user and persona", rec.ID)
	}
	return nil
}

// reserve counts the user's window and inserts the Pending job in one transaction. The
// upsert on the user's quota row takes its row lock first, so concurrent reservations
// for one user are serialised.
func (l *Lifecycle) reserve(ctx context.Context, req CloneRequest) (*models.VoiceCloneJob, error) {
	now := l.now()
	job := &models.VoiceCloneJob{
		UserID:                req.UserID,
		PersonaID:             req.PersonaID,
		ConsentRecordID:       req.ConsentRecordID,
		SampleBlobRef:         req.SampleBlobRef,
		SampleDurationSeconds: req.SampleDurationSeconds,
		Status:                models.CloneStatusPending,
		VoiceName:             req.VoiceName,
		StyleLane:             req.StyleLane,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).Create(&models.VoiceCloneQuota{UserID: req.UserID, UpdatedAt: now}).Error
		if err != nil {
			return errors.Wrap(err, "lock clone quota")
		}

		used, err := l.countUsed(tx, req.UserID, now)
		if err != nil {
			return err
		}
		if used >= int64(l.limits.RateLimitCap) {
			return errors.RateLimitExceeded("at most %d voice clones per %s", l.limits.RateLimitCap, l.limits.RateLimitWindow)
		}
		d := req.SampleDurationSeconds
		if d < l.limits.MinSeconds || d > l.limits.MaxSeconds {
			return errors.Validation("sample duration %.1fs outside [%.0f, %.0f] seconds", d, l.limits.MinSeconds, l.limits.MaxSeconds)
		}
		if err := tx.Create(job).Error; err != nil {
			return errors.Wrap(err, "create clone job")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// countUsed counts successes in the window and Pending jobs young enough to still be
// holding a slot.
func (l *Lifecycle) countUsed(tx *gorm.DB, userID string, now time.Time) (int64, error) {
	var n int64
	err := tx.Model(&models.VoiceCloneJob{}).
		Where("user_id = ?", userID).
		Where("((status = ? AND created_at >= ?) OR (status = ? AND created_at >= ?))",
			models.CloneStatusSuccess, now.Add(-l.limits.RateLimitWindow),
			models.CloneStatusPending, now.Add(-l.limits.PendingStaleAge)).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "count clone jobs")
	}
	return n, nil
}

// transition moves a Pending job to a terminal status exactly once.
func (l *Lifecycle) transition(ctx context.Context, db *gorm.DB, jobID string, to models.CloneStatus, fields map[string]interface{}) error {
	fields["status"] = to
	fields["updated_at"] = l.now()
	res := db.WithContext(ctx).Model(&models.VoiceCloneJob{}).
		Where("id = ? AND status = ?", jobID, models.CloneStatusPending).
		Updates(fields)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update clone job")
	}
	if res.RowsAffected == 0 {
		return errors.Internal("clone job %s is no longer pending", jobID)
	}
	return nil
}

// SelectPersonaVoice binds the persona to a stock or previously cloned voice and clears
// clone provenance.
func (l *Lifecycle) SelectPersonaVoice(ctx context.Context, req SelectVoiceRequest) (*models.Persona, error) {
	if req.Type != models.VoiceTypePrebuilt && req.Type != models.VoiceTypeUserCloned {
		return nil, errors.Validation("unknown voice type %q", req.Type)
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		return nil, errors.Validation("voice id is required")
	}
	if req.Provider == "" {
		req.Provider = "elevenlabs"
	}

	var p models.Persona
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&p, "id = ?", req.PersonaID).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NotFound("persona %s not found", req.PersonaID)
			}
			return errors.Wrap(err, "load persona")
		}
		return tx.Model(&p).Updates(map[string]interface{}{
			"voice_provider":           req.Provider,
			"voice_type":               req.Type,
			"voice_id":                 req.VoiceID,
			"voice_name":               req.VoiceName,
			"voice_created_at":         nil,
			"voice_created_by_user_id": nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return l.persona(ctx, req.PersonaID)
}

// PreviewVoice speaks text in the given voice with default prosody.
func (l *Lifecycle) PreviewVoice(ctx context.Context, voiceID, text string) (*Audio, error) {
	cfg := l.gateway.Config()
	if !cfg.Enabled {
		return nil, errors.FeatureDisabled("voice synthesis is disabled")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.Validation("preview text is required")
	}
	if voiceID == "" {
		voiceID = cfg.DefaultVoiceID
	}
	key := l.speech.Key(speech.Request{
		VoiceID: voiceID,
		ModelID: cfg.ModelID,
		Prosody: synthesis.DefaultProsody,
		Text:    text,
	})
	data, err := l.speech.GetOrGenerate(ctx, key, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		data, err := l.gateway.GenerateSpeech(ctx, text, voiceID, synthesis.DefaultProsody)
		l.metrics.RecordSynthesis("generate", time.Since(start), err)
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return &Audio{Data: data, ContentType: l.speech.ContentType()}, nil
}

// PreviewPersonaVoice previews the persona's bound voice, or the default voice if unbound.
func (l *Lifecycle) PreviewPersonaVoice(ctx context.Context, personaID, text string) (*Audio, error) {
	p, err := l.persona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	return l.PreviewVoice(ctx, p.VoiceID, text)
}

// ListVoices returns the provider's voices.
func (l *Lifecycle) ListVoices(ctx context.Context) ([]synthesis.Voice, error) {
	voices, err := l.gateway.ListVoices(ctx)
	if err != nil {
		return nil, errors.SynthesisProvider(err, "list voices")
	}
	return voices, nil
}

func (l *Lifecycle) GetCloneJob(ctx context.Context, id string) (*models.VoiceCloneJob, error) {
	var job models.VoiceCloneJob
	err := l.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("clone job %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load clone job")
	}
	return &job, nil
}

// ListCloneJobs returns the user's jobs, newest first.
func (l *Lifecycle) ListCloneJobs(ctx context.Context, userID string) ([]models.VoiceCloneJob, error) {
	var jobs []models.VoiceCloneJob
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list clone jobs")
	}
	return jobs, nil
}

// RemainingClones reports how many more clones the user may start now.
func (l *Lifecycle) RemainingClones(ctx context.Context, userID string) (int, error) {
	used, err := l.countUsed(l.db.WithContext(ctx), userID, l.now())
	if err != nil {
		return 0, err
	}
	return max(l.limits.RateLimitCap-int(used), 0), nil
}

// SweepStalePending fails Pending jobs whose provider call never reported back.
func (l *Lifecycle) SweepStalePending(ctx context.Context) (int64, error) {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.VoiceCloneJob{}).
		Where("status = ? AND created_at < ?", models.CloneStatusPending, now.Add(-l.limits.PendingStaleAge)).
		Updates(map[string]interface{}{
			"status":        models.CloneStatusFailed,
			"error_message": abandonedMessage,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "sweep stale clone jobs")
	}
	if res.RowsAffected > 0 {
		l.lg.Warn("failed stale pending clone jobs", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (l *Lifecycle) persona(ctx context.Context, id string) (*models.Persona, error) {
	var p models.Persona
	err := l.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("persona %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load persona")
	}
	return &p, nil
}
