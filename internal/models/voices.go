package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CloneStatus string

const (
	CloneStatusPending CloneStatus = "pending"
	CloneStatusSuccess CloneStatus = "success"
	CloneStatusFailed  CloneStatus = "failed"
)

const (
	VoiceTypePrebuilt   = "prebuilt"
	VoiceTypeUserCloned = "user_cloned"

	ClonedVoiceProvider = "cloned-provider"
)

// ConsentRecord 用户授权克隆声音的审计记录，创建后不可修改
type ConsentRecord struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	UserID             string    `json:"userId" gorm:"size:64;index:idx_consent_user_persona"`
	PersonaID          string    `json:"personaId" gorm:"size:64;index:idx_consent_user_persona"`
	ConsentTextVersion string    `json:"consentTextVersion" gorm:"size:64"`
	Attested           bool      `json:"attested"`
	CreatedAt          time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

func (ConsentRecord) TableName() string { return "voice_consent_records" }

func (c *ConsentRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// VoiceCloneJob 声音克隆任务，pending 只会迁移一次到 success 或 failed
type VoiceCloneJob struct {
	ID                    string      `json:"id" gorm:"primaryKey;size:36"`
	UserID                string      `json:"userId" gorm:"size:64;index:idx_clone_user_status_created"`
	PersonaID             string      `json:"personaId" gorm:"size:64;index"`
	ConsentRecordID       string      `json:"consentRecordId" gorm:"size:36"`
	SampleBlobRef         string      `json:"sampleBlobRef" gorm:"size:1024"` // 样本在对象存储中的位置
	SampleDurationSeconds float64     `json:"sampleDurationSeconds"`
	Status                CloneStatus `json:"status" gorm:"size:16;index:idx_clone_user_status_created"`
	ExternalVoiceID       string      `json:"externalVoiceId,omitempty" gorm:"size:128"`
	VoiceName             string      `json:"voiceName" gorm:"size:128"`
	ErrorMessage          string      `json:"errorMessage,omitempty" gorm:"type:text"`
	StyleLane             string      `json:"styleLane,omitempty" gorm:"size:64"`
	CreatedAt             time.Time   `json:"createdAt" gorm:"index:idx_clone_user_status_created"`
	UpdatedAt             time.Time   `json:"updatedAt"`
}

func (VoiceCloneJob) TableName() string { return "voice_clone_jobs" }

func (j *VoiceCloneJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

// Terminal 是否已到终态
func (j *VoiceCloneJob) Terminal() bool {
	return j.Status == CloneStatusSuccess || j.Status == CloneStatusFailed
}

// VoiceCloneQuota 每个用户一行，仅作为限流预占的行锁目标
type VoiceCloneQuota struct {
	UserID    string    `json:"userId" gorm:"primaryKey;size:64"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (VoiceCloneQuota) TableName() string { return "voice_clone_quotas" }

// Persona 面试官角色中与声音相关的字段
type Persona struct {
	ID                   string     `json:"id" gorm:"primaryKey;size:64"`
	Name                 string     `json:"name" gorm:"size:128"`
	VoiceProvider        string     `json:"voiceProvider" gorm:"size:64"`
	VoiceType            string     `json:"voiceType" gorm:"size:32"` // prebuilt / user_cloned
	VoiceID              string     `json:"voiceId" gorm:"size:128"`
	VoiceName            string     `json:"voiceName" gorm:"size:128"`
	VoiceCreatedAt       *time.Time `json:"voiceCreatedAt,omitempty"`
	VoiceCreatedByUserID *string    `json:"voiceCreatedByUserId,omitempty" gorm:"size:64"`
	Stability            *float64   `json:"stability,omitempty"`
	SimilarityBoost      *float64   `json:"similarityBoost,omitempty"`
	CreatedAt            time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt            time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Persona) TableName() string { return "personas" }

// Migrate 建表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ConsentRecord{}, &VoiceCloneJob{}, &VoiceCloneQuota{}, &Persona{})
}
