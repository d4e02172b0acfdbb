package models

import (
	"time"

	"gorm.io/datatypes"
)

// AssessmentRecord is one completed assessment, kept for auditing and usage
// analysis. ClientKey stores a short key fingerprint, never the secret.
type AssessmentRecord struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	RequestHash       string            `gorm:"size:64;index" json:"request_hash"`
	TaskType          string            `gorm:"size:32;index" json:"task_type"`
	ClientKey         string            `gorm:"size:16" json:"client_key"`
	Model             string            `gorm:"size:64" json:"model"`
	CompletenessScore int               `json:"completeness_score"`
	AccuracyScore     int               `json:"accuracy_score"`
	SpagScore         int               `json:"spag_score"`
	Result            datatypes.JSONMap `gorm:"type:json" json:"result"`
	DurationMs        int64             `json:"duration_ms"`
	CreatedAt         time.Time         `json:"created_at"`
}
