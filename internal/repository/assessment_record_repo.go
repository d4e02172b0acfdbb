package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/markr-app/markr-api/internal/models"
)

// AssessmentRecordRepository persists completed assessments for auditing.
type AssessmentRecordRepository interface {
	Create(ctx context.Context, record *models.AssessmentRecord) error
	ListRecent(ctx context.Context, limit int) ([]models.AssessmentRecord, error)
	CountByTaskType(ctx context.Context) (map[string]int64, error)
}

type assessmentRecordRepository struct {
	db *gorm.DB
}

// NewAssessmentRecordRepository constructs the audit log repository.
func NewAssessmentRecordRepository(db *gorm.DB) AssessmentRecordRepository {
	return &assessmentRecordRepository{db: db}
}

func (r *assessmentRecordRepository) Create(ctx context.Context, record *models.AssessmentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *assessmentRecordRepository) ListRecent(ctx context.Context, limit int) ([]models.AssessmentRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var records []models.AssessmentRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *assessmentRecordRepository) CountByTaskType(ctx context.Context) (map[string]int64, error) {
	type row struct {
		TaskType string
		Total    int64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.AssessmentRecord{}).
		Select("task_type, COUNT(*) AS total").
		Group("task_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.TaskType] = r.Total
	}
	return counts, nil
}
