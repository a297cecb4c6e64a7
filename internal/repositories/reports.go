package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"task-tracker/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type ReportRepository interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Report, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Report, error)
	Upsert(ctx context.Context, report *models.Report) error
	// Due returns enabled reports that have not been sent since before.
	Due(ctx context.Context, before time.Time) ([]models.Report, error)
	MarkSent(ctx context.Context, id uuid.UUID, stamp time.Time) error
}

type GormReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *GormReportRepository {
	return &GormReportRepository{db: db}
}

func (r *GormReportRepository) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find report for user %s: %w", userID, err)
	}
	return &report, nil
}

func (r *GormReportRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).Preload("User").Where("id = ?", id).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find report %s: %w", id, err)
	}
	return &report, nil
}

func (r *GormReportRepository) Upsert(ctx context.Context, report *models.Report) error {
	existing, err := r.FindByUser(ctx, report.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		return nil
	case err != nil:
		return err
	}

	report.ID = existing.ID
	report.CreatedAt = existing.CreatedAt
	if report.LastUpdated == nil {
		report.LastUpdated = existing.LastUpdated
	}
	if err := r.db.WithContext(ctx).Omit("User").Save(report).Error; err != nil {
		return fmt.Errorf("save report %s: %w", report.ID, err)
	}
	return nil
}

func (r *GormReportRepository) Due(ctx context.Context, before time.Time) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("disabled = ?", false).
		Where("time_of_day <> ?", "").
		Where("last_updated IS NULL OR last_updated < ?", before.UTC()).
		Order("created_at ASC").
		Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("list due reports: %w", err)
	}
	return reports, nil
}

func (r *GormReportRepository) MarkSent(ctx context.Context, id uuid.UUID, stamp time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ?", id).
		Update("last_updated", stamp.UTC())
	if result.Error != nil {
		return fmt.Errorf("mark report %s sent: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
