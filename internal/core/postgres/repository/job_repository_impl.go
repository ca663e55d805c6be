package repository

import (
	"context"
	"errors"
	"fmt"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxListLimit = 500

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new instance of JobRepository
func NewJobRepository(db *gorm.DB) ports.JobRepository {
	return &jobRepository{db: db}
}

// Open connects to Postgres and migrates the job ledger table.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&domain.JobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate job records: %w", err)
	}
	return db, nil
}

func (r *jobRepository) Create(ctx context.Context, record *domain.JobRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListRecent returns the newest records first. The limit is clamped to
// [1, maxListLimit].
func (r *jobRepository) ListRecent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var records []domain.JobRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *jobRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	var record domain.JobRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
