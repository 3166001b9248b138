package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

type AssocJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.AssocJob) (*types.AssocJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssocJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only when the row's current
	// status is not in excluded. Returns false when the guard rejected the
	// write. This is how terminal statuses stay terminal.
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error)
}

type assocJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssocJobRepo(db *gorm.DB, baseLog *logger.Logger) AssocJobRepo {
	return &assocJobRepo{
		db:  db,
		log: baseLog.With("repo", "AssocJobRepo"),
	}
}

func (r *assocJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.AssocJob) (*types.AssocJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, errors.New("nil job")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *assocJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssocJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.AssocJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *assocJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.AssocJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *assocJobRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now()
	q := transaction.WithContext(ctx).
		Model(&types.AssocJob{}).
		Where("id = ?", id)
	if len(excluded) > 0 {
		q = q.Where("status NOT IN ?", excluded)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
