package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.ActivityLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(
	ctx context.Context,
	db *gorm.DB,
	tenantID snowflake.ID,
	req domain.ListRequest,
	cursor *pagination.Cursor,
) ([]domain.ActivityLog, error) {

	query := db.WithContext(ctx).
		Model(&domain.ActivityLog{}).
		Where("tenant_id = ?", tenantID)

	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}
	if req.TargetType != "" {
		query = query.Where("target_type = ?", req.TargetType)
	}
	if req.StartAt != nil {
		query = query.Where("created_at >= ?", req.StartAt)
	}
	if req.EndAt != nil {
		query = query.Where("created_at <= ?", req.EndAt)
	}
	if cursor != nil && cursor.ID != "" {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		if cursor.CreatedAt != "" {
			at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			if err != nil {
				return nil, domain.ErrInvalidPageToken
			}
			query = query.Where("(created_at, id) < (?, ?)", at, id)
		} else {
			query = query.Where("id < ?", id)
		}
	}

	limit := int(req.PageSize)
	if limit <= 0 {
		limit = 10
	}

	var entries []domain.ActivityLog
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
