package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/internal/material/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, material *domain.Material) error {
	return db.WithContext(ctx).Create(material).Error
}

func (r *repo) Find(
	ctx context.Context,
	db *gorm.DB,
	tenantID snowflake.ID,
	req domain.ListMaterialRequest,
) ([]domain.Material, error) {

	query := db.WithContext(ctx).
		Model(&domain.Material{}).
		Where("tenant_id = ?", tenantID)

	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}

	var materials []domain.Material
	if err := query.Order("code ASC").Find(&materials).Error; err != nil {
		return nil, err
	}
	return materials, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Material, error) {
	var material domain.Material
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&material).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &material, nil
}

// CountInvoicedReferences counts order details that reference the material
// on orders that already have an invoice.
func (r *repo) CountInvoicedReferences(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("order_details").
		Joins("JOIN invoices ON invoices.order_id = order_details.order_id").
		Where("order_details.tenant_id = ? AND order_details.material_id = ?", tenantID, id).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, active bool, at time.Time) error {
	result := db.WithContext(ctx).
		Model(&domain.Material{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{
			"active":     active,
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
