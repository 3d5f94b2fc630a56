package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/internal/order/domain"
	"github.com/smallbiznis/printora/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Omit("Details").Create(order).Error
}

func (r *repo) InsertDetails(ctx context.Context, db *gorm.DB, details []domain.OrderDetail) error {
	if len(details) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&details).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Preload("Details").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) Find(
	ctx context.Context,
	db *gorm.DB,
	tenantID snowflake.ID,
	req domain.ListOrderRequest,
	cursor *pagination.Cursor,
) ([]domain.Order, error) {

	query := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("tenant_id = ?", tenantID)

	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
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

	var orders []domain.Order
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus is a compare-and-swap on status so two concurrent
// transitions cannot both apply.
func (r *repo) UpdateStatus(
	ctx context.Context,
	db *gorm.DB,
	tenantID, id snowflake.ID,
	expected, target domain.Status,
	updates map[string]any,
) (bool, error) {

	values := map[string]any{"status": target}
	for column, value := range updates {
		values[column] = value
	}

	result := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, id, expected).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) CountByOrderNoPrefix(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, prefix string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("tenant_id = ? AND order_no LIKE ?", tenantID, prefix+"%").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountPaymentsByOrder counts recorded payments so deletion can refuse
// orders with money history.
func (r *repo) CountPaymentsByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("payments").
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error {
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantID, id).
		Delete(&domain.OrderDetail{}).Error
	if err != nil {
		return err
	}

	// A cancelled order may still carry an invoice from its paid days.
	err = db.WithContext(ctx).Exec(
		"DELETE FROM invoices WHERE tenant_id = ? AND order_id = ?", tenantID, id).Error
	if err != nil {
		return err
	}

	result := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.Order{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
