package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/internal/inventory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) MaterialExists(ctx context.Context, db *gorm.DB, tenantID, materialID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("materials").
		Where("tenant_id = ? AND id = ?", tenantID, materialID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) InsertRoll(ctx context.Context, db *gorm.DB, roll *domain.Roll) error {
	return db.WithContext(ctx).Create(roll).Error
}

func (r *repo) FindRolls(
	ctx context.Context,
	db *gorm.DB,
	tenantID snowflake.ID,
	req domain.ListRollRequest,
) ([]domain.Roll, error) {

	query := db.WithContext(ctx).
		Model(&domain.Roll{}).
		Where("tenant_id = ?", tenantID)

	if req.MaterialID != "" {
		materialID, err := snowflake.ParseString(req.MaterialID)
		if err != nil {
			return nil, domain.ErrInvalidMaterial
		}
		query = query.Where("material_id = ?", materialID)
	}
	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}

	var rolls []domain.Roll
	if err := query.Order("received_at ASC").Order("id ASC").Find(&rolls).Error; err != nil {
		return nil, err
	}
	return rolls, nil
}

func (r *repo) FindRollByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Roll, error) {
	var roll domain.Roll
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&roll).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRollNotFound
		}
		return nil, err
	}
	return &roll, nil
}

// PickRoll prefers the roll that will be exhausted soonest so offcuts stay
// small. Ties break on the oldest ID.
func (r *repo) PickRoll(
	ctx context.Context,
	db *gorm.DB,
	tenantID, materialID snowflake.ID,
	width, length int64,
) (*domain.Roll, error) {

	var roll domain.Roll
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND material_id = ? AND width = ? AND active = ? AND remaining_length >= ?",
			tenantID, materialID, width, true, length).
		Order("remaining_length ASC").
		Order("id ASC").
		First(&roll).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInsufficientStock
		}
		return nil, err
	}
	return &roll, nil
}

// DecrementRoll guards the subtraction in the statement itself so two
// concurrent consumers can never drive remaining_length negative.
func (r *repo) DecrementRoll(
	ctx context.Context,
	db *gorm.DB,
	tenantID, rollID snowflake.ID,
	length int64,
	at time.Time,
) (bool, error) {

	result := db.WithContext(ctx).
		Model(&domain.Roll{}).
		Where("tenant_id = ? AND id = ? AND active = ? AND remaining_length >= ?",
			tenantID, rollID, true, length).
		Updates(map[string]any{
			"remaining_length": gorm.Expr("remaining_length - ?", length),
			"updated_at":       at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeactivateIfEmpty(
	ctx context.Context,
	db *gorm.DB,
	tenantID, rollID snowflake.ID,
	at time.Time,
) (bool, error) {

	result := db.WithContext(ctx).
		Model(&domain.Roll{}).
		Where("tenant_id = ? AND id = ? AND active = ? AND remaining_length = 0",
			tenantID, rollID, true).
		Updates(map[string]any{
			"active":     false,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CASRollState guards the write on the remaining length the caller read,
// so a roll that moved in between fails the swap instead of losing the
// concurrent update.
func (r *repo) CASRollState(
	ctx context.Context,
	db *gorm.DB,
	tenantID, rollID snowflake.ID,
	expectedRemaining, newLength int64,
	active bool,
	at time.Time,
) (bool, error) {

	result := db.WithContext(ctx).
		Model(&domain.Roll{}).
		Where("tenant_id = ? AND id = ? AND remaining_length = ?", tenantID, rollID, expectedRemaining).
		Updates(map[string]any{
			"remaining_length": newLength,
			"active":           active,
			"updated_at":       at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RestoreRoll gives length back as a relative increment, bounded by the
// initial length. The inactive branch runs first so the caller learns
// whether the active roll count changes.
func (r *repo) RestoreRoll(
	ctx context.Context,
	db *gorm.DB,
	tenantID, rollID snowflake.ID,
	length int64,
	at time.Time,
) (bool, error) {

	result := db.WithContext(ctx).
		Model(&domain.Roll{}).
		Where("tenant_id = ? AND id = ? AND active = ? AND remaining_length + ? <= initial_length",
			tenantID, rollID, false, length).
		Updates(map[string]any{
			"remaining_length": gorm.Expr("remaining_length + ?", length),
			"active":           true,
			"updated_at":       at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	result = db.WithContext(ctx).
		Model(&domain.Roll{}).
		Where("tenant_id = ? AND id = ? AND active = ? AND remaining_length + ? <= initial_length",
			tenantID, rollID, true, length).
		Updates(map[string]any{
			"remaining_length": gorm.Expr("remaining_length + ?", length),
			"updated_at":       at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, domain.ErrRollConflict
	}
	return false, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *domain.UsageRecord) error {
	return db.WithContext(ctx).Create(usage).Error
}

func (r *repo) FindValidUsageByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) ([]domain.UsageRecord, error) {
	var records []domain.UsageRecord
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ? AND valid = ?", tenantID, orderID, true).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) InvalidateUsageByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) error {
	return db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("tenant_id = ? AND order_id = ? AND valid = ?", tenantID, orderID, true).
		Update("valid", false).Error
}

func (r *repo) UpsertAggregate(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	tenantID, materialID snowflake.ID,
	width, lengthDelta, countDelta int64,
	at time.Time,
) error {

	result := db.WithContext(ctx).Exec(`
		UPDATE stock_aggregates
		SET total_length = total_length + ?, roll_count = roll_count + ?, updated_at = ?
		WHERE tenant_id = ? AND material_id = ? AND width = ?
	`, lengthDelta, countDelta, at, tenantID, materialID, width)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	aggregate := domain.StockAggregate{
		ID:          id,
		TenantID:    tenantID,
		MaterialID:  materialID,
		Width:       width,
		TotalLength: lengthDelta,
		RollCount:   countDelta,
		UpdatedAt:   at,
	}
	return db.WithContext(ctx).Create(&aggregate).Error
}

func (r *repo) StockedWidths(ctx context.Context, db *gorm.DB, tenantID, materialID snowflake.ID) ([]int64, error) {
	var widths []int64
	err := db.WithContext(ctx).
		Model(&domain.StockAggregate{}).
		Where("tenant_id = ? AND material_id = ? AND total_length > 0", tenantID, materialID).
		Order("width ASC").
		Pluck("width", &widths).Error
	if err != nil {
		return nil, err
	}
	return widths, nil
}

func (r *repo) StockReport(
	ctx context.Context,
	db *gorm.DB,
	tenantID snowflake.ID,
	materialID *snowflake.ID,
) ([]domain.StockRow, error) {

	query := db.WithContext(ctx).
		Table("rolls").
		Select("material_id, width, SUM(remaining_length) AS total_length, COUNT(*) AS roll_count").
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Group("material_id, width").
		Order("material_id, width")
	if materialID != nil {
		query = query.Where("material_id = ?", *materialID)
	}

	var rows []domain.StockRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
