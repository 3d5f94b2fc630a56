// Package domain contains roll inventory and stock aggregate models.
// Lengths and widths are whole centimeters so aggregate math stays exact.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Roll is one physical roll of material. RemainingLength only ever moves
// through conditional updates so concurrent consumption cannot oversell.
// Invariant: 0 <= RemainingLength <= InitialLength and Active is true
// exactly while RemainingLength > 0.
type Roll struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID        snowflake.ID `json:"tenant_id" gorm:"not null;index:ix_rolls_tenant_material"`
	MaterialID      snowflake.ID `json:"material_id" gorm:"not null;index:ix_rolls_tenant_material"`
	Width           int64        `json:"width" gorm:"not null"`
	InitialLength   int64        `json:"initial_length" gorm:"not null"`
	RemainingLength int64        `json:"remaining_length" gorm:"not null"`
	Active          bool         `json:"active" gorm:"not null;default:true"`
	Supplier        string       `json:"supplier" gorm:"type:text"`
	PurchaseCost    int64        `json:"purchase_cost" gorm:"not null;default:0"`
	ReceivedAt      time.Time    `json:"received_at" gorm:"not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Roll) TableName() string { return "rolls" }

// StockAggregate caches total remaining length and active roll count per
// material and width. Invariant: TotalLength equals the sum of
// remaining_length over the active rolls for the same key, and RollCount
// equals the number of those rolls. Deltas apply in the same transaction
// as the roll mutation they mirror.
type StockAggregate struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_stock_tenant_material_width"`
	MaterialID  snowflake.ID `json:"material_id" gorm:"not null;uniqueIndex:ux_stock_tenant_material_width"`
	Width       int64        `json:"width" gorm:"not null;uniqueIndex:ux_stock_tenant_material_width"`
	TotalLength int64        `json:"total_length" gorm:"not null"`
	RollCount   int64        `json:"roll_count" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (StockAggregate) TableName() string { return "stock_aggregates" }

// UsageRecord ties a consumption to the order that caused it. The unique
// (roll_id, order_id) index makes retried consumption idempotent. Records
// are never deleted; a cancelled order marks them invalid after the length
// is returned to the roll.
type UsageRecord struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	RollID            snowflake.ID `json:"roll_id" gorm:"not null;uniqueIndex:ux_usage_roll_order"`
	OrderID           snowflake.ID `json:"order_id" gorm:"not null;uniqueIndex:ux_usage_roll_order"`
	TheoreticalLength int64        `json:"theoretical_length" gorm:"not null"`
	ActualLength      int64        `json:"actual_length" gorm:"not null"`
	Valid             bool         `json:"valid" gorm:"not null;default:true"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

type ReceiveRollRequest struct {
	MaterialID   string
	Width        int64
	Length       int64
	Supplier     string
	PurchaseCost int64
}

type ReceiveBatchRequest struct {
	Rolls []ReceiveRollRequest
}

// AdjustRequest corrects a roll's remaining length after a physical count.
type AdjustRequest struct {
	RollID string
	Length int64
	Reason string
}

// ConsumeRequest consumes length from one specific roll for an order.
type ConsumeRequest struct {
	RollID            snowflake.ID
	OrderID           snowflake.ID
	TheoreticalLength int64
	ActualLength      int64
}

// AllocateRequest lets the service pick the roll for a material and width.
type AllocateRequest struct {
	OrderID           snowflake.ID
	MaterialID        snowflake.ID
	Width             int64
	TheoreticalLength int64
	ActualLength      int64
}

type ListRollRequest struct {
	MaterialID string
	Active     *bool
}

// StockRow is one line of the stock report.
type StockRow struct {
	MaterialID  snowflake.ID `json:"material_id"`
	Width       int64        `json:"width"`
	TotalLength int64        `json:"total_length"`
	RollCount   int64        `json:"roll_count"`
}

type Service interface {
	ReceiveRoll(ctx context.Context, req ReceiveRollRequest) (Roll, error)
	ReceiveBatch(ctx context.Context, req ReceiveBatchRequest) ([]Roll, error)
	AdjustLength(ctx context.Context, req AdjustRequest) (Roll, error)
	ListRolls(ctx context.Context, req ListRollRequest) ([]Roll, error)
	GetRoll(ctx context.Context, id string) (Roll, error)
	StockReport(ctx context.Context, materialID string) ([]StockRow, error)

	// StockedWidths returns the distinct widths with positive stock for a
	// material, ascending, for width selection.
	StockedWidths(ctx context.Context, tx *gorm.DB, materialID snowflake.ID) ([]int64, error)
	// ConsumeInTx decrements one roll inside the caller's transaction so
	// the decrement commits or aborts with the surrounding order.
	ConsumeInTx(ctx context.Context, tx *gorm.DB, req ConsumeRequest) (UsageRecord, error)
	// AllocateInTx picks a suitable roll for the material and width, then
	// consumes from it.
	AllocateInTx(ctx context.Context, tx *gorm.DB, req AllocateRequest) (UsageRecord, error)
	// ReleaseInTx returns previously consumed length when an order is
	// cancelled and marks its usage records invalid.
	ReleaseInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) error
}

type Repository interface {
	// MaterialExists reports whether the referenced material row is
	// present for the tenant, so rolls cannot be received against ghosts.
	MaterialExists(ctx context.Context, db *gorm.DB, tenantID, materialID snowflake.ID) (bool, error)
	InsertRoll(ctx context.Context, db *gorm.DB, roll *Roll) error
	FindRolls(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, req ListRollRequest) ([]Roll, error)
	FindRollByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Roll, error)
	// PickRoll chooses the active roll of the given width with the least
	// remaining length still covering the request, lowest ID on ties.
	PickRoll(ctx context.Context, db *gorm.DB, tenantID, materialID snowflake.ID, width, length int64) (*Roll, error)
	// DecrementRoll subtracts length only while the roll is active and
	// still has enough remaining. Returns false when the guard fails.
	DecrementRoll(ctx context.Context, db *gorm.DB, tenantID, rollID snowflake.ID, length int64, at time.Time) (bool, error)
	// DeactivateIfEmpty flips active off once remaining hits zero and
	// reports whether this call did the flip.
	DeactivateIfEmpty(ctx context.Context, db *gorm.DB, tenantID, rollID snowflake.ID, at time.Time) (bool, error)
	// CASRollState swaps remaining length and active flag only while the
	// previous remaining length still matches, so a correction based on a
	// stale read fails instead of overwriting a concurrent consume.
	CASRollState(ctx context.Context, db *gorm.DB, tenantID, rollID snowflake.ID, expectedRemaining, newLength int64, active bool, at time.Time) (bool, error)
	// RestoreRoll adds returned length back onto the roll relative to its
	// current value, reactivating it when needed. Reports whether this
	// call did the reactivation.
	RestoreRoll(ctx context.Context, db *gorm.DB, tenantID, rollID snowflake.ID, length int64, at time.Time) (reactivated bool, err error)
	InsertUsage(ctx context.Context, db *gorm.DB, usage *UsageRecord) error
	FindValidUsageByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) ([]UsageRecord, error)
	InvalidateUsageByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) error
	// UpsertAggregate adds the deltas to the cached totals, inserting the
	// row on first touch of a (material, width) pair.
	UpsertAggregate(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID, materialID snowflake.ID, width, lengthDelta, countDelta int64, at time.Time) error
	StockedWidths(ctx context.Context, db *gorm.DB, tenantID, materialID snowflake.ID) ([]int64, error)
	StockReport(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, materialID *snowflake.ID) ([]StockRow, error)
}

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidMaterial    = errors.New("invalid_material")
	ErrInvalidWidth       = errors.New("invalid_width")
	ErrInvalidLength      = errors.New("invalid_length")
	ErrInvalidRollID      = errors.New("invalid_roll_id")
	ErrMaterialNotFound   = errors.New("material_not_found")
	ErrRollNotFound       = errors.New("roll_not_found")
	ErrRollInactive       = errors.New("roll_inactive")
	ErrRollConflict       = errors.New("roll_conflict")
	ErrInsufficientLength = errors.New("insufficient_length")
	ErrInsufficientStock  = errors.New("insufficient_stock")
	ErrDuplicateUsage     = errors.New("duplicate_usage")
	ErrEmptyBatch         = errors.New("empty_batch")
)
