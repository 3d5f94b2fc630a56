// Package domain contains the order aggregate and its lifecycle.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Order is the aggregate root. TotalAmount is minor currency units and is
// the sum of detail subtotals, zero for special orders. Employee references
// are set only by the transition that introduces them.
type Order struct {
	ID           snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID  `json:"tenant_id" gorm:"not null;uniqueIndex:ux_orders_tenant_no"`
	OrderNo      string        `json:"order_no" gorm:"type:text;not null;uniqueIndex:ux_orders_tenant_no"`
	ClientName   string        `json:"client_name" gorm:"type:text;not null"`
	Status       Status        `json:"status" gorm:"type:text;not null"`
	Priority     string        `json:"priority" gorm:"type:text;not null;default:'normal'"`
	Notes        string        `json:"notes" gorm:"type:text"`
	SpecialOrder bool          `json:"special_order" gorm:"not null;default:false"`
	TotalAmount  int64         `json:"total_amount" gorm:"not null"`
	ReceivedBy   snowflake.ID  `json:"received_by" gorm:"not null"`
	CashierID    *snowflake.ID `json:"cashier_id"`
	DesignerID   *snowflake.ID `json:"designer_id"`
	CreatedAt    time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time     `json:"updated_at" gorm:"not null"`

	Details []OrderDetail `json:"details,omitempty" gorm:"foreignKey:OrderID"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderDetail is one priced line. Dimension keeps the width-selection
// outcome so the price can be re-derived from the row alone. MaterialID
// goes nil if the material row is ever purged, the snapshot fields stay.
type OrderDetail struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID   snowflake.ID      `json:"tenant_id" gorm:"not null;index"`
	OrderID    snowflake.ID      `json:"order_id" gorm:"not null;index"`
	MaterialID *snowflake.ID     `json:"material_id"`
	Quantity   int64             `json:"quantity" gorm:"not null"`
	Dimension  datatypes.JSONMap `json:"dimension" gorm:"type:jsonb;not null;default:'{}'"`
	UnitPrice  int64             `json:"unit_price" gorm:"not null"`
	Subtotal   int64             `json:"subtotal" gorm:"not null"`
	Options    datatypes.JSONMap `json:"options" gorm:"type:jsonb;not null;default:'{}'"`
	Files      datatypes.JSON    `json:"files" gorm:"type:jsonb"`
	Comment    string            `json:"comment" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (OrderDetail) TableName() string { return "order_details" }

// File is an opaque reference to an uploaded print artifact. Contents are
// never opened here.
type File struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

type CreateDetailRequest struct {
	MaterialID string
	Width      int64
	Length     int64
	Quantity   int64
	Options    []string
	Comment    string
	Files      []File
}

type CreateOrderRequest struct {
	ClientName   string
	Priority     string
	Notes        string
	SpecialOrder bool
	Details      []CreateDetailRequest
}

type ListOrderRequest struct {
	PageToken string
	PageSize  int32
	Status    string
}

type ListOrderResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	// GetByIDInTx reads the order through the caller's transaction so a
	// decision made on it holds for the rest of that transaction.
	GetByIDInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (Order, error)
	List(ctx context.Context, req ListOrderRequest) (ListOrderResponse, error)
	ApplyTransition(ctx context.Context, id string, target Status) (Order, error)
	// ApplyTransitionInTx runs the transition inside the caller's
	// transaction, for callers that must move the order and write their
	// own rows as one unit.
	ApplyTransitionInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, target Status) (Order, error)
	// Delete removes an order while it is still received or cancelled.
	// Admin only.
	Delete(ctx context.Context, id string) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertDetails(ctx context.Context, db *gorm.DB, details []OrderDetail) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Order, error)
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, req ListOrderRequest, cursor *pagination.Cursor) ([]Order, error)
	// UpdateStatus moves the order only when its status still matches
	// expected, reporting whether the swap happened.
	UpdateStatus(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, expected, target Status, updates map[string]any) (bool, error)
	CountByOrderNoPrefix(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, prefix string) (int64, error)
	CountPaymentsByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidClient     = errors.New("invalid_client")
	ErrInvalidDetail     = errors.New("invalid_detail")
	ErrNotFound          = errors.New("order_not_found")
	ErrIllegalTransition = errors.New("illegal_transition")
	ErrNotDeletable      = errors.New("order_not_deletable")
	ErrOrderHasPayments  = errors.New("order_has_payments")
	ErrDuplicateOrderNo  = errors.New("duplicate_order_no")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
