// Package domain contains payment reconciliation and invoice models.
// Amounts are minor currency units.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	"gorm.io/gorm"
)

// Payment is one accepted payment against an order. OutstandingAfter is
// the balance frozen at acceptance time so historical receipts stay
// accurate when later payments move the running balance.
type Payment struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	OrderID          snowflake.ID `json:"order_id" gorm:"not null;index"`
	Amount           int64        `json:"amount" gorm:"not null"`
	Method           string       `json:"method" gorm:"type:text;not null"`
	ReceivedAmount   int64        `json:"received_amount" gorm:"not null"`
	ChangeAmount     int64        `json:"change_amount" gorm:"not null"`
	OutstandingAfter int64        `json:"outstanding_after" gorm:"not null"`
	CreatedBy        snowflake.ID `json:"created_by" gorm:"not null"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Invoice is issued once per order on first full payment. The unique
// order_id index makes later writes update the same row.
type Invoice struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	OrderID     snowflake.ID `json:"order_id" gorm:"not null;uniqueIndex:ux_invoices_order"`
	InvoiceNo   string       `json:"invoice_no" gorm:"type:text;not null"`
	TotalAmount int64        `json:"total_amount" gorm:"not null"`
	IssuedAt    time.Time    `json:"issued_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

type RecordPaymentRequest struct {
	OrderID        string
	Amount         int64
	Method         string
	ReceivedAmount int64
}

// Snapshot is the read-only view handed to invoicing and PDF rendering.
type Snapshot struct {
	Order    orderdomain.Order            `json:"order"`
	Payments []Payment                    `json:"payments"`
	Invoice  *Invoice                     `json:"invoice,omitempty"`
	Usage    []inventorydomain.UsageRecord `json:"usage,omitempty"`
}

type Service interface {
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (Payment, error)
	// DeletePayment reverses the payment. When the order had reached paid
	// it drops back to received and the invoice goes with it, both in the
	// same transaction.
	DeletePayment(ctx context.Context, id string) error
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	Outstanding(ctx context.Context, orderID string) (int64, error)
	Snapshot(ctx context.Context, orderID string) (Snapshot, error)
}

type Repository interface {
	// InsertIfWithinOutstanding persists the payment only when the
	// order's outstanding balance still covers the amount, computing the
	// frozen post-payment balance in the same statement. Returns false
	// when the guard rejects it.
	InsertIfWithinOutstanding(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Payment, error)
	FindByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) ([]Payment, error)
	SumByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error
	UpsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindInvoiceByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) (*Invoice, error)
	DeleteInvoiceByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) error
}

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidMethod      = errors.New("invalid_method")
	ErrNotFound           = errors.New("payment_not_found")
	ErrOverpayment        = errors.New("overpayment_rejected")
	ErrInsufficientTender = errors.New("insufficient_tender")
	ErrOrderNotPayable    = errors.New("order_not_payable")
	ErrOrderNotRevertible = errors.New("order_not_revertible")
)
