package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	"github.com/smallbiznis/printora/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIfWithinOutstanding folds the status check, the overpayment check
// and the frozen balance into one statement, so two concurrent payments
// cannot both read the same balance and overshoot together, and an order
// that left received in between cannot take money anymore.
func (r *repo) InsertIfWithinOutstanding(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	result := db.WithContext(ctx).Exec(`
		INSERT INTO payments
			(id, tenant_id, order_id, amount, method, received_amount, change_amount, outstanding_after, created_by, created_at)
		SELECT
			?, o.tenant_id, o.id, ?, ?, ?, ?,
			o.total_amount - COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.order_id = o.id), 0) - ?,
			?, ?
		FROM orders o
		WHERE o.tenant_id = ? AND o.id = ? AND o.status = ?
		  AND o.total_amount - COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.order_id = o.id), 0) >= ?
	`,
		payment.ID, payment.Amount, payment.Method, payment.ReceivedAmount, payment.ChangeAmount,
		payment.Amount, payment.CreatedBy, payment.CreatedAt,
		payment.TenantID, payment.OrderID, orderdomain.StatusReceived, payment.Amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repo) FindByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) SumByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error {
	result := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.Payment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) UpsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO invoices (id, tenant_id, order_id, invoice_no, total_amount, issued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE
		SET total_amount = EXCLUDED.total_amount, updated_at = EXCLUDED.updated_at
	`,
		invoice.ID, invoice.TenantID, invoice.OrderID, invoice.InvoiceNo,
		invoice.TotalAmount, invoice.IssuedAt, invoice.UpdatedAt,
	).Error
}

func (r *repo) FindInvoiceByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) DeleteInvoiceByOrder(ctx context.Context, db *gorm.DB, tenantID, orderID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Delete(&domain.Invoice{}).Error
}
