package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/internal/actorcontext"
	"github.com/smallbiznis/printora/internal/clock"
	"github.com/smallbiznis/printora/internal/config"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
	"github.com/smallbiznis/printora/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	"github.com/smallbiznis/printora/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Order     orderdomain.Service
	Inventory inventorydomain.Repository
	Activity  activitydomain.Service
	Metrics   *metrics.Metrics
	ShopCfg   *config.ShopConfigHolder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	order     orderdomain.Service
	inventory inventorydomain.Repository
	activity  activitydomain.Service
	metrics   *metrics.Metrics
	shopCfg   *config.ShopConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		order:     p.Order,
		inventory: p.Inventory,
		activity:  p.Activity,
		metrics:   p.Metrics,
		shopCfg:   p.ShopCfg,
	}
}

// RecordPayment accepts a payment against the order's outstanding balance.
// When the balance hits zero the order moves to paid and the invoice is
// issued, all in one transaction.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (domain.Payment, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.Payment{}, domain.ErrInvalidTenant
	}

	orderID, err := snowflake.ParseString(strings.TrimSpace(req.OrderID))
	if err != nil {
		return domain.Payment{}, domain.ErrInvalidID
	}
	if req.Amount <= 0 {
		return domain.Payment{}, domain.ErrInvalidAmount
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		return domain.Payment{}, domain.ErrInvalidMethod
	}

	shopCfg := s.shopCfg.Get()
	received := req.Amount
	var change int64
	if shopCfg.IsCashMethod(method) {
		if req.ReceivedAmount < req.Amount {
			return domain.Payment{}, domain.ErrInsufficientTender
		}
		received = req.ReceivedAmount
		change = req.ReceivedAmount - req.Amount
	}

	var recorded domain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.order.GetByIDInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != orderdomain.StatusReceived {
			return domain.ErrOrderNotPayable
		}

		now := s.clock.Now()
		payment := domain.Payment{
			ID:             s.genID.Generate(),
			TenantID:       actor.TenantID,
			OrderID:        orderID,
			Amount:         req.Amount,
			Method:         method,
			ReceivedAmount: received,
			ChangeAmount:   change,
			CreatedBy:      actor.EmployeeID,
			CreatedAt:      now,
		}
		inserted, err := s.repo.InsertIfWithinOutstanding(ctx, tx, &payment)
		if err != nil {
			return err
		}
		if !inserted {
			// The statement filters on status as well as balance. Re-read
			// to tell the two rejections apart.
			current, err := s.order.GetByIDInTx(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if current.Status != orderdomain.StatusReceived {
				return domain.ErrOrderNotPayable
			}
			return domain.ErrOverpayment
		}

		// Re-read for the balance the insert statement froze in.
		stored, err := s.repo.FindByID(ctx, tx, actor.TenantID, payment.ID)
		if err != nil {
			return err
		}
		payment.OutstandingAfter = stored.OutstandingAfter

		if payment.OutstandingAfter == 0 {
			if _, err := s.order.ApplyTransitionInTx(ctx, tx, orderID, orderdomain.StatusPaid); err != nil {
				return err
			}

			invoice := domain.Invoice{
				ID:          s.genID.Generate(),
				TenantID:    actor.TenantID,
				OrderID:     orderID,
				InvoiceNo:   "INV-" + strings.TrimPrefix(order.OrderNo, "ORD-"),
				TotalAmount: order.TotalAmount,
				IssuedAt:    now,
				UpdatedAt:   now,
			}
			if err := s.repo.UpsertInvoice(ctx, tx, &invoice); err != nil {
				return err
			}
		}

		targetID := payment.ID.String()
		orderRef := orderID.String()
		err = s.activity.Record(ctx, tx, activitydomain.Entry{
			Action:     "payment.recorded",
			TargetType: "payment",
			TargetID:   &targetID,
			Metadata: map[string]any{
				"order_id":          orderRef,
				"amount":            payment.Amount,
				"method":            payment.Method,
				"outstanding_after": payment.OutstandingAfter,
			},
		})
		if err != nil {
			return err
		}

		recorded = payment
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.metrics.RecordPayment(ctx, method)
	s.log.Info("payment recorded",
		zap.String("payment_id", recorded.ID.String()),
		zap.String("order_id", orderID.String()),
		zap.Int64("amount", recorded.Amount),
		zap.Int64("outstanding_after", recorded.OutstandingAfter),
	)
	return recorded, nil
}

// DeletePayment reverses a payment. A paid order drops back to received,
// the cashier attribution is cleared, and the invoice is removed. Admin
// only, since this rewrites money history.
func (s *Service) DeletePayment(ctx context.Context, id string) error {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.ErrInvalidTenant
	}
	if !actor.IsAdmin() {
		return orderdomain.ErrForbidden
	}
	paymentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrInvalidID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByID(ctx, tx, actor.TenantID, paymentID)
		if err != nil {
			return err
		}

		order, err := s.order.GetByIDInTx(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		// Once production started the payment is part of settled history.
		// Reversing it here would leave an order in printing with an open
		// balance and a dangling invoice.
		switch order.Status {
		case orderdomain.StatusPrinting, orderdomain.StatusCompleted, orderdomain.StatusDelivered:
			return domain.ErrOrderNotRevertible
		}

		if err := s.repo.Delete(ctx, tx, actor.TenantID, paymentID); err != nil {
			return err
		}

		if order.Status == orderdomain.StatusPaid {
			reverted := tx.WithContext(ctx).
				Model(&orderdomain.Order{}).
				Where("tenant_id = ? AND id = ? AND status = ?",
					actor.TenantID, payment.OrderID, orderdomain.StatusPaid).
				Updates(map[string]any{
					"status":     orderdomain.StatusReceived,
					"cashier_id": nil,
					"updated_at": s.clock.Now(),
				})
			if reverted.Error != nil {
				return reverted.Error
			}
			if reverted.RowsAffected == 0 {
				return orderdomain.ErrIllegalTransition
			}
			if err := s.repo.DeleteInvoiceByOrder(ctx, tx, actor.TenantID, payment.OrderID); err != nil {
				return err
			}
		}

		targetID := paymentID.String()
		orderRef := payment.OrderID.String()
		return s.activity.Record(ctx, tx, activitydomain.Entry{
			Action:     "payment.deleted",
			TargetType: "payment",
			TargetID:   &targetID,
			Metadata: map[string]any{
				"order_id": orderRef,
				"amount":   payment.Amount,
			},
		})
	})
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	id, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	return s.repo.FindByOrder(ctx, s.db, tenantID, id)
}

func (s *Service) Outstanding(ctx context.Context, orderID string) (int64, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidTenant
	}
	id, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil {
		return 0, domain.ErrInvalidID
	}

	order, err := s.order.GetByID(ctx, orderID)
	if err != nil {
		return 0, err
	}
	paid, err := s.repo.SumByOrder(ctx, s.db, tenantID, id)
	if err != nil {
		return 0, err
	}
	return order.TotalAmount - paid, nil
}

// Snapshot assembles the finalized order view for invoicing and rendering.
func (s *Service) Snapshot(ctx context.Context, orderID string) (domain.Snapshot, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return domain.Snapshot{}, domain.ErrInvalidTenant
	}
	id, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil {
		return domain.Snapshot{}, domain.ErrInvalidID
	}

	order, err := s.order.GetByID(ctx, orderID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	payments, err := s.repo.FindByOrder(ctx, s.db, tenantID, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	invoice, err := s.repo.FindInvoiceByOrder(ctx, s.db, tenantID, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	usage, err := s.inventory.FindValidUsageByOrder(ctx, s.db, tenantID, id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	return domain.Snapshot{
		Order:    order,
		Payments: payments,
		Invoice:  invoice,
		Usage:    usage,
	}, nil
}
