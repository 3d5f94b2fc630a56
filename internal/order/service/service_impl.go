package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/internal/actorcontext"
	"github.com/smallbiznis/printora/internal/clock"
	"github.com/smallbiznis/printora/internal/config"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	"github.com/smallbiznis/printora/internal/observability/metrics"
	"github.com/smallbiznis/printora/internal/order/domain"
	"github.com/smallbiznis/printora/internal/pricing"
	"github.com/smallbiznis/printora/pkg/db"
	"github.com/smallbiznis/printora/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Material  materialdomain.Service
	Inventory inventorydomain.Service
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
	material  materialdomain.Service
	inventory inventorydomain.Service
	activity  activitydomain.Service
	metrics   *metrics.Metrics
	shopCfg   *config.ShopConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		material:  p.Material,
		inventory: p.Inventory,
		activity:  p.Activity,
		metrics:   p.Metrics,
		shopCfg:   p.ShopCfg,
	}
}

// Create prices and persists the order, consuming roll stock for every
// line, as one transaction. Any shortfall aborts the whole order.
func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.Order{}, domain.ErrInvalidTenant
	}

	clientName := strings.TrimSpace(req.ClientName)
	if clientName == "" {
		return domain.Order{}, domain.ErrInvalidClient
	}
	if len(req.Details) == 0 {
		return domain.Order{}, domain.ErrInvalidDetail
	}

	priority := strings.TrimSpace(req.Priority)
	if priority == "" {
		priority = "normal"
	}

	margin := s.shopCfg.Get().WidthMargin
	now := s.clock.Now()
	orderID := s.genID.Generate()

	var created domain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orderNo, err := s.nextOrderNo(ctx, tx, actor.TenantID, now)
		if err != nil {
			return err
		}

		order := domain.Order{
			ID:           orderID,
			TenantID:     actor.TenantID,
			OrderNo:      orderNo,
			ClientName:   clientName,
			Status:       domain.StatusReceived,
			Priority:     priority,
			Notes:        strings.TrimSpace(req.Notes),
			SpecialOrder: req.SpecialOrder,
			ReceivedBy:   actor.EmployeeID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateOrderNo
			}
			return err
		}

		var total int64
		details := make([]domain.OrderDetail, 0, len(req.Details))
		for _, line := range req.Details {
			detail, lineTotal, err := s.buildDetail(ctx, tx, orderID, actor.TenantID, line, margin, req.SpecialOrder, now)
			if err != nil {
				return err
			}
			details = append(details, detail)
			total += lineTotal
		}
		if err := s.repo.InsertDetails(ctx, tx, details); err != nil {
			return err
		}

		err = tx.WithContext(ctx).Model(&domain.Order{}).
			Where("tenant_id = ? AND id = ?", actor.TenantID, orderID).
			Update("total_amount", total).Error
		if err != nil {
			return err
		}

		targetID := orderID.String()
		err = s.activity.Record(ctx, tx, activitydomain.Entry{
			Action:     "order.created",
			TargetType: "order",
			TargetID:   &targetID,
			Metadata: map[string]any{
				"order_no":      orderNo,
				"client_name":   clientName,
				"total_amount":  total,
				"special_order": req.SpecialOrder,
				"detail_count":  len(details),
			},
		})
		if err != nil {
			return err
		}

		order.TotalAmount = total
		order.Details = details
		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", created.ID.String()),
		zap.String("order_no", created.OrderNo),
		zap.Int64("total_amount", created.TotalAmount),
	)
	return created, nil
}

func (s *Service) buildDetail(
	ctx context.Context,
	tx *gorm.DB,
	orderID, tenantID snowflake.ID,
	line domain.CreateDetailRequest,
	margin int64,
	special bool,
	now time.Time,
) (domain.OrderDetail, int64, error) {

	if line.Width <= 0 || line.Length <= 0 || line.Quantity <= 0 {
		return domain.OrderDetail{}, 0, domain.ErrInvalidDetail
	}

	material, err := s.material.GetByIDInTx(ctx, tx, line.MaterialID)
	if err != nil {
		return domain.OrderDetail{}, 0, err
	}
	if !material.Active {
		return domain.OrderDetail{}, 0, domain.ErrInvalidDetail
	}

	widths, err := s.inventory.StockedWidths(ctx, tx, material.ID)
	if err != nil {
		return domain.OrderDetail{}, 0, err
	}
	selection, err := inventorydomain.SelectWidth(widths, line.Width, margin)
	if err != nil {
		return domain.OrderDetail{}, 0, err
	}
	if !selection.MarginMet {
		s.metrics.RecordMarginNotMet(ctx, material.Type)
		s.log.Warn("width margin not met, using widest stocked roll",
			zap.String("order_id", orderID.String()),
			zap.Int64("requested_width", line.Width),
			zap.Int64("chosen_width", selection.Width),
		)
	}

	surcharges := material.OptionSurcharges()
	quote, err := pricing.Compute(pricing.Input{
		Width:      line.Width,
		Length:     line.Length,
		Quantity:   line.Quantity,
		UnitPrice:  material.UnitPrice,
		Options:    line.Options,
		Surcharges: surcharges,
		Special:    special,
	})
	if err != nil {
		return domain.OrderDetail{}, 0, err
	}

	consumed := line.Length * line.Quantity
	_, err = s.inventory.AllocateInTx(ctx, tx, inventorydomain.AllocateRequest{
		OrderID:           orderID,
		MaterialID:        material.ID,
		Width:             selection.Width,
		TheoreticalLength: consumed,
		ActualLength:      consumed,
	})
	if err != nil {
		return domain.OrderDetail{}, 0, err
	}
	s.metrics.RecordOrderCreated(ctx, material.Type)

	options := datatypes.JSONMap{}
	for _, name := range line.Options {
		if surcharge, ok := surcharges[name]; ok {
			options[name] = surcharge
		}
	}

	var files datatypes.JSON
	if len(line.Files) > 0 {
		encoded, err := json.Marshal(line.Files)
		if err != nil {
			return domain.OrderDetail{}, 0, domain.ErrInvalidDetail
		}
		files = datatypes.JSON(encoded)
	}

	materialID := material.ID
	detail := domain.OrderDetail{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		OrderID:    orderID,
		MaterialID: &materialID,
		Quantity:   line.Quantity,
		Dimension: datatypes.JSONMap{
			"requested_width": line.Width,
			"material_width":  selection.Width,
			"length":          line.Length,
			"margin_met":      selection.MarginMet,
		},
		UnitPrice: quote.PerUnit,
		Subtotal:  quote.Total,
		Options:   options,
		Files:     files,
		Comment:   strings.TrimSpace(line.Comment),
		CreatedAt: now,
	}
	return detail, quote.Total, nil
}

// nextOrderNo numbers orders per tenant and day. The unique index on
// (tenant_id, order_no) catches the rare concurrent collision and the
// caller surfaces it as a conflict.
func (s *Service) nextOrderNo(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, now time.Time) (string, error) {
	prefix := fmt.Sprintf("ORD-%s-", now.Format("20060102"))
	count, err := s.repo.CountByOrderNoPrefix(ctx, tx, tenantID, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, count+1), nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Order, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return domain.Order{}, domain.ErrInvalidTenant
	}
	orderID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, domain.ErrInvalidID
	}
	order, err := s.repo.FindByID(ctx, s.db, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) GetByIDInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (domain.Order, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return domain.Order{}, domain.ErrInvalidTenant
	}
	if tx == nil {
		tx = s.db
	}
	order, err := s.repo.FindByID(ctx, tx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) List(ctx context.Context, req domain.ListOrderRequest) (domain.ListOrderResponse, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return domain.ListOrderResponse{}, domain.ErrInvalidTenant
	}

	if req.Status != "" && !domain.ValidStatus(domain.Status(req.Status)) {
		return domain.ListOrderResponse{}, domain.ErrIllegalTransition
	}

	var cursor *pagination.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListOrderResponse{}, domain.ErrInvalidPageToken
		}
		cursor = decoded
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}

	orders, err := s.repo.Find(ctx, s.db, tenantID, req, cursor)
	if err != nil {
		return domain.ListOrderResponse{}, err
	}

	resp := domain.ListOrderResponse{}
	if len(orders) > int(limit) {
		orders = orders[:limit]
		resp.HasMore = true
		last := orders[len(orders)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.Format(time.RFC3339Nano),
		})
		if err == nil {
			resp.NextPageToken = token
		}
	}
	resp.Orders = orders
	return resp, nil
}

func (s *Service) ApplyTransition(ctx context.Context, id string, target domain.Status) (domain.Order, error) {
	orderID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, domain.ErrInvalidID
	}

	var moved domain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.ApplyTransitionInTx(ctx, tx, orderID, target)
		if err != nil {
			return err
		}
		moved = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return moved, nil
}

// ApplyTransitionInTx validates the edge against the transition table and
// swaps the status with a guard on the previous value. Cancellation also
// returns consumed roll length to stock.
func (s *Service) ApplyTransitionInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, target domain.Status) (domain.Order, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.Order{}, domain.ErrInvalidTenant
	}
	if !domain.ValidStatus(target) {
		return domain.Order{}, domain.ErrIllegalTransition
	}

	order, err := s.repo.FindByID(ctx, tx, actor.TenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanTransition(order.Status, target) {
		return domain.Order{}, domain.ErrIllegalTransition
	}

	now := s.clock.Now()
	updates := map[string]any{"updated_at": now}
	switch target {
	case domain.StatusPaid:
		updates["cashier_id"] = actor.EmployeeID
	case domain.StatusPrinting:
		updates["designer_id"] = actor.EmployeeID
	}

	swapped, err := s.repo.UpdateStatus(ctx, tx, actor.TenantID, orderID, order.Status, target, updates)
	if err != nil {
		return domain.Order{}, err
	}
	if !swapped {
		// A concurrent transition moved the order first.
		return domain.Order{}, domain.ErrIllegalTransition
	}

	if target == domain.StatusCancelled {
		if err := s.inventory.ReleaseInTx(ctx, tx, orderID); err != nil {
			return domain.Order{}, err
		}
	}

	targetID := orderID.String()
	err = s.activity.Record(ctx, tx, activitydomain.Entry{
		Action:     "order.status_changed",
		TargetType: "order",
		TargetID:   &targetID,
		Metadata: map[string]any{
			"from": string(order.Status),
			"to":   string(target),
		},
	})
	if err != nil {
		return domain.Order{}, err
	}

	previous := order.Status
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.StatusPaid:
		employeeID := actor.EmployeeID
		order.CashierID = &employeeID
	case domain.StatusPrinting:
		employeeID := actor.EmployeeID
		order.DesignerID = &employeeID
	}

	s.log.Info("order transitioned",
		zap.String("order_id", orderID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(target)),
	)
	return *order, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.ErrInvalidTenant
	}
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	orderID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrInvalidID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByID(ctx, tx, actor.TenantID, orderID)
		if err != nil {
			return err
		}
		if !domain.Deletable(order.Status) {
			return domain.ErrNotDeletable
		}

		// Payments reference the order, so money history blocks deletion
		// until the payments are removed first.
		paymentCount, err := s.repo.CountPaymentsByOrder(ctx, tx, actor.TenantID, orderID)
		if err != nil {
			return err
		}
		if paymentCount > 0 {
			return domain.ErrOrderHasPayments
		}

		// A received order still holds stock; give it back before the
		// rows disappear.
		if order.Status == domain.StatusReceived {
			if err := s.inventory.ReleaseInTx(ctx, tx, orderID); err != nil {
				return err
			}
		}
		if err := s.repo.Delete(ctx, tx, actor.TenantID, orderID); err != nil {
			return err
		}

		targetID := orderID.String()
		return s.activity.Record(ctx, tx, activitydomain.Entry{
			Action:     "order.deleted",
			TargetType: "order",
			TargetID:   &targetID,
			Metadata: map[string]any{
				"order_no": order.OrderNo,
				"status":   string(order.Status),
			},
		})
	})
}
