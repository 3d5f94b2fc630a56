package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/internal/actorcontext"
	"github.com/smallbiznis/printora/internal/clock"
	"github.com/smallbiznis/printora/internal/inventory/domain"
	"github.com/smallbiznis/printora/internal/observability/metrics"
	"github.com/smallbiznis/printora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Activity activitydomain.Service
	Metrics  *metrics.Metrics
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	activity activitydomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("inventory.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		activity: p.Activity,
		metrics:  p.Metrics,
	}
}

func (s *Service) ReceiveRoll(ctx context.Context, req domain.ReceiveRollRequest) (domain.Roll, error) {
	var received domain.Roll
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roll, err := s.receiveRollInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		received = roll
		return nil
	})
	if err != nil {
		return domain.Roll{}, err
	}
	return received, nil
}

func (s *Service) ReceiveBatch(ctx context.Context, req domain.ReceiveBatchRequest) ([]domain.Roll, error) {
	if len(req.Rolls) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	var received []domain.Roll
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		received = received[:0]
		for _, item := range req.Rolls {
			roll, err := s.receiveRollInTx(ctx, tx, item)
			if err != nil {
				return err
			}
			received = append(received, roll)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return received, nil
}

func (s *Service) receiveRollInTx(ctx context.Context, tx *gorm.DB, req domain.ReceiveRollRequest) (domain.Roll, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.Roll{}, domain.ErrInvalidTenant
	}

	materialID, err := snowflake.ParseString(strings.TrimSpace(req.MaterialID))
	if err != nil {
		return domain.Roll{}, domain.ErrInvalidMaterial
	}
	if req.Width <= 0 {
		return domain.Roll{}, domain.ErrInvalidWidth
	}
	if req.Length <= 0 {
		return domain.Roll{}, domain.ErrInvalidLength
	}

	exists, err := s.repo.MaterialExists(ctx, tx, actor.TenantID, materialID)
	if err != nil {
		return domain.Roll{}, err
	}
	if !exists {
		return domain.Roll{}, domain.ErrMaterialNotFound
	}

	now := s.clock.Now()
	roll := domain.Roll{
		ID:              s.genID.Generate(),
		TenantID:        actor.TenantID,
		MaterialID:      materialID,
		Width:           req.Width,
		InitialLength:   req.Length,
		RemainingLength: req.Length,
		Active:          true,
		Supplier:        strings.TrimSpace(req.Supplier),
		PurchaseCost:    req.PurchaseCost,
		ReceivedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.InsertRoll(ctx, tx, &roll); err != nil {
		return domain.Roll{}, err
	}
	err = s.repo.UpsertAggregate(ctx, tx, s.genID.Generate(), actor.TenantID, materialID, req.Width, req.Length, 1, now)
	if err != nil {
		return domain.Roll{}, err
	}

	targetID := roll.ID.String()
	err = s.activity.Record(ctx, tx, activitydomain.Entry{
		Action:     "roll.received",
		TargetType: "roll",
		TargetID:   &targetID,
		Metadata: map[string]any{
			"material_id": materialID.String(),
			"width":       req.Width,
			"length":      req.Length,
			"supplier":    roll.Supplier,
		},
	})
	if err != nil {
		return domain.Roll{}, err
	}
	return roll, nil
}

func (s *Service) AdjustLength(ctx context.Context, req domain.AdjustRequest) (domain.Roll, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.Roll{}, domain.ErrInvalidTenant
	}
	rollID, err := snowflake.ParseString(strings.TrimSpace(req.RollID))
	if err != nil {
		return domain.Roll{}, domain.ErrInvalidRollID
	}
	if req.Length < 0 {
		return domain.Roll{}, domain.ErrInvalidLength
	}

	var adjusted domain.Roll
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roll, err := s.repo.FindRollByID(ctx, tx, actor.TenantID, rollID)
		if err != nil {
			return err
		}
		if req.Length > roll.InitialLength {
			return domain.ErrInvalidLength
		}

		now := s.clock.Now()
		newActive := req.Length > 0
		swapped, err := s.repo.CASRollState(ctx, tx, actor.TenantID, rollID, roll.RemainingLength, req.Length, newActive, now)
		if err != nil {
			return err
		}
		if !swapped {
			// A concurrent consume moved the roll since the read above,
			// so the deltas below would be wrong. The correction must be
			// retried against the current count.
			return domain.ErrRollConflict
		}

		// The aggregate only tracks active rolls, so the deltas depend on
		// whether this correction crosses the zero boundary.
		var lengthDelta, countDelta int64
		switch {
		case roll.Active && newActive:
			lengthDelta = req.Length - roll.RemainingLength
		case roll.Active && !newActive:
			lengthDelta = -roll.RemainingLength
			countDelta = -1
		case !roll.Active && newActive:
			lengthDelta = req.Length
			countDelta = 1
		}
		if lengthDelta != 0 || countDelta != 0 {
			err = s.repo.UpsertAggregate(ctx, tx, s.genID.Generate(), actor.TenantID, roll.MaterialID, roll.Width, lengthDelta, countDelta, now)
			if err != nil {
				return err
			}
		}

		targetID := roll.ID.String()
		err = s.activity.Record(ctx, tx, activitydomain.Entry{
			Action:     "roll.adjusted",
			TargetType: "roll",
			TargetID:   &targetID,
			Metadata: map[string]any{
				"previous_length": roll.RemainingLength,
				"new_length":      req.Length,
				"reason":          strings.TrimSpace(req.Reason),
			},
		})
		if err != nil {
			return err
		}

		roll.RemainingLength = req.Length
		roll.Active = newActive
		roll.UpdatedAt = now
		adjusted = *roll
		return nil
	})
	if err != nil {
		return domain.Roll{}, err
	}
	return adjusted, nil
}

func (s *Service) ListRolls(ctx context.Context, req domain.ListRollRequest) ([]domain.Roll, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.FindRolls(ctx, s.db, tenantID, req)
}

func (s *Service) GetRoll(ctx context.Context, id string) (domain.Roll, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return domain.Roll{}, domain.ErrInvalidTenant
	}
	rollID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.Roll{}, domain.ErrInvalidRollID
	}
	roll, err := s.repo.FindRollByID(ctx, s.db, tenantID, rollID)
	if err != nil {
		return domain.Roll{}, err
	}
	return *roll, nil
}

func (s *Service) StockReport(ctx context.Context, materialID string) ([]domain.StockRow, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}

	var filter *snowflake.ID
	if strings.TrimSpace(materialID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(materialID))
		if err != nil {
			return nil, domain.ErrInvalidMaterial
		}
		filter = &parsed
	}
	return s.repo.StockReport(ctx, s.db, tenantID, filter)
}

func (s *Service) StockedWidths(ctx context.Context, tx *gorm.DB, materialID snowflake.ID) ([]int64, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	if tx == nil {
		tx = s.db
	}
	return s.repo.StockedWidths(ctx, tx, tenantID, materialID)
}

// ConsumeInTx decrements one specific roll. The guard lives inside the
// UPDATE statement, so a concurrent consumer that empties the roll first
// turns this call into a typed failure instead of a negative balance.
func (s *Service) ConsumeInTx(ctx context.Context, tx *gorm.DB, req domain.ConsumeRequest) (domain.UsageRecord, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.UsageRecord{}, domain.ErrInvalidTenant
	}
	if req.ActualLength <= 0 {
		return domain.UsageRecord{}, domain.ErrInvalidLength
	}

	roll, err := s.repo.FindRollByID(ctx, tx, actor.TenantID, req.RollID)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if !roll.Active {
		return domain.UsageRecord{}, domain.ErrRollInactive
	}
	if req.ActualLength > roll.RemainingLength {
		return domain.UsageRecord{}, domain.ErrInsufficientLength
	}

	now := s.clock.Now()
	applied, err := s.repo.DecrementRoll(ctx, tx, actor.TenantID, roll.ID, req.ActualLength, now)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if !applied {
		// Lost the race against another consumer since the read above.
		return domain.UsageRecord{}, domain.ErrInsufficientLength
	}

	deactivated, err := s.repo.DeactivateIfEmpty(ctx, tx, actor.TenantID, roll.ID, now)
	if err != nil {
		return domain.UsageRecord{}, err
	}

	var countDelta int64
	if deactivated {
		countDelta = -1
	}
	err = s.repo.UpsertAggregate(ctx, tx, s.genID.Generate(), actor.TenantID, roll.MaterialID, roll.Width, -req.ActualLength, countDelta, now)
	if err != nil {
		return domain.UsageRecord{}, err
	}

	theoretical := req.TheoreticalLength
	if theoretical <= 0 {
		theoretical = req.ActualLength
	}
	usage := domain.UsageRecord{
		ID:                s.genID.Generate(),
		TenantID:          actor.TenantID,
		RollID:            roll.ID,
		OrderID:           req.OrderID,
		TheoreticalLength: theoretical,
		ActualLength:      req.ActualLength,
		Valid:             true,
		CreatedAt:         now,
	}
	if err := s.repo.InsertUsage(ctx, tx, &usage); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.UsageRecord{}, domain.ErrDuplicateUsage
		}
		return domain.UsageRecord{}, err
	}

	s.metrics.RecordRollConsumed(ctx, roll.MaterialID.String())
	s.log.Debug("roll consumed",
		zap.String("roll_id", roll.ID.String()),
		zap.String("order_id", req.OrderID.String()),
		zap.Int64("length", req.ActualLength),
	)
	return usage, nil
}

// AllocateInTx picks the roll and retries on the next candidate when a
// concurrent consumer wins the conditional decrement.
func (s *Service) AllocateInTx(ctx context.Context, tx *gorm.DB, req domain.AllocateRequest) (domain.UsageRecord, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.UsageRecord{}, domain.ErrInvalidTenant
	}
	if req.ActualLength <= 0 {
		return domain.UsageRecord{}, domain.ErrInvalidLength
	}

	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		roll, err := s.repo.PickRoll(ctx, tx, actor.TenantID, req.MaterialID, req.Width, req.ActualLength)
		if err != nil {
			return domain.UsageRecord{}, err
		}

		usage, err := s.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
			RollID:            roll.ID,
			OrderID:           req.OrderID,
			TheoreticalLength: req.TheoreticalLength,
			ActualLength:      req.ActualLength,
		})
		if err == nil {
			return usage, nil
		}
		if err == domain.ErrInsufficientLength || err == domain.ErrRollInactive {
			continue
		}
		return domain.UsageRecord{}, err
	}
	return domain.UsageRecord{}, domain.ErrInsufficientStock
}

func (s *Service) ReleaseInTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) error {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.ErrInvalidTenant
	}

	records, err := s.repo.FindValidUsageByOrder(ctx, tx, actor.TenantID, orderID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, usage := range records {
		// The read only supplies the immutable aggregate key. The length
		// goes back as a relative increment so a consume that lands between
		// the read and the write is never overwritten.
		roll, err := s.repo.FindRollByID(ctx, tx, actor.TenantID, usage.RollID)
		if err != nil {
			return err
		}

		reactivated, err := s.repo.RestoreRoll(ctx, tx, actor.TenantID, usage.RollID, usage.ActualLength, now)
		if err != nil {
			return err
		}

		var countDelta int64
		if reactivated {
			countDelta = 1
		}
		err = s.repo.UpsertAggregate(ctx, tx, s.genID.Generate(), actor.TenantID, roll.MaterialID, roll.Width, usage.ActualLength, countDelta, now)
		if err != nil {
			return err
		}
	}
	return s.repo.InvalidateUsageByOrder(ctx, tx, actor.TenantID, orderID)
}
