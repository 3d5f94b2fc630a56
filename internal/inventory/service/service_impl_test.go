package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	activityrepo "github.com/smallbiznis/printora/internal/activity/repository"
	activityservice "github.com/smallbiznis/printora/internal/activity/service"
	"github.com/smallbiznis/printora/internal/actorcontext"
	"github.com/smallbiznis/printora/internal/clock"
	"github.com/smallbiznis/printora/internal/inventory/domain"
	"github.com/smallbiznis/printora/internal/inventory/repository"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupInventoryService(t *testing.T, node *snowflake.Node) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	require.NoError(t, db.AutoMigrate(
		&materialdomain.Material{},
		&domain.Roll{},
		&domain.StockAggregate{},
		&domain.UsageRecord{},
		&activitydomain.ActivityLog{},
	))

	fakeClock := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	activitySvc := activityservice.NewService(activityservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  activityrepo.Provide(),
	})

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Repo:     repository.Provide(),
		Activity: activitySvc,
		Metrics:  nil,
	})
	return svc, db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func actorCtx(node *snowflake.Node, role string) (context.Context, actorcontext.Actor) {
	actor := actorcontext.Actor{
		EmployeeID: node.Generate(),
		Role:       role,
		TenantID:   node.Generate(),
	}
	return actorcontext.WithActor(context.Background(), actor), actor
}

func seedMaterialRow(t *testing.T, db *gorm.DB, node *snowflake.Node, ctx context.Context) snowflake.ID {
	t.Helper()
	actor, ok := actorcontext.ActorFromContext(ctx)
	require.True(t, ok)

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	material := materialdomain.Material{
		ID:        node.Generate(),
		TenantID:  actor.TenantID,
		Code:      fmt.Sprintf("MAT-%d", node.Generate()),
		Type:      "flexi",
		Name:      "Flexi China 280gr",
		UnitPrice: 25000,
		Unit:      "cm",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(&material).Error)
	return material.ID
}

func aggregateFor(t *testing.T, db *gorm.DB, materialID snowflake.ID, width int64) domain.StockAggregate {
	t.Helper()
	var aggregate domain.StockAggregate
	require.NoError(t, db.Where("material_id = ? AND width = ?", materialID, width).First(&aggregate).Error)
	return aggregate
}

func sumActiveRolls(t *testing.T, db *gorm.DB, materialID snowflake.ID, width int64) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&domain.Roll{}).
		Select("COALESCE(SUM(remaining_length), 0)").
		Where("material_id = ? AND width = ? AND active = ?", materialID, width, true).
		Scan(&total).Error)
	return total
}

func TestReceiveRollUpdatesAggregate(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     10000,
		Supplier:   "PT Vinyl Jaya",
	})
	require.NoError(t, err)
	require.Equal(t, int64(10000), roll.RemainingLength)
	require.True(t, roll.Active)

	aggregate := aggregateFor(t, db, materialID, 150)
	require.Equal(t, int64(10000), aggregate.TotalLength)
	require.Equal(t, int64(1), aggregate.RollCount)
}

func TestReceiveBatchIsAtomic(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	_, err := svc.ReceiveBatch(ctx, domain.ReceiveBatchRequest{
		Rolls: []domain.ReceiveRollRequest{
			{MaterialID: materialID.String(), Width: 100, Length: 5000},
			{MaterialID: materialID.String(), Width: 100, Length: -1},
		},
	})
	require.ErrorIs(t, err, domain.ErrInvalidLength)

	var count int64
	require.NoError(t, db.Model(&domain.Roll{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestConsumeDecrementsRollAndAggregate(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     10000,
	})
	require.NoError(t, err)

	orderID := node.Generate()
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
			RollID:       roll.ID,
			OrderID:      orderID,
			ActualLength: 1000,
		})
		return err
	})
	require.NoError(t, err)

	var updated domain.Roll
	require.NoError(t, db.First(&updated, "id = ?", roll.ID).Error)
	require.Equal(t, int64(9000), updated.RemainingLength)
	require.True(t, updated.Active)

	aggregate := aggregateFor(t, db, materialID, 150)
	require.Equal(t, int64(9000), aggregate.TotalLength)
	require.Equal(t, aggregate.TotalLength, sumActiveRolls(t, db, materialID, 150))
}

func TestConsumeInsufficientLengthLeavesStateUntouched(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     300,
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
			RollID:       roll.ID,
			OrderID:      node.Generate(),
			ActualLength: 1000,
		})
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientLength)

	var unchanged domain.Roll
	require.NoError(t, db.First(&unchanged, "id = ?", roll.ID).Error)
	require.Equal(t, int64(300), unchanged.RemainingLength)

	aggregate := aggregateFor(t, db, materialID, 150)
	require.Equal(t, int64(300), aggregate.TotalLength)
}

func TestConsumeExhaustionDeactivatesRoll(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      100,
		Length:     500,
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
			RollID:       roll.ID,
			OrderID:      node.Generate(),
			ActualLength: 500,
		})
		return err
	})
	require.NoError(t, err)

	var drained domain.Roll
	require.NoError(t, db.First(&drained, "id = ?", roll.ID).Error)
	require.Zero(t, drained.RemainingLength)
	require.False(t, drained.Active)

	aggregate := aggregateFor(t, db, materialID, 100)
	require.Zero(t, aggregate.TotalLength)
	require.Zero(t, aggregate.RollCount)
}

func TestConsumeDuplicateOrderRollRejected(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     10000,
	})
	require.NoError(t, err)

	orderID := node.Generate()
	consume := func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
				RollID:       roll.ID,
				OrderID:      orderID,
				ActualLength: 1000,
			})
			return err
		})
	}

	require.NoError(t, consume())
	require.ErrorIs(t, consume(), domain.ErrDuplicateUsage)

	// The rejected retry must not double-decrement.
	var after domain.Roll
	require.NoError(t, db.First(&after, "id = ?", roll.ID).Error)
	require.Equal(t, int64(9000), after.RemainingLength)
	require.Equal(t, int64(9000), aggregateFor(t, db, materialID, 150).TotalLength)
}

func TestConcurrentConsumeNeverOversells(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     500,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.Transaction(func(tx *gorm.DB) error {
				_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
					RollID:       roll.ID,
					OrderID:      node.Generate(),
					ActualLength: 400,
				})
				return err
			})
		}(i)
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientLength)
			failed++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)

	var after domain.Roll
	require.NoError(t, db.First(&after, "id = ?", roll.ID).Error)
	require.Equal(t, int64(100), after.RemainingLength)
	require.Equal(t, int64(100), aggregateFor(t, db, materialID, 150).TotalLength)
}

func TestAdjustLengthKeepsAggregateConsistent(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleAdmin)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     10000,
	})
	require.NoError(t, err)

	adjusted, err := svc.AdjustLength(ctx, domain.AdjustRequest{
		RollID: roll.ID.String(),
		Length: 7000,
		Reason: "physical recount",
	})
	require.NoError(t, err)
	require.Equal(t, int64(7000), adjusted.RemainingLength)
	require.Equal(t, int64(7000), aggregateFor(t, db, materialID, 150).TotalLength)

	// Correcting down to zero deactivates and drops the roll count.
	adjusted, err = svc.AdjustLength(ctx, domain.AdjustRequest{
		RollID: roll.ID.String(),
		Length: 0,
		Reason: "damaged stock written off",
	})
	require.NoError(t, err)
	require.False(t, adjusted.Active)

	aggregate := aggregateFor(t, db, materialID, 150)
	require.Zero(t, aggregate.TotalLength)
	require.Zero(t, aggregate.RollCount)
	require.Equal(t, aggregate.TotalLength, sumActiveRolls(t, db, materialID, 150))
}

func TestReleaseReturnsConsumedLength(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, _ := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     1000,
	})
	require.NoError(t, err)

	orderID := node.Generate()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
			RollID:       roll.ID,
			OrderID:      orderID,
			ActualLength: 1000,
		})
		return err
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.ReleaseInTx(ctx, tx, orderID)
	}))

	var restored domain.Roll
	require.NoError(t, db.First(&restored, "id = ?", roll.ID).Error)
	require.Equal(t, int64(1000), restored.RemainingLength)
	require.True(t, restored.Active)

	aggregate := aggregateFor(t, db, materialID, 150)
	require.Equal(t, int64(1000), aggregate.TotalLength)
	require.Equal(t, int64(1), aggregate.RollCount)

	var invalidated domain.UsageRecord
	require.NoError(t, db.First(&invalidated, "order_id = ?", orderID).Error)
	require.False(t, invalidated.Valid)
}

func TestAdjustStaleReadDoesNotOverwriteConsume(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, actor := actorCtx(node, actorcontext.RoleAdmin)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     10000,
	})
	require.NoError(t, err)

	// A consume lands after an earlier stock count read 10000.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
			RollID:       roll.ID,
			OrderID:      node.Generate(),
			ActualLength: 3000,
		})
		return err
	}))

	repo := repository.Provide()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	swapped, err := repo.CASRollState(ctx, db, actor.TenantID, roll.ID, 10000, 9500, true, now)
	require.NoError(t, err)
	require.False(t, swapped)

	var untouched domain.Roll
	require.NoError(t, db.First(&untouched, "id = ?", roll.ID).Error)
	require.Equal(t, int64(7000), untouched.RemainingLength)

	// The same correction against the current value goes through.
	swapped, err = repo.CASRollState(ctx, db, actor.TenantID, roll.ID, 7000, 6500, true, now)
	require.NoError(t, err)
	require.True(t, swapped)
}

func TestRestoreRollIsRelativeAndBounded(t *testing.T) {
	node := mustNode(t)
	svc, db := setupInventoryService(t, node)
	ctx, actor := actorCtx(node, actorcontext.RoleOperator)
	materialID := seedMaterialRow(t, db, node, ctx)

	roll, err := svc.ReceiveRoll(ctx, domain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      150,
		Length:     1000,
	})
	require.NoError(t, err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ConsumeInTx(ctx, tx, domain.ConsumeRequest{
			RollID:       roll.ID,
			OrderID:      node.Generate(),
			ActualLength: 1000,
		})
		return err
	}))

	repo := repository.Provide()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	// Overshooting the initial length is refused outright.
	_, err = repo.RestoreRoll(ctx, db, actor.TenantID, roll.ID, 1500, now)
	require.ErrorIs(t, err, domain.ErrRollConflict)

	reactivated, err := repo.RestoreRoll(ctx, db, actor.TenantID, roll.ID, 400, now)
	require.NoError(t, err)
	require.True(t, reactivated)

	// The roll is active again, so a second return must not report another
	// reactivation.
	reactivated, err = repo.RestoreRoll(ctx, db, actor.TenantID, roll.ID, 600, now)
	require.NoError(t, err)
	require.False(t, reactivated)

	var restored domain.Roll
	require.NoError(t, db.First(&restored, "id = ?", roll.ID).Error)
	require.Equal(t, int64(1000), restored.RemainingLength)
	require.True(t, restored.Active)
}
