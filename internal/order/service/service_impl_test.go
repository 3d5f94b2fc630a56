package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	activityrepo "github.com/smallbiznis/printora/internal/activity/repository"
	activityservice "github.com/smallbiznis/printora/internal/activity/service"
	"github.com/smallbiznis/printora/internal/actorcontext"
	"github.com/smallbiznis/printora/internal/clock"
	"github.com/smallbiznis/printora/internal/config"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
	inventoryrepo "github.com/smallbiznis/printora/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/printora/internal/inventory/service"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	materialrepo "github.com/smallbiznis/printora/internal/material/repository"
	materialservice "github.com/smallbiznis/printora/internal/material/service"
	"github.com/smallbiznis/printora/internal/order/domain"
	"github.com/smallbiznis/printora/internal/order/repository"
	paymentdomain "github.com/smallbiznis/printora/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type orderFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	tenant    snowflake.ID
	orders    domain.Service
	materials materialdomain.Service
	inventory inventorydomain.Service
}

func setupOrderService(t *testing.T) *orderFixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

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
		&inventorydomain.Roll{},
		&inventorydomain.StockAggregate{},
		&inventorydomain.UsageRecord{},
		&domain.Order{},
		&domain.OrderDetail{},
		&paymentdomain.Payment{},
		&paymentdomain.Invoice{},
		&activitydomain.ActivityLog{},
	))

	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	activitySvc := activityservice.NewService(activityservice.Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock, Repo: activityrepo.Provide(),
	})
	materialSvc := materialservice.NewService(materialservice.Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock, Repo: materialrepo.Provide(), Activity: activitySvc,
	})
	inventorySvc := inventoryservice.NewService(inventoryservice.Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock, Repo: inventoryrepo.Provide(), Activity: activitySvc,
	})
	orderSvc := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fakeClock,
		Repo:      repository.Provide(),
		Material:  materialSvc,
		Inventory: inventorySvc,
		Activity:  activitySvc,
		ShopCfg:   config.NewStaticShopConfigHolder(config.DefaultShopConfig()),
	})

	return &orderFixture{db: db, node: node, orders: orderSvc, materials: materialSvc, inventory: inventorySvc}
}

func (f *orderFixture) actorCtx(role string) context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{
		EmployeeID: f.node.Generate(),
		Role:       role,
		TenantID:   f.tenantID(),
	})
}

// tenantID is stable per fixture so every service call lands in one tenant.
func (f *orderFixture) tenantID() snowflake.ID {
	if f.tenant == 0 {
		f.tenant = f.node.Generate()
	}
	return f.tenant
}

func (f *orderFixture) seedMaterial(t *testing.T, ctx context.Context, unitPrice int64, options map[string]int64) materialdomain.Material {
	t.Helper()
	material, err := f.materials.Create(ctx, materialdomain.CreateMaterialRequest{
		Code:      fmt.Sprintf("FLEXI-%d", f.node.Generate()),
		Type:      "flexi",
		Name:      "Flexi China 280gr",
		UnitPrice: unitPrice,
		Options:   options,
	})
	require.NoError(t, err)
	return material
}

func (f *orderFixture) seedRoll(t *testing.T, ctx context.Context, materialID snowflake.ID, width, length int64) inventorydomain.Roll {
	t.Helper()
	roll, err := f.inventory.ReceiveRoll(ctx, inventorydomain.ReceiveRollRequest{
		MaterialID: materialID.String(),
		Width:      width,
		Length:     length,
	})
	require.NoError(t, err)
	return roll
}

func TestCreateOrderPricesAndConsumesStock(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, nil)
	roll := f.seedRoll(t, ctx, material.ID, 160, 10000)

	order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName: "Toko Berkah",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 150, Length: 200, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusReceived, order.Status)
	require.Equal(t, "ORD-20240601-0001", order.OrderNo)

	// 150x200 cm at 25000 per square meter is 3 square meters.
	require.Equal(t, int64(75000), order.TotalAmount)
	require.Len(t, order.Details, 1)
	detail := order.Details[0]
	require.Equal(t, int64(75000), detail.Subtotal)
	require.Equal(t, int64(150), detail.Dimension["requested_width"])
	require.Equal(t, int64(160), detail.Dimension["material_width"])
	require.Equal(t, true, detail.Dimension["margin_met"])

	var after inventorydomain.Roll
	require.NoError(t, f.db.First(&after, "id = ?", roll.ID).Error)
	require.Equal(t, int64(9800), after.RemainingLength)
}

func TestCreateOrderNumbersPerDay(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, nil)
	f.seedRoll(t, ctx, material.ID, 160, 10000)

	for i, want := range []string{"ORD-20240601-0001", "ORD-20240601-0002", "ORD-20240601-0003"} {
		order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
			ClientName: fmt.Sprintf("Client %d", i),
			Details: []domain.CreateDetailRequest{
				{MaterialID: material.ID.String(), Width: 100, Length: 100, Quantity: 1},
			},
		})
		require.NoError(t, err)
		require.Equal(t, want, order.OrderNo)
	}
}

func TestCreateOrderFallsBackToWidestWidth(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, nil)
	f.seedRoll(t, ctx, material.ID, 100, 10000)

	// 120 + 5 margin exceeds every stocked width, so the widest roll is
	// used and the shortfall is recorded on the line.
	order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName: "Warung Printilan",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 120, Length: 100, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), order.Details[0].Dimension["material_width"])
	require.Equal(t, false, order.Details[0].Dimension["margin_met"])
}

func TestCreateOrderAppliesOptionSurcharges(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, map[string]int64{"eyelets": 2000})
	f.seedRoll(t, ctx, material.ID, 160, 10000)

	order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName: "CV Spanduk Kita",
		Details: []domain.CreateDetailRequest{
			{
				MaterialID: material.ID.String(),
				Width:      100,
				Length:     100,
				Quantity:   2,
				Options:    []string{"eyelets", "nonexistent"},
			},
		},
	})
	require.NoError(t, err)

	// One square meter per piece: base 25000 plus eyelets 2000, twice.
	require.Equal(t, int64(54000), order.TotalAmount)
	detail := order.Details[0]
	require.Contains(t, detail.Options, "eyelets")
	require.NotContains(t, detail.Options, "nonexistent")
}

func TestCreateSpecialOrderHasZeroTotal(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, nil)
	roll := f.seedRoll(t, ctx, material.ID, 160, 10000)

	order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName:   "Panitia 17an",
		SpecialOrder: true,
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 150, Length: 200, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Zero(t, order.TotalAmount)
	require.Zero(t, order.Details[0].Subtotal)
	// The computed per-unit price survives for reporting.
	require.Equal(t, int64(75000), order.Details[0].UnitPrice)

	// Stock is consumed even when nothing is charged.
	var after inventorydomain.Roll
	require.NoError(t, f.db.First(&after, "id = ?", roll.ID).Error)
	require.Equal(t, int64(9800), after.RemainingLength)
}

func TestCreateOrderInsufficientStockAbortsWhole(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, nil)
	roll := f.seedRoll(t, ctx, material.ID, 160, 300)

	_, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName: "Toko Gagal",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 150, Length: 100, Quantity: 1},
			{MaterialID: material.ID.String(), Width: 150, Length: 500, Quantity: 1},
		},
	})
	require.ErrorIs(t, err, inventorydomain.ErrInsufficientStock)

	// The first line's consumption rolls back with the order.
	var count int64
	require.NoError(t, f.db.Model(&domain.Order{}).Count(&count).Error)
	require.Zero(t, count)

	var after inventorydomain.Roll
	require.NoError(t, f.db.First(&after, "id = ?", roll.ID).Error)
	require.Equal(t, int64(300), after.RemainingLength)
}

func TestTransitionWalksLifecycle(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleCashier)

	material := f.seedMaterial(t, ctx, 25000, nil)
	f.seedRoll(t, ctx, material.ID, 160, 10000)
	order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName: "Toko Lancar",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 100, Length: 100, Quantity: 1},
		},
	})
	require.NoError(t, err)

	paid, err := f.orders.ApplyTransition(ctx, order.ID.String(), domain.StatusPaid)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, paid.Status)
	require.NotNil(t, paid.CashierID)

	printing, err := f.orders.ApplyTransition(ctx, order.ID.String(), domain.StatusPrinting)
	require.NoError(t, err)
	require.NotNil(t, printing.DesignerID)

	done, err := f.orders.ApplyTransition(ctx, order.ID.String(), domain.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, done.Status)

	// Completed is terminal.
	_, err = f.orders.ApplyTransition(ctx, order.ID.String(), domain.StatusPrinting)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestTransitionRejectsSkippingStates(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, nil)
	f.seedRoll(t, ctx, material.ID, 160, 10000)
	order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName: "Toko Buru-buru",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 100, Length: 100, Quantity: 1},
		},
	})
	require.NoError(t, err)

	_, err = f.orders.ApplyTransition(ctx, order.ID.String(), domain.StatusCompleted)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	unchanged, err := f.orders.GetByID(ctx, order.ID.String())
	require.NoError(t, err)
	require.Equal(t, domain.StatusReceived, unchanged.Status)
}

func TestCancelReturnsConsumedStock(t *testing.T) {
	f := setupOrderService(t)
	ctx := f.actorCtx(actorcontext.RoleOperator)

	material := f.seedMaterial(t, ctx, 25000, nil)
	roll := f.seedRoll(t, ctx, material.ID, 160, 10000)
	order, err := f.orders.Create(ctx, domain.CreateOrderRequest{
		ClientName: "Toko Batal",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 150, Length: 200, Quantity: 1},
		},
	})
	require.NoError(t, err)

	cancelled, err := f.orders.ApplyTransition(ctx, order.ID.String(), domain.StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)

	var after inventorydomain.Roll
	require.NoError(t, f.db.First(&after, "id = ?", roll.ID).Error)
	require.Equal(t, int64(10000), after.RemainingLength)

	var usage inventorydomain.UsageRecord
	require.NoError(t, f.db.First(&usage, "order_id = ?", order.ID).Error)
	require.False(t, usage.Valid)
}

func TestDeleteRequiresAdminAndDeletableStatus(t *testing.T) {
	f := setupOrderService(t)
	operatorCtx := f.actorCtx(actorcontext.RoleOperator)
	adminCtx := f.actorCtx(actorcontext.RoleAdmin)

	material := f.seedMaterial(t, operatorCtx, 25000, nil)
	roll := f.seedRoll(t, operatorCtx, material.ID, 160, 10000)
	order, err := f.orders.Create(operatorCtx, domain.CreateOrderRequest{
		ClientName: "Toko Hapus",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 150, Length: 200, Quantity: 1},
		},
	})
	require.NoError(t, err)

	require.ErrorIs(t, f.orders.Delete(operatorCtx, order.ID.String()), domain.ErrForbidden)

	_, err = f.orders.ApplyTransition(adminCtx, order.ID.String(), domain.StatusPaid)
	require.NoError(t, err)
	require.ErrorIs(t, f.orders.Delete(adminCtx, order.ID.String()), domain.ErrNotDeletable)

	_, err = f.orders.ApplyTransition(adminCtx, order.ID.String(), domain.StatusPrinting)
	require.NoError(t, err)
	_, err = f.orders.ApplyTransition(adminCtx, order.ID.String(), domain.StatusCancelled)
	require.NoError(t, err)

	require.NoError(t, f.orders.Delete(adminCtx, order.ID.String()))
	_, err = f.orders.GetByID(adminCtx, order.ID.String())
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Cancellation already restored the stock; deletion must not do it twice.
	var after inventorydomain.Roll
	require.NoError(t, f.db.First(&after, "id = ?", roll.ID).Error)
	require.Equal(t, int64(10000), after.RemainingLength)
}

func TestDeleteRefusedWhilePaymentsExist(t *testing.T) {
	f := setupOrderService(t)
	adminCtx := f.actorCtx(actorcontext.RoleAdmin)

	material := f.seedMaterial(t, adminCtx, 25000, nil)
	f.seedRoll(t, adminCtx, material.ID, 160, 10000)
	order, err := f.orders.Create(adminCtx, domain.CreateOrderRequest{
		ClientName: "Toko Cicilan",
		Details: []domain.CreateDetailRequest{
			{MaterialID: material.ID.String(), Width: 150, Length: 200, Quantity: 1},
		},
	})
	require.NoError(t, err)

	// A partial payment leaves the order received but referenced.
	payment := paymentdomain.Payment{
		ID:               f.node.Generate(),
		TenantID:         f.tenantID(),
		OrderID:          order.ID,
		Amount:           50000,
		Method:           "cash",
		ReceivedAmount:   50000,
		OutstandingAfter: 25000,
		CreatedBy:        f.node.Generate(),
		CreatedAt:        time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, f.db.Create(&payment).Error)

	require.ErrorIs(t, f.orders.Delete(adminCtx, order.ID.String()), domain.ErrOrderHasPayments)

	// The order survives untouched.
	kept, err := f.orders.GetByID(adminCtx, order.ID.String())
	require.NoError(t, err)
	require.Equal(t, domain.StatusReceived, kept.Status)

	// Removing the payment unblocks deletion.
	require.NoError(t, f.db.Delete(&payment).Error)
	require.NoError(t, f.orders.Delete(adminCtx, order.ID.String()))
}
