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
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	"github.com/smallbiznis/printora/internal/material/repository"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	paymentdomain "github.com/smallbiznis/printora/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupMaterialService(t *testing.T, node *snowflake.Node) (materialdomain.Service, *gorm.DB) {
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
		&orderdomain.Order{},
		&orderdomain.OrderDetail{},
		&paymentdomain.Invoice{},
		&activitydomain.ActivityLog{},
	))

	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	activitySvc := activityservice.NewService(activityservice.Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock, Repo: activityrepo.Provide(),
	})
	svc := NewService(Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock, Repo: repository.Provide(), Activity: activitySvc,
	})
	return svc, db
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func tenantCtx(node *snowflake.Node, role string) context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{
		EmployeeID: node.Generate(),
		Role:       role,
		TenantID:   node.Generate(),
	})
}

func TestCreateMaterialNormalizesAndPersists(t *testing.T) {
	node := newNode(t)
	svc, _ := setupMaterialService(t, node)
	ctx := tenantCtx(node, actorcontext.RoleAdmin)

	material, err := svc.Create(ctx, materialdomain.CreateMaterialRequest{
		Code:      "  flexi-280  ",
		Type:      "flexi",
		Name:      "Flexi China 280gr",
		UnitPrice: 25000,
		Options:   map[string]int64{"eyelets": 2000, "lamination": 5000},
	})
	require.NoError(t, err)
	require.Equal(t, "flexi-280", material.Code)
	require.True(t, material.Active)
	require.Equal(t, "cm", material.Unit)

	surcharges := material.OptionSurcharges()
	require.Equal(t, int64(2000), surcharges["eyelets"])
	require.Equal(t, int64(5000), surcharges["lamination"])

	found, err := svc.GetByID(ctx, material.ID.String())
	require.NoError(t, err)
	require.Equal(t, material.Code, found.Code)
}

func TestCreateMaterialRejectsDuplicateCode(t *testing.T) {
	node := newNode(t)
	svc, _ := setupMaterialService(t, node)
	ctx := tenantCtx(node, actorcontext.RoleAdmin)

	_, err := svc.Create(ctx, materialdomain.CreateMaterialRequest{
		Code: "FLEXI-280", Type: "flexi", Name: "Flexi", UnitPrice: 25000,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, materialdomain.CreateMaterialRequest{
		Code: "FLEXI-280", Type: "flexi", Name: "Another", UnitPrice: 30000,
	})
	require.ErrorIs(t, err, materialdomain.ErrDuplicateCode)
}

func TestDuplicateCodeAllowedAcrossTenants(t *testing.T) {
	node := newNode(t)
	svc, _ := setupMaterialService(t, node)

	_, err := svc.Create(tenantCtx(node, actorcontext.RoleAdmin), materialdomain.CreateMaterialRequest{
		Code: "FLEXI-280", Type: "flexi", Name: "Flexi", UnitPrice: 25000,
	})
	require.NoError(t, err)

	_, err = svc.Create(tenantCtx(node, actorcontext.RoleAdmin), materialdomain.CreateMaterialRequest{
		Code: "FLEXI-280", Type: "flexi", Name: "Flexi", UnitPrice: 25000,
	})
	require.NoError(t, err)
}

func TestListFiltersByTypeAndActive(t *testing.T) {
	node := newNode(t)
	svc, _ := setupMaterialService(t, node)
	ctx := tenantCtx(node, actorcontext.RoleAdmin)

	_, err := svc.Create(ctx, materialdomain.CreateMaterialRequest{
		Code: "FLEXI-280", Type: "flexi", Name: "Flexi", UnitPrice: 25000,
	})
	require.NoError(t, err)
	sticker, err := svc.Create(ctx, materialdomain.CreateMaterialRequest{
		Code: "STICKER-A", Type: "sticker", Name: "Sticker Vinyl", UnitPrice: 40000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Retire(ctx, sticker.ID.String()))

	flexis, err := svc.List(ctx, materialdomain.ListMaterialRequest{Type: "flexi"})
	require.NoError(t, err)
	require.Len(t, flexis, 1)

	active := true
	actives, err := svc.List(ctx, materialdomain.ListMaterialRequest{Active: &active})
	require.NoError(t, err)
	require.Len(t, actives, 1)
	require.Equal(t, "FLEXI-280", actives[0].Code)
}

func TestRetireRefusedWhileInvoiced(t *testing.T) {
	node := newNode(t)
	svc, db := setupMaterialService(t, node)
	ctx := tenantCtx(node, actorcontext.RoleAdmin)
	actor, _ := actorcontext.ActorFromContext(ctx)

	material, err := svc.Create(ctx, materialdomain.CreateMaterialRequest{
		Code: "FLEXI-280", Type: "flexi", Name: "Flexi", UnitPrice: 25000,
	})
	require.NoError(t, err)

	// An invoiced order detail still points at the material.
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	orderID := node.Generate()
	materialID := material.ID
	require.NoError(t, db.Create(&orderdomain.Order{
		ID: orderID, TenantID: actor.TenantID, OrderNo: "ORD-20240601-0001",
		ClientName: "Toko Arsip", Status: orderdomain.StatusPaid, Priority: "normal",
		TotalAmount: 75000, ReceivedBy: actor.EmployeeID, CreatedAt: now, UpdatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&orderdomain.OrderDetail{
		ID: node.Generate(), TenantID: actor.TenantID, OrderID: orderID,
		MaterialID: &materialID, Quantity: 1, UnitPrice: 75000, Subtotal: 75000, CreatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&paymentdomain.Invoice{
		ID: node.Generate(), TenantID: actor.TenantID, OrderID: orderID,
		InvoiceNo: "INV-20240601-0001", TotalAmount: 75000, IssuedAt: now, UpdatedAt: now,
	}).Error)

	require.ErrorIs(t, svc.Retire(ctx, material.ID.String()), materialdomain.ErrMaterialReferenced)

	still, err := svc.GetByID(ctx, material.ID.String())
	require.NoError(t, err)
	require.True(t, still.Active)
}

func TestRetireDeactivates(t *testing.T) {
	node := newNode(t)
	svc, _ := setupMaterialService(t, node)
	ctx := tenantCtx(node, actorcontext.RoleAdmin)

	material, err := svc.Create(ctx, materialdomain.CreateMaterialRequest{
		Code: "FLEXI-280", Type: "flexi", Name: "Flexi", UnitPrice: 25000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Retire(ctx, material.ID.String()))
	retired, err := svc.GetByID(ctx, material.ID.String())
	require.NoError(t, err)
	require.False(t, retired.Active)
}
