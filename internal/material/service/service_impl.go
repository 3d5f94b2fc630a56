package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/internal/actorcontext"
	"github.com/smallbiznis/printora/internal/clock"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	"github.com/smallbiznis/printora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     materialdomain.Repository
	Activity domain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     materialdomain.Repository
	activity domain.Service
}

func NewService(p Params) materialdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("material.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		activity: p.Activity,
	}
}

func (s *Service) Create(ctx context.Context, req materialdomain.CreateMaterialRequest) (materialdomain.Material, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return materialdomain.Material{}, materialdomain.ErrInvalidTenant
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return materialdomain.Material{}, materialdomain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return materialdomain.Material{}, materialdomain.ErrInvalidName
	}
	if req.UnitPrice <= 0 {
		return materialdomain.Material{}, materialdomain.ErrInvalidUnitPrice
	}
	for option, surcharge := range req.Options {
		if strings.TrimSpace(option) == "" || surcharge < 0 {
			return materialdomain.Material{}, materialdomain.ErrInvalidUnitPrice
		}
	}

	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = "cm"
	}

	options := datatypes.JSONMap{}
	for option, surcharge := range req.Options {
		options[strings.TrimSpace(option)] = surcharge
	}

	now := s.clock.Now()
	material := materialdomain.Material{
		ID:        s.genID.Generate(),
		TenantID:  actor.TenantID,
		Code:      code,
		Type:      strings.TrimSpace(req.Type),
		Name:      name,
		UnitPrice: req.UnitPrice,
		Unit:      unit,
		Options:   options,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &material); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return materialdomain.ErrDuplicateCode
			}
			return err
		}
		targetID := material.ID.String()
		return s.activity.Record(ctx, tx, domain.Entry{
			Action:     "material.created",
			TargetType: "material",
			TargetID:   &targetID,
			Metadata: map[string]any{
				"code":       material.Code,
				"type":       material.Type,
				"unit_price": material.UnitPrice,
			},
		})
	})
	if err != nil {
		return materialdomain.Material{}, err
	}

	s.log.Info("material created",
		zap.String("material_id", material.ID.String()),
		zap.String("code", material.Code),
	)
	return material, nil
}

func (s *Service) List(ctx context.Context, req materialdomain.ListMaterialRequest) ([]materialdomain.Material, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return nil, materialdomain.ErrInvalidTenant
	}
	return s.repo.Find(ctx, s.db, tenantID, req)
}

func (s *Service) GetByID(ctx context.Context, id string) (materialdomain.Material, error) {
	return s.GetByIDInTx(ctx, s.db, id)
}

func (s *Service) GetByIDInTx(ctx context.Context, tx *gorm.DB, id string) (materialdomain.Material, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return materialdomain.Material{}, materialdomain.ErrInvalidTenant
	}
	materialID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return materialdomain.Material{}, materialdomain.ErrInvalidID
	}
	if tx == nil {
		tx = s.db
	}
	material, err := s.repo.FindByID(ctx, tx, tenantID, materialID)
	if err != nil {
		return materialdomain.Material{}, err
	}
	return *material, nil
}

func (s *Service) Retire(ctx context.Context, id string) error {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return materialdomain.ErrInvalidTenant
	}
	materialID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return materialdomain.ErrInvalidID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		material, err := s.repo.FindByID(ctx, tx, actor.TenantID, materialID)
		if err != nil {
			return err
		}

		referenced, err := s.repo.CountInvoicedReferences(ctx, tx, actor.TenantID, materialID)
		if err != nil {
			return err
		}
		if referenced > 0 {
			return materialdomain.ErrMaterialReferenced
		}

		if err := s.repo.SetActive(ctx, tx, actor.TenantID, materialID, false, s.clock.Now()); err != nil {
			return err
		}

		targetID := material.ID.String()
		return s.activity.Record(ctx, tx, domain.Entry{
			Action:     "material.retired",
			TargetType: "material",
			TargetID:   &targetID,
			Metadata:   map[string]any{"code": material.Code},
		})
	})
}
