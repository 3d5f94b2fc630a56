package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/internal/actorcontext"
	"github.com/smallbiznis/printora/internal/clock"
	"github.com/smallbiznis/printora/internal/obscontext"
	"github.com/smallbiznis/printora/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("activity.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry domain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return domain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok || actor.TenantID == 0 {
		return domain.ErrInvalidTenant
	}

	payload := map[string]any{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	row := domain.ActivityLog{
		ID:         s.genID.Generate(),
		TenantID:   actor.TenantID,
		Action:     action,
		TargetType: targetType,
		TargetID:   entry.TargetID,
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}
	if actor.EmployeeID != 0 {
		employeeID := actor.EmployeeID
		row.EmployeeID = &employeeID
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		row.RequestID = &requestID
	}

	if tx == nil {
		tx = s.db
	}
	return s.repo.Insert(ctx, tx, &row)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	tenantID, ok := actorcontext.TenantFromContext(ctx)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidTenant
	}

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}

	var cursor *pagination.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursor = decoded
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.repo.List(ctx, s.db, tenantID, req, cursor)
	if err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{}
	if len(entries) > int(limit) {
		entries = entries[:limit]
		resp.HasMore = true
		last := entries[len(entries)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.Format(time.RFC3339Nano),
		})
		if err == nil {
			resp.NextPageToken = token
		}
	}
	resp.Entries = entries
	return resp, nil
}
