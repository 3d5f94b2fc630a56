// Package domain contains the append-only activity trail models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityLog is one immutable audit entry. Rows are only ever inserted,
// inside the same transaction as the mutation they describe.
type ActivityLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID   snowflake.ID      `json:"tenant_id" gorm:"not null;index"`
	EmployeeID *snowflake.ID     `json:"employee_id" gorm:"index"`
	Action     string            `json:"action" gorm:"type:text;not null"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null;default:'{}'"`
	RequestID  *string           `json:"request_id" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

// TableName sets the database table name.
func (ActivityLog) TableName() string { return "activity_logs" }

// Entry is the caller-facing shape of a new activity record. Actor and
// request identifiers are resolved from context by the service.
type Entry struct {
	Action     string
	TargetType string
	TargetID   *string
	Metadata   map[string]any
}

type ListRequest struct {
	PageToken  string
	PageSize   int32
	Action     string
	TargetType string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Entries []ActivityLog `json:"entries"`
}

type Service interface {
	// Record appends an entry using the caller's transaction so the
	// trail commits or aborts together with the mutation it records.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *ActivityLog) error
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, req ListRequest, cursor *pagination.Cursor) ([]ActivityLog, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
