// Package domain contains the material catalog models.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Material describes a roll-based print substrate. Unit price and
// finishing-option surcharges are minor currency units per square meter.
type Material struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID      `json:"tenant_id" gorm:"not null;uniqueIndex:ux_materials_tenant_code"`
	Code      string            `json:"code" gorm:"type:text;not null;uniqueIndex:ux_materials_tenant_code"`
	Type      string            `json:"type" gorm:"type:text;not null"`
	Name      string            `json:"name" gorm:"type:text;not null"`
	UnitPrice int64             `json:"unit_price" gorm:"not null"`
	Unit      string            `json:"unit" gorm:"type:text;not null;default:'cm'"`
	Options   datatypes.JSONMap `json:"options" gorm:"type:jsonb;not null;default:'{}'"`
	Active    bool              `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Material) TableName() string { return "materials" }

// OptionSurcharges coerces the JSON options map into int64 surcharges.
// JSON numbers arrive as float64 through the driver.
func (m Material) OptionSurcharges() map[string]int64 {
	out := make(map[string]int64, len(m.Options))
	for name, value := range m.Options {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		switch typed := value.(type) {
		case float64:
			out[name] = int64(typed)
		case int64:
			out[name] = typed
		case int:
			out[name] = int64(typed)
		case json.Number:
			if parsed, err := typed.Int64(); err == nil {
				out[name] = parsed
			}
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
				out[name] = parsed
			}
		}
	}
	return out
}

type CreateMaterialRequest struct {
	Code      string
	Type      string
	Name      string
	UnitPrice int64
	Unit      string
	Options   map[string]int64
}

type ListMaterialRequest struct {
	Type   string
	Active *bool
}

type Service interface {
	Create(ctx context.Context, req CreateMaterialRequest) (Material, error)
	List(ctx context.Context, req ListMaterialRequest) ([]Material, error)
	GetByID(ctx context.Context, id string) (Material, error)
	// GetByIDInTx reads through the caller's transaction so a pricing
	// decision sees the same material row the transaction commits against.
	GetByIDInTx(ctx context.Context, tx *gorm.DB, id string) (Material, error)
	// Retire deactivates a material. Refused while an invoiced order
	// detail still references it so historical pricing stays auditable.
	Retire(ctx context.Context, id string) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, material *Material) error
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, req ListMaterialRequest) ([]Material, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Material, error)
	CountInvoicedReferences(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (int64, error)
	SetActive(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, active bool, at time.Time) error
}

var (
	ErrNotFound           = errors.New("material_not_found")
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidCode        = errors.New("invalid_code")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidUnitPrice   = errors.New("invalid_unit_price")
	ErrInvalidID          = errors.New("invalid_id")
	ErrDuplicateCode      = errors.New("duplicate_code")
	ErrMaterialReferenced = errors.New("material_referenced")
)
