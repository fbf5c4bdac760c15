package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	dialectSQLite = "sqlite"
	columnNumeric = "numeric"
	columnText    = "text"
)

// Numeric stores a decimal without rounding: unconstrained numeric on Postgres, text on SQLite.
type Numeric struct {
	decimal.Decimal
}

func newNumeric(value decimal.Decimal) Numeric {
	return Numeric{Decimal: value}
}

func (Numeric) GormDataType() string {
	return columnNumeric
}

func (Numeric) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == dialectSQLite {
		return columnText
	}
	return columnNumeric
}

// Route mirrors the routes table.
type Route struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	RouteID         string    `gorm:"not null;uniqueIndex:idx_routes_route_id"`
	VesselType      string    `gorm:"not null;index:idx_routes_filter,priority:2"`
	FuelType        string    `gorm:"not null;index:idx_routes_filter,priority:3"`
	Year            int       `gorm:"not null;index:idx_routes_filter,priority:1"`
	GHGIntensity    Numeric   `gorm:"column:ghg_intensity;not null"`
	FuelConsumption Numeric   `gorm:"not null"`
	Distance        Numeric   `gorm:"not null"`
	TotalEmissions  Numeric   `gorm:"not null"`
	IsBaseline      bool      `gorm:"not null;default:false;uniqueIndex:idx_routes_single_baseline,where:is_baseline = true"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Route) TableName() string { return "routes" }

func (route *Route) BeforeCreate(tx *gorm.DB) error {
	if route.ID == "" {
		route.ID = newRowID()
	}
	return nil
}

// ShipCompliance mirrors the ship_compliance table, one row per ship and year.
type ShipCompliance struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	ShipID          string    `gorm:"not null;uniqueIndex:idx_ship_compliance_ship_year,priority:1"`
	Year            int       `gorm:"not null;uniqueIndex:idx_ship_compliance_ship_year,priority:2"`
	CBGco2eq        Numeric   `gorm:"column:cb_gco2eq;not null"`
	TargetIntensity Numeric   `gorm:"not null"`
	ActualIntensity Numeric   `gorm:"not null"`
	EnergyInScope   Numeric   `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (ShipCompliance) TableName() string { return "ship_compliance" }

func (balance *ShipCompliance) BeforeCreate(tx *gorm.DB) error {
	if balance.ID == "" {
		balance.ID = newRowID()
	}
	return nil
}

// BankEntry mirrors the bank_entries table.
type BankEntry struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	ShipID       string    `gorm:"not null;index:idx_bank_entries_ship_year_created,priority:1"`
	Year         int       `gorm:"not null;index:idx_bank_entries_ship_year_created,priority:2"`
	AmountGco2eq Numeric   `gorm:"column:amount_gco2eq;not null"`
	CreatedAt    time.Time `gorm:"not null;index:idx_bank_entries_ship_year_created,priority:3"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (BankEntry) TableName() string { return "bank_entries" }

func (entry *BankEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.ID == "" {
		entry.ID = newRowID()
	}
	return nil
}

// Pool mirrors the pools table.
type Pool struct {
	ID        string       `gorm:"type:uuid;primaryKey"`
	Year      int          `gorm:"not null;index"`
	CreatedAt time.Time    `gorm:"not null"`
	Members   []PoolMember `gorm:"foreignKey:PoolID;constraint:OnDelete:CASCADE"`
}

func (Pool) TableName() string { return "pools" }

func (pool *Pool) BeforeCreate(tx *gorm.DB) error {
	if pool.ID == "" {
		pool.ID = newRowID()
	}
	return nil
}

// PoolMember mirrors the pool_members table. Position keeps allocation order.
type PoolMember struct {
	ID       string  `gorm:"type:uuid;primaryKey"`
	PoolID   string  `gorm:"type:uuid;not null;index:idx_pool_members_pool_position,priority:1"`
	Position int     `gorm:"not null;index:idx_pool_members_pool_position,priority:2"`
	ShipID   string  `gorm:"not null"`
	CBBefore Numeric `gorm:"column:cb_before;not null"`
	CBAfter  Numeric `gorm:"column:cb_after;not null"`
}

func (PoolMember) TableName() string { return "pool_members" }

func (member *PoolMember) BeforeCreate(tx *gorm.DB) error {
	if member.ID == "" {
		member.ID = newRowID()
	}
	return nil
}

// ComplianceEvent mirrors the compliance_events audit table.
type ComplianceEvent struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Type      string         `gorm:"not null;index"`
	Subject   string         `gorm:"not null;index"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (ComplianceEvent) TableName() string { return "compliance_events" }

func (event *ComplianceEvent) BeforeCreate(tx *gorm.DB) error {
	if event.ID == "" {
		event.ID = newRowID()
	}
	return nil
}

// Models lists every table for auto-migration, parents first.
func Models() []any {
	return []any{
		&Route{},
		&ShipCompliance{},
		&BankEntry{},
		&Pool{},
		&PoolMember{},
		&ComplianceEvent{},
	}
}

// newRowID returns a time-ordered uuid so ties on created_at still sort in insertion order.
func newRowID() string {
	return uuid.Must(uuid.NewV7()).String()
}
