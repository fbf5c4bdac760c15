package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ShipID identifies a ship. Routes double as ships, so it matches a route's RouteID.
type ShipID struct {
	value string
}

// NewShipID validates and normalizes a ship id.
func NewShipID(raw string) (ShipID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ShipID{}, fmt.Errorf("%w: empty value", ErrInvalidShipID)
	}
	return ShipID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ShipID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id ShipID) IsZero() bool {
	return id.value == ""
}

// Year is a reporting year.
type Year int

// NewYear validates a reporting year.
func NewYear(raw int) (Year, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidYear)
	}
	return Year(raw), nil
}

// Int returns the primitive value.
func (year Year) Int() int {
	return int(year)
}

// PositiveAmount is a strictly positive gCO2e quantity.
type PositiveAmount struct {
	value decimal.Decimal
}

// NewPositiveAmount validates that amount is greater than zero.
func NewPositiveAmount(amount decimal.Decimal) (PositiveAmount, error) {
	if !amount.IsPositive() {
		return PositiveAmount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveAmount{value: amount}, nil
}

// Decimal returns the underlying quantity.
func (amount PositiveAmount) Decimal() decimal.Decimal {
	return amount.value
}

// VesselType enumerates the vessel classes a route can be sailed by.
type VesselType string

const (
	VesselContainer   VesselType = "Container"
	VesselBulkCarrier VesselType = "BulkCarrier"
	VesselTanker      VesselType = "Tanker"
	VesselRoRo        VesselType = "RoRo"
)

// ParseVesselType validates a vessel type name.
func ParseVesselType(raw string) (VesselType, error) {
	switch VesselType(strings.TrimSpace(raw)) {
	case VesselContainer:
		return VesselContainer, nil
	case VesselBulkCarrier:
		return VesselBulkCarrier, nil
	case VesselTanker:
		return VesselTanker, nil
	case VesselRoRo:
		return VesselRoRo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVesselType, raw)
	}
}

// FuelType enumerates marine fuels.
type FuelType string

const (
	FuelHFO      FuelType = "HFO"
	FuelLNG      FuelType = "LNG"
	FuelMGO      FuelType = "MGO"
	FuelMethanol FuelType = "Methanol"
	FuelAmmonia  FuelType = "Ammonia"
)

// ParseFuelType validates a fuel type name.
func ParseFuelType(raw string) (FuelType, error) {
	switch FuelType(strings.TrimSpace(raw)) {
	case FuelHFO:
		return FuelHFO, nil
	case FuelLNG:
		return FuelLNG, nil
	case FuelMGO:
		return FuelMGO, nil
	case FuelMethanol:
		return FuelMethanol, nil
	case FuelAmmonia:
		return FuelAmmonia, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFuelType, raw)
	}
}

// Route is a voyage record. Only IsBaseline changes after creation.
type Route struct {
	ID              string
	RouteID         string
	VesselType      VesselType
	FuelType        FuelType
	Year            Year
	GHGIntensity    decimal.Decimal
	FuelConsumption decimal.Decimal
	Distance        decimal.Decimal
	TotalEmissions  decimal.Decimal
	IsBaseline      bool
	CreatedAt       time.Time
}

// RouteFilter narrows route listings. Zero fields are ignored.
type RouteFilter struct {
	VesselType VesselType
	FuelType   FuelType
	Year       Year
}

// Balance is the compliance balance of one ship in one year.
type Balance struct {
	ID              string
	ShipID          ShipID
	Year            Year
	CBGco2eq        decimal.Decimal
	TargetIntensity decimal.Decimal
	ActualIntensity decimal.Decimal
	EnergyInScope   decimal.Decimal
	CreatedAt       time.Time
}

// BankEntry is a banked surplus lot. Applying surplus drains lots oldest first.
type BankEntry struct {
	ID           string
	ShipID       ShipID
	Year         Year
	AmountGco2eq decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PoolMemberInput is a requested pool participant.
type PoolMemberInput struct {
	ShipID   ShipID
	CBBefore decimal.Decimal
}

// PoolMember records a participant's balance before and after pooling.
type PoolMember struct {
	ShipID   ShipID
	CBBefore decimal.Decimal
	CBAfter  decimal.Decimal
}

// Pool is a persisted pooling arrangement.
type Pool struct {
	ID        string
	Year      Year
	CreatedAt time.Time
	Members   []PoolMember
}

// Allocation is the outcome of the pooling allocator.
type Allocation struct {
	Members []PoolMember
	PoolSum decimal.Decimal
}

// PoolResult describes a created pool.
type PoolResult struct {
	PoolID  string
	Year    Year
	Members []PoolMember
	PoolSum decimal.Decimal
	Valid   bool
}

// ApplyResult describes a banked surplus application.
type ApplyResult struct {
	CBBefore decimal.Decimal
	Applied  decimal.Decimal
	CBAfter  decimal.Decimal
}

// AdjustedBalance is a compliance balance plus everything still banked for the same key.
type AdjustedBalance struct {
	ShipID       ShipID
	Year         Year
	CBBefore     decimal.Decimal
	BankedAmount decimal.Decimal
	CBAfter      decimal.Decimal
}

// RouteComparison compares a route against the baseline route.
type RouteComparison struct {
	Baseline    Route
	Comparison  Route
	PercentDiff decimal.Decimal
	Compliant   bool
	Target      decimal.Decimal
}

// EventType enumerates audit events.
type EventType string

const (
	EventPoolCreated          EventType = "pool_created"
	EventSurplusBanked        EventType = "surplus_banked"
	EventBankedSurplusApplied EventType = "banked_surplus_applied"
	EventBaselineChanged      EventType = "baseline_changed"
)

// Event is an audit record appended in the same transaction as the change it describes.
type Event struct {
	Type      EventType
	Subject   string
	Payload   []byte
	CreatedAt time.Time
}

// Store is the persistence contract used by Service.
// Not-found lookups return the matching domain sentinel.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	ListRoutes(ctx context.Context, filter RouteFilter) ([]Route, error)
	GetRouteByRouteID(ctx context.Context, routeID string) (Route, error)
	GetBaselineRoute(ctx context.Context) (Route, error)
	SetBaselineRoute(ctx context.Context, id string) (Route, error)
	InsertRoute(ctx context.Context, route Route) (Route, error)
	ResetData(ctx context.Context) error

	// GetBalance locks the row for the rest of the transaction where the backend supports it.
	GetBalance(ctx context.Context, shipID ShipID, year Year) (Balance, error)
	CreateBalance(ctx context.Context, balance Balance) (Balance, error)
	UpdateBalanceAmount(ctx context.Context, id string, amount decimal.Decimal) error

	InsertBankEntry(ctx context.Context, entry BankEntry) (BankEntry, error)
	ListBankEntries(ctx context.Context, shipID ShipID, year Year) ([]BankEntry, error)
	SumBankEntries(ctx context.Context, shipID ShipID, year Year) (decimal.Decimal, error)
	UpdateBankEntryAmount(ctx context.Context, id string, amount decimal.Decimal, updatedAt time.Time) error

	CreatePool(ctx context.Context, pool Pool) (Pool, error)
	GetPool(ctx context.Context, id string) (Pool, error)

	AppendEvent(ctx context.Context, event Event) error
}
