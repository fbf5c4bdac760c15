package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeBalance derives a compliance balance from a route's fuel figures.
//
//	energyInScope = fuelConsumption × 41000
//	cb            = (target − actual) × energyInScope
func ComputeBalance(shipID ShipID, year Year, route Route, targetIntensity decimal.Decimal) Balance {
	energyInScope := route.FuelConsumption.Mul(EnergyConversionFactor)
	return Balance{
		ShipID:          shipID,
		Year:            year,
		CBGco2eq:        targetIntensity.Sub(route.GHGIntensity).Mul(energyInScope),
		TargetIntensity: targetIntensity,
		ActualIntensity: route.GHGIntensity,
		EnergyInScope:   energyInScope,
	}
}

// ComplianceBalance returns the stored balance for a ship-year, deriving and persisting it
// from the route whose RouteID equals the ship id on first use.
func (service *Service) ComplianceBalance(ctx context.Context, shipID ShipID, year Year) (Balance, error) {
	if shipID.IsZero() {
		return Balance{}, fmt.Errorf("%w: empty value", ErrInvalidShipID)
	}
	if _, err := NewYear(year.Int()); err != nil {
		return Balance{}, err
	}
	balance, err := service.store.GetBalance(ctx, shipID, year)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrComplianceNotFound) {
		return Balance{}, err
	}

	route, err := service.store.GetRouteByRouteID(ctx, shipID.String())
	if err != nil {
		if errors.Is(err, ErrRouteNotFound) {
			return Balance{}, fmt.Errorf("%w: no route %s to derive ship %s year %d", ErrComplianceNotFound, shipID.String(), shipID.String(), year.Int())
		}
		return Balance{}, err
	}
	computed := ComputeBalance(shipID, year, route, service.targetIntensity)
	computed.CreatedAt = service.now()
	created, err := service.store.CreateBalance(ctx, computed)
	if errors.Is(err, ErrBalanceExists) {
		return service.store.GetBalance(ctx, shipID, year)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationLoadBalance,
		ShipID:    shipID,
		Year:      year,
		RouteID:   route.RouteID,
		Amount:    computed.CBGco2eq,
		Error:     err,
	})
	if err != nil {
		return Balance{}, err
	}
	return created, nil
}

// AdjustedBalance adds the still-banked surplus to the stored balance. A missing balance counts as zero.
func (service *Service) AdjustedBalance(ctx context.Context, shipID ShipID, year Year) (AdjustedBalance, error) {
	if shipID.IsZero() {
		return AdjustedBalance{}, fmt.Errorf("%w: empty value", ErrInvalidShipID)
	}
	if _, err := NewYear(year.Int()); err != nil {
		return AdjustedBalance{}, err
	}
	cbBefore := decimal.Zero
	balance, err := service.store.GetBalance(ctx, shipID, year)
	switch {
	case err == nil:
		cbBefore = balance.CBGco2eq
	case errors.Is(err, ErrComplianceNotFound):
	default:
		return AdjustedBalance{}, err
	}
	banked, err := service.store.SumBankEntries(ctx, shipID, year)
	if err != nil {
		return AdjustedBalance{}, err
	}
	return AdjustedBalance{
		ShipID:       shipID,
		Year:         year,
		CBBefore:     cbBefore,
		BankedAmount: banked,
		CBAfter:      cbBefore.Add(banked),
	}, nil
}
