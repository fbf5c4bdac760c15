package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type baselineChangedPayload struct {
	ID      string `json:"id"`
	RouteID string `json:"routeId"`
}

// Routes lists routes matching filter, newest year first.
func (service *Service) Routes(ctx context.Context, filter RouteFilter) ([]Route, error) {
	return service.store.ListRoutes(ctx, filter)
}

// SetBaseline marks the route with the given id as the only baseline.
func (service *Service) SetBaseline(ctx context.Context, id string) (Route, error) {
	var baseline Route
	trimmedID := strings.TrimSpace(id)
	operationError := func() error {
		if trimmedID == "" {
			return fmt.Errorf("%w: empty route id", ErrInvalidRoute)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			route, err := transactionStore.SetBaselineRoute(ctx, trimmedID)
			if err != nil {
				return err
			}
			event, err := service.newEvent(EventBaselineChanged, route.ID, baselineChangedPayload{ID: route.ID, RouteID: route.RouteID})
			if err != nil {
				return err
			}
			if err := transactionStore.AppendEvent(ctx, event); err != nil {
				return err
			}
			baseline = route
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationSetBaseline,
		RouteID:   baseline.RouteID,
		Error:     operationError,
	})
	if operationError != nil {
		return Route{}, operationError
	}
	return baseline, nil
}

// RouteComparison compares every non-baseline route against the baseline and the target intensity.
func (service *Service) RouteComparison(ctx context.Context) ([]RouteComparison, error) {
	baseline, err := service.store.GetBaselineRoute(ctx)
	if err != nil {
		return nil, err
	}
	if !baseline.GHGIntensity.IsPositive() {
		return nil, fmt.Errorf("%w: baseline %s has non-positive intensity", ErrInvalidBaseline, baseline.RouteID)
	}
	routes, err := service.store.ListRoutes(ctx, RouteFilter{})
	if err != nil {
		return nil, err
	}
	comparisons := make([]RouteComparison, 0, len(routes))
	for _, route := range routes {
		if route.ID == baseline.ID {
			continue
		}
		percentDiff := route.GHGIntensity.
			Div(baseline.GHGIntensity).
			Sub(decimal.NewFromInt(1)).
			Mul(percentMultiplier).
			Round(percentDiffPlaces)
		comparisons = append(comparisons, RouteComparison{
			Baseline:    baseline,
			Comparison:  route,
			PercentDiff: percentDiff,
			Compliant:   route.GHGIntensity.LessThanOrEqual(service.targetIntensity),
			Target:      service.targetIntensity,
		})
	}
	return comparisons, nil
}

// SeedRoutes replaces all stored data with routes in one transaction.
func (service *Service) SeedRoutes(ctx context.Context, routes []Route) error {
	operationError := func() error {
		if err := validateSeedRoutes(routes); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if err := transactionStore.ResetData(ctx); err != nil {
				return err
			}
			nowUTC := service.now()
			for _, route := range routes {
				route.CreatedAt = nowUTC
				if _, err := transactionStore.InsertRoute(ctx, route); err != nil {
					return err
				}
			}
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationSeedRoutes,
		Error:     operationError,
	})
	return operationError
}

func validateSeedRoutes(routes []Route) error {
	baselines := 0
	seen := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		if strings.TrimSpace(route.RouteID) == "" {
			return fmt.Errorf("%w: empty route id", ErrInvalidRoute)
		}
		if _, ok := seen[route.RouteID]; ok {
			return fmt.Errorf("%w: %s", ErrRouteExists, route.RouteID)
		}
		seen[route.RouteID] = struct{}{}
		if _, err := ParseVesselType(string(route.VesselType)); err != nil {
			return err
		}
		if _, err := ParseFuelType(string(route.FuelType)); err != nil {
			return err
		}
		if _, err := NewYear(route.Year.Int()); err != nil {
			return err
		}
		if route.IsBaseline {
			baselines++
		}
	}
	if baselines > 1 {
		return fmt.Errorf("%w: %d baseline routes", ErrInvalidBaseline, baselines)
	}
	return nil
}
