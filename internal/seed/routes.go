// Package seed holds the reference route dataset loaded by `complianced seed`.
package seed

import (
	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/shopspring/decimal"
)

type routeRow struct {
	routeID         string
	vesselType      compliance.VesselType
	fuelType        compliance.FuelType
	year            compliance.Year
	ghgIntensity    string
	fuelConsumption int64
	distance        int64
	totalEmissions  int64
	isBaseline      bool
}

var referenceRoutes = []routeRow{
	{routeID: "R001", vesselType: compliance.VesselContainer, fuelType: compliance.FuelHFO, year: 2024, ghgIntensity: "91.0", fuelConsumption: 5000, distance: 12000, totalEmissions: 4500, isBaseline: true},
	{routeID: "R002", vesselType: compliance.VesselBulkCarrier, fuelType: compliance.FuelLNG, year: 2024, ghgIntensity: "88.0", fuelConsumption: 4800, distance: 11500, totalEmissions: 4200},
	{routeID: "R003", vesselType: compliance.VesselTanker, fuelType: compliance.FuelMGO, year: 2024, ghgIntensity: "93.5", fuelConsumption: 5100, distance: 12500, totalEmissions: 4700},
	{routeID: "R004", vesselType: compliance.VesselRoRo, fuelType: compliance.FuelHFO, year: 2025, ghgIntensity: "89.2", fuelConsumption: 4900, distance: 11800, totalEmissions: 4300},
	{routeID: "R005", vesselType: compliance.VesselContainer, fuelType: compliance.FuelLNG, year: 2025, ghgIntensity: "90.5", fuelConsumption: 4950, distance: 11900, totalEmissions: 4400},
}

// DefaultRoutes returns a fresh copy of the reference routes with R001 as baseline.
func DefaultRoutes() []compliance.Route {
	routes := make([]compliance.Route, 0, len(referenceRoutes))
	for _, row := range referenceRoutes {
		routes = append(routes, compliance.Route{
			RouteID:         row.routeID,
			VesselType:      row.vesselType,
			FuelType:        row.fuelType,
			Year:            row.year,
			GHGIntensity:    decimal.RequireFromString(row.ghgIntensity),
			FuelConsumption: decimal.NewFromInt(row.fuelConsumption),
			Distance:        decimal.NewFromInt(row.distance),
			TotalEmissions:  decimal.NewFromInt(row.totalEmissions),
			IsBaseline:      row.isBaseline,
		})
	}
	return routes
}
