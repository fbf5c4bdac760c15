package httpapi

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/shopspring/decimal"
)

type poolMemberRequest struct {
	ShipID   string           `json:"shipId"`
	CBBefore *decimal.Decimal `json:"cbBefore"`
}

type createPoolRequest struct {
	Year    *int                `json:"year"`
	Members []poolMemberRequest `json:"members"`
}

type bankingRequest struct {
	ShipID       string           `json:"shipId"`
	Year         *int             `json:"year"`
	AmountGco2eq *decimal.Decimal `json:"amountGco2eq"`
}

type poolMemberResponse struct {
	ShipID   string      `json:"shipId"`
	CBBefore json.Number `json:"cbBefore"`
	CBAfter  json.Number `json:"cbAfter"`
}

type createPoolResponse struct {
	PoolID  string               `json:"poolId"`
	Year    int                  `json:"year"`
	Members []poolMemberResponse `json:"members"`
	PoolSum json.Number          `json:"poolSum"`
	Valid   bool                 `json:"valid"`
}

type poolResponse struct {
	PoolID    string               `json:"poolId"`
	Year      int                  `json:"year"`
	CreatedAt time.Time            `json:"createdAt"`
	Members   []poolMemberResponse `json:"members"`
}

type bankEntryResponse struct {
	ID           string      `json:"id"`
	ShipID       string      `json:"shipId"`
	Year         int         `json:"year"`
	AmountGco2eq json.Number `json:"amountGco2eq"`
	CreatedAt    time.Time   `json:"createdAt"`
}

type applyResponse struct {
	CBBefore json.Number `json:"cbBefore"`
	Applied  json.Number `json:"applied"`
	CBAfter  json.Number `json:"cbAfter"`
}

type routeResponse struct {
	ID              string      `json:"id"`
	RouteID         string      `json:"routeId"`
	VesselType      string      `json:"vesselType"`
	FuelType        string      `json:"fuelType"`
	Year            int         `json:"year"`
	GHGIntensity    json.Number `json:"ghgIntensity"`
	FuelConsumption json.Number `json:"fuelConsumption"`
	Distance        json.Number `json:"distance"`
	TotalEmissions  json.Number `json:"totalEmissions"`
	IsBaseline      bool        `json:"isBaseline"`
}

type comparisonResponse struct {
	Baseline    routeResponse `json:"baseline"`
	Comparison  routeResponse `json:"comparison"`
	PercentDiff json.Number   `json:"percentDiff"`
	Compliant   bool          `json:"compliant"`
	Target      json.Number   `json:"target"`
}

type balanceResponse struct {
	ShipID          string      `json:"shipId"`
	Year            int         `json:"year"`
	CBGco2eq        json.Number `json:"cbGco2eq"`
	TargetIntensity json.Number `json:"targetIntensity"`
	ActualIntensity json.Number `json:"actualIntensity"`
	EnergyInScope   json.Number `json:"energyInScope"`
}

type adjustedBalanceResponse struct {
	ShipID       string      `json:"shipId"`
	Year         int         `json:"year"`
	CBBefore     json.Number `json:"cbBefore"`
	BankedAmount json.Number `json:"bankedAmount"`
	CBAfter      json.Number `json:"cbAfter"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func number(value decimal.Decimal) json.Number {
	return json.Number(value.String())
}

func toPoolMembers(members []compliance.PoolMember) []poolMemberResponse {
	response := make([]poolMemberResponse, 0, len(members))
	for _, member := range members {
		response = append(response, poolMemberResponse{
			ShipID:   member.ShipID.String(),
			CBBefore: number(member.CBBefore),
			CBAfter:  number(member.CBAfter),
		})
	}
	return response
}

func toBankEntry(entry compliance.BankEntry) bankEntryResponse {
	return bankEntryResponse{
		ID:           entry.ID,
		ShipID:       entry.ShipID.String(),
		Year:         entry.Year.Int(),
		AmountGco2eq: number(entry.AmountGco2eq),
		CreatedAt:    entry.CreatedAt,
	}
}

func toRoute(route compliance.Route) routeResponse {
	return routeResponse{
		ID:              route.ID,
		RouteID:         route.RouteID,
		VesselType:      string(route.VesselType),
		FuelType:        string(route.FuelType),
		Year:            route.Year.Int(),
		GHGIntensity:    number(route.GHGIntensity),
		FuelConsumption: number(route.FuelConsumption),
		Distance:        number(route.Distance),
		TotalEmissions:  number(route.TotalEmissions),
		IsBaseline:      route.IsBaseline,
	}
}
