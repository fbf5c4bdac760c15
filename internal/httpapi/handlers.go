package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	queryShipID     = "shipId"
	queryYear       = "year"
	queryVesselType = "vesselType"
	queryFuelType   = "fuelType"
)

type httpHandler struct {
	service ComplianceService
	logger  *zap.Logger
	timeout time.Duration
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func (handler *httpHandler) handleCreatePool(ctx *gin.Context) {
	var request createPoolRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondError(ctx, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	if request.Year == nil {
		handler.respondError(ctx, fmt.Errorf("%w: year is required", compliance.ErrInvalidYear))
		return
	}
	members := make([]compliance.PoolMemberInput, 0, len(request.Members))
	for _, member := range request.Members {
		shipID, err := compliance.NewShipID(member.ShipID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		if member.CBBefore == nil {
			handler.respondError(ctx, fmt.Errorf("%w: cbBefore is required for %s", compliance.ErrPoolInvalid, shipID.String()))
			return
		}
		members = append(members, compliance.PoolMemberInput{ShipID: shipID, CBBefore: *member.CBBefore})
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.CreatePool(requestCtx, compliance.Year(*request.Year), members)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, createPoolResponse{
		PoolID:  result.PoolID,
		Year:    result.Year.Int(),
		Members: toPoolMembers(result.Members),
		PoolSum: number(result.PoolSum),
		Valid:   result.Valid,
	})
}

func (handler *httpHandler) handleGetPool(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	pool, err := handler.service.Pool(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, poolResponse{
		PoolID:    pool.ID,
		Year:      pool.Year.Int(),
		CreatedAt: pool.CreatedAt,
		Members:   toPoolMembers(pool.Members),
	})
}

func (handler *httpHandler) handleBank(ctx *gin.Context) {
	shipID, year, amount, ok := handler.bindBankingRequest(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.service.BankSurplus(requestCtx, shipID, year, amount)
	if err != nil {
		handler.respondBankingError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toBankEntry(entry))
}

func (handler *httpHandler) handleApply(ctx *gin.Context) {
	shipID, year, amount, ok := handler.bindBankingRequest(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.ApplyBankedSurplus(requestCtx, shipID, year, amount)
	if err != nil {
		handler.respondBankingError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, applyResponse{
		CBBefore: number(result.CBBefore),
		Applied:  number(result.Applied),
		CBAfter:  number(result.CBAfter),
	})
}

func (handler *httpHandler) handleRecords(ctx *gin.Context) {
	shipID, year, ok := handler.bindBalanceQuery(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.BankingRecords(requestCtx, shipID, year)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := make([]bankEntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, toBankEntry(entry))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleListRoutes(ctx *gin.Context) {
	var filter compliance.RouteFilter
	if raw := ctx.Query(queryVesselType); raw != "" {
		vesselType, err := compliance.ParseVesselType(raw)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.VesselType = vesselType
	}
	if raw := ctx.Query(queryFuelType); raw != "" {
		fuelType, err := compliance.ParseFuelType(raw)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.FuelType = fuelType
	}
	if raw := ctx.Query(queryYear); raw != "" {
		year, err := parseYear(raw)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.Year = year
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	routes, err := handler.service.Routes(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := make([]routeResponse, 0, len(routes))
	for _, route := range routes {
		response = append(response, toRoute(route))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleSetBaseline(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	route, err := handler.service.SetBaseline(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toRoute(route))
}

func (handler *httpHandler) handleComparison(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	comparisons, err := handler.service.RouteComparison(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := make([]comparisonResponse, 0, len(comparisons))
	for _, comparison := range comparisons {
		response = append(response, comparisonResponse{
			Baseline:    toRoute(comparison.Baseline),
			Comparison:  toRoute(comparison.Comparison),
			PercentDiff: number(comparison.PercentDiff),
			Compliant:   comparison.Compliant,
			Target:      number(comparison.Target),
		})
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleComplianceBalance(ctx *gin.Context) {
	shipID, year, ok := handler.bindBalanceQuery(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.ComplianceBalance(requestCtx, shipID, year)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{
		ShipID:          balance.ShipID.String(),
		Year:            balance.Year.Int(),
		CBGco2eq:        number(balance.CBGco2eq),
		TargetIntensity: number(balance.TargetIntensity),
		ActualIntensity: number(balance.ActualIntensity),
		EnergyInScope:   number(balance.EnergyInScope),
	})
}

func (handler *httpHandler) handleAdjustedBalance(ctx *gin.Context) {
	shipID, year, ok := handler.bindBalanceQuery(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	adjusted, err := handler.service.AdjustedBalance(requestCtx, shipID, year)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, adjustedBalanceResponse{
		ShipID:       adjusted.ShipID.String(),
		Year:         adjusted.Year.Int(),
		CBBefore:     number(adjusted.CBBefore),
		BankedAmount: number(adjusted.BankedAmount),
		CBAfter:      number(adjusted.CBAfter),
	})
}

func (handler *httpHandler) bindBankingRequest(ctx *gin.Context) (compliance.ShipID, compliance.Year, compliance.PositiveAmount, bool) {
	var request bankingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondError(ctx, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return compliance.ShipID{}, 0, compliance.PositiveAmount{}, false
	}
	shipID, err := compliance.NewShipID(request.ShipID)
	if err != nil {
		handler.respondError(ctx, err)
		return compliance.ShipID{}, 0, compliance.PositiveAmount{}, false
	}
	if request.Year == nil {
		handler.respondError(ctx, fmt.Errorf("%w: year is required", compliance.ErrInvalidYear))
		return compliance.ShipID{}, 0, compliance.PositiveAmount{}, false
	}
	year, err := compliance.NewYear(*request.Year)
	if err != nil {
		handler.respondError(ctx, err)
		return compliance.ShipID{}, 0, compliance.PositiveAmount{}, false
	}
	if request.AmountGco2eq == nil {
		handler.respondError(ctx, fmt.Errorf("%w: amountGco2eq is required", compliance.ErrInvalidAmount))
		return compliance.ShipID{}, 0, compliance.PositiveAmount{}, false
	}
	amount, err := compliance.NewPositiveAmount(*request.AmountGco2eq)
	if err != nil {
		handler.respondError(ctx, err)
		return compliance.ShipID{}, 0, compliance.PositiveAmount{}, false
	}
	return shipID, year, amount, true
}

func (handler *httpHandler) bindBalanceQuery(ctx *gin.Context) (compliance.ShipID, compliance.Year, bool) {
	shipID, err := compliance.NewShipID(ctx.Query(queryShipID))
	if err != nil {
		handler.respondError(ctx, err)
		return compliance.ShipID{}, 0, false
	}
	year, err := parseYear(ctx.Query(queryYear))
	if err != nil {
		handler.respondError(ctx, err)
		return compliance.ShipID{}, 0, false
	}
	return shipID, year, true
}

func parseYear(raw string) (compliance.Year, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", compliance.ErrInvalidYear, raw)
	}
	return compliance.NewYear(value)
}
