package compliance

import "github.com/shopspring/decimal"

const (
	operationCreatePool  = "create_pool"
	operationBank        = "bank_surplus"
	operationApply       = "apply_banked"
	operationSetBaseline = "set_baseline"
	operationSeedRoutes  = "seed_routes"
	operationLoadBalance = "load_balance"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	balanceKeyDelimiter = ":"

	percentDiffPlaces = 4
)

// EnergyConversionFactor converts tonnes of fuel into megajoules of energy in scope.
var EnergyConversionFactor = decimal.NewFromInt(41000)

// DefaultTargetIntensity is the GHG intensity target in gCO2e/MJ.
var DefaultTargetIntensity = decimal.RequireFromString("89.3368")

var percentMultiplier = decimal.NewFromInt(100)
