package compliance

import (
	"context"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing compliance operation.
type OperationLog struct {
	Operation string
	ShipID    ShipID
	Year      Year
	PoolID    string
	RouteID   string
	Amount    decimal.Decimal
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithTargetIntensity overrides DefaultTargetIntensity.
func WithTargetIntensity(target decimal.Decimal) ServiceOption {
	return func(service *Service) {
		service.targetIntensity = target
	}
}
