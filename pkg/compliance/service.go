package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Service contains the domain logic over a Store.
type Service struct {
	store           Store
	nowFn           func() time.Time
	logger          OperationLogger
	targetIntensity decimal.Decimal
	locks           *keyedLocker
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:           store,
		nowFn:           now,
		targetIntensity: DefaultTargetIntensity,
		locks:           newKeyedLocker(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if !service.targetIntensity.IsPositive() {
		return nil, fmt.Errorf("%w: target intensity must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// TargetIntensity returns the configured GHG intensity target.
func (service *Service) TargetIntensity() decimal.Decimal {
	return service.targetIntensity
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) newEvent(eventType EventType, subject string, payload any) (Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, WrapError("service", "event", "encode", err)
	}
	return Event{
		Type:      eventType,
		Subject:   subject,
		Payload:   encoded,
		CreatedAt: service.now(),
	}, nil
}

func balanceKey(shipID ShipID, year Year) string {
	return fmt.Sprintf("%s%s%d", shipID.String(), balanceKeyDelimiter, year.Int())
}
