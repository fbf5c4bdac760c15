// Package oplog turns compliance operation callbacks into structured zap log lines.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	messageOperation       = "compliance operation"
	messageOperationFailed = "compliance operation failed"
)

// ZapOperationLogger implements compliance.OperationLogger on top of zap.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// New wraps the supplied logger. A nil logger yields a no-op logger.
func New(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("compliance")}
}

func (operationLogger *ZapOperationLogger) LogOperation(ctx context.Context, entry compliance.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.ShipID.IsZero() {
		fields = append(fields, zap.String("ship_id", entry.ShipID.String()))
	}
	if entry.Year > 0 {
		fields = append(fields, zap.Int("year", entry.Year.Int()))
	}
	if entry.PoolID != "" {
		fields = append(fields, zap.String("pool_id", entry.PoolID))
	}
	if entry.RouteID != "" {
		fields = append(fields, zap.String("route_id", entry.RouteID))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Error == nil {
		operationLogger.logger.Info(messageOperation, fields...)
		return
	}
	kind := compliance.KindOf(entry.Error)
	fields = append(fields, zap.String("error_kind", string(kind)), zap.Error(entry.Error))
	operationLogger.logger.Log(levelForKind(kind), messageOperationFailed, fields...)
}

// levelForKind logs internal failures at error level and everything else at warn.
func levelForKind(kind compliance.ErrorKind) zapcore.Level {
	switch kind {
	case compliance.KindInternal, compliance.KindInternalConsistency:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}
