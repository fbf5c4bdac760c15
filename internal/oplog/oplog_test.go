package oplog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newObservedLogger() (*ZapOperationLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core)), logs
}

func TestLogOperationSuccessFields(test *testing.T) {
	operationLogger, logs := newObservedLogger()
	shipID, err := compliance.NewShipID("R002")
	require.NoError(test, err)

	operationLogger.LogOperation(context.Background(), compliance.OperationLog{
		Operation: "bank_surplus",
		ShipID:    shipID,
		Year:      2024,
		Amount:    decimal.RequireFromString("150.5"),
		Status:    "ok",
	})

	entries := logs.All()
	require.Len(test, entries, 1)
	assert.Equal(test, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(test, "compliance", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(test, "bank_surplus", fields["operation"])
	assert.Equal(test, "R002", fields["ship_id"])
	assert.EqualValues(test, 2024, fields["year"])
	assert.Equal(test, "150.5", fields["amount"])
	assert.NotContains(test, fields, "pool_id")
	assert.NotContains(test, fields, "error")
}

func TestLogOperationFailureLevels(test *testing.T) {
	testCases := []struct {
		name  string
		err   error
		level zapcore.Level
		kind  compliance.ErrorKind
	}{
		{name: "business rule", err: fmt.Errorf("%w: 5 > 0", compliance.ErrBankExceedsBalance), level: zapcore.WarnLevel, kind: compliance.KindBusinessRuleViolation},
		{name: "not found", err: compliance.ErrComplianceNotFound, level: zapcore.WarnLevel, kind: compliance.KindNotFound},
		{name: "store failure", err: errors.New("connection reset"), level: zapcore.ErrorLevel, kind: compliance.KindInternal},
		{name: "consistency", err: compliance.ErrPoolAllocation, level: zapcore.ErrorLevel, kind: compliance.KindInternalConsistency},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			operationLogger, logs := newObservedLogger()
			operationLogger.LogOperation(context.Background(), compliance.OperationLog{
				Operation: "apply_banked",
				Status:    "error",
				Error:     testCase.err,
			})
			entries := logs.All()
			require.Len(test, entries, 1)
			assert.Equal(test, testCase.level, entries[0].Level)
			assert.Equal(test, messageOperationFailed, entries[0].Message)
			fields := entries[0].ContextMap()
			assert.Equal(test, string(testCase.kind), fields["error_kind"])
			assert.Equal(test, testCase.err.Error(), fields["error"])
		})
	}
}

func TestNewWithNilLogger(test *testing.T) {
	operationLogger := New(nil)
	assert.NotPanics(test, func() {
		operationLogger.LogOperation(context.Background(), compliance.OperationLog{Operation: "seed_routes", Status: "ok"})
	})
}

func TestServiceEmitsOperationLines(test *testing.T) {
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/oplog.db"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(test, err)
	require.NoError(test, db.AutoMigrate(gormstore.Models()...))
	sqlDB, err := db.DB()
	require.NoError(test, err)
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })

	operationLogger, logs := newObservedLogger()
	service, err := compliance.NewService(gormstore.New(db), time.Now, compliance.WithOperationLogger(operationLogger))
	require.NoError(test, err)

	shipA, err := compliance.NewShipID("A")
	require.NoError(test, err)
	shipB, err := compliance.NewShipID("B")
	require.NoError(test, err)

	_, err = service.CreatePool(context.Background(), 2025, []compliance.PoolMemberInput{
		{ShipID: shipA, CBBefore: decimal.NewFromInt(100)},
		{ShipID: shipB, CBBefore: decimal.NewFromInt(-50)},
	})
	require.NoError(test, err)
	_, err = service.CreatePool(context.Background(), 2025, []compliance.PoolMemberInput{
		{ShipID: shipA, CBBefore: decimal.NewFromInt(-100)},
	})
	require.ErrorIs(test, err, compliance.ErrPoolInvalid)

	entries := logs.FilterField(zap.String("operation", "create_pool")).All()
	require.Len(test, entries, 2)
	assert.Equal(test, "ok", entries[0].ContextMap()["status"])
	assert.NotEmpty(test, entries[0].ContextMap()["pool_id"])
	assert.Equal(test, "error", entries[1].ContextMap()["status"])
	assert.Equal(test, string(compliance.KindValidationFailed), entries[1].ContextMap()["error_kind"])
}
