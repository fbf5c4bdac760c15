package pgstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	testPool         *pgxpool.Pool
	unavailableCause error
)

// TestMain starts PostgreSQL once. Tests skip when neither TEST_DATABASE_URL nor Docker is available.
func TestMain(m *testing.M) {
	ctx := context.Background()
	var pgContainer *postgres.PostgresContainer

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("compliance_test"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			unavailableCause = err
		} else {
			pgContainer = container
			dsn, err = container.ConnectionString(ctx, "sslmode=disable")
			if err != nil {
				unavailableCause = err
			}
		}
	}

	if unavailableCause == nil {
		unavailableCause = prepareDatabase(ctx, dsn)
	}

	code := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}
	os.Exit(code)
}

func prepareDatabase(ctx context.Context, dsn string) error {
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	_ = sqlDB.Close()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	testPool = pool
	return nil
}

func requireStore(test *testing.T) *Store {
	test.Helper()
	if unavailableCause != nil {
		test.Skipf("postgres unavailable: %v", unavailableCause)
	}
	store := New(testPool)
	require.NoError(test, store.ResetData(context.Background()))
	return store
}

func newService(test *testing.T, store *Store) *compliance.Service {
	test.Helper()
	current := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	service, err := compliance.NewService(store, func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	})
	require.NoError(test, err)
	return service
}

func seedReferenceRoutes(test *testing.T, service *compliance.Service) {
	test.Helper()
	require.NoError(test, service.SeedRoutes(context.Background(), []compliance.Route{
		{RouteID: "R001", VesselType: compliance.VesselContainer, FuelType: compliance.FuelHFO, Year: 2024, GHGIntensity: decimal.RequireFromString("91.0"), FuelConsumption: decimal.NewFromInt(5000), Distance: decimal.NewFromInt(12000), TotalEmissions: decimal.NewFromInt(4500), IsBaseline: true},
		{RouteID: "R002", VesselType: compliance.VesselBulkCarrier, FuelType: compliance.FuelLNG, Year: 2024, GHGIntensity: decimal.RequireFromString("88.0"), FuelConsumption: decimal.NewFromInt(4800), Distance: decimal.NewFromInt(11500), TotalEmissions: decimal.NewFromInt(4200)},
	}))
}

func TestPostgresBankingLifecycle(test *testing.T) {
	store := requireStore(test)
	service := newService(test, store)
	seedReferenceRoutes(test, service)
	ctx := context.Background()
	shipID, err := compliance.NewShipID("R002")
	require.NoError(test, err)

	balance, err := service.ComplianceBalance(ctx, shipID, 2024)
	require.NoError(test, err)
	assert.True(test, balance.CBGco2eq.Equal(decimal.NewFromInt(263082240)), "cb %s", balance.CBGco2eq)

	for _, raw := range []string{"100", "200"} {
		amount, err := compliance.NewPositiveAmount(decimal.RequireFromString(raw))
		require.NoError(test, err)
		_, err = service.BankSurplus(ctx, shipID, 2024, amount)
		require.NoError(test, err)
	}
	applyAmount, err := compliance.NewPositiveAmount(decimal.NewFromInt(150))
	require.NoError(test, err)
	result, err := service.ApplyBankedSurplus(ctx, shipID, 2024, applyAmount)
	require.NoError(test, err)
	assert.True(test, result.CBAfter.Equal(decimal.NewFromInt(263082390)))

	records, err := service.BankingRecords(ctx, shipID, 2024)
	require.NoError(test, err)
	require.Len(test, records, 2)
	assert.True(test, records[0].AmountGco2eq.IsZero())
	assert.True(test, records[1].AmountGco2eq.Equal(decimal.NewFromInt(150)))
}

func TestPostgresBaselineAndPools(test *testing.T) {
	store := requireStore(test)
	service := newService(test, store)
	seedReferenceRoutes(test, service)
	ctx := context.Background()

	route, err := store.GetRouteByRouteID(ctx, "R002")
	require.NoError(test, err)
	_, err = service.SetBaseline(ctx, route.ID)
	require.NoError(test, err)
	baseline, err := store.GetBaselineRoute(ctx)
	require.NoError(test, err)
	assert.Equal(test, "R002", baseline.RouteID)

	shipA, err := compliance.NewShipID("A")
	require.NoError(test, err)
	shipB, err := compliance.NewShipID("B")
	require.NoError(test, err)
	result, err := service.CreatePool(ctx, 2025, []compliance.PoolMemberInput{
		{ShipID: shipB, CBBefore: decimal.NewFromInt(-300)},
		{ShipID: shipA, CBBefore: decimal.NewFromInt(1000)},
	})
	require.NoError(test, err)
	pool, err := service.Pool(ctx, result.PoolID)
	require.NoError(test, err)
	require.Len(test, pool.Members, 2)
	assert.Equal(test, "A", pool.Members[0].ShipID.String())
	assert.True(test, pool.Members[0].CBAfter.Equal(decimal.NewFromInt(700)))
	assert.True(test, pool.Members[1].CBAfter.IsZero())
}

func TestPostgresDuplicateRoute(test *testing.T) {
	store := requireStore(test)
	route := compliance.Route{RouteID: "R900", VesselType: compliance.VesselRoRo, FuelType: compliance.FuelAmmonia, Year: 2025, GHGIntensity: decimal.NewFromInt(70), FuelConsumption: decimal.NewFromInt(1), Distance: decimal.Zero, TotalEmissions: decimal.Zero}
	_, err := store.InsertRoute(context.Background(), route)
	require.NoError(test, err)
	_, err = store.InsertRoute(context.Background(), route)
	assert.ErrorIs(test, err, compliance.ErrRouteExists)
}

func TestPostgresFractionalAmountsKeepFullPrecision(test *testing.T) {
	store := requireStore(test)
	service := newService(test, store)
	seedReferenceRoutes(test, service)
	ctx := context.Background()
	shipID, err := compliance.NewShipID("R002")
	require.NoError(test, err)
	_, err = service.ComplianceBalance(ctx, shipID, 2024)
	require.NoError(test, err)

	for _, raw := range []string{"0.1", "0.2", "0.0000001"} {
		amount, err := compliance.NewPositiveAmount(decimal.RequireFromString(raw))
		require.NoError(test, err)
		entry, err := service.BankSurplus(ctx, shipID, 2024, amount)
		require.NoError(test, err)
		assert.Equal(test, raw, entry.AmountGco2eq.String())
	}
	adjusted, err := service.AdjustedBalance(ctx, shipID, 2024)
	require.NoError(test, err)
	assert.Equal(test, "0.3000001", adjusted.BankedAmount.String())

	applyAmount, err := compliance.NewPositiveAmount(decimal.RequireFromString("0.3000001"))
	require.NoError(test, err)
	_, err = service.ApplyBankedSurplus(ctx, shipID, 2024, applyAmount)
	require.NoError(test, err)
	adjusted, err = service.AdjustedBalance(ctx, shipID, 2024)
	require.NoError(test, err)
	assert.True(test, adjusted.BankedAmount.IsZero(), "banked %s", adjusted.BankedAmount)
}
