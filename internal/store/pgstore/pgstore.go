package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	constraintRouteID       = "idx_routes_route_id"
	constraintShipYear      = "idx_ship_compliance_ship_year"
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectRoute       = "route"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectPool        = "pool"
	errorSubjectEvent       = "event"
	errorSubjectReset       = "reset"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeSum            = "sum"
	errorCodeUpdate         = "update"
	errorCodeUpdateBaseline = "update_baseline"

	routeColumns = `
		id::text, route_id, vessel_type, fuel_type, year,
		ghg_intensity::text, fuel_consumption::text, distance::text, total_emissions::text,
		is_baseline, created_at
	`

	sqlListRoutes = `
		select ` + routeColumns + `
		from routes
		where ($1 = '' or vessel_type = $1)
		and ($2 = '' or fuel_type = $2)
		and ($3 = 0 or year = $3)
		order by year desc, route_id asc
	`

	sqlSelectRouteByRouteID = `
		select ` + routeColumns + `
		from routes
		where route_id = $1
	`

	sqlSelectBaselineRoute = `
		select ` + routeColumns + `
		from routes
		where is_baseline
		limit 1
	`

	sqlSelectRouteForUpdate = `
		select ` + routeColumns + `
		from routes
		where id = $1
		for update
	`

	sqlClearBaseline = `
		update routes set is_baseline = false, updated_at = now()
		where is_baseline and id <> $1
	`

	sqlMarkBaseline = `
		update routes set is_baseline = true, updated_at = now()
		where id = $1
	`

	sqlInsertRoute = `
		insert into routes(
			id, route_id, vessel_type, fuel_type, year,
			ghg_intensity, fuel_consumption, distance, total_emissions,
			is_baseline, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10, $11, $11)
	`

	sqlSelectBalanceForUpdate = `
		select id::text, ship_id, year, cb_gco2eq::text, target_intensity::text,
			actual_intensity::text, energy_in_scope::text, created_at
		from ship_compliance
		where ship_id = $1 and year = $2
		for update
	`

	sqlInsertBalance = `
		insert into ship_compliance(
			id, ship_id, year, cb_gco2eq, target_intensity, actual_intensity, energy_in_scope, created_at, updated_at
		)
		values($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $8)
	`

	sqlUpdateBalanceAmount = `
		update ship_compliance set cb_gco2eq = $2::numeric, updated_at = now()
		where id = $1
	`

	sqlInsertBankEntry = `
		insert into bank_entries(id, ship_id, year, amount_gco2eq, created_at, updated_at)
		values($1, $2, $3, $4::numeric, $5, $6)
	`

	sqlListBankEntries = `
		select id::text, ship_id, year, amount_gco2eq::text, created_at, updated_at
		from bank_entries
		where ship_id = $1 and year = $2
		order by created_at asc, id asc
	`

	sqlSumBankEntries = `
		select coalesce(sum(amount_gco2eq),0)::text
		from bank_entries
		where ship_id = $1 and year = $2
	`

	sqlUpdateBankEntryAmount = `
		update bank_entries set amount_gco2eq = $2::numeric, updated_at = $3
		where id = $1 and $2::numeric >= 0
	`

	sqlInsertPool = `
		insert into pools(id, year, created_at) values($1, $2, $3)
	`

	sqlInsertPoolMember = `
		insert into pool_members(id, pool_id, position, ship_id, cb_before, cb_after)
		values($1, $2, $3, $4, $5::numeric, $6::numeric)
	`

	sqlSelectPool = `
		select id::text, year, created_at from pools where id = $1
	`

	sqlSelectPoolMembers = `
		select ship_id, cb_before::text, cb_after::text
		from pool_members
		where pool_id = $1
		order by position asc
	`

	sqlInsertEvent = `
		insert into compliance_events(id, type, subject, payload, created_at)
		values($1, $2, $3, coalesce(nullif($4,''),'{}')::jsonb, $5)
	`
)

var sqlResetTables = []string{
	`delete from pool_members`,
	`delete from pools`,
	`delete from bank_entries`,
	`delete from ship_compliance`,
	`delete from compliance_events`,
	`delete from routes`,
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements compliance.Store over a pgx pool (autocommit) or an open transaction.
type Store struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// WithTx runs fn in a transaction, or a savepoint when already inside one.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore compliance.Store) error) error {
	tx, err := store.db.Begin(ctx)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) ListRoutes(ctx context.Context, filter compliance.RouteFilter) ([]compliance.Route, error) {
	rows, err := store.db.Query(ctx, sqlListRoutes, string(filter.VesselType), string(filter.FuelType), filter.Year.Int())
	if err != nil {
		return nil, wrapStoreError(errorSubjectRoute, errorCodeList, err)
	}
	defer rows.Close()
	routes := make([]compliance.Route, 0)
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRoute, errorCodeInvalid, err)
		}
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRoute, errorCodeList, err)
	}
	return routes, nil
}

func (store *Store) GetRouteByRouteID(ctx context.Context, routeID string) (compliance.Route, error) {
	route, err := scanRoute(store.db.QueryRow(ctx, sqlSelectRouteByRouteID, routeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return compliance.Route{}, fmt.Errorf("%w: %s", compliance.ErrRouteNotFound, routeID)
	}
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeGet, err)
	}
	return route, nil
}

func (store *Store) GetBaselineRoute(ctx context.Context) (compliance.Route, error) {
	route, err := scanRoute(store.db.QueryRow(ctx, sqlSelectBaselineRoute))
	if errors.Is(err, pgx.ErrNoRows) {
		return compliance.Route{}, compliance.ErrBaselineNotSet
	}
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeGet, err)
	}
	return route, nil
}

func (store *Store) SetBaselineRoute(ctx context.Context, id string) (compliance.Route, error) {
	if _, err := uuid.Parse(id); err != nil {
		return compliance.Route{}, fmt.Errorf("%w: %s", compliance.ErrRouteNotFound, id)
	}
	route, err := scanRoute(store.db.QueryRow(ctx, sqlSelectRouteForUpdate, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return compliance.Route{}, fmt.Errorf("%w: %s", compliance.ErrRouteNotFound, id)
	}
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeGet, err)
	}
	if _, err := store.db.Exec(ctx, sqlClearBaseline, id); err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeUpdateBaseline, err)
	}
	if _, err := store.db.Exec(ctx, sqlMarkBaseline, id); err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeUpdateBaseline, err)
	}
	route.IsBaseline = true
	return route, nil
}

func (store *Store) InsertRoute(ctx context.Context, route compliance.Route) (compliance.Route, error) {
	if route.ID == "" {
		route.ID = newRowID()
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = time.Now().UTC()
	}
	_, err := store.db.Exec(ctx, sqlInsertRoute,
		route.ID,
		route.RouteID,
		string(route.VesselType),
		string(route.FuelType),
		route.Year.Int(),
		route.GHGIntensity.String(),
		route.FuelConsumption.String(),
		route.Distance.String(),
		route.TotalEmissions.String(),
		route.IsBaseline,
		route.CreatedAt,
	)
	if isUniqueViolation(err, constraintRouteID) {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeDuplicate, fmt.Errorf("%w: %s", compliance.ErrRouteExists, route.RouteID))
	}
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeInsert, err)
	}
	return route, nil
}

func (store *Store) ResetData(ctx context.Context) error {
	for _, statement := range sqlResetTables {
		if _, err := store.db.Exec(ctx, statement); err != nil {
			return wrapStoreError(errorSubjectReset, errorCodeDelete, err)
		}
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, shipID compliance.ShipID, year compliance.Year) (compliance.Balance, error) {
	var (
		id, shipValue                                   string
		yearValue                                       int
		cb, targetIntensity, actualIntensity, energyRaw string
		createdAt                                       time.Time
	)
	err := store.db.QueryRow(ctx, sqlSelectBalanceForUpdate, shipID.String(), year.Int()).
		Scan(&id, &shipValue, &yearValue, &cb, &targetIntensity, &actualIntensity, &energyRaw, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return compliance.Balance{}, fmt.Errorf("%w: ship %s year %d", compliance.ErrComplianceNotFound, shipID.String(), year.Int())
	}
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	amounts, err := parseDecimals(cb, targetIntensity, actualIntensity, energyRaw)
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	parsedShipID, err := compliance.NewShipID(shipValue)
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	parsedYear, err := compliance.NewYear(yearValue)
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return compliance.Balance{
		ID:              id,
		ShipID:          parsedShipID,
		Year:            parsedYear,
		CBGco2eq:        amounts[0],
		TargetIntensity: amounts[1],
		ActualIntensity: amounts[2],
		EnergyInScope:   amounts[3],
		CreatedAt:       createdAt.UTC(),
	}, nil
}

func (store *Store) CreateBalance(ctx context.Context, balance compliance.Balance) (compliance.Balance, error) {
	if balance.ID == "" {
		balance.ID = newRowID()
	}
	if balance.CreatedAt.IsZero() {
		balance.CreatedAt = time.Now().UTC()
	}
	_, err := store.db.Exec(ctx, sqlInsertBalance,
		balance.ID,
		balance.ShipID.String(),
		balance.Year.Int(),
		balance.CBGco2eq.String(),
		balance.TargetIntensity.String(),
		balance.ActualIntensity.String(),
		balance.EnergyInScope.String(),
		balance.CreatedAt,
	)
	if isUniqueViolation(err, constraintShipYear) {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeDuplicate, compliance.ErrBalanceExists)
	}
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
	}
	return balance, nil
}

func (store *Store) UpdateBalanceAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := store.db.Exec(ctx, sqlUpdateBalanceAmount, id, amount.String())
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, compliance.ErrComplianceNotFound)
	}
	return nil
}

func (store *Store) InsertBankEntry(ctx context.Context, entry compliance.BankEntry) (compliance.BankEntry, error) {
	entry.ID = newRowID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
		entry.UpdatedAt = entry.CreatedAt
	}
	_, err := store.db.Exec(ctx, sqlInsertBankEntry,
		entry.ID,
		entry.ShipID.String(),
		entry.Year.Int(),
		entry.AmountGco2eq.String(),
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return compliance.BankEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return entry, nil
}

func (store *Store) ListBankEntries(ctx context.Context, shipID compliance.ShipID, year compliance.Year) ([]compliance.BankEntry, error) {
	rows, err := store.db.Query(ctx, sqlListBankEntries, shipID.String(), year.Int())
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]compliance.BankEntry, 0)
	for rows.Next() {
		var (
			id, shipValue, amountRaw string
			yearValue                int
			createdAt, updatedAt     time.Time
		)
		if err := rows.Scan(&id, &shipValue, &yearValue, &amountRaw, &createdAt, &updatedAt); err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
		}
		amount, err := decimal.NewFromString(amountRaw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		parsedShipID, err := compliance.NewShipID(shipValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		parsedYear, err := compliance.NewYear(yearValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, compliance.BankEntry{
			ID:           id,
			ShipID:       parsedShipID,
			Year:         parsedYear,
			AmountGco2eq: amount,
			CreatedAt:    createdAt.UTC(),
			UpdatedAt:    updatedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) SumBankEntries(ctx context.Context, shipID compliance.ShipID, year compliance.Year) (decimal.Decimal, error) {
	var totalRaw string
	if err := store.db.QueryRow(ctx, sqlSumBankEntries, shipID.String(), year.Int()).Scan(&totalRaw); err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	total, err := decimal.NewFromString(totalRaw)
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return total, nil
}

func (store *Store) UpdateBankEntryAmount(ctx context.Context, id string, amount decimal.Decimal, updatedAt time.Time) error {
	tag, err := store.db.Exec(ctx, sqlUpdateBankEntryAmount, id, amount.String(), updatedAt)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, fmt.Errorf("bank entry %s not updated", id))
	}
	return nil
}

func (store *Store) CreatePool(ctx context.Context, pool compliance.Pool) (compliance.Pool, error) {
	pool.ID = newRowID()
	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = time.Now().UTC()
	}
	if _, err := store.db.Exec(ctx, sqlInsertPool, pool.ID, pool.Year.Int(), pool.CreatedAt); err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeCreate, err)
	}
	for position, member := range pool.Members {
		_, err := store.db.Exec(ctx, sqlInsertPoolMember,
			newRowID(),
			pool.ID,
			position,
			member.ShipID.String(),
			member.CBBefore.String(),
			member.CBAfter.String(),
		)
		if err != nil {
			return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeInsert, err)
		}
	}
	return pool, nil
}

func (store *Store) GetPool(ctx context.Context, id string) (compliance.Pool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return compliance.Pool{}, fmt.Errorf("%w: %s", compliance.ErrPoolNotFound, id)
	}
	var (
		poolID    string
		yearValue int
		createdAt time.Time
	)
	err := store.db.QueryRow(ctx, sqlSelectPool, id).Scan(&poolID, &yearValue, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return compliance.Pool{}, fmt.Errorf("%w: %s", compliance.ErrPoolNotFound, id)
	}
	if err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeGet, err)
	}
	year, err := compliance.NewYear(yearValue)
	if err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeInvalid, err)
	}
	rows, err := store.db.Query(ctx, sqlSelectPoolMembers, id)
	if err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeList, err)
	}
	defer rows.Close()
	members := make([]compliance.PoolMember, 0)
	for rows.Next() {
		var shipValue, cbBeforeRaw, cbAfterRaw string
		if err := rows.Scan(&shipValue, &cbBeforeRaw, &cbAfterRaw); err != nil {
			return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeList, err)
		}
		amounts, err := parseDecimals(cbBeforeRaw, cbAfterRaw)
		if err != nil {
			return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeInvalid, err)
		}
		shipID, err := compliance.NewShipID(shipValue)
		if err != nil {
			return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeInvalid, err)
		}
		members = append(members, compliance.PoolMember{ShipID: shipID, CBBefore: amounts[0], CBAfter: amounts[1]})
	}
	if err := rows.Err(); err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeList, err)
	}
	return compliance.Pool{ID: poolID, Year: year, CreatedAt: createdAt.UTC(), Members: members}, nil
}

func (store *Store) AppendEvent(ctx context.Context, event compliance.Event) error {
	_, err := store.db.Exec(ctx, sqlInsertEvent,
		newRowID(),
		string(event.Type),
		event.Subject,
		string(event.Payload),
		event.CreatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return compliance.WrapError(errorOperationStore, subject, code, err)
}

func scanRoute(row pgx.Row) (compliance.Route, error) {
	var (
		id, routeID, vesselRaw, fuelRaw                string
		yearValue                                      int
		ghgRaw, fuelConsumptionRaw, distanceRaw, total string
		isBaseline                                     bool
		createdAt                                      time.Time
	)
	if err := row.Scan(&id, &routeID, &vesselRaw, &fuelRaw, &yearValue, &ghgRaw, &fuelConsumptionRaw, &distanceRaw, &total, &isBaseline, &createdAt); err != nil {
		return compliance.Route{}, err
	}
	vesselType, err := compliance.ParseVesselType(vesselRaw)
	if err != nil {
		return compliance.Route{}, err
	}
	fuelType, err := compliance.ParseFuelType(fuelRaw)
	if err != nil {
		return compliance.Route{}, err
	}
	year, err := compliance.NewYear(yearValue)
	if err != nil {
		return compliance.Route{}, err
	}
	amounts, err := parseDecimals(ghgRaw, fuelConsumptionRaw, distanceRaw, total)
	if err != nil {
		return compliance.Route{}, err
	}
	return compliance.Route{
		ID:              id,
		RouteID:         routeID,
		VesselType:      vesselType,
		FuelType:        fuelType,
		Year:            year,
		GHGIntensity:    amounts[0],
		FuelConsumption: amounts[1],
		Distance:        amounts[2],
		TotalEmissions:  amounts[3],
		IsBaseline:      isBaseline,
		CreatedAt:       createdAt.UTC(),
	}, nil
}

func parseDecimals(raw ...string) ([]decimal.Decimal, error) {
	values := make([]decimal.Decimal, 0, len(raw))
	for _, value := range raw {
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return nil, err
		}
		values = append(values, parsed)
	}
	return values, nil
}

func newRowID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
