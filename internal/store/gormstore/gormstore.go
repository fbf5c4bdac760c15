package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintRouteID        = "idx_routes_route_id"
	constraintShipYear       = "idx_ship_compliance_ship_year"
	defaultPayloadJSON       = "{}"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	sqliteUniqueFailed       = "UNIQUE constraint failed: "
	errorOperationStore      = "store"
	errorSubjectRoute        = "route"
	errorSubjectBalance      = "balance"
	errorSubjectEntry        = "entry"
	errorSubjectPool         = "pool"
	errorSubjectEvent        = "event"
	errorSubjectReset        = "reset"
	errorCodeCreate          = "create"
	errorCodeDelete          = "delete"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeSum             = "sum"
	errorCodeUpdate          = "update"
	errorCodeUpdateBaseline  = "update_baseline"
	columnIsBaseline         = "is_baseline"
	columnCBGco2eq           = "cb_gco2eq"
	columnAmountGco2eq       = "amount_gco2eq"
	columnUpdatedAt          = "updated_at"
	orderRoutes              = "year DESC, route_id ASC"
	orderBankEntriesOldest   = "created_at ASC, id ASC"
	orderPoolMembersPosition = "position ASC"
)

// sqliteUniqueColumns maps unique index names to the column list SQLite reports on violation.
var sqliteUniqueColumns = map[string]string{
	constraintRouteID:  "routes.route_id",
	constraintShipYear: "ship_compliance.ship_id, ship_compliance.year",
}

// Store implements compliance.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore compliance.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) ListRoutes(ctx context.Context, filter compliance.RouteFilter) ([]compliance.Route, error) {
	query := store.db.WithContext(ctx).Model(&Route{})
	if filter.VesselType != "" {
		query = query.Where("vessel_type = ?", string(filter.VesselType))
	}
	if filter.FuelType != "" {
		query = query.Where("fuel_type = ?", string(filter.FuelType))
	}
	if filter.Year != 0 {
		query = query.Where("year = ?", filter.Year.Int())
	}
	var rows []Route
	if err := query.Order(orderRoutes).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRoute, errorCodeList, err)
	}
	routes := make([]compliance.Route, 0, len(rows))
	for _, row := range rows {
		route, err := mapRoute(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRoute, errorCodeInvalid, err)
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func (store *Store) GetRouteByRouteID(ctx context.Context, routeID string) (compliance.Route, error) {
	var model Route
	err := store.db.WithContext(ctx).Where("route_id = ?", routeID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return compliance.Route{}, fmt.Errorf("%w: %s", compliance.ErrRouteNotFound, routeID)
		}
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeGet, err)
	}
	return mapRouteOrWrap(model)
}

func (store *Store) GetBaselineRoute(ctx context.Context) (compliance.Route, error) {
	var model Route
	err := store.db.WithContext(ctx).Where(columnIsBaseline+" = ?", true).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return compliance.Route{}, compliance.ErrBaselineNotSet
		}
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeGet, err)
	}
	return mapRouteOrWrap(model)
}

// SetBaselineRoute clears the current baseline and marks id. Callers run it inside WithTx.
func (store *Store) SetBaselineRoute(ctx context.Context, id string) (compliance.Route, error) {
	if _, err := uuid.Parse(id); err != nil {
		return compliance.Route{}, fmt.Errorf("%w: %s", compliance.ErrRouteNotFound, id)
	}
	var model Route
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return compliance.Route{}, fmt.Errorf("%w: %s", compliance.ErrRouteNotFound, id)
		}
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeGet, err)
	}
	err = store.db.WithContext(ctx).
		Model(&Route{}).
		Where(columnIsBaseline+" = ? AND id <> ?", true, id).
		Update(columnIsBaseline, false).Error
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeUpdateBaseline, err)
	}
	err = store.db.WithContext(ctx).
		Model(&Route{}).
		Where("id = ?", id).
		Update(columnIsBaseline, true).Error
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeUpdateBaseline, err)
	}
	model.IsBaseline = true
	return mapRouteOrWrap(model)
}

func (store *Store) InsertRoute(ctx context.Context, route compliance.Route) (compliance.Route, error) {
	model := Route{
		ID:              route.ID,
		RouteID:         route.RouteID,
		VesselType:      string(route.VesselType),
		FuelType:        string(route.FuelType),
		Year:            route.Year.Int(),
		GHGIntensity:    newNumeric(route.GHGIntensity),
		FuelConsumption: newNumeric(route.FuelConsumption),
		Distance:        newNumeric(route.Distance),
		TotalEmissions:  newNumeric(route.TotalEmissions),
		IsBaseline:      route.IsBaseline,
		CreatedAt:       route.CreatedAt,
		UpdatedAt:       route.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintRouteID) {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeDuplicate, fmt.Errorf("%w: %s", compliance.ErrRouteExists, route.RouteID))
	}
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeInsert, err)
	}
	return mapRouteOrWrap(model)
}

// ResetData deletes every row, children first.
func (store *Store) ResetData(ctx context.Context) error {
	for _, model := range []any{&PoolMember{}, &Pool{}, &BankEntry{}, &ShipCompliance{}, &ComplianceEvent{}, &Route{}} {
		if err := store.db.WithContext(ctx).Where("1 = 1").Delete(model).Error; err != nil {
			return wrapStoreError(errorSubjectReset, errorCodeDelete, err)
		}
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, shipID compliance.ShipID, year compliance.Year) (compliance.Balance, error) {
	var model ShipCompliance
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("ship_id = ? AND year = ?", shipID.String(), year.Int()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return compliance.Balance{}, fmt.Errorf("%w: ship %s year %d", compliance.ErrComplianceNotFound, shipID.String(), year.Int())
		}
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := mapBalance(model)
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) CreateBalance(ctx context.Context, balance compliance.Balance) (compliance.Balance, error) {
	model := ShipCompliance{
		ID:              balance.ID,
		ShipID:          balance.ShipID.String(),
		Year:            balance.Year.Int(),
		CBGco2eq:        newNumeric(balance.CBGco2eq),
		TargetIntensity: newNumeric(balance.TargetIntensity),
		ActualIntensity: newNumeric(balance.ActualIntensity),
		EnergyInScope:   newNumeric(balance.EnergyInScope),
		CreatedAt:       balance.CreatedAt,
		UpdatedAt:       balance.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintShipYear) {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeDuplicate, compliance.ErrBalanceExists)
	}
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
	}
	created, err := mapBalance(model)
	if err != nil {
		return compliance.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) UpdateBalanceAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	result := store.db.WithContext(ctx).
		Model(&ShipCompliance{}).
		Where("id = ?", id).
		Update(columnCBGco2eq, newNumeric(amount))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, compliance.ErrComplianceNotFound)
	}
	return nil
}

func (store *Store) InsertBankEntry(ctx context.Context, entry compliance.BankEntry) (compliance.BankEntry, error) {
	model := BankEntry{
		ShipID:       entry.ShipID.String(),
		Year:         entry.Year.Int(),
		AmountGco2eq: newNumeric(entry.AmountGco2eq),
		CreatedAt:    entry.CreatedAt,
		UpdatedAt:    entry.UpdatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
		model.UpdatedAt = model.CreatedAt
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return compliance.BankEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	created, err := mapBankEntry(model)
	if err != nil {
		return compliance.BankEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) ListBankEntries(ctx context.Context, shipID compliance.ShipID, year compliance.Year) ([]compliance.BankEntry, error) {
	var rows []BankEntry
	err := store.db.WithContext(ctx).
		Where("ship_id = ? AND year = ?", shipID.String(), year.Int()).
		Order(orderBankEntriesOldest).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]compliance.BankEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapBankEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SumBankEntries adds the amounts in Go so SQLite text columns are never coerced to floats.
func (store *Store) SumBankEntries(ctx context.Context, shipID compliance.ShipID, year compliance.Year) (decimal.Decimal, error) {
	var amounts []Numeric
	err := store.db.WithContext(ctx).
		Model(&BankEntry{}).
		Where("ship_id = ? AND year = ?", shipID.String(), year.Int()).
		Pluck(columnAmountGco2eq, &amounts).Error
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount.Decimal)
	}
	return total, nil
}

func (store *Store) UpdateBankEntryAmount(ctx context.Context, id string, amount decimal.Decimal, updatedAt time.Time) error {
	if amount.IsNegative() {
		return wrapStoreError(errorSubjectEntry, errorCodeInvalid, fmt.Errorf("%w: negative bank entry", compliance.ErrInvalidAmount))
	}
	result := store.db.WithContext(ctx).
		Model(&BankEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			columnAmountGco2eq: newNumeric(amount),
			columnUpdatedAt:    updatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, fmt.Errorf("bank entry %s not found", id))
	}
	return nil
}

func (store *Store) CreatePool(ctx context.Context, pool compliance.Pool) (compliance.Pool, error) {
	model := Pool{
		Year:      pool.Year.Int(),
		CreatedAt: pool.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeCreate, err)
	}
	members := make([]PoolMember, 0, len(pool.Members))
	for position, member := range pool.Members {
		members = append(members, PoolMember{
			PoolID:   model.ID,
			Position: position,
			ShipID:   member.ShipID.String(),
			CBBefore: newNumeric(member.CBBefore),
			CBAfter:  newNumeric(member.CBAfter),
		})
	}
	if len(members) > 0 {
		if err := store.db.WithContext(ctx).Create(&members).Error; err != nil {
			return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeInsert, err)
		}
	}
	model.Members = members
	created, err := mapPool(model)
	if err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetPool(ctx context.Context, id string) (compliance.Pool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return compliance.Pool{}, fmt.Errorf("%w: %s", compliance.ErrPoolNotFound, id)
	}
	var model Pool
	err := store.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order(orderPoolMembersPosition)
		}).
		Where("id = ?", id).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return compliance.Pool{}, fmt.Errorf("%w: %s", compliance.ErrPoolNotFound, id)
		}
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeGet, err)
	}
	pool, err := mapPool(model)
	if err != nil {
		return compliance.Pool{}, wrapStoreError(errorSubjectPool, errorCodeInvalid, err)
	}
	return pool, nil
}

func (store *Store) AppendEvent(ctx context.Context, event compliance.Event) error {
	model := ComplianceEvent{
		Type:      string(event.Type),
		Subject:   event.Subject,
		Payload:   datatypesJSON(event.Payload),
		CreatedAt: event.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return compliance.WrapError(errorOperationStore, subject, code, err)
}

func mapRouteOrWrap(model Route) (compliance.Route, error) {
	route, err := mapRoute(model)
	if err != nil {
		return compliance.Route{}, wrapStoreError(errorSubjectRoute, errorCodeInvalid, err)
	}
	return route, nil
}

func mapRoute(row Route) (compliance.Route, error) {
	vesselType, err := compliance.ParseVesselType(row.VesselType)
	if err != nil {
		return compliance.Route{}, err
	}
	fuelType, err := compliance.ParseFuelType(row.FuelType)
	if err != nil {
		return compliance.Route{}, err
	}
	year, err := compliance.NewYear(row.Year)
	if err != nil {
		return compliance.Route{}, err
	}
	return compliance.Route{
		ID:              row.ID,
		RouteID:         row.RouteID,
		VesselType:      vesselType,
		FuelType:        fuelType,
		Year:            year,
		GHGIntensity:    row.GHGIntensity.Decimal,
		FuelConsumption: row.FuelConsumption.Decimal,
		Distance:        row.Distance.Decimal,
		TotalEmissions:  row.TotalEmissions.Decimal,
		IsBaseline:      row.IsBaseline,
		CreatedAt:       row.CreatedAt.UTC(),
	}, nil
}

func mapBalance(row ShipCompliance) (compliance.Balance, error) {
	shipID, err := compliance.NewShipID(row.ShipID)
	if err != nil {
		return compliance.Balance{}, err
	}
	year, err := compliance.NewYear(row.Year)
	if err != nil {
		return compliance.Balance{}, err
	}
	return compliance.Balance{
		ID:              row.ID,
		ShipID:          shipID,
		Year:            year,
		CBGco2eq:        row.CBGco2eq.Decimal,
		TargetIntensity: row.TargetIntensity.Decimal,
		ActualIntensity: row.ActualIntensity.Decimal,
		EnergyInScope:   row.EnergyInScope.Decimal,
		CreatedAt:       row.CreatedAt.UTC(),
	}, nil
}

func mapBankEntry(row BankEntry) (compliance.BankEntry, error) {
	shipID, err := compliance.NewShipID(row.ShipID)
	if err != nil {
		return compliance.BankEntry{}, err
	}
	year, err := compliance.NewYear(row.Year)
	if err != nil {
		return compliance.BankEntry{}, err
	}
	return compliance.BankEntry{
		ID:           row.ID,
		ShipID:       shipID,
		Year:         year,
		AmountGco2eq: row.AmountGco2eq.Decimal,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}

func mapPool(row Pool) (compliance.Pool, error) {
	year, err := compliance.NewYear(row.Year)
	if err != nil {
		return compliance.Pool{}, err
	}
	members := make([]compliance.PoolMember, 0, len(row.Members))
	for _, member := range row.Members {
		shipID, err := compliance.NewShipID(member.ShipID)
		if err != nil {
			return compliance.Pool{}, err
		}
		members = append(members, compliance.PoolMember{
			ShipID:   shipID,
			CBBefore: member.CBBefore.Decimal,
			CBAfter:  member.CBAfter.Decimal,
		})
	}
	return compliance.Pool{
		ID:        row.ID,
		Year:      year,
		CreatedAt: row.CreatedAt.UTC(),
		Members:   members,
	}, nil
}

func datatypesJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte(defaultPayloadJSON))
	}
	return datatypes.JSON(raw)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		columns, known := sqliteUniqueColumns[constraint]
		return known && sqliteErr.Code()&0xFF == sqliteConstraintCode &&
			strings.Contains(sqliteErr.Error(), sqliteUniqueFailed+columns)
	}
	return false
}
