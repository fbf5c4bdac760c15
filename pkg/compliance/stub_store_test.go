package compliance

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubStore struct {
	mutex    sync.Mutex
	nextID   int
	routes   []Route
	balances map[string]Balance
	entries  []BankEntry
	pools    map[string]Pool
	events   []Event

	createPoolErr  error
	insertEntryErr error
	appendEventErr error
	listEntriesErr error
	getBalanceErr  error

	createPoolCalls int
	transactions    int
}

type stubSnapshot struct {
	routes   []Route
	balances map[string]Balance
	entries  []BankEntry
	pools    map[string]Pool
	events   []Event
}

func newStubStore() *stubStore {
	return &stubStore{
		balances: make(map[string]Balance),
		pools:    make(map[string]Pool),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	store.transactions++
	snapshot := stubSnapshot{
		routes:   slices.Clone(store.routes),
		balances: maps.Clone(store.balances),
		entries:  slices.Clone(store.entries),
		pools:    maps.Clone(store.pools),
		events:   slices.Clone(store.events),
	}
	store.mutex.Unlock()
	if err := fn(ctx, store); err != nil {
		store.mutex.Lock()
		store.routes = snapshot.routes
		store.balances = snapshot.balances
		store.entries = snapshot.entries
		store.pools = snapshot.pools
		store.events = snapshot.events
		store.mutex.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) newID(prefix string) string {
	store.nextID++
	return fmt.Sprintf("%s-%d", prefix, store.nextID)
}

func (store *stubStore) ListRoutes(ctx context.Context, filter RouteFilter) ([]Route, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	routes := make([]Route, 0, len(store.routes))
	for _, route := range store.routes {
		if filter.VesselType != "" && route.VesselType != filter.VesselType {
			continue
		}
		if filter.FuelType != "" && route.FuelType != filter.FuelType {
			continue
		}
		if filter.Year != 0 && route.Year != filter.Year {
			continue
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func (store *stubStore) GetRouteByRouteID(ctx context.Context, routeID string) (Route, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, route := range store.routes {
		if route.RouteID == routeID {
			return route, nil
		}
	}
	return Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, routeID)
}

func (store *stubStore) GetBaselineRoute(ctx context.Context) (Route, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, route := range store.routes {
		if route.IsBaseline {
			return route, nil
		}
	}
	return Route{}, ErrBaselineNotSet
}

func (store *stubStore) SetBaselineRoute(ctx context.Context, id string) (Route, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	index := slices.IndexFunc(store.routes, func(route Route) bool { return route.ID == id })
	if index < 0 {
		return Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	for routeIndex := range store.routes {
		store.routes[routeIndex].IsBaseline = routeIndex == index
	}
	return store.routes[index], nil
}

func (store *stubStore) InsertRoute(ctx context.Context, route Route) (Route, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, existing := range store.routes {
		if existing.RouteID == route.RouteID {
			return Route{}, ErrRouteExists
		}
	}
	if route.ID == "" {
		route.ID = store.newID("route")
	}
	store.routes = append(store.routes, route)
	return route, nil
}

func (store *stubStore) ResetData(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.routes = nil
	store.balances = make(map[string]Balance)
	store.entries = nil
	store.pools = make(map[string]Pool)
	store.events = nil
	return nil
}

func (store *stubStore) GetBalance(ctx context.Context, shipID ShipID, year Year) (Balance, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getBalanceErr != nil {
		return Balance{}, store.getBalanceErr
	}
	balance, ok := store.balances[balanceKey(shipID, year)]
	if !ok {
		return Balance{}, ErrComplianceNotFound
	}
	return balance, nil
}

func (store *stubStore) CreateBalance(ctx context.Context, balance Balance) (Balance, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	key := balanceKey(balance.ShipID, balance.Year)
	if _, ok := store.balances[key]; ok {
		return Balance{}, ErrBalanceExists
	}
	if balance.ID == "" {
		balance.ID = store.newID("balance")
	}
	store.balances[key] = balance
	return balance, nil
}

func (store *stubStore) UpdateBalanceAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for key, balance := range store.balances {
		if balance.ID == id {
			balance.CBGco2eq = amount
			store.balances[key] = balance
			return nil
		}
	}
	return ErrComplianceNotFound
}

func (store *stubStore) InsertBankEntry(ctx context.Context, entry BankEntry) (BankEntry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertEntryErr != nil {
		return BankEntry{}, store.insertEntryErr
	}
	entry.ID = store.newID("entry")
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) ListBankEntries(ctx context.Context, shipID ShipID, year Year) ([]BankEntry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.listEntriesErr != nil {
		return nil, store.listEntriesErr
	}
	entries := make([]BankEntry, 0)
	for _, entry := range store.entries {
		if entry.ShipID == shipID && entry.Year == year {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (store *stubStore) SumBankEntries(ctx context.Context, shipID ShipID, year Year) (decimal.Decimal, error) {
	entries, err := store.ListBankEntries(ctx, shipID, year)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.AmountGco2eq)
	}
	return total, nil
}

func (store *stubStore) UpdateBankEntryAmount(ctx context.Context, id string, amount decimal.Decimal, updatedAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for index := range store.entries {
		if store.entries[index].ID == id {
			store.entries[index].AmountGco2eq = amount
			store.entries[index].UpdatedAt = updatedAt
			return nil
		}
	}
	return fmt.Errorf("bank entry %s not found", id)
}

func (store *stubStore) CreatePool(ctx context.Context, pool Pool) (Pool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.createPoolCalls++
	if store.createPoolErr != nil {
		return Pool{}, store.createPoolErr
	}
	pool.ID = store.newID("pool")
	pool.Members = slices.Clone(pool.Members)
	store.pools[pool.ID] = pool
	return pool, nil
}

func (store *stubStore) GetPool(ctx context.Context, id string) (Pool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	pool, ok := store.pools[id]
	if !ok {
		return Pool{}, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return pool, nil
}

func (store *stubStore) AppendEvent(ctx context.Context, event Event) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.appendEventErr != nil {
		return store.appendEventErr
	}
	store.events = append(store.events, event)
	return nil
}

func (store *stubStore) putBalance(test *testing.T, shipID string, year int, cb string) Balance {
	test.Helper()
	balance, err := store.CreateBalance(context.Background(), Balance{
		ShipID:   mustShipID(test, shipID),
		Year:     mustYear(test, year),
		CBGco2eq: mustDecimal(test, cb),
	})
	if err != nil {
		test.Fatalf("create balance: %v", err)
	}
	return balance
}

func (store *stubStore) mustBalance(test *testing.T, shipID string, year int) Balance {
	test.Helper()
	balance, err := store.GetBalance(context.Background(), mustShipID(test, shipID), mustYear(test, year))
	if err != nil {
		test.Fatalf("get balance: %v", err)
	}
	return balance
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC) }
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock(), options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustShipID(test *testing.T, raw string) ShipID {
	test.Helper()
	value, err := NewShipID(raw)
	if err != nil {
		test.Fatalf("ship id: %v", err)
	}
	return value
}

func mustYear(test *testing.T, raw int) Year {
	test.Helper()
	value, err := NewYear(raw)
	if err != nil {
		test.Fatalf("year: %v", err)
	}
	return value
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func mustPositiveAmount(test *testing.T, raw string) PositiveAmount {
	test.Helper()
	value, err := NewPositiveAmount(mustDecimal(test, raw))
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustMember(test *testing.T, shipID string, cbBefore string) PoolMemberInput {
	test.Helper()
	return PoolMemberInput{ShipID: mustShipID(test, shipID), CBBefore: mustDecimal(test, cbBefore)}
}
