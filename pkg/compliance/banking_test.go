package compliance

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

const (
	bankingShip = "R002"
	bankingYear = 2024
)

func TestBankingRoundTrip(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.putBalance(test, bankingShip, bankingYear, "1000")
	service := mustNewService(test, store)
	ctx := context.Background()
	shipID := mustShipID(test, bankingShip)
	year := mustYear(test, bankingYear)

	entry, err := service.BankSurplus(ctx, shipID, year, mustPositiveAmount(test, "300"))
	if err != nil {
		test.Fatalf("bank: %v", err)
	}
	if !entry.AmountGco2eq.Equal(decimal.NewFromInt(300)) {
		test.Fatalf("expected entry amount 300, got %s", entry.AmountGco2eq)
	}
	if balance := store.mustBalance(test, bankingShip, bankingYear); !balance.CBGco2eq.Equal(decimal.NewFromInt(1000)) {
		test.Fatalf("banking must not change the balance, got %s", balance.CBGco2eq)
	}

	result, err := service.ApplyBankedSurplus(ctx, shipID, year, mustPositiveAmount(test, "300"))
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	if !result.CBBefore.Equal(decimal.NewFromInt(1000)) || !result.Applied.Equal(decimal.NewFromInt(300)) || !result.CBAfter.Equal(decimal.NewFromInt(1300)) {
		test.Fatalf("unexpected apply result: %+v", result)
	}
	records, err := service.BankingRecords(ctx, shipID, year)
	if err != nil {
		test.Fatalf("records: %v", err)
	}
	if len(records) != 1 || !records[0].AmountGco2eq.IsZero() {
		test.Fatalf("expected one drained entry, got %+v", records)
	}

	_, err = service.ApplyBankedSurplus(ctx, shipID, year, mustPositiveAmount(test, "1"))
	if !errors.Is(err, ErrInsufficientBanked) {
		test.Fatalf("expected ErrInsufficientBanked, got %v", err)
	}
	if !strings.Contains(err.Error(), "insufficient banked surplus") {
		test.Fatalf("unexpected message %q", err.Error())
	}
	if balance := store.mustBalance(test, bankingShip, bankingYear); !balance.CBGco2eq.Equal(decimal.NewFromInt(1300)) {
		test.Fatalf("failed apply must not change the balance, got %s", balance.CBGco2eq)
	}
}

func TestBankSurplusRejections(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		cb       string
		amount   string
		expected error
		kind     ErrorKind
	}{
		{name: "over cap", cb: "1000", amount: "1500", expected: ErrBankExceedsBalance, kind: KindBusinessRuleViolation},
		{name: "zero balance", cb: "0", amount: "1", expected: ErrNonPositiveBalance, kind: KindBusinessRuleViolation},
		{name: "deficit balance", cb: "-200", amount: "1", expected: ErrNonPositiveBalance, kind: KindBusinessRuleViolation},
		{name: "missing balance", amount: "1", expected: ErrComplianceNotFound, kind: KindNotFound},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore()
			if testCase.cb != "" {
				store.putBalance(test, bankingShip, bankingYear, testCase.cb)
			}
			service := mustNewService(test, store)
			_, err := service.BankSurplus(context.Background(), mustShipID(test, bankingShip), mustYear(test, bankingYear), mustPositiveAmount(test, testCase.amount))
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			if KindOf(err) != testCase.kind {
				test.Fatalf("expected kind %s, got %s", testCase.kind, KindOf(err))
			}
			if len(store.entries) != 0 || len(store.events) != 0 {
				test.Fatalf("expected nothing written, got %d entries and %d events", len(store.entries), len(store.events))
			}
		})
	}
}

func TestBankSurplusOverCapMessage(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.putBalance(test, bankingShip, bankingYear, "1000")
	service := mustNewService(test, store)
	_, err := service.BankSurplus(context.Background(), mustShipID(test, bankingShip), mustYear(test, bankingYear), mustPositiveAmount(test, "1500"))
	if err == nil || !strings.Contains(err.Error(), "cannot bank more than available") {
		test.Fatalf("expected over-cap message, got %v", err)
	}
}

func TestBankingRejectsNonPositiveAmounts(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"0", "-10"} {
		if _, err := NewPositiveAmount(mustDecimal(test, raw)); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("amount %s: expected ErrInvalidAmount, got %v", raw, err)
		}
	}
	store := newStubStore()
	store.putBalance(test, bankingShip, bankingYear, "1000")
	service := mustNewService(test, store)
	shipID := mustShipID(test, bankingShip)
	year := mustYear(test, bankingYear)
	if _, err := service.BankSurplus(context.Background(), shipID, year, PositiveAmount{}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("bank: expected ErrInvalidAmount for zero value, got %v", err)
	}
	if _, err := service.ApplyBankedSurplus(context.Background(), shipID, year, PositiveAmount{}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("apply: expected ErrInvalidAmount for zero value, got %v", err)
	}
	if store.transactions != 0 {
		test.Fatalf("expected no transactions, got %d", store.transactions)
	}
}

func TestApplyConsumesEntriesOldestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.putBalance(test, bankingShip, bankingYear, "1000")
	service := mustNewService(test, store)
	ctx := context.Background()
	shipID := mustShipID(test, bankingShip)
	year := mustYear(test, bankingYear)

	first, err := service.BankSurplus(ctx, shipID, year, mustPositiveAmount(test, "100"))
	if err != nil {
		test.Fatalf("bank first: %v", err)
	}
	second, err := service.BankSurplus(ctx, shipID, year, mustPositiveAmount(test, "200"))
	if err != nil {
		test.Fatalf("bank second: %v", err)
	}

	result, err := service.ApplyBankedSurplus(ctx, shipID, year, mustPositiveAmount(test, "150"))
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	if !result.CBAfter.Equal(decimal.NewFromInt(1150)) {
		test.Fatalf("expected cbAfter 1150, got %s", result.CBAfter)
	}
	records, err := service.BankingRecords(ctx, shipID, year)
	if err != nil {
		test.Fatalf("records: %v", err)
	}
	amounts := map[string]decimal.Decimal{}
	for _, record := range records {
		amounts[record.ID] = record.AmountGco2eq
	}
	if !amounts[first.ID].IsZero() {
		test.Fatalf("expected first entry drained, got %s", amounts[first.ID])
	}
	if !amounts[second.ID].Equal(decimal.NewFromInt(150)) {
		test.Fatalf("expected second entry 150, got %s", amounts[second.ID])
	}
}

func TestApplyRollsBackWhenEventFails(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.putBalance(test, bankingShip, bankingYear, "1000")
	service := mustNewService(test, store)
	ctx := context.Background()
	shipID := mustShipID(test, bankingShip)
	year := mustYear(test, bankingYear)
	if _, err := service.BankSurplus(ctx, shipID, year, mustPositiveAmount(test, "100")); err != nil {
		test.Fatalf("bank: %v", err)
	}
	store.appendEventErr = errors.New("event sink down")

	if _, err := service.ApplyBankedSurplus(ctx, shipID, year, mustPositiveAmount(test, "50")); err == nil {
		test.Fatalf("expected error")
	}
	if balance := store.mustBalance(test, bankingShip, bankingYear); !balance.CBGco2eq.Equal(decimal.NewFromInt(1000)) {
		test.Fatalf("expected balance rolled back to 1000, got %s", balance.CBGco2eq)
	}
	if !store.entries[0].AmountGco2eq.Equal(decimal.NewFromInt(100)) {
		test.Fatalf("expected entry rolled back to 100, got %s", store.entries[0].AmountGco2eq)
	}
}

func TestBankingRecordsIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.putBalance(test, bankingShip, bankingYear, "500")
	service := mustNewService(test, store)
	ctx := context.Background()
	shipID := mustShipID(test, bankingShip)
	year := mustYear(test, bankingYear)
	for _, raw := range []string{"50", "75"} {
		if _, err := service.BankSurplus(ctx, shipID, year, mustPositiveAmount(test, raw)); err != nil {
			test.Fatalf("bank %s: %v", raw, err)
		}
	}

	first, err := service.BankingRecords(ctx, shipID, year)
	if err != nil {
		test.Fatalf("first read: %v", err)
	}
	second, err := service.BankingRecords(ctx, shipID, year)
	if err != nil {
		test.Fatalf("second read: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		test.Fatalf("expected identical reads, got %+v and %+v", first, second)
	}
}

func TestConcurrentAppliesDoNotLoseUpdates(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.putBalance(test, bankingShip, bankingYear, "1000")
	service := mustNewService(test, store)
	ctx := context.Background()
	shipID := mustShipID(test, bankingShip)
	year := mustYear(test, bankingYear)
	for index := 0; index < 10; index++ {
		if _, err := service.BankSurplus(ctx, shipID, year, mustPositiveAmount(test, "10")); err != nil {
			test.Fatalf("bank: %v", err)
		}
	}

	var waitGroup sync.WaitGroup
	errs := make(chan error, 10)
	for index := 0; index < 10; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.ApplyBankedSurplus(ctx, shipID, year, PositiveAmount{value: decimal.NewFromInt(10)})
			errs <- err
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			test.Fatalf("apply: %v", err)
		}
	}

	if balance := store.mustBalance(test, bankingShip, bankingYear); !balance.CBGco2eq.Equal(decimal.NewFromInt(1100)) {
		test.Fatalf("expected balance 1100, got %s", balance.CBGco2eq)
	}
	total, err := store.SumBankEntries(ctx, shipID, year)
	if err != nil {
		test.Fatalf("sum: %v", err)
	}
	if !total.IsZero() {
		test.Fatalf("expected all entries drained, got %s", total)
	}
	if service.locks.size() != 0 {
		test.Fatalf("expected locks released, got %d", service.locks.size())
	}
}
