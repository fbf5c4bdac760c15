package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type surplusBankedPayload struct {
	EntryID      string          `json:"entryId"`
	ShipID       string          `json:"shipId"`
	Year         int             `json:"year"`
	AmountGco2eq decimal.Decimal `json:"amountGco2eq"`
	CBGco2eq     decimal.Decimal `json:"cbGco2eq"`
}

type bankedSurplusAppliedPayload struct {
	ShipID   string          `json:"shipId"`
	Year     int             `json:"year"`
	CBBefore decimal.Decimal `json:"cbBefore"`
	Applied  decimal.Decimal `json:"applied"`
	CBAfter  decimal.Decimal `json:"cbAfter"`
	Drained  []string        `json:"drainedEntries"`
}

// BankSurplus records part of a positive compliance balance as a bank entry.
// The balance itself is left untouched.
func (service *Service) BankSurplus(ctx context.Context, shipID ShipID, year Year, amount PositiveAmount) (BankEntry, error) {
	var entry BankEntry
	operationError := func() error {
		if err := validateBankingKey(shipID, year, amount); err != nil {
			return err
		}
		unlock := service.locks.Lock(balanceKey(shipID, year))
		defer unlock()
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			balance, err := transactionStore.GetBalance(ctx, shipID, year)
			if err != nil {
				return err
			}
			if !balance.CBGco2eq.IsPositive() {
				return ErrNonPositiveBalance
			}
			if amount.Decimal().GreaterThan(balance.CBGco2eq) {
				return ErrBankExceedsBalance
			}
			nowUTC := service.now()
			created, err := transactionStore.InsertBankEntry(ctx, BankEntry{
				ShipID:       shipID,
				Year:         year,
				AmountGco2eq: amount.Decimal(),
				CreatedAt:    nowUTC,
				UpdatedAt:    nowUTC,
			})
			if err != nil {
				return err
			}
			event, err := service.newEvent(EventSurplusBanked, balanceKey(shipID, year), surplusBankedPayload{
				EntryID:      created.ID,
				ShipID:       shipID.String(),
				Year:         year.Int(),
				AmountGco2eq: created.AmountGco2eq,
				CBGco2eq:     balance.CBGco2eq,
			})
			if err != nil {
				return err
			}
			if err := transactionStore.AppendEvent(ctx, event); err != nil {
				return err
			}
			entry = created
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationBank,
		ShipID:    shipID,
		Year:      year,
		Amount:    amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return BankEntry{}, operationError
	}
	return entry, nil
}

// ApplyBankedSurplus adds banked surplus back onto the compliance balance and drains
// bank entries oldest first by the same amount.
func (service *Service) ApplyBankedSurplus(ctx context.Context, shipID ShipID, year Year, amount PositiveAmount) (ApplyResult, error) {
	var result ApplyResult
	operationError := func() error {
		if err := validateBankingKey(shipID, year, amount); err != nil {
			return err
		}
		unlock := service.locks.Lock(balanceKey(shipID, year))
		defer unlock()
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			balance, err := transactionStore.GetBalance(ctx, shipID, year)
			if err != nil {
				return err
			}
			entries, err := transactionStore.ListBankEntries(ctx, shipID, year)
			if err != nil {
				return err
			}
			totalBanked := decimal.Zero
			for _, entry := range entries {
				totalBanked = totalBanked.Add(entry.AmountGco2eq)
			}
			if amount.Decimal().GreaterThan(totalBanked) {
				return fmt.Errorf("%w: requested %s, banked %s", ErrInsufficientBanked, amount.Decimal().String(), totalBanked.String())
			}

			cbAfter := balance.CBGco2eq.Add(amount.Decimal())
			if err := transactionStore.UpdateBalanceAmount(ctx, balance.ID, cbAfter); err != nil {
				return err
			}
			drained, err := drainBankEntries(ctx, transactionStore, entries, amount.Decimal(), service.now())
			if err != nil {
				return err
			}

			applied := ApplyResult{
				CBBefore: balance.CBGco2eq,
				Applied:  amount.Decimal(),
				CBAfter:  cbAfter,
			}
			event, err := service.newEvent(EventBankedSurplusApplied, balanceKey(shipID, year), bankedSurplusAppliedPayload{
				ShipID:   shipID.String(),
				Year:     year.Int(),
				CBBefore: applied.CBBefore,
				Applied:  applied.Applied,
				CBAfter:  applied.CBAfter,
				Drained:  drained,
			})
			if err != nil {
				return err
			}
			if err := transactionStore.AppendEvent(ctx, event); err != nil {
				return err
			}
			result = applied
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationApply,
		ShipID:    shipID,
		Year:      year,
		Amount:    amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return ApplyResult{}, operationError
	}
	return result, nil
}

// BankingRecords lists bank entries for a ship-year, oldest first.
func (service *Service) BankingRecords(ctx context.Context, shipID ShipID, year Year) ([]BankEntry, error) {
	if shipID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidShipID)
	}
	if _, err := NewYear(year.Int()); err != nil {
		return nil, err
	}
	return service.store.ListBankEntries(ctx, shipID, year)
}

// drainBankEntries deducts remaining from entries in order and returns the ids it touched.
func drainBankEntries(ctx context.Context, transactionStore Store, entries []BankEntry, remaining decimal.Decimal, updatedAt time.Time) ([]string, error) {
	drained := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !remaining.IsPositive() {
			break
		}
		deduction := decimal.Min(entry.AmountGco2eq, remaining)
		if !deduction.IsPositive() {
			continue
		}
		if err := transactionStore.UpdateBankEntryAmount(ctx, entry.ID, entry.AmountGco2eq.Sub(deduction), updatedAt); err != nil {
			return nil, err
		}
		remaining = remaining.Sub(deduction)
		drained = append(drained, entry.ID)
	}
	if remaining.IsPositive() {
		return nil, fmt.Errorf("%w: %s left undrained", ErrInsufficientBanked, remaining.String())
	}
	return drained, nil
}

func validateBankingKey(shipID ShipID, year Year, amount PositiveAmount) error {
	if shipID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidShipID)
	}
	if _, err := NewYear(year.Int()); err != nil {
		return err
	}
	if !amount.Decimal().IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return nil
}
