package compliance

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

type poolCreatedPayload struct {
	PoolID  string          `json:"poolId"`
	Year    int             `json:"year"`
	Members int             `json:"members"`
	PoolSum decimal.Decimal `json:"poolSum"`
}

// ValidatePoolMembers checks that a pool request is feasible before any allocation happens.
func ValidatePoolMembers(members []PoolMemberInput) error {
	if len(members) == 0 {
		return ErrEmptyPool
	}
	seen := make(map[ShipID]struct{}, len(members))
	total := decimal.Zero
	for _, member := range members {
		if member.ShipID.IsZero() {
			return fmt.Errorf("%w: pool member without ship id", ErrInvalidShipID)
		}
		if _, ok := seen[member.ShipID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePoolMember, member.ShipID.String())
		}
		seen[member.ShipID] = struct{}{}
		total = total.Add(member.CBBefore)
	}
	if total.IsNegative() {
		return fmt.Errorf("%w: sum of compliance balances must be non-negative", ErrPoolInvalid)
	}
	return nil
}

// AllocatePool moves surplus from the largest balances to the largest deficits.
// Members come back sorted by CBBefore descending, ties in request order.
func AllocatePool(members []PoolMemberInput) (Allocation, error) {
	if err := ValidatePoolMembers(members); err != nil {
		return Allocation{}, err
	}
	allocated := make([]PoolMember, 0, len(members))
	for _, member := range members {
		allocated = append(allocated, PoolMember{
			ShipID:   member.ShipID,
			CBBefore: member.CBBefore,
			CBAfter:  member.CBBefore,
		})
	}
	slices.SortStableFunc(allocated, func(left, right PoolMember) int {
		return right.CBBefore.Cmp(left.CBBefore)
	})

	for donorIndex := range allocated {
		donor := &allocated[donorIndex]
		if !donor.CBAfter.IsPositive() {
			continue
		}
		for receiverIndex := len(allocated) - 1; receiverIndex > donorIndex; receiverIndex-- {
			if !donor.CBAfter.IsPositive() {
				break
			}
			receiver := &allocated[receiverIndex]
			if !receiver.CBAfter.IsNegative() {
				continue
			}
			transfer := decimal.Min(donor.CBAfter, receiver.CBAfter.Neg())
			donor.CBAfter = donor.CBAfter.Sub(transfer)
			receiver.CBAfter = receiver.CBAfter.Add(transfer)
		}
	}

	if err := verifyAllocation(allocated); err != nil {
		return Allocation{}, err
	}
	poolSum := decimal.Zero
	for _, member := range allocated {
		poolSum = poolSum.Add(member.CBAfter)
	}
	return Allocation{Members: allocated, PoolSum: poolSum}, nil
}

// verifyAllocation rejects results where a deficit ship ends worse off or a surplus ship ends negative.
func verifyAllocation(members []PoolMember) error {
	for _, member := range members {
		if member.CBBefore.IsNegative() && member.CBAfter.LessThan(member.CBBefore) {
			return fmt.Errorf("%w: deficit ship %s cannot exit worse", ErrPoolAllocation, member.ShipID.String())
		}
		if member.CBBefore.IsPositive() && member.CBAfter.IsNegative() {
			return fmt.Errorf("%w: surplus ship %s cannot exit negative", ErrPoolAllocation, member.ShipID.String())
		}
	}
	return nil
}

// CreatePool allocates the pool and persists it with its members in one transaction.
// Nothing is written when validation or allocation fails.
func (service *Service) CreatePool(ctx context.Context, year Year, members []PoolMemberInput) (PoolResult, error) {
	var result PoolResult
	operationError := func() error {
		if _, err := NewYear(year.Int()); err != nil {
			return err
		}
		allocation, err := AllocatePool(members)
		if err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			pool, err := transactionStore.CreatePool(ctx, Pool{
				Year:      year,
				CreatedAt: service.now(),
				Members:   allocation.Members,
			})
			if err != nil {
				return err
			}
			event, err := service.newEvent(EventPoolCreated, pool.ID, poolCreatedPayload{
				PoolID:  pool.ID,
				Year:    year.Int(),
				Members: len(allocation.Members),
				PoolSum: allocation.PoolSum,
			})
			if err != nil {
				return err
			}
			if err := transactionStore.AppendEvent(ctx, event); err != nil {
				return err
			}
			result = PoolResult{
				PoolID:  pool.ID,
				Year:    year,
				Members: allocation.Members,
				PoolSum: allocation.PoolSum,
				Valid:   true,
			}
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCreatePool,
		Year:      year,
		PoolID:    result.PoolID,
		Amount:    result.PoolSum,
		Error:     operationError,
	})
	if operationError != nil {
		return PoolResult{}, operationError
	}
	return result, nil
}

// Pool returns a stored pool with its members.
func (service *Service) Pool(ctx context.Context, poolID string) (Pool, error) {
	return service.store.GetPool(ctx, poolID)
}
