package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const (
	minAccountNumber = 1000000000000000
	maxAccountNumber = 9999999999999999
	// numberAttempts bounds the draw loop. Collisions in a 9e15 space are
	// rare enough that hitting this means the generator is broken.
	numberAttempts = 32
)

// NumberGenerator draws a candidate account number.
type NumberGenerator func() string

// RandomAccountNumber draws uniformly from the 16-digit range.
func RandomAccountNumber() string {
	return fmt.Sprintf("%016d", minAccountNumber+rand.Int64N(maxAccountNumber-minAccountNumber+1))
}

// AccountService is the account registry.
type AccountService struct {
	repo      *storage.SQLiteRepository
	clock     core.Clock
	newNumber NumberGenerator
}

func NewAccountService(repo *storage.SQLiteRepository, clock core.Clock) *AccountService {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &AccountService{repo: repo, clock: clock, newNumber: RandomAccountNumber}
}

// WithNumberGenerator replaces the account number source. Tests use it to
// force collisions.
func (s *AccountService) WithNumberGenerator(g NumberGenerator) *AccountService {
	s.newNumber = g
	return s
}

// Create opens a zero-balance account for owner.
func (s *AccountService) Create(ctx context.Context, owner int64, accountType string, isMain bool) (core.Account, error) {
	const op = "services.AccountService.Create"

	typ, err := core.ParseAccountType(accountType)
	if err != nil {
		return core.Account{}, err
	}

	var created core.Account
	err = s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		if isMain {
			has, err := tx.HasMainAccount(ctx, owner)
			if err != nil {
				return err
			}
			if has {
				return core.NewConflict(op, core.CodeMainAccountExists)
			}
		}

		number, err := s.freshNumber(ctx, tx)
		if err != nil {
			return err
		}

		created, err = tx.CreateAccount(ctx, core.Account{
			Number:  number,
			Type:    typ,
			OwnerID: owner,
			IsMain:  isMain,
		}, s.clock.Now())
		return err
	})
	if err != nil {
		return core.Account{}, err
	}

	slog.InfoContext(ctx, "Account created",
		"account_id", created.ID,
		"account_type", created.Type,
		"is_main", created.IsMain,
		"user_id", owner)
	return created, nil
}

func (s *AccountService) freshNumber(ctx context.Context, tx *storage.Tx) (string, error) {
	for i := 0; i < numberAttempts; i++ {
		candidate := s.newNumber()
		taken, err := tx.AccountNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", core.NewConflict("services.AccountService.freshNumber", core.CodeAccountNumberTaken)
}

// Delete removes an account the requester owns. Main accounts and accounts
// that any bill or transaction refers to are kept.
func (s *AccountService) Delete(ctx context.Context, accountID, requester int64) error {
	const op = "services.AccountService.Delete"

	err := s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		acc, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if acc.OwnerID != requester {
			return core.NewAuthorization(op)
		}
		if acc.IsMain {
			return core.NewConflict(op, core.CodeMainAccountUndeletable)
		}
		refs, err := tx.AccountReferences(ctx, accountID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return core.NewConflict(op, core.CodeAccountInUse)
		}
		return tx.DeleteAccount(ctx, accountID)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Account deleted", "account_id", accountID, "user_id", requester)
	return nil
}

// Get returns one account owned by requester.
func (s *AccountService) Get(ctx context.Context, accountID, requester int64) (core.Account, error) {
	acc, err := s.repo.Account(ctx, accountID)
	if err != nil {
		return core.Account{}, err
	}
	if acc.OwnerID != requester {
		return core.Account{}, core.NewAuthorization("services.AccountService.Get")
	}
	return acc, nil
}

// List returns the owner's accounts, main account first.
func (s *AccountService) List(ctx context.Context, owner int64) ([]core.Account, error) {
	return s.repo.ListAccounts(ctx, owner)
}
