package services

import (
	"context"
	"log/slog"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// BudgetService tracks time-boxed allowances per category. At most one budget
// per owner and category is active at a time.
type BudgetService struct {
	repo  *storage.SQLiteRepository
	clock core.Clock
}

func NewBudgetService(repo *storage.SQLiteRepository, clock core.Clock) *BudgetService {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &BudgetService{repo: repo, clock: clock}
}

func (s *BudgetService) Create(ctx context.Context, owner int64, in core.BudgetInput) (core.Budget, error) {
	const op = "services.BudgetService.Create"

	now := s.clock.Now()
	budget, err := core.NewBudget(owner, in, now)
	if err != nil {
		return core.Budget{}, err
	}

	var created core.Budget
	err = s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.Category(ctx, budget.CategoryID); err != nil {
			return err
		}
		if err := ensureNoActiveBudget(ctx, tx, op, owner, budget.CategoryID, now, 0); err != nil {
			return err
		}
		created, err = tx.CreateBudget(ctx, budget)
		return err
	})
	if err != nil {
		return core.Budget{}, err
	}

	slog.InfoContext(ctx, "Budget created",
		"budget_id", created.ID,
		"category_id", created.CategoryID,
		"amount", created.Amount.String(),
		"end_date", created.EndDate,
		"user_id", owner)
	return created, nil
}

// Update applies patch. A duration change restarts the window at now and an
// amount change rescales the remaining allowance.
func (s *BudgetService) Update(ctx context.Context, owner, budgetID int64, patch core.BudgetPatch) (core.Budget, error) {
	const op = "services.BudgetService.Update"
	if patch.IsEmpty() {
		return core.Budget{}, core.NewValidation(op, core.CodeEmptyPatch, "")
	}

	now := s.clock.Now()
	var updated core.Budget
	err := s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		current, err := tx.Budget(ctx, budgetID)
		if err != nil {
			return err
		}
		if current.OwnerID != owner {
			return core.NewAuthorization(op)
		}

		next := current
		if err := patch.Apply(&next, now); err != nil {
			return err
		}

		categoryChanged := next.CategoryID != current.CategoryID
		if categoryChanged {
			if _, err := tx.Category(ctx, next.CategoryID); err != nil {
				return err
			}
		}
		windowChanged := !next.EndDate.Equal(current.EndDate)
		if next.Active(now) && (categoryChanged || windowChanged) {
			if err := ensureNoActiveBudget(ctx, tx, op, owner, next.CategoryID, now, current.ID); err != nil {
				return err
			}
		}

		updated, err = tx.UpdateBudget(ctx, next)
		return err
	})
	if err != nil {
		return core.Budget{}, err
	}

	slog.InfoContext(ctx, "Budget updated",
		"budget_id", updated.ID,
		"remaining", updated.Remaining.String(),
		"user_id", owner)
	return updated, nil
}

func (s *BudgetService) Get(ctx context.Context, owner, budgetID int64) (core.Budget, error) {
	b, err := s.repo.Budget(ctx, budgetID)
	if err != nil {
		return core.Budget{}, err
	}
	if b.OwnerID != owner {
		return core.Budget{}, core.NewAuthorization("services.BudgetService.Get")
	}
	return b, nil
}

func (s *BudgetService) List(ctx context.Context, owner int64) ([]core.Budget, error) {
	return s.repo.ListBudgets(ctx, owner)
}

func ensureNoActiveBudget(ctx context.Context, tx *storage.Tx, op string, owner, categoryID int64, now time.Time, excludeID int64) error {
	_, exists, err := tx.ActiveBudget(ctx, owner, categoryID, now, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return core.NewConflict(op, core.CodeActiveBudgetExists)
	}
	return nil
}
