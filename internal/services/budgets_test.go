package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.budgets.Create(ctx, 1, core.BudgetInput{Name: "Food", Amount: "100.00", CategoryID: essential, DurationMinutes: 60})
	require.NoError(t, err)
	assert.Equal(t, "100.00", b.Remaining.String())
	assert.True(t, b.EndDate.Equal(f.clock.Now().Add(time.Hour)))

	_, err = f.budgets.Create(ctx, 1, core.BudgetInput{Name: "Food again", Amount: "10", CategoryID: essential, DurationMinutes: 10})
	assert.Equal(t, core.CodeActiveBudgetExists, core.CodeOf(err))

	_, err = f.budgets.Create(ctx, 2, core.BudgetInput{Name: "Food", Amount: "10", CategoryID: essential, DurationMinutes: 10})
	require.NoError(t, err, "uniqueness is per owner")

	_, err = f.budgets.Create(ctx, 1, core.BudgetInput{Name: "Fun", Amount: "10", CategoryID: 999, DurationMinutes: 10})
	assert.Equal(t, core.CodeCategoryNotFound, core.CodeOf(err))

	cases := []core.BudgetInput{
		{Name: "", Amount: "10", CategoryID: discretionary, DurationMinutes: 10},
		{Name: "x", Amount: "10", CategoryID: discretionary, DurationMinutes: 0},
		{Name: "x", Amount: "0", CategoryID: discretionary, DurationMinutes: 10},
	}
	for i, in := range cases {
		_, err := f.budgets.Create(ctx, 1, in)
		assert.True(t, errors.Is(err, core.ErrValidation), "case %d: %v", i, err)
	}

	f.clock.Advance(time.Hour)
	_, err = f.budgets.Create(ctx, 1, core.BudgetInput{Name: "Next hour", Amount: "10", CategoryID: essential, DurationMinutes: 60})
	require.NoError(t, err, "expired budgets do not block new ones")
}

func TestBudgetUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 1, true)
	f.deposit(t, 1, acc, "500")

	food, err := f.budgets.Create(ctx, 1, core.BudgetInput{Name: "Food", Amount: "100", CategoryID: essential, DurationMinutes: 60})
	require.NoError(t, err)
	fun, err := f.budgets.Create(ctx, 1, core.BudgetInput{Name: "Fun", Amount: "30", CategoryID: discretionary, DurationMinutes: 60})
	require.NoError(t, err)

	_, err = f.post(1, core.PostRequest{Kind: core.Payment, Amount: "60", FromAccountID: acc.ID, CategoryID: int64Ptr(essential)})
	require.NoError(t, err)

	_, err = f.budgets.Update(ctx, 1, food.ID, core.BudgetPatch{})
	assert.Equal(t, core.CodeEmptyPatch, core.CodeOf(err))

	_, err = f.budgets.Update(ctx, 2, food.ID, core.BudgetPatch{Name: strPtr("mine")})
	assert.True(t, errors.Is(err, core.ErrAuthorization))

	updated, err := f.budgets.Update(ctx, 1, food.ID, core.BudgetPatch{Amount: strPtr("200")})
	require.NoError(t, err)
	assert.Equal(t, "200.00", updated.Amount.String())
	assert.Equal(t, "80.00", updated.Remaining.String(), "remaining scales with the amount")

	_, err = f.budgets.Update(ctx, 1, fun.ID, core.BudgetPatch{CategoryID: int64Ptr(essential)})
	assert.Equal(t, core.CodeActiveBudgetExists, core.CodeOf(err))

	f.clock.Advance(10 * time.Minute)
	renewed, err := f.budgets.Update(ctx, 1, food.ID, core.BudgetPatch{DurationMinutes: intPtr(30), Name: strPtr("Groceries")})
	require.NoError(t, err, "a budget never conflicts with itself")
	assert.Equal(t, "Groceries", renewed.Name)
	assert.True(t, renewed.StartDate.Equal(f.clock.Now()))
	assert.True(t, renewed.EndDate.Equal(f.clock.Now().Add(30*time.Minute)))

	_, err = f.budgets.Update(ctx, 1, food.ID, core.BudgetPatch{Name: strPtr(" ")})
	assert.Equal(t, core.CodeEmptyName, core.CodeOf(err))

	_, err = f.budgets.Update(ctx, 1, 9999, core.BudgetPatch{Name: strPtr("x")})
	assert.Equal(t, core.CodeBudgetNotFound, core.CodeOf(err))
}

func TestBudgetRevivingExpiredBudgetChecksUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.budgets.Create(ctx, 1, core.BudgetInput{Name: "Old", Amount: "10", CategoryID: essential, DurationMinutes: 5})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	_, err = f.budgets.Create(ctx, 1, core.BudgetInput{Name: "New", Amount: "10", CategoryID: essential, DurationMinutes: 60})
	require.NoError(t, err)

	_, err = f.budgets.Update(ctx, 1, old.ID, core.BudgetPatch{DurationMinutes: intPtr(60)})
	assert.Equal(t, core.CodeActiveBudgetExists, core.CodeOf(err))

	renamed, err := f.budgets.Update(ctx, 1, old.ID, core.BudgetPatch{Name: strPtr("Archived")})
	require.NoError(t, err, "renaming an expired budget does not touch uniqueness")
	assert.Equal(t, "Archived", renamed.Name)

	list, err := f.budgets.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
