package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"fintrack/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sixteenDigits = regexp.MustCompile(`^[1-9][0-9]{15}$`)

func TestRandomAccountNumberRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		n := RandomAccountNumber()
		if !sixteenDigits.MatchString(n) {
			t.Fatalf("unexpected account number %q", n)
		}
	}
}

func TestAccountCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	main, err := f.accounts.Create(ctx, 1, "savings", true)
	require.NoError(t, err)
	assert.True(t, main.IsMain)
	assert.Equal(t, core.Savings, main.Type)
	assert.Equal(t, "0.00", main.Balance.String())
	assert.Regexp(t, sixteenDigits, main.Number)

	_, err = f.accounts.Create(ctx, 1, "checking", true)
	assert.True(t, errors.Is(err, core.ErrConflict))
	assert.Equal(t, core.CodeMainAccountExists, core.CodeOf(err))

	_, err = f.accounts.Create(ctx, 1, "brokerage", false)
	assert.Equal(t, core.CodeInvalidAccountType, core.CodeOf(err))

	second, err := f.accounts.Create(ctx, 1, "checking", false)
	require.NoError(t, err)
	assert.NotEqual(t, main.Number, second.Number)

	list, err := f.accounts.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, main.ID, list[0].ID, "main account first")
}

func TestAccountCreateRetriesTakenNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seq := []string{"1111111111111111", "1111111111111111", "2222222222222222"}
	i := 0
	f.accounts.WithNumberGenerator(func() string {
		n := seq[i%len(seq)]
		i++
		return n
	})

	first, err := f.accounts.Create(ctx, 1, "checking", true)
	require.NoError(t, err)
	assert.Equal(t, "1111111111111111", first.Number)

	second, err := f.accounts.Create(ctx, 2, "checking", true)
	require.NoError(t, err)
	assert.Equal(t, "2222222222222222", second.Number)

	f.accounts.WithNumberGenerator(func() string { return "1111111111111111" })
	_, err = f.accounts.Create(ctx, 3, "checking", true)
	assert.Equal(t, core.CodeAccountNumberTaken, core.CodeOf(err))
}

func TestAccountDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	main := f.account(t, 1, true)
	spare := f.account(t, 1, false)
	used := f.account(t, 1, false)
	f.deposit(t, 1, used, "10")

	err := f.accounts.Delete(ctx, 9999, 1)
	assert.Equal(t, core.ClassNotFound, core.ClassOf(err))

	err = f.accounts.Delete(ctx, spare.ID, 2)
	assert.True(t, errors.Is(err, core.ErrAuthorization))

	err = f.accounts.Delete(ctx, main.ID, 1)
	assert.Equal(t, core.CodeMainAccountUndeletable, core.CodeOf(err))

	err = f.accounts.Delete(ctx, used.ID, 1)
	assert.Equal(t, core.CodeAccountInUse, core.CodeOf(err))

	require.NoError(t, f.accounts.Delete(ctx, spare.ID, 1))
	_, err = f.accounts.Get(ctx, spare.ID, 1)
	assert.Equal(t, core.ClassNotFound, core.ClassOf(err))
}

func TestAccountGetChecksOwner(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1, true)

	got, err := f.accounts.Get(context.Background(), acc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, acc.Number, got.Number)

	_, err = f.accounts.Get(context.Background(), acc.ID, 2)
	assert.True(t, errors.Is(err, core.ErrAuthorization))
}
