//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"go-account/models"
	"go-account/store"
)

// setupRepository starts a disposable PostgreSQL container, migrates it and
// returns a Repository bound to it. The container is terminated on cleanup.
func setupRepository(t *testing.T) *Repository {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("accounts"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn, nil))
	// a second run finds nothing to do
	require.NoError(t, Migrate(dsn, nil))

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewRepository(pool)
}

func seedAccount(t *testing.T, repo *Repository, number string, balance int64) *models.Account {
	t.Helper()
	ctx := context.Background()

	owner, err := repo.CreateOwner(ctx, models.Owner{Name: "Pobi"})
	require.NoError(t, err)

	a, err := repo.SaveAccount(ctx, models.Account{
		OwnerID:       owner.ID,
		AccountNumber: number,
		Status:        models.AccountInUse,
		Balance:       balance,
		RegisteredAt:  time.Now().UTC().Truncate(time.Microsecond),
	})
	require.NoError(t, err)
	return a
}

func TestRepository_Accounts(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	_, err := repo.FindHighestAccountNumber(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first := seedAccount(t, repo, "1000000000", 1000)
	assert.NotZero(t, first.ID)

	_, err = repo.SaveAccount(ctx, models.Account{
		OwnerID: first.OwnerID, AccountNumber: "1000000000", Status: models.AccountInUse,
		RegisteredAt: time.Now(),
	})
	assert.ErrorIs(t, err, store.ErrDuplicateAccountNumber)

	_, err = repo.SaveAccount(ctx, models.Account{
		OwnerID: first.OwnerID, AccountNumber: "999", Status: models.AccountInUse,
		RegisteredAt: time.Now(),
	})
	require.NoError(t, err)

	highest, err := repo.FindHighestAccountNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000000000", highest.AccountNumber)

	n, err := repo.CountAccountsByOwner(ctx, first.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first.Balance = 0
	first.Status = models.AccountUnregistered
	closedAt := time.Now().UTC().Truncate(time.Microsecond)
	first.UnregisteredAt = &closedAt
	_, err = repo.SaveAccount(ctx, *first)
	require.NoError(t, err)

	got, err := repo.FindAccountByNumber(ctx, "1000000000")
	require.NoError(t, err)
	assert.True(t, got.IsClosed())
	require.NotNil(t, got.UnregisteredAt)
	assert.True(t, closedAt.Equal(*got.UnregisteredAt))

	renamed := *got
	renamed.AccountNumber = "1000000099"
	_, err = repo.SaveAccount(ctx, renamed)
	assert.ErrorIs(t, err, store.ErrAccountNumberImmutable)
}

func TestRepository_LedgerIsAppendOnly(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	account := seedAccount(t, repo, "1000000000", 1000)

	entry := models.Transaction{
		TransactionID:   "0123456789abcdef0123456789abcdef",
		Type:            models.TransactionUse,
		Result:          models.ResultSuccess,
		Amount:          100,
		BalanceSnapshot: 900,
		AccountID:       account.ID,
		AccountNumber:   account.AccountNumber,
		TransactedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	saved, err := repo.SaveTransaction(ctx, entry)
	require.NoError(t, err)

	_, err = repo.SaveTransaction(ctx, entry)
	assert.ErrorIs(t, err, store.ErrDuplicateTransaction)

	_, err = repo.SaveTransaction(ctx, *saved)
	assert.ErrorIs(t, err, store.ErrLedgerImmutable)

	_, err = repo.pool.Exec(ctx, `UPDATE transactions SET amount = 1`)
	assert.Error(t, err)

	found, err := repo.FindTransaction(ctx, entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionUse, found.Type)
	assert.Equal(t, models.ResultSuccess, found.Result)
	assert.Equal(t, int64(900), found.BalanceSnapshot)

	ledger, err := repo.ListTransactionsByAccount(ctx, account.AccountNumber)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestRepository_RunInTxRollsBack(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	account := seedAccount(t, repo, "1000000000", 1000)

	boom := errors.New("boom")
	err := repo.RunInTx(ctx, func(r store.Repository) error {
		a, err := r.FindAccountByNumber(ctx, account.AccountNumber)
		if err != nil {
			return err
		}
		a.Balance = 0
		if _, err := r.SaveAccount(ctx, *a); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.FindAccountByNumber(ctx, account.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)

	err = repo.RunInTx(ctx, func(r store.Repository) error {
		return r.RunInTx(ctx, func(inner store.Repository) error {
			a, err := inner.FindAccountByNumber(ctx, account.AccountNumber)
			if err != nil {
				return err
			}
			a.Balance = 250
			_, err = inner.SaveAccount(ctx, *a)
			return err
		})
	})
	require.NoError(t, err)

	got, err = repo.FindAccountByNumber(ctx, account.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Balance)
}
