package account

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-account/apperr"
	"go-account/lock"
	"go-account/models"
	"go-account/store"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	repo := store.NewStore()
	svc := NewService(repo, lock.NewKeyedMutex(), nil, WithClock(func() time.Time { return fixedNow }))
	return svc, repo
}

func registerOwner(t *testing.T, svc *Service, name string) int64 {
	t.Helper()
	owner, err := svc.RegisterOwner(context.Background(), name)
	require.NoError(t, err)
	return owner.ID
}

func TestCreateAccount_FirstNumberIsBase(t *testing.T) {
	svc, _ := newTestService(t)
	ownerID := registerOwner(t, svc, "Pobi")

	dto, err := svc.CreateAccount(context.Background(), ownerID, 1000)
	require.NoError(t, err)

	assert.Equal(t, BaseAccountNumber, dto.AccountNumber)
	assert.Equal(t, ownerID, dto.OwnerID)
	assert.Equal(t, int64(1000), dto.Balance)
	assert.Equal(t, models.AccountInUse, dto.Status)
	assert.Equal(t, fixedNow, dto.RegisteredAt)
	assert.Nil(t, dto.UnregisteredAt)
}

func TestCreateAccount_NumbersFollowHighest(t *testing.T) {
	svc, repo := newTestService(t)
	ownerID := registerOwner(t, svc, "Pobi")

	_, err := repo.SaveAccount(context.Background(), models.Account{
		OwnerID: 99, AccountNumber: "1000000012", Status: models.AccountInUse,
	})
	require.NoError(t, err)

	dto, err := svc.CreateAccount(context.Background(), ownerID, 0)
	require.NoError(t, err)
	assert.Equal(t, "1000000013", dto.AccountNumber)
}

func TestCreateAccount_OwnerNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateAccount(context.Background(), 42, 1000)
	assert.True(t, apperr.Is(err, apperr.OwnerNotFound), "got %v", err)
}

func TestCreateAccount_NegativeBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ownerID := registerOwner(t, svc, "Pobi")

	_, err := svc.CreateAccount(context.Background(), ownerID, -1)
	assert.True(t, apperr.Is(err, apperr.InvalidRequest), "got %v", err)
}

func TestCreateAccount_TooManyAccounts(t *testing.T) {
	svc, repo := newTestService(t)
	ownerID := registerOwner(t, svc, "Pobi")
	ctx := context.Background()

	for i := 0; i < MaxAccountsPerOwner; i++ {
		_, err := svc.CreateAccount(ctx, ownerID, 100)
		require.NoError(t, err)
	}

	_, err := svc.CreateAccount(ctx, ownerID, 100)
	assert.True(t, apperr.Is(err, apperr.TooManyAccounts), "got %v", err)

	n, err := repo.CountAccountsByOwner(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, MaxAccountsPerOwner, n)

	// the limit is per owner
	other := registerOwner(t, svc, "Crong")
	_, err = svc.CreateAccount(ctx, other, 100)
	assert.NoError(t, err)
}

func TestCreateAccount_ConcurrentAllocationStaysUnique(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const owners = 8
	ids := make([]int64, owners)
	for i := range ids {
		ids[i] = registerOwner(t, svc, fmt.Sprintf("owner %d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
	)
	wg.Add(owners)
	for _, id := range ids {
		go func(id int64) {
			defer wg.Done()
			dto, err := svc.CreateAccount(ctx, id, 100)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[dto.AccountNumber] = true
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	assert.Len(t, numbers, owners)
}

func TestCloseAccount_Success(t *testing.T) {
	svc, repo := newTestService(t)
	ownerID := registerOwner(t, svc, "Pobi")
	ctx := context.Background()

	created, err := svc.CreateAccount(ctx, ownerID, 0)
	require.NoError(t, err)

	closed, err := svc.CloseAccount(ctx, ownerID, created.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, models.AccountUnregistered, closed.Status)
	require.NotNil(t, closed.UnregisteredAt)
	assert.Equal(t, fixedNow, *closed.UnregisteredAt)

	stored, err := repo.FindAccountByNumber(ctx, created.AccountNumber)
	require.NoError(t, err)
	assert.True(t, stored.IsClosed())

	_, err = svc.CloseAccount(ctx, ownerID, created.AccountNumber)
	assert.True(t, apperr.Is(err, apperr.AccountAlreadyClosed), "got %v", err)
}

func TestCloseAccount_Failures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pobi := registerOwner(t, svc, "Pobi")
	crong := registerOwner(t, svc, "Crong")

	funded, err := svc.CreateAccount(ctx, pobi, 500)
	require.NoError(t, err)

	tests := []struct {
		name    string
		ownerID int64
		number  string
		want    apperr.Kind
	}{
		{"owner not found", 404, funded.AccountNumber, apperr.OwnerNotFound},
		{"account not found", pobi, "9999999999", apperr.AccountNotFound},
		{"owner mismatch", crong, funded.AccountNumber, apperr.OwnerAccountMismatch},
		{"balance not zero", pobi, funded.AccountNumber, apperr.BalanceNotZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CloseAccount(ctx, tt.ownerID, tt.number)
			assert.Equal(t, tt.want, apperr.KindOf(err), "got %v", err)
		})
	}
}

func TestCloseAccount_LockTimeout(t *testing.T) {
	repo := store.NewStore()
	locker := lock.NewKeyedMutex()
	svc := NewService(repo, locker, nil, WithLockTimeout(20*time.Millisecond))
	ctx := context.Background()
	ownerID := registerOwner(t, svc, "Pobi")

	created, err := svc.CreateAccount(ctx, ownerID, 0)
	require.NoError(t, err)

	h, err := locker.Acquire(ctx, created.AccountNumber, time.Second)
	require.NoError(t, err)
	defer h.Release(ctx)

	_, err = svc.CloseAccount(ctx, ownerID, created.AccountNumber)
	assert.True(t, apperr.Is(err, apperr.LockTimeout), "got %v", err)

	stored, err := repo.FindAccountByNumber(ctx, created.AccountNumber)
	require.NoError(t, err)
	assert.False(t, stored.IsClosed())
}

func TestListAccounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pobi := registerOwner(t, svc, "Pobi")
	crong := registerOwner(t, svc, "Crong")

	a1, err := svc.CreateAccount(ctx, pobi, 100)
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, crong, 200)
	require.NoError(t, err)
	a3, err := svc.CreateAccount(ctx, pobi, 300)
	require.NoError(t, err)

	list, err := svc.ListAccounts(ctx, pobi)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a1.AccountNumber, list[0].AccountNumber)
	assert.Equal(t, int64(100), list[0].Balance)
	assert.Equal(t, a3.AccountNumber, list[1].AccountNumber)

	_, err = svc.ListAccounts(ctx, 404)
	assert.True(t, apperr.Is(err, apperr.OwnerNotFound))
}

func TestGetAccount(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	pobi := registerOwner(t, svc, "Pobi")

	created, err := svc.CreateAccount(ctx, pobi, 100)
	require.NoError(t, err)
	stored, err := repo.FindAccountByNumber(ctx, created.AccountNumber)
	require.NoError(t, err)

	got, err := svc.GetAccount(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, created.AccountNumber, got.AccountNumber)

	_, err = svc.GetAccount(ctx, 404)
	assert.True(t, apperr.Is(err, apperr.AccountNotFound))
}
