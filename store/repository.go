package store

import (
	"context"
	"errors"

	"go-account/models"
)

var (
	// ErrNotFound is returned by every lookup that matches nothing
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateAccountNumber is returned when an insert reuses a taken account number
	ErrDuplicateAccountNumber = errors.New("store: duplicate account number")
	// ErrDuplicateTransaction is returned when a ledger insert reuses a transaction id
	ErrDuplicateTransaction = errors.New("store: duplicate transaction id")
	// ErrLedgerImmutable is returned when a saved ledger record is written again
	ErrLedgerImmutable = errors.New("store: ledger records cannot be modified")
	// ErrAccountNumberImmutable is returned when an update changes the account number
	ErrAccountNumberImmutable = errors.New("store: account number cannot change")
)

// OwnerStore looks up the people who hold accounts
type OwnerStore interface {
	FindOwner(ctx context.Context, id int64) (*models.Owner, error)
	CreateOwner(ctx context.Context, owner models.Owner) (*models.Owner, error)
}

// AccountStore is durable keyed storage for accounts
type AccountStore interface {
	FindAccountByID(ctx context.Context, id int64) (*models.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	// FindHighestAccountNumber returns the account with the numerically
	// largest number, or ErrNotFound when no account exists yet.
	FindHighestAccountNumber(ctx context.Context) (*models.Account, error)
	CountAccountsByOwner(ctx context.Context, ownerID int64) (int, error)
	ListAccountsByOwner(ctx context.Context, ownerID int64) ([]models.Account, error)
	// SaveAccount inserts when ID is zero and updates otherwise
	SaveAccount(ctx context.Context, account models.Account) (*models.Account, error)
}

// TransactionStore is append-only storage for ledger records
type TransactionStore interface {
	FindTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountNumber string) ([]models.Transaction, error)
	SaveTransaction(ctx context.Context, tx models.Transaction) (*models.Transaction, error)
}

// Repository bundles the stores with a transactional scope. Writes made
// through the Repository handed to fn commit together when fn returns nil
// and are discarded otherwise. Calling RunInTx on that inner Repository
// joins the running scope.
type Repository interface {
	OwnerStore
	AccountStore
	TransactionStore
	RunInTx(ctx context.Context, fn func(Repository) error) error
}
