package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-account/models"
	"go-account/store"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ store.Repository = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// RunInTx runs fn inside one database transaction. Accounts looked up by
// number through the inner Repository stay locked FOR UPDATE until commit.
func (r *Repository) RunInTx(ctx context.Context, fn func(store.Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Repository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) FindOwner(ctx context.Context, id int64) (*models.Owner, error) {
	var o models.Owner
	err := r.q.QueryRow(ctx, `SELECT id, name, created_at FROM owners WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *Repository) CreateOwner(ctx context.Context, owner models.Owner) (*models.Owner, error) {
	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = time.Now()
	}
	err := r.q.QueryRow(ctx,
		`INSERT INTO owners (name, created_at) VALUES ($1, $2) RETURNING id`,
		owner.Name, owner.CreatedAt,
	).Scan(&owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}
	return &owner, nil
}

const accountColumns = `id, owner_id, account_number, status, balance, registered_at, unregistered_at`

func (r *Repository) FindAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id, false)
}

func (r *Repository) FindAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	return r.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number, r.inTx)
}

func (r *Repository) findAccount(ctx context.Context, query string, arg any, forUpdate bool) (*models.Account, error) {
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *Repository) FindHighestAccountNumber(ctx context.Context) (*models.Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY account_number::BIGINT DESC LIMIT 1`))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *Repository) CountAccountsByOwner(ctx context.Context, ownerID int64) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM accounts WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repository) ListAccountsByOwner(ctx context.Context, ownerID int64) ([]models.Account, error) {
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (r *Repository) SaveAccount(ctx context.Context, account models.Account) (*models.Account, error) {
	if account.ID == 0 {
		return r.insertAccount(ctx, account)
	}

	var current string
	err := r.q.QueryRow(ctx, `SELECT account_number FROM accounts WHERE id = $1`, account.ID).Scan(&current)
	if err != nil {
		return nil, notFound(err)
	}
	if current != account.AccountNumber {
		return nil, store.ErrAccountNumberImmutable
	}

	_, err = r.q.Exec(ctx,
		`UPDATE accounts SET status = $2, balance = $3, unregistered_at = $4 WHERE id = $1`,
		account.ID, string(account.Status), account.Balance, account.UnregisteredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update account %s: %w", account.AccountNumber, err)
	}
	return &account, nil
}

func (r *Repository) insertAccount(ctx context.Context, account models.Account) (*models.Account, error) {
	err := r.q.QueryRow(ctx, `
		INSERT INTO accounts (owner_id, account_number, status, balance, registered_at, unregistered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		account.OwnerID, account.AccountNumber, string(account.Status), account.Balance,
		account.RegisteredAt, account.UnregisteredAt,
	).Scan(&account.ID)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateAccountNumber
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &account, nil
}

const transactionColumns = `id, transaction_id, transaction_type, result, amount, balance_snapshot, account_id, account_number, transacted_at`

func (r *Repository) FindTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := scanTransaction(r.q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, transactionID))
	if err != nil {
		return nil, notFound(err)
	}
	return tx, nil
}

func (r *Repository) ListTransactionsByAccount(ctx context.Context, accountNumber string) ([]models.Transaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_number = $1 ORDER BY id`, accountNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ledger := []models.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		ledger = append(ledger, *tx)
	}
	return ledger, rows.Err()
}

func (r *Repository) SaveTransaction(ctx context.Context, tx models.Transaction) (*models.Transaction, error) {
	if tx.ID != 0 {
		return nil, store.ErrLedgerImmutable
	}

	err := r.q.QueryRow(ctx, `
		INSERT INTO transactions (transaction_id, transaction_type, result, amount, balance_snapshot, account_id, account_number, transacted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		tx.TransactionID, string(tx.Type), string(tx.Result), tx.Amount, tx.BalanceSnapshot,
		tx.AccountID, tx.AccountNumber, tx.TransactedAt,
	).Scan(&tx.ID)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateTransaction
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	return &tx, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a      models.Account
		status string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &status, &a.Balance, &a.RegisteredAt, &a.UnregisteredAt); err != nil {
		return nil, err
	}
	a.Status = models.AccountStatus(status)
	return &a, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		t           models.Transaction
		typ, result string
	)
	if err := row.Scan(&t.ID, &t.TransactionID, &typ, &result, &t.Amount, &t.BalanceSnapshot, &t.AccountID, &t.AccountNumber, &t.TransactedAt); err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(typ)
	t.Result = models.TransactionResult(result)
	return &t, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
