// Package transaction applies "use" (debit) and "cancel" (credit reversal)
// operations to account balances and keeps the append-only ledger.
//
// Every mutating operation runs inside the account number's lock and one
// store transactional scope, so the balance write and its ledger record
// commit together or not at all. Validation failures are not recorded
// here; the caller records them through RecordFailedUse/RecordFailedCancel
// once the lock has been released.
package transaction

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"go-account/apperr"
	"go-account/lock"
	"go-account/models"
	"go-account/store"
)

var tracer = otel.Tracer("go-account/transaction")

// Engine validates and applies balance mutations
type Engine struct {
	repo        store.Repository
	locker      lock.Locker
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
	lockTimeout time.Duration
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLockTimeout overrides lock.DefaultTimeout for every operation
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithIDGenerator replaces the transaction id source
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(repo store.Repository, locker lock.Locker, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		repo:        repo,
		locker:      locker,
		logger:      logger.Named("transaction"),
		now:         time.Now,
		newID:       NewTransactionID,
		lockTimeout: lock.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewTransactionID returns 32 lowercase hex characters
func NewTransactionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// UseBalance debits amount from the account owned by ownerID
func (e *Engine) UseBalance(ctx context.Context, ownerID int64, accountNumber string, amount int64) (*models.TransactionDto, error) {
	ctx, span := tracer.Start(ctx, "transaction.use", trace.WithAttributes(
		attribute.Int64("owner.id", ownerID),
		attribute.String("account.number", accountNumber),
		attribute.Int64("amount", amount),
	))
	defer span.End()

	if amount <= 0 {
		return nil, e.fail(span, apperr.Newf(apperr.InvalidRequest, "amount must be positive"))
	}

	var recorded *models.Transaction
	err := lock.WithLockLogged(ctx, e.locker, accountNumber, e.lockTimeout, e.logger, func(ctx context.Context) error {
		return e.repo.RunInTx(ctx, func(r store.Repository) error {
			owner, err := r.FindOwner(ctx, ownerID)
			if err != nil {
				return lookupErr(err, apperr.OwnerNotFound)
			}

			account, err := r.FindAccountByNumber(ctx, accountNumber)
			if err != nil {
				return lookupErr(err, apperr.AccountNotFound)
			}

			if err := validateUse(owner, account, amount); err != nil {
				return err
			}

			account.Balance -= amount
			if _, err := r.SaveAccount(ctx, *account); err != nil {
				return err
			}

			recorded, err = e.record(ctx, r, models.TransactionUse, models.ResultSuccess, *account, amount)
			return err
		})
	})
	if err != nil {
		return nil, e.fail(span, err)
	}

	e.logger.Info("balance used",
		zap.String("transaction_id", recorded.TransactionID),
		zap.String("account_number", accountNumber),
		zap.Int64("amount", amount),
		zap.Int64("balance", recorded.BalanceSnapshot))

	dto := models.TransactionDtoFrom(*recorded)
	return &dto, nil
}

func validateUse(owner *models.Owner, account *models.Account, amount int64) error {
	if owner.ID != account.OwnerID {
		return apperr.New(apperr.OwnerAccountMismatch)
	}
	if account.Status != models.AccountInUse {
		return apperr.New(apperr.AccountAlreadyClosed)
	}
	if amount > account.Balance {
		return apperr.New(apperr.AmountExceedsBalance)
	}
	return nil
}

// RecordFailedUse appends a USE/F record snapshotting the current balance.
// It neither validates nor locks.
func (e *Engine) RecordFailedUse(ctx context.Context, accountNumber string, amount int64) (*models.TransactionDto, error) {
	return e.recordFailed(ctx, models.TransactionUse, accountNumber, amount)
}

// CancelBalance credits amount back to accountNumber, reversing the
// transaction identified by transactionID
func (e *Engine) CancelBalance(ctx context.Context, transactionID, accountNumber string, amount int64) (*models.TransactionDto, error) {
	ctx, span := tracer.Start(ctx, "transaction.cancel", trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
		attribute.String("account.number", accountNumber),
		attribute.Int64("amount", amount),
	))
	defer span.End()

	var recorded *models.Transaction
	err := lock.WithLockLogged(ctx, e.locker, accountNumber, e.lockTimeout, e.logger, func(ctx context.Context) error {
		return e.repo.RunInTx(ctx, func(r store.Repository) error {
			original, err := r.FindTransaction(ctx, transactionID)
			if err != nil {
				return lookupErr(err, apperr.TransactionNotFound)
			}

			account, err := r.FindAccountByNumber(ctx, accountNumber)
			if err != nil {
				return lookupErr(err, apperr.AccountNotFound)
			}

			originalAccount, err := r.FindAccountByID(ctx, original.AccountID)
			if err != nil {
				return apperr.Internal(err)
			}

			if err := validateCancel(original, originalAccount, account, amount, e.now()); err != nil {
				return err
			}

			if err := credit(account, amount); err != nil {
				return err
			}
			if _, err := r.SaveAccount(ctx, *account); err != nil {
				return err
			}

			recorded, err = e.record(ctx, r, models.TransactionCancel, models.ResultSuccess, *account, amount)
			return err
		})
	})
	if err != nil {
		return nil, e.fail(span, err)
	}

	e.logger.Info("balance cancelled",
		zap.String("transaction_id", recorded.TransactionID),
		zap.String("cancelled_transaction_id", transactionID),
		zap.String("account_number", accountNumber),
		zap.Int64("amount", amount),
		zap.Int64("balance", recorded.BalanceSnapshot))

	dto := models.TransactionDtoFrom(*recorded)
	return &dto, nil
}

// validateCancel compares amount with the current balance, not with the
// amount of the cancelled transaction.
func validateCancel(original *models.Transaction, originalAccount, account *models.Account, amount int64, now time.Time) error {
	if originalAccount.OwnerID != account.OwnerID {
		return apperr.New(apperr.TransactionAccountMismatch)
	}
	if amount > account.Balance {
		return apperr.New(apperr.CancelMustBeFull)
	}
	if original.TransactedAt.Before(now.AddDate(-1, 0, 0)) {
		return apperr.New(apperr.TransactionTooOldToCancel)
	}
	return nil
}

func credit(account *models.Account, amount int64) error {
	if amount < 0 {
		return apperr.Newf(apperr.InvalidRequest, "cancel amount must not be negative")
	}
	account.Balance += amount
	return nil
}

// RecordFailedCancel appends a CANCEL/F record snapshotting the current
// balance. It neither validates nor locks.
func (e *Engine) RecordFailedCancel(ctx context.Context, accountNumber string, amount int64) (*models.TransactionDto, error) {
	return e.recordFailed(ctx, models.TransactionCancel, accountNumber, amount)
}

func (e *Engine) recordFailed(ctx context.Context, typ models.TransactionType, accountNumber string, amount int64) (*models.TransactionDto, error) {
	ctx, span := tracer.Start(ctx, "transaction.record_failed", trace.WithAttributes(
		attribute.String("transaction.type", string(typ)),
		attribute.String("account.number", accountNumber),
	))
	defer span.End()

	account, err := e.repo.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, e.fail(span, lookupErr(err, apperr.AccountNotFound))
	}

	recorded, err := e.record(ctx, e.repo, typ, models.ResultFailed, *account, amount)
	if err != nil {
		return nil, e.fail(span, err)
	}

	e.logger.Info("failed transaction recorded",
		zap.String("transaction_id", recorded.TransactionID),
		zap.String("type", string(typ)),
		zap.String("account_number", accountNumber),
		zap.Int64("amount", amount))

	dto := models.TransactionDtoFrom(*recorded)
	return &dto, nil
}

// QueryTransaction reads one ledger record. No lock is taken.
func (e *Engine) QueryTransaction(ctx context.Context, transactionID string) (*models.TransactionDto, error) {
	ctx, span := tracer.Start(ctx, "transaction.query", trace.WithAttributes(attribute.String("transaction.id", transactionID)))
	defer span.End()

	tx, err := e.repo.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, e.fail(span, lookupErr(err, apperr.TransactionNotFound))
	}

	dto := models.TransactionDtoFrom(*tx)
	return &dto, nil
}

// ListTransactions returns the ledger of an account, oldest first
func (e *Engine) ListTransactions(ctx context.Context, accountNumber string) ([]models.TransactionDto, error) {
	ctx, span := tracer.Start(ctx, "transaction.list", trace.WithAttributes(attribute.String("account.number", accountNumber)))
	defer span.End()

	if _, err := e.repo.FindAccountByNumber(ctx, accountNumber); err != nil {
		return nil, e.fail(span, lookupErr(err, apperr.AccountNotFound))
	}

	ledger, err := e.repo.ListTransactionsByAccount(ctx, accountNumber)
	if err != nil {
		return nil, e.fail(span, err)
	}

	dtos := make([]models.TransactionDto, len(ledger))
	for i, tx := range ledger {
		dtos[i] = models.TransactionDtoFrom(tx)
	}
	return dtos, nil
}

func (e *Engine) record(ctx context.Context, r store.TransactionStore, typ models.TransactionType, result models.TransactionResult, account models.Account, amount int64) (*models.Transaction, error) {
	return r.SaveTransaction(ctx, models.Transaction{
		TransactionID:   e.newID(),
		Type:            typ,
		Result:          result,
		Amount:          amount,
		BalanceSnapshot: account.Balance,
		AccountID:       account.ID,
		AccountNumber:   account.AccountNumber,
		TransactedAt:    e.now(),
	})
}

func (e *Engine) fail(span trace.Span, err error) *apperr.Error {
	var ae *apperr.Error
	if errors.Is(err, lock.ErrTimeout) {
		ae = &apperr.Error{Kind: apperr.LockTimeout, Message: apperr.LockTimeout.Message(), Err: err}
	} else {
		ae = apperr.From(err)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(ae.Kind))

	if ae.Kind == apperr.InternalError {
		e.logger.Error("transaction operation failed", zap.Error(err))
	}
	return ae
}

func lookupErr(err error, notFound apperr.Kind) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(notFound)
	}
	return apperr.From(err)
}
