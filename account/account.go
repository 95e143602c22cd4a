// Package account creates, closes and lists accounts on behalf of their
// owners. Account numbers are allocated sequentially from 1000000000 and an
// owner may hold at most MaxAccountsPerOwner accounts, closed ones included.
package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

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

const (
	MaxAccountsPerOwner = 10
	// BaseAccountNumber is the first number handed out
	BaseAccountNumber = "1000000000"

	allocationAttempts = 3
)

var tracer = otel.Tracer("go-account/account")

// Service is the account lifecycle manager
type Service struct {
	repo        store.Repository
	locker      lock.Locker
	logger      *zap.Logger
	now         func() time.Time
	lockTimeout time.Duration
}

type Option func(*Service)

// WithClock replaces time.Now as the source of registration timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) { s.lockTimeout = d }
}

func NewService(repo store.Repository, locker lock.Locker, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:        repo,
		locker:      locker,
		logger:      logger.Named("account"),
		now:         time.Now,
		lockTimeout: lock.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount opens a new IN_USE account for ownerID holding initialBalance
func (s *Service) CreateAccount(ctx context.Context, ownerID, initialBalance int64) (*models.AccountDto, error) {
	ctx, span := tracer.Start(ctx, "account.create", trace.WithAttributes(attribute.Int64("owner.id", ownerID)))
	defer span.End()

	if initialBalance < 0 {
		return nil, s.fail(span, apperr.Newf(apperr.InvalidRequest, "initial balance must not be negative"))
	}

	for attempt := 1; attempt <= allocationAttempts; attempt++ {
		var created *models.Account
		err := s.repo.RunInTx(ctx, func(r store.Repository) error {
			if _, err := r.FindOwner(ctx, ownerID); err != nil {
				return lookupErr(err, apperr.OwnerNotFound)
			}

			count, err := r.CountAccountsByOwner(ctx, ownerID)
			if err != nil {
				return apperr.Internal(err)
			}
			if count >= MaxAccountsPerOwner {
				return apperr.New(apperr.TooManyAccounts)
			}

			number, err := nextAccountNumber(ctx, r)
			if err != nil {
				return err
			}

			created, err = r.SaveAccount(ctx, models.Account{
				OwnerID:       ownerID,
				AccountNumber: number,
				Status:        models.AccountInUse,
				Balance:       initialBalance,
				RegisteredAt:  s.now(),
			})
			return err
		})
		if errors.Is(err, store.ErrDuplicateAccountNumber) {
			s.logger.Warn("account number taken concurrently, retrying",
				zap.Int64("owner_id", ownerID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, s.fail(span, err)
		}

		span.SetAttributes(attribute.String("account.number", created.AccountNumber))
		s.logger.Info("account created",
			zap.Int64("owner_id", ownerID),
			zap.String("account_number", created.AccountNumber),
			zap.Int64("balance", created.Balance))

		dto := models.AccountDtoFrom(*created)
		return &dto, nil
	}

	return nil, s.fail(span, apperr.Internal(fmt.Errorf("account number allocation failed after %d attempts", allocationAttempts)))
}

// CloseAccount unregisters an empty account. It holds the account's lock
// so a close cannot interleave with a debit on the same account.
func (s *Service) CloseAccount(ctx context.Context, ownerID int64, accountNumber string) (*models.AccountDto, error) {
	ctx, span := tracer.Start(ctx, "account.close", trace.WithAttributes(
		attribute.Int64("owner.id", ownerID),
		attribute.String("account.number", accountNumber),
	))
	defer span.End()

	var closed *models.Account
	err := lock.WithLockLogged(ctx, s.locker, accountNumber, s.lockTimeout, s.logger, func(ctx context.Context) error {
		return s.repo.RunInTx(ctx, func(r store.Repository) error {
			owner, err := r.FindOwner(ctx, ownerID)
			if err != nil {
				return lookupErr(err, apperr.OwnerNotFound)
			}

			account, err := r.FindAccountByNumber(ctx, accountNumber)
			if err != nil {
				return lookupErr(err, apperr.AccountNotFound)
			}

			if err := validateClose(owner, account); err != nil {
				return err
			}

			now := s.now()
			account.Status = models.AccountUnregistered
			account.UnregisteredAt = &now

			closed, err = r.SaveAccount(ctx, *account)
			return err
		})
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.logger.Info("account unregistered",
		zap.Int64("owner_id", ownerID),
		zap.String("account_number", accountNumber))

	dto := models.AccountDtoFrom(*closed)
	return &dto, nil
}

func validateClose(owner *models.Owner, account *models.Account) error {
	if owner.ID != account.OwnerID {
		return apperr.New(apperr.OwnerAccountMismatch)
	}
	if account.IsClosed() {
		return apperr.New(apperr.AccountAlreadyClosed)
	}
	if account.Balance > 0 {
		return apperr.New(apperr.BalanceNotZero)
	}
	return nil
}

// ListAccounts returns every account of ownerID in store order
func (s *Service) ListAccounts(ctx context.Context, ownerID int64) ([]models.AccountDto, error) {
	ctx, span := tracer.Start(ctx, "account.list", trace.WithAttributes(attribute.Int64("owner.id", ownerID)))
	defer span.End()

	if _, err := s.repo.FindOwner(ctx, ownerID); err != nil {
		return nil, s.fail(span, lookupErr(err, apperr.OwnerNotFound))
	}

	accounts, err := s.repo.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.fail(span, apperr.Internal(err))
	}

	dtos := make([]models.AccountDto, len(accounts))
	for i, a := range accounts {
		dtos[i] = models.AccountDtoFrom(a)
	}
	return dtos, nil
}

// GetAccount looks an account up by its store ID
func (s *Service) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	ctx, span := tracer.Start(ctx, "account.get", trace.WithAttributes(attribute.Int64("account.id", id)))
	defer span.End()

	account, err := s.repo.FindAccountByID(ctx, id)
	if err != nil {
		return nil, s.fail(span, lookupErr(err, apperr.AccountNotFound))
	}
	return account, nil
}

// RegisterOwner stores a new owner so accounts can be opened for it
func (s *Service) RegisterOwner(ctx context.Context, name string) (*models.Owner, error) {
	ctx, span := tracer.Start(ctx, "account.register_owner")
	defer span.End()

	owner, err := s.repo.CreateOwner(ctx, models.Owner{Name: name, CreatedAt: s.now()})
	if err != nil {
		return nil, s.fail(span, apperr.Internal(err))
	}

	s.logger.Info("owner registered", zap.Int64("owner_id", owner.ID))
	return owner, nil
}

func nextAccountNumber(ctx context.Context, r store.AccountStore) (string, error) {
	highest, err := r.FindHighestAccountNumber(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return BaseAccountNumber, nil
	}
	if err != nil {
		return "", apperr.Internal(err)
	}

	n, err := strconv.ParseInt(highest.AccountNumber, 10, 64)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("malformed account number %q: %w", highest.AccountNumber, err))
	}
	return strconv.FormatInt(n+1, 10), nil
}

// fail converts err to the taxonomy and records it on the span
func (s *Service) fail(span trace.Span, err error) *apperr.Error {
	var e *apperr.Error
	if errors.Is(err, lock.ErrTimeout) {
		e = &apperr.Error{Kind: apperr.LockTimeout, Message: apperr.LockTimeout.Message(), Err: err}
	} else {
		e = apperr.From(err)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(e.Kind))

	if e.Kind == apperr.InternalError {
		s.logger.Error("account operation failed", zap.Error(err))
	}
	return e
}

func lookupErr(err error, notFound apperr.Kind) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(notFound)
	}
	return apperr.From(err)
}
