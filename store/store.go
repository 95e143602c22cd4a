package store

import (
	"context"
	"strconv"
	"sync"

	"go-account/models"
)

// Store holds in-memory data for owners, accounts, and transactions
type Store struct {
	data  *memData
	mutex sync.RWMutex
}

var _ Repository = (*Store)(nil)

// NewStore returns an empty in-memory store
func NewStore() *Store {
	return &Store{data: newMemData()}
}

type memData struct {
	owners           map[int64]models.Owner
	accounts         map[int64]models.Account
	accountsByNumber map[string]int64
	accountOrder     []int64
	transactions     map[string]models.Transaction
	ledgerOrder      []string
	lastOwnerID      int64
	lastAccountID    int64
	lastLedgerID     int64
}

func newMemData() *memData {
	return &memData{
		owners:           make(map[int64]models.Owner),
		accounts:         make(map[int64]models.Account),
		accountsByNumber: make(map[string]int64),
		transactions:     make(map[string]models.Transaction),
	}
}

// FindOwner retrieves an owner by ID
func (s *Store) FindOwner(_ context.Context, id int64) (*models.Owner, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.findOwner(id)
}

// CreateOwner adds an owner and assigns its ID
func (s *Store) CreateOwner(ctx context.Context, owner models.Owner) (*models.Owner, error) {
	var created *models.Owner
	err := s.RunInTx(ctx, func(r Repository) error {
		var err error
		created, err = r.CreateOwner(ctx, owner)
		return err
	})
	return created, err
}

// FindAccountByID retrieves an account by ID
func (s *Store) FindAccountByID(_ context.Context, id int64) (*models.Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.findAccountByID(id)
}

// FindAccountByNumber retrieves an account by its account number
func (s *Store) FindAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.findAccountByNumber(number)
}

func (s *Store) FindHighestAccountNumber(_ context.Context) (*models.Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.findHighestAccountNumber()
}

// CountAccountsByOwner counts every account of an owner, closed ones included
func (s *Store) CountAccountsByOwner(_ context.Context, ownerID int64) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.data.accountsOf(ownerID)), nil
}

// ListAccountsByOwner retrieves all accounts for an owner in creation order
func (s *Store) ListAccountsByOwner(_ context.Context, ownerID int64) ([]models.Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.accountsOf(ownerID), nil
}

// SaveAccount inserts or updates an account
func (s *Store) SaveAccount(ctx context.Context, account models.Account) (*models.Account, error) {
	var saved *models.Account
	err := s.RunInTx(ctx, func(r Repository) error {
		var err error
		saved, err = r.SaveAccount(ctx, account)
		return err
	})
	return saved, err
}

// FindTransaction retrieves a ledger record by its transaction ID
func (s *Store) FindTransaction(_ context.Context, transactionID string) (*models.Transaction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.findTransaction(transactionID)
}

// ListTransactionsByAccount retrieves the ledger of an account, oldest first
func (s *Store) ListTransactionsByAccount(_ context.Context, accountNumber string) ([]models.Transaction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.transactionsOf(accountNumber), nil
}

// SaveTransaction appends a ledger record
func (s *Store) SaveTransaction(ctx context.Context, tx models.Transaction) (*models.Transaction, error) {
	var saved *models.Transaction
	err := s.RunInTx(ctx, func(r Repository) error {
		var err error
		saved, err = r.SaveTransaction(ctx, tx)
		return err
	})
	return saved, err
}

// RunInTx runs fn while holding the store's write lock. Every write made
// through the Repository passed to fn is undone if fn fails or panics.
func (s *Store) RunInTx(ctx context.Context, fn func(Repository) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx := &memTx{data: s.data}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(tx)
}

// memTx is the Repository seen inside RunInTx. The store lock is already
// held, so it reads and writes memData directly and keeps an undo log.
type memTx struct {
	data *memData
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) RunInTx(_ context.Context, fn func(Repository) error) error {
	return fn(t)
}

func (t *memTx) FindOwner(_ context.Context, id int64) (*models.Owner, error) {
	return t.data.findOwner(id)
}

func (t *memTx) CreateOwner(_ context.Context, owner models.Owner) (*models.Owner, error) {
	d := t.data
	prevID := d.lastOwnerID
	d.lastOwnerID++
	owner.ID = d.lastOwnerID
	d.owners[owner.ID] = owner

	t.undo = append(t.undo, func() {
		delete(d.owners, owner.ID)
		d.lastOwnerID = prevID
	})
	return &owner, nil
}

func (t *memTx) FindAccountByID(_ context.Context, id int64) (*models.Account, error) {
	return t.data.findAccountByID(id)
}

func (t *memTx) FindAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	return t.data.findAccountByNumber(number)
}

func (t *memTx) FindHighestAccountNumber(_ context.Context) (*models.Account, error) {
	return t.data.findHighestAccountNumber()
}

func (t *memTx) CountAccountsByOwner(_ context.Context, ownerID int64) (int, error) {
	return len(t.data.accountsOf(ownerID)), nil
}

func (t *memTx) ListAccountsByOwner(_ context.Context, ownerID int64) ([]models.Account, error) {
	return t.data.accountsOf(ownerID), nil
}

func (t *memTx) SaveAccount(_ context.Context, account models.Account) (*models.Account, error) {
	d := t.data

	if account.ID == 0 {
		if _, taken := d.accountsByNumber[account.AccountNumber]; taken {
			return nil, ErrDuplicateAccountNumber
		}
		prevID := d.lastAccountID
		d.lastAccountID++
		account.ID = d.lastAccountID
		d.accounts[account.ID] = account
		d.accountsByNumber[account.AccountNumber] = account.ID
		d.accountOrder = append(d.accountOrder, account.ID)

		t.undo = append(t.undo, func() {
			delete(d.accounts, account.ID)
			delete(d.accountsByNumber, account.AccountNumber)
			d.accountOrder = d.accountOrder[:len(d.accountOrder)-1]
			d.lastAccountID = prevID
		})
		return &account, nil
	}

	prev, ok := d.accounts[account.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if prev.AccountNumber != account.AccountNumber {
		return nil, ErrAccountNumberImmutable
	}
	d.accounts[account.ID] = account

	t.undo = append(t.undo, func() {
		d.accounts[prev.ID] = prev
	})
	return &account, nil
}

func (t *memTx) FindTransaction(_ context.Context, transactionID string) (*models.Transaction, error) {
	return t.data.findTransaction(transactionID)
}

func (t *memTx) ListTransactionsByAccount(_ context.Context, accountNumber string) ([]models.Transaction, error) {
	return t.data.transactionsOf(accountNumber), nil
}

func (t *memTx) SaveTransaction(_ context.Context, tx models.Transaction) (*models.Transaction, error) {
	d := t.data

	if tx.ID != 0 {
		return nil, ErrLedgerImmutable
	}
	if _, taken := d.transactions[tx.TransactionID]; taken {
		return nil, ErrDuplicateTransaction
	}
	prevID := d.lastLedgerID
	d.lastLedgerID++
	tx.ID = d.lastLedgerID
	d.transactions[tx.TransactionID] = tx
	d.ledgerOrder = append(d.ledgerOrder, tx.TransactionID)

	t.undo = append(t.undo, func() {
		delete(d.transactions, tx.TransactionID)
		d.ledgerOrder = d.ledgerOrder[:len(d.ledgerOrder)-1]
		d.lastLedgerID = prevID
	})
	return &tx, nil
}

func (d *memData) findOwner(id int64) (*models.Owner, error) {
	owner, exists := d.owners[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &owner, nil
}

func (d *memData) findAccountByID(id int64) (*models.Account, error) {
	account, exists := d.accounts[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (d *memData) findAccountByNumber(number string) (*models.Account, error) {
	id, exists := d.accountsByNumber[number]
	if !exists {
		return nil, ErrNotFound
	}
	return d.findAccountByID(id)
}

func (d *memData) findHighestAccountNumber() (*models.Account, error) {
	var (
		highest models.Account
		top     int64 = -1
	)
	for _, account := range d.accounts {
		n, err := strconv.ParseInt(account.AccountNumber, 10, 64)
		if err != nil {
			continue
		}
		if n > top {
			top = n
			highest = account
		}
	}
	if top < 0 {
		return nil, ErrNotFound
	}
	return &highest, nil
}

func (d *memData) accountsOf(ownerID int64) []models.Account {
	accounts := []models.Account{}
	for _, id := range d.accountOrder {
		if account := d.accounts[id]; account.OwnerID == ownerID {
			accounts = append(accounts, account)
		}
	}
	return accounts
}

func (d *memData) findTransaction(transactionID string) (*models.Transaction, error) {
	tx, exists := d.transactions[transactionID]
	if !exists {
		return nil, ErrNotFound
	}
	return &tx, nil
}

func (d *memData) transactionsOf(accountNumber string) []models.Transaction {
	transactions := []models.Transaction{}
	for _, id := range d.ledgerOrder {
		if tx := d.transactions[id]; tx.AccountNumber == accountNumber {
			transactions = append(transactions, tx)
		}
	}
	return transactions
}
