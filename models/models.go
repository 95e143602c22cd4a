package models

import "time"

// AccountStatus is the lifecycle state of an account
type AccountStatus string

const (
	AccountInUse        AccountStatus = "IN_USE"
	AccountUnregistered AccountStatus = "UNREGISTERED"
)

// TransactionType tells a debit from its reversal
type TransactionType string

const (
	TransactionUse    TransactionType = "USE"
	TransactionCancel TransactionType = "CANCEL"
)

// TransactionResult records whether the attempt was applied
type TransactionResult string

const (
	ResultSuccess TransactionResult = "S"
	ResultFailed  TransactionResult = "F"
)

// Owner represents a person who may hold accounts
type Owner struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Account represents one financial account. Balance is in minor units.
type Account struct {
	ID             int64         `json:"id"`
	OwnerID        int64         `json:"ownerId"`
	AccountNumber  string        `json:"accountNumber"`
	Status         AccountStatus `json:"status"`
	Balance        int64         `json:"balance"`
	RegisteredAt   time.Time     `json:"registeredAt"`
	UnregisteredAt *time.Time    `json:"unregisteredAt,omitempty"`
}

// Transaction is an immutable ledger record of one attempted balance change
type Transaction struct {
	ID              int64             `json:"id"`
	TransactionID   string            `json:"transactionId"`
	Type            TransactionType   `json:"type"`
	Result          TransactionResult `json:"result"`
	Amount          int64             `json:"amount"`
	BalanceSnapshot int64             `json:"balanceSnapshot"`
	AccountID       int64             `json:"accountId"`
	AccountNumber   string            `json:"accountNumber"`
	TransactedAt    time.Time         `json:"transactedAt"`
}

// AccountDto is the projection handed to callers of the lifecycle manager
type AccountDto struct {
	OwnerID        int64         `json:"userId"`
	AccountNumber  string        `json:"accountNumber"`
	Balance        int64         `json:"balance"`
	Status         AccountStatus `json:"status"`
	RegisteredAt   time.Time     `json:"registeredAt"`
	UnregisteredAt *time.Time    `json:"unRegisteredAt,omitempty"`
}

// TransactionDto is the projection of a ledger record
type TransactionDto struct {
	AccountNumber   string            `json:"accountNumber"`
	Type            TransactionType   `json:"transactionType"`
	Result          TransactionResult `json:"transactionResult"`
	Amount          int64             `json:"amount"`
	BalanceSnapshot int64             `json:"balanceSnapshot"`
	TransactionID   string            `json:"transactionId"`
	TransactedAt    time.Time         `json:"transactedAt"`
}

// IsClosed reports whether the account has been unregistered
func (a Account) IsClosed() bool {
	return a.Status == AccountUnregistered
}

func AccountDtoFrom(a Account) AccountDto {
	return AccountDto{
		OwnerID:        a.OwnerID,
		AccountNumber:  a.AccountNumber,
		Balance:        a.Balance,
		Status:         a.Status,
		RegisteredAt:   a.RegisteredAt,
		UnregisteredAt: a.UnregisteredAt,
	}
}

func TransactionDtoFrom(t Transaction) TransactionDto {
	return TransactionDto{
		AccountNumber:   t.AccountNumber,
		Type:            t.Type,
		Result:          t.Result,
		Amount:          t.Amount,
		BalanceSnapshot: t.BalanceSnapshot,
		TransactionID:   t.TransactionID,
		TransactedAt:    t.TransactedAt,
	}
}
