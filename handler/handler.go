// Package handler exposes the account and transaction operations over HTTP
// with gin. Domain failures are reported as {"errorCode", "errorMessage"}.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-account/apperr"
	"go-account/models"
)

type AccountService interface {
	RegisterOwner(ctx context.Context, name string) (*models.Owner, error)
	CreateAccount(ctx context.Context, ownerID, initialBalance int64) (*models.AccountDto, error)
	CloseAccount(ctx context.Context, ownerID int64, accountNumber string) (*models.AccountDto, error)
	ListAccounts(ctx context.Context, ownerID int64) ([]models.AccountDto, error)
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
}

type TransactionEngine interface {
	UseBalance(ctx context.Context, ownerID int64, accountNumber string, amount int64) (*models.TransactionDto, error)
	CancelBalance(ctx context.Context, transactionID, accountNumber string, amount int64) (*models.TransactionDto, error)
	RecordFailedUse(ctx context.Context, accountNumber string, amount int64) (*models.TransactionDto, error)
	RecordFailedCancel(ctx context.Context, accountNumber string, amount int64) (*models.TransactionDto, error)
	QueryTransaction(ctx context.Context, transactionID string) (*models.TransactionDto, error)
	ListTransactions(ctx context.Context, accountNumber string) ([]models.TransactionDto, error)
}

type Handler struct {
	accounts     AccountService
	transactions TransactionEngine
	logger       *zap.Logger
}

func New(accounts AccountService, transactions TransactionEngine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		accounts:     accounts,
		transactions: transactions,
		logger:       logger.Named("http"),
	}
}

// Register mounts every route on r
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.health)

	r.POST("/owners", h.createOwner)

	r.POST("/account", h.createAccount)
	r.DELETE("/account", h.closeAccount)
	r.GET("/account", h.listAccounts)
	r.GET("/account/:id", h.getAccount)

	r.POST("/transaction/use", h.useBalance)
	r.POST("/transaction/cancel", h.cancelBalance)
	r.GET("/transaction", h.listTransactions)
	r.GET("/transaction/:transactionId", h.queryTransaction)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	ErrorCode    apperr.Kind `json:"errorCode"`
	ErrorMessage string      `json:"errorMessage"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	e := apperr.From(err)
	status := statusOf(e.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, ErrorResponse{ErrorCode: e.Kind, ErrorMessage: e.Message})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.respondError(c, apperr.Newf(apperr.InvalidRequest, "invalid request: %v", err))
}

func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.OwnerNotFound, apperr.AccountNotFound, apperr.TransactionNotFound:
		return http.StatusNotFound
	case apperr.InvalidRequest:
		return http.StatusBadRequest
	case apperr.LockTimeout:
		return http.StatusConflict
	case apperr.InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
