package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-account/apperr"
	"go-account/models"
)

type UseBalanceRequest struct {
	UserID        int64  `json:"userId" binding:"required,min=1"`
	AccountNumber string `json:"accountNumber" binding:"required,len=10"`
	Amount        int64  `json:"amount" binding:"required,min=10,max=1000000000"`
}

type CancelBalanceRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	AccountNumber string `json:"accountNumber" binding:"required,len=10"`
	Amount        int64  `json:"amount" binding:"min=0,max=1000000000"`
}

// TransactionResponse answers a use or cancel request
type TransactionResponse struct {
	AccountNumber     string                   `json:"accountNumber"`
	TransactionResult models.TransactionResult `json:"transactionResult"`
	TransactionID     string                   `json:"transactionId"`
	Amount            int64                    `json:"amount"`
	TransactedAt      time.Time                `json:"transactedAt"`
}

func transactionResponseFrom(dto *models.TransactionDto) TransactionResponse {
	return TransactionResponse{
		AccountNumber:     dto.AccountNumber,
		TransactionResult: dto.Result,
		TransactionID:     dto.TransactionID,
		Amount:            dto.Amount,
		TransactedAt:      dto.TransactedAt,
	}
}

type recordFunc func(ctx context.Context, accountNumber string, amount int64) (*models.TransactionDto, error)

func (h *Handler) useBalance(c *gin.Context) {
	var req UseBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	dto, err := h.transactions.UseBalance(ctx, req.UserID, req.AccountNumber, req.Amount)
	if err != nil {
		h.recordFailure(ctx, err, h.transactions.RecordFailedUse, models.TransactionUse, req.AccountNumber, req.Amount)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transactionResponseFrom(dto))
}

func (h *Handler) cancelBalance(c *gin.Context) {
	var req CancelBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	dto, err := h.transactions.CancelBalance(ctx, req.TransactionID, req.AccountNumber, req.Amount)
	if err != nil {
		h.recordFailure(ctx, err, h.transactions.RecordFailedCancel, models.TransactionCancel, req.AccountNumber, req.Amount)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transactionResponseFrom(dto))
}

// recordFailure appends an F record for a rejected use or cancel. The
// account lock is already released, so the snapshot is best effort.
// Malformed requests and internal failures are not recorded.
func (h *Handler) recordFailure(ctx context.Context, cause error, record recordFunc, typ models.TransactionType, accountNumber string, amount int64) {
	switch apperr.KindOf(cause) {
	case apperr.InvalidRequest, apperr.InternalError:
		return
	}

	if _, err := record(ctx, accountNumber, amount); err != nil {
		h.logger.Warn("failed transaction not recorded",
			zap.String("type", string(typ)),
			zap.String("account_number", accountNumber),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

func (h *Handler) queryTransaction(c *gin.Context) {
	dto, err := h.transactions.QueryTransaction(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (h *Handler) listTransactions(c *gin.Context) {
	accountNumber := c.Query("account_number")
	if accountNumber == "" {
		h.respondError(c, apperr.Newf(apperr.InvalidRequest, "account_number is required"))
		return
	}

	dtos, err := h.transactions.ListTransactions(c.Request.Context(), accountNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos)
}
