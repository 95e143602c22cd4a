package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z\s]+$`)

type CreateOwnerRequest struct {
	Name string `json:"name" binding:"required"`
}

type CreateAccountRequest struct {
	UserID         int64 `json:"userId" binding:"required,min=1"`
	InitialBalance int64 `json:"initialBalance" binding:"required,min=100"`
}

type CreateAccountResponse struct {
	UserID        int64     `json:"userId"`
	AccountNumber string    `json:"accountNumber"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

type CloseAccountRequest struct {
	UserID        int64  `json:"userId" binding:"required,min=1"`
	AccountNumber string `json:"accountNumber" binding:"required,len=10"`
}

type CloseAccountResponse struct {
	UserID         int64      `json:"userId"`
	AccountNumber  string     `json:"accountNumber"`
	UnregisteredAt *time.Time `json:"unRegisteredAt"`
}

// AccountInfo is one row of an owner's account listing
type AccountInfo struct {
	AccountNumber string `json:"accountNumber"`
	Balance       int64  `json:"balance"`
}

func (h *Handler) createOwner(c *gin.Context) {
	var req CreateOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if !nameRegex.MatchString(req.Name) {
		h.badRequest(c, errors.New("name must contain only letters and spaces"))
		return
	}

	owner, err := h.accounts.RegisterOwner(c.Request.Context(), req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, owner)
}

func (h *Handler) createAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	dto, err := h.accounts.CreateAccount(c.Request.Context(), req.UserID, req.InitialBalance)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, CreateAccountResponse{
		UserID:        dto.OwnerID,
		AccountNumber: dto.AccountNumber,
		RegisteredAt:  dto.RegisteredAt,
	})
}

func (h *Handler) closeAccount(c *gin.Context) {
	var req CloseAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	dto, err := h.accounts.CloseAccount(c.Request.Context(), req.UserID, req.AccountNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, CloseAccountResponse{
		UserID:         dto.OwnerID,
		AccountNumber:  dto.AccountNumber,
		UnregisteredAt: dto.UnregisteredAt,
	})
}

func (h *Handler) listAccounts(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		h.badRequest(c, err)
		return
	}

	dtos, err := h.accounts.ListAccounts(c.Request.Context(), ownerID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	infos := make([]AccountInfo, len(dtos))
	for i, dto := range dtos {
		infos[i] = AccountInfo{AccountNumber: dto.AccountNumber, Balance: dto.Balance}
	}
	h.logger.Debug("listed accounts", zap.Int64("owner_id", ownerID), zap.Int("count", len(infos)))
	c.JSON(http.StatusOK, infos)
}

func (h *Handler) getAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.badRequest(c, err)
		return
	}

	account, err := h.accounts.GetAccount(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
