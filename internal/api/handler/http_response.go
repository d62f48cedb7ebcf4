package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/RadiSaiyed/Shamell-sub002/internal/api/middleware"
	"github.com/RadiSaiyed/Shamell-sub002/internal/cashmandate"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	redpacketdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/redpacket"
	"github.com/RadiSaiyed/Shamell-sub002/internal/sonic"
	"github.com/RadiSaiyed/Shamell-sub002/internal/voucher"
)

// Response represents a standard API response
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// ErrorInfo represents error information in a response
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithData sends a JSON response with data
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, &Response{
		Data:          data,
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondWithError sends a JSON response with an error
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, &Response{
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with data
func RespondCreated(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusCreated, data)
}

// RespondBadRequest sends a 400 Bad Request response with an error
func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// RespondNotFound sends a 404 Not Found response with an error
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RespondWithError(c, http.StatusNotFound, "NOT_FOUND", message)
}

// RespondInternalError sends a 500 Internal Server Error response
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred")
}

// RespondDomainError maps a service error onto the wire taxonomy. Every
// rejection a vertical service produces is side-effect-free, so the status
// codes here describe the request, never a partial posting.
//
//	not found                     404
//	validation / funds            400
//	forbidden / guardrail / lock  403
//	risk rate limit               429 + Retry-After
//	state conflicts               409
//	expired reservations          410
func RespondDomainError(c *gin.Context, err error) {
	var rateLimited shared.RateLimitError
	if errors.As(err, &rateLimited) {
		c.Header("Retry-After", strconv.FormatInt(int64(rateLimited.RetryAfter.Seconds()+0.5), 10))
		RespondWithError(c, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
		return
	}

	var guardrail shared.GuardrailError
	if errors.As(err, &guardrail) {
		RespondWithError(c, http.StatusForbidden, "GUARDRAIL_VIOLATION", err.Error())
		return
	}

	switch {
	case errors.Is(err, wallet.ErrWalletNotFound{}),
		errors.Is(err, ledger.ErrTxnNotFound{}),
		errors.Is(err, redpacketdomain.ErrPacketNotFound{}),
		errors.Is(err, sonic.ErrTokenNotFound),
		errors.Is(err, cashmandate.ErrMandateNotFound),
		errors.Is(err, voucher.ErrVoucherNotFound):
		RespondNotFound(c, err.Error())

	case errors.Is(err, shared.ErrInsufficientFunds):
		RespondWithError(c, http.StatusBadRequest, "INSUFFICIENT_FUNDS", err.Error())

	case errors.Is(err, shared.ErrInvalidAmount),
		errors.Is(err, shared.ErrSameWallet),
		errors.Is(err, shared.ErrFeeExceedsAmount),
		errors.Is(err, shared.ErrCurrencyMismatch),
		errors.Is(err, shared.ErrInvalidSignature),
		errors.Is(err, cashmandate.ErrSecretRequired),
		errors.Is(err, voucher.ErrBatchTooLarge),
		errors.Is(err, redpacket.ErrAmountBelowCount):
		RespondBadRequest(c, err.Error())

	case errors.Is(err, shared.ErrTooManyAttempts):
		RespondWithError(c, http.StatusForbidden, "TOO_MANY_ATTEMPTS", err.Error())

	case errors.Is(err, shared.ErrForbidden):
		RespondWithError(c, http.StatusForbidden, "FORBIDDEN", err.Error())

	case errors.Is(err, shared.ErrExpired):
		RespondWithError(c, http.StatusGone, "EXPIRED", err.Error())

	case errors.Is(err, shared.ErrInvalidState):
		RespondWithError(c, http.StatusConflict, "CONFLICT", err.Error())

	default:
		RespondInternalError(c)
	}
}
