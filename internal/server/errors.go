package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	branddomain "github.com/wispbill/wispbill/internal/brand/domain"
	customerdomain "github.com/wispbill/wispbill/internal/customer/domain"
	devicedomain "github.com/wispbill/wispbill/internal/device/domain"
	"github.com/wispbill/wispbill/internal/gateway"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
	paymentdomain "github.com/wispbill/wispbill/internal/payment/domain"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrForbidden      = errors.New("forbidden")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrMalformedWebhook):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrWebhookUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "webhook token mismatch"}

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: err.Error()}

	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, customerdomain.ErrCustomerNotFound),
		errors.Is(err, customerdomain.ErrTechnicalDataNotFound),
		errors.Is(err, branddomain.ErrBrandNotFound),
		errors.Is(err, branddomain.ErrPackageNotFound),
		errors.Is(err, branddomain.ErrTaxNotFound),
		errors.Is(err, devicedomain.ErrDeviceNotFound),
		errors.Is(err, gateway.ErrItemNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, invoicedomain.ErrDuplicateInvoicePeriod),
		errors.Is(err, invoicedomain.ErrInvoiceTerminal),
		errors.Is(err, subscriptiondomain.ErrSubscriptionStopped),
		errors.Is(err, gateway.ErrItemNotFailed):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}

	case errors.Is(err, gateway.ErrGatewayUnavailable),
		errors.Is(err, gateway.ErrGatewayRejected),
		errors.Is(err, gateway.ErrQueueClosed):
		return http.StatusBadGateway, errorPayload{Type: "gateway_error", Message: err.Error()}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal error"}
	}
}
