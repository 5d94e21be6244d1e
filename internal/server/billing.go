package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
	paymentdomain "github.com/wispbill/wispbill/internal/payment/domain"
)

type invoiceResponse struct {
	ID          string     `json:"id"`
	Number      string     `json:"number"`
	Status      string     `json:"status"`
	Amount      int64      `json:"amount"`
	PeriodCount int        `json:"period_count"`
	DueDate     time.Time  `json:"due_date"`
	PaymentURL  string     `json:"payment_url,omitempty"`
	GatewayRef  string     `json:"gateway_ref,omitempty"`
	PaidAmount  *int64     `json:"paid_amount,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

func toInvoiceResponse(inv *invoicedomain.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:          inv.ID.String(),
		Number:      inv.Number,
		Status:      string(inv.Status),
		Amount:      inv.Amount,
		PeriodCount: inv.PeriodCount,
		DueDate:     inv.DueDate,
		PaymentURL:  inv.PaymentURL,
		GatewayRef:  inv.GatewayRef,
		PaidAmount:  inv.PaidAmount,
		PaidAt:      inv.PaidAt,
	}
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	subscriptionID, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	inv, err := s.billingSvc.GenerateInvoice(c.Request.Context(), subscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toInvoiceResponse(inv))
}

type payInvoiceRequest struct {
	PaidAmount *int64     `json:"paid_amount"`
	PaidAt     *time.Time `json:"paid_at"`
}

func (s *Server) PayInvoice(c *gin.Context) {
	invoiceID, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	var req payInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	inv, err := s.paymentSvc.MarkPaid(c.Request.Context(), paymentdomain.MarkPaidRequest{
		InvoiceID:  invoiceID,
		PaidAmount: req.PaidAmount,
		PaidAt:     req.PaidAt,
		Source:     paymentdomain.SourceManual,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(inv))
}

// callbackTokenHeader carries the gateway's shared-secret token.
const callbackTokenHeader = "X-Callback-Token"

func (s *Server) PaymentWebhook(c *gin.Context) {
	var event paymentdomain.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, paymentdomain.ErrMalformedWebhook)
		return
	}

	token := c.GetHeader(callbackTokenHeader)
	if err := s.paymentSvc.ProcessWebhook(c.Request.Context(), token, event); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.Stats())
}

func (s *Server) RetryQueueItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.queue.Retry(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retried"})
}

func (s *Server) RunOverdueSweep(c *gin.Context) {
	report, err := s.sched.OverdueSweepJob(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
