package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/ledgerd/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	obslogger "github.com/smallbiznis/ledgerd/internal/observability/logger"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type invoiceLineRequest struct {
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   money.Money     `json:"unit_price"`
	OrderID     *snowflake.ID   `json:"order_id"`
	OrderLineID *snowflake.ID   `json:"order_line_id"`
}

type invoiceOrderRequest struct {
	OrderID       snowflake.ID `json:"order_id"`
	AmountExclTax *money.Money `json:"amount_excl_tax"`
}

type createInvoiceRequest struct {
	CustomerID     snowflake.ID          `json:"customer_id"`
	Currency       string                `json:"currency"`
	SubscriptionID *snowflake.ID         `json:"subscription_id"`
	PeriodStart    *time.Time            `json:"period_start"`
	PeriodEnd      *time.Time            `json:"period_end"`
	BillToName     string                `json:"bill_to_name"`
	BillToAddress  string                `json:"bill_to_address"`
	TaxID          string                `json:"tax_id"`
	TaxRegime      string                `json:"tax_regime"`
	VATRate        decimal.Decimal       `json:"vat_rate"`
	ExciseRate     decimal.Decimal       `json:"excise_rate"`
	Region         string                `json:"region"`
	Lines          []invoiceLineRequest  `json:"lines"`
	Orders         []invoiceOrderRequest `json:"orders"`
	Status         string                `json:"status"`
	IssuedAt       *time.Time            `json:"issued_at"`
	DueAt          *time.Time            `json:"due_at"`
	Metadata       map[string]any        `json:"metadata"`
	PostToLedger   bool                  `json:"post_to_ledger"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lines := make([]invoicedomain.LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, invoicedomain.LineInput{
			Kind:        invoicedomain.LineKind(strings.ToLower(strings.TrimSpace(line.Kind))),
			Description: strings.TrimSpace(line.Description),
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			OrderID:     line.OrderID,
			OrderLineID: line.OrderLineID,
		})
	}
	orders := make([]invoicedomain.OrderLink, 0, len(req.Orders))
	for _, order := range req.Orders {
		orders = append(orders, invoicedomain.OrderLink{
			OrderID:       order.OrderID,
			AmountExclTax: order.AmountExclTax,
		})
	}

	res, err := s.invoiceSvc.CreateInvoice(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		CustomerID:     req.CustomerID,
		Currency:       req.Currency,
		SubscriptionID: req.SubscriptionID,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		Legal: invoicedomain.LegalSnapshot{
			BillToName:    strings.TrimSpace(req.BillToName),
			BillToAddress: strings.TrimSpace(req.BillToAddress),
			TaxID:         strings.TrimSpace(req.TaxID),
			TaxRegime:     invoicedomain.TaxRegime(strings.ToLower(strings.TrimSpace(req.TaxRegime))),
			VATRate:       req.VATRate,
			ExciseRate:    req.ExciseRate,
		},
		Region:       strings.TrimSpace(req.Region),
		Lines:        lines,
		Orders:       orders,
		Status:       invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		IssuedAt:     req.IssuedAt,
		DueAt:        req.DueAt,
		Metadata:     req.Metadata,
		PostToLedger: req.PostToLedger,
	})
	if err != nil {
		// A failed ledger post still leaves a stored invoice behind.
		if res != nil {
			c.JSON(http.StatusAccepted, gin.H{"data": res.Invoice, "replayed": res.Replayed, "ledger_error": err.Error()})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.Set(obslogger.ContextKeyReplayed, res.Replayed)
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": res.Invoice, "replayed": res.Replayed})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseOptionalSnowflakeID(query.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
		return
	}
	var status *invoicedomain.InvoiceStatus
	if raw := strings.ToLower(strings.TrimSpace(query.Status)); raw != "" {
		value := invoicedomain.InvoiceStatus(raw)
		status = &value
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
		CustomerID: customerID,
		Status:     status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	item, err := s.invoiceSvc.GetInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) UpdateInvoiceStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.invoiceSvc.UpdateStatus(c.Request.Context(), id, invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Entry{
		Action:     "invoice.status_update",
		TargetType: "invoice",
		TargetID:   item.ID.String(),
		Metadata:   map[string]any{"status": string(item.Status)},
	})

	c.JSON(http.StatusOK, gin.H{"data": item})
}

// SweepOverdueInvoices runs the overdue transition on demand, as of now.
func (s *Server) SweepOverdueInvoices(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	n, err := s.invoiceSvc.MarkOverdue(c.Request.Context(), time.Time{}, req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if n > 0 {
		s.recordAudit(c, auditdomain.Entry{
			Action:     "invoice.mark_overdue",
			TargetType: "invoice",
			Metadata:   map[string]any{"count": n},
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"marked_overdue": n}})
}

func (s *Server) PostInvoiceToLedger(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	res, err := s.invoiceSvc.PostToLedger(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res.Entry, "replayed": res.Replayed})
}

func (s *Server) LinkInvoiceOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req invoiceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.invoiceSvc.LinkOrder(c.Request.Context(), invoicedomain.LinkOrderRequest{
		InvoiceID:     id,
		OrderID:       req.OrderID,
		AmountExclTax: req.AmountExclTax,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res.Link, "replayed": res.Replayed})
}

func (s *Server) DetachOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	res, err := s.invoiceSvc.DetachOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"removed_links": res.RemovedLinks,
		"cleared_lines": res.ClearedLines,
	}})
}

func (s *Server) ConsolidateInvoices(c *gin.Context) {
	var req struct {
		InvoiceIDs []snowflake.ID `json:"invoice_ids"`
		IssuedAt   *time.Time     `json:"issued_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	consolidated, err := s.invoiceSvc.Consolidate(c.Request.Context(), invoicedomain.ConsolidateRequest{
		InvoiceIDs: req.InvoiceIDs,
		IssuedAt:   req.IssuedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": consolidated})
}

func (s *Server) GetConsolidatedInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	consolidated, err := s.invoiceSvc.GetConsolidated(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": consolidated})
}
