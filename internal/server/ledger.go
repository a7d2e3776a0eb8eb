package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	obslogger "github.com/smallbiznis/ledgerd/internal/observability/logger"
	reportingdomain "github.com/smallbiznis/ledgerd/internal/reporting/domain"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type postEntryRequest struct {
	EntryType      string        `json:"entry_type"`
	Amount         money.Money   `json:"amount"`
	Description    string        `json:"description"`
	OrderID        *snowflake.ID `json:"order_id"`
	SubscriptionID *snowflake.ID `json:"subscription_id"`
	PaymentID      *snowflake.ID `json:"payment_id"`
	PeriodStart    *time.Time    `json:"period_start"`
	PeriodEnd      *time.Time    `json:"period_end"`
	ExternalRef    string        `json:"external_ref"`
	Region         *string       `json:"region"`
	SalesAgent     *string       `json:"sales_agent"`
}

func (s *Server) PostEntry(c *gin.Context) {
	accountID, ok := pathID(c)
	if !ok {
		return
	}

	var req postEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	externalRef := strings.TrimSpace(req.ExternalRef)
	if externalRef == "" {
		externalRef = strings.TrimSpace(c.GetHeader(obslogger.HeaderIdempotencyKey))
	}
	c.Set(obslogger.ContextKeyExternalRef, externalRef)

	res, err := s.ledgerSvc.PostEntry(c.Request.Context(), ledgerdomain.PostEntryRequest{
		AccountID:          accountID,
		EntryType:          ledgerdomain.EntryType(strings.ToLower(strings.TrimSpace(req.EntryType))),
		Amount:             req.Amount,
		Description:        strings.TrimSpace(req.Description),
		OrderID:            req.OrderID,
		SubscriptionID:     req.SubscriptionID,
		PaymentID:          req.PaymentID,
		PeriodStart:        req.PeriodStart,
		PeriodEnd:          req.PeriodEnd,
		ExternalRef:        externalRef,
		RegionSnapshot:     req.Region,
		SalesAgentSnapshot: req.SalesAgent,
		StrictExternalRef:  s.cfg.StrictExternalRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(obslogger.ContextKeyReplayed, res.Replayed)
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": res.Entry, "replayed": res.Replayed})
}

func (s *Server) GetBillingAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetBalance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"billing_account_id": id, "balance": balance}})
}

func (s *Server) GetEntry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	entry, err := s.ledgerSvc.GetEntry(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) ListEntries(c *gin.Context) {
	var query struct {
		pagination.Pagination
		AccountID  string `form:"billing_account_id"`
		CustomerID string `form:"customer_id"`
		EntryTypes string `form:"entry_types"`
		From       string `form:"from"`
		To         string `form:"to"`
		Region     string `form:"region"`
		Unassigned bool   `form:"unassigned"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := parseOptionalSnowflakeID(query.AccountID)
	if err != nil {
		AbortWithError(c, newValidationError("billing_account_id", "invalid_billing_account_id", "invalid billing_account_id"))
		return
	}
	customerID, err := parseOptionalSnowflakeID(query.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
		return
	}
	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	var entryTypes []ledgerdomain.EntryType
	for _, raw := range strings.Split(query.EntryTypes, ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			entryTypes = append(entryTypes, ledgerdomain.EntryType(raw))
		}
	}

	resp, err := s.reportingSvc.ListLedger(c.Request.Context(), reportingdomain.ListLedgerRequest{
		Filter: reportingdomain.LedgerFilter{
			AccountID:  accountID,
			CustomerID: customerID,
			EntryTypes: entryTypes,
			From:       from,
			To:         to,
			Region:     query.Region,
			Unassigned: query.Unassigned,
		},
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}
