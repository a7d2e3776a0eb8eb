package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/ledgerd/internal/audit/domain"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type setFxRateRequest struct {
	Date string          `json:"date"`
	Pair string          `json:"pair"`
	Rate decimal.Decimal `json:"rate"`
}

func (s *Server) SetFxRate(c *gin.Context) {
	var req setFxRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := parseOptionalTime(req.Date, false)
	if err != nil || date == nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}

	rate, err := s.fxSvc.SetRate(c.Request.Context(), *date, req.Pair, req.Rate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Entry{
		Action:     "fx_rate.set",
		TargetType: "fx_rate",
		TargetID:   rate.Pair,
		Metadata: map[string]any{
			"rate_date": rate.RateDate.Format("2006-01-02"),
			"rate":      rate.Rate.String(),
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": rate})
}

func (s *Server) ListFxRates(c *gin.Context) {
	from, to, ok := queryRange(c)
	if !ok {
		return
	}

	rates, err := s.fxSvc.ListRates(c.Request.Context(), s.pairFromQuery(c), from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rates})
}

func (s *Server) ResolveFxRate(c *gin.Context) {
	date, err := parseOptionalTime(c.Query("date"), false)
	if err != nil || date == nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}
	pair := s.pairFromQuery(c)

	rate, err := s.fxSvc.GetRate(c.Request.Context(), *date, pair)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"pair": pair, "date": date.Format(dateOnlyLayout), "rate": rate}})
}

type convertRequest struct {
	Date   string      `json:"date"`
	Pair   string      `json:"pair"`
	Amount money.Money `json:"amount"`
}

func (s *Server) ConvertAmount(c *gin.Context) {
	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := parseOptionalTime(req.Date, false)
	if err != nil || date == nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}
	pair := req.Pair
	if pair == "" {
		pair = s.cfg.FxPair()
	}

	converted, err := s.fxSvc.Convert(c.Request.Context(), *date, pair, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"pair": pair, "amount": req.Amount, "converted": converted}})
}

func (s *Server) pairFromQuery(c *gin.Context) string {
	if pair := c.Query("pair"); pair != "" {
		return pair
	}
	return s.cfg.FxPair()
}
