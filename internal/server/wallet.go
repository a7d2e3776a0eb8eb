package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	walletdomain "github.com/smallbiznis/ledgerd/internal/wallet/domain"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type walletMovementRequest struct {
	Amount           money.Money   `json:"amount"`
	Note             string        `json:"note"`
	OrderID          *snowflake.ID `json:"order_id"`
	PaymentAttemptID string        `json:"payment_attempt_id"`
}

func (s *Server) bindMovement(c *gin.Context) (walletdomain.MovementRequest, bool) {
	walletID, ok := pathID(c)
	if !ok {
		return walletdomain.MovementRequest{}, false
	}

	var req walletMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return walletdomain.MovementRequest{}, false
	}

	return walletdomain.MovementRequest{
		WalletID:         walletID,
		Amount:           req.Amount,
		Note:             strings.TrimSpace(req.Note),
		OrderID:          req.OrderID,
		PaymentAttemptID: strings.TrimSpace(req.PaymentAttemptID),
	}, true
}

func (s *Server) CreditWallet(c *gin.Context) {
	req, ok := s.bindMovement(c)
	if !ok {
		return
	}

	balance, err := s.walletSvc.Credit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"wallet_id": req.WalletID, "balance": balance}})
}

func (s *Server) DebitWallet(c *gin.Context) {
	req, ok := s.bindMovement(c)
	if !ok {
		return
	}

	balance, err := s.walletSvc.Debit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"wallet_id": req.WalletID, "balance": balance}})
}

func (s *Server) CreditWalletForAttempt(c *gin.Context) {
	req, ok := s.bindMovement(c)
	if !ok {
		return
	}

	res, err := s.walletSvc.CreditForAttempt(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) GetWallet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	wallet, err := s.walletSvc.GetWallet(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": wallet})
}

func (s *Server) ListWalletTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.walletSvc.ListTransactions(c.Request.Context(), walletdomain.ListTransactionsRequest{
		WalletID:  id,
		PageToken: query.PageToken,
		Limit:     query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}
