package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/ledgerd/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/ledgerd/internal/billingcycle/domain"
)

func (s *Server) GetBillingConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.billingCycleSvc.Current()})
}

func (s *Server) UpdateBillingConfig(c *gin.Context) {
	// Unset fields keep their current values.
	policy := s.billingCycleSvc.Current()
	if err := c.ShouldBindJSON(&policy); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	policy.ID = billingcycledomain.PolicyRowID

	updated, err := s.billingCycleSvc.Update(c.Request.Context(), policy)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Entry{
		Action:     "billing_config.update",
		TargetType: "billing_config",
		Metadata: map[string]any{
			"anchor_day":                updated.AnchorDay,
			"prebill_lead_days":         updated.PrebillLeadDays,
			"cutoff_days_before_anchor": updated.CutoffDaysBeforeAnchor,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": updated})
}
