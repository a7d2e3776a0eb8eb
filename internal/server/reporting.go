package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	reportingdomain "github.com/smallbiznis/ledgerd/internal/reporting/domain"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
)

func (s *Server) GetStatement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	from, to, ok := queryRange(c)
	if !ok {
		return
	}

	statement, err := s.reportingSvc.GetStatement(c.Request.Context(), id, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": statement})
}

func (s *Server) GetRevenueSummary(c *gin.Context) {
	from, to, ok := queryRange(c)
	if !ok {
		return
	}
	unassigned, ok := queryBool(c, "unassigned")
	if !ok {
		return
	}

	summary, err := s.reportingSvc.GetRevenueSummary(c.Request.Context(), reportingdomain.RevenueRequest{
		From:        from,
		To:          to,
		Perspective: reportingdomain.Perspective(c.DefaultQuery("perspective", string(reportingdomain.PerspectiveInvoiced))),
		Region:      c.Query("region"),
		Unassigned:  unassigned,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) GetRevenueTable(c *gin.Context) {
	from, to, ok := queryRange(c)
	if !ok {
		return
	}
	unassigned, ok := queryBool(c, "unassigned")
	if !ok {
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	table, err := s.reportingSvc.GetRevenueTable(c.Request.Context(), reportingdomain.RevenueTableRequest{
		From:        from,
		To:          to,
		GroupBy:     reportingdomain.GroupBy(c.DefaultQuery("group_by", string(reportingdomain.GroupByMonth))),
		Perspective: reportingdomain.Perspective(c.DefaultQuery("perspective", string(reportingdomain.PerspectiveInvoiced))),
		Region:      c.Query("region"),
		Unassigned:  unassigned,
		PageToken:   query.PageToken,
		PageSize:    query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": table.Groups, "page_info": table.PageInfo, "perspective": table.Perspective, "group_by": table.GroupBy, "currency": table.Currency})
}
