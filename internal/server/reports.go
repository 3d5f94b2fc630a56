package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetStockReport serves the per-width stock totals computed live from the
// rolls table, so external reporting reads consistent committed state.
func (s *Server) GetStockReport(c *gin.Context) {
	var query struct {
		MaterialID string `form:"material_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.StockReport(c.Request.Context(), strings.TrimSpace(query.MaterialID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetOrderSnapshot serves the finalized order with payments and invoice
// for invoicing and PDF rendering downstream.
func (s *Server) GetOrderSnapshot(c *gin.Context) {
	resp, err := s.paymentSvc.Snapshot(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
