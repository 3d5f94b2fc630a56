package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
)

type receiveRollRequest struct {
	MaterialID   string `json:"material_id"`
	Width        int64  `json:"width"`
	Length       int64  `json:"length"`
	Supplier     string `json:"supplier"`
	PurchaseCost int64  `json:"purchase_cost"`
}

func (r receiveRollRequest) toDomain() inventorydomain.ReceiveRollRequest {
	return inventorydomain.ReceiveRollRequest{
		MaterialID:   strings.TrimSpace(r.MaterialID),
		Width:        r.Width,
		Length:       r.Length,
		Supplier:     strings.TrimSpace(r.Supplier),
		PurchaseCost: r.PurchaseCost,
	}
}

func (s *Server) ReceiveRoll(c *gin.Context) {
	var req receiveRollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.ReceiveRoll(c.Request.Context(), req.toDomain())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReceiveRollBatch(c *gin.Context) {
	var req struct {
		Rolls []receiveRollRequest `json:"rolls"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	batch := inventorydomain.ReceiveBatchRequest{}
	for _, roll := range req.Rolls {
		batch.Rolls = append(batch.Rolls, roll.toDomain())
	}

	resp, err := s.inventorySvc.ReceiveBatch(c.Request.Context(), batch)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRolls(c *gin.Context) {
	var query struct {
		MaterialID string `form:"material_id"`
		Active     string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	resp, err := s.inventorySvc.ListRolls(c.Request.Context(), inventorydomain.ListRollRequest{
		MaterialID: strings.TrimSpace(query.MaterialID),
		Active:     active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRollByID(c *gin.Context) {
	resp, err := s.inventorySvc.GetRoll(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AdjustRoll(c *gin.Context) {
	var req struct {
		Length int64  `json:"length"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.AdjustLength(c.Request.Context(), inventorydomain.AdjustRequest{
		RollID: strings.TrimSpace(c.Param("id")),
		Length: req.Length,
		Reason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
