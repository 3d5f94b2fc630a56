package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
)

type createMaterialRequest struct {
	Code      string           `json:"code"`
	Type      string           `json:"type"`
	Name      string           `json:"name"`
	UnitPrice int64            `json:"unit_price"`
	Unit      string           `json:"unit"`
	Options   map[string]int64 `json:"options"`
}

func (s *Server) CreateMaterial(c *gin.Context) {
	var req createMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.materialSvc.Create(c.Request.Context(), materialdomain.CreateMaterialRequest{
		Code:      strings.TrimSpace(req.Code),
		Type:      strings.TrimSpace(req.Type),
		Name:      strings.TrimSpace(req.Name),
		UnitPrice: req.UnitPrice,
		Unit:      strings.TrimSpace(req.Unit),
		Options:   req.Options,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMaterials(c *gin.Context) {
	var query struct {
		Type   string `form:"type"`
		Active string `form:"active"`
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

	resp, err := s.materialSvc.List(c.Request.Context(), materialdomain.ListMaterialRequest{
		Type:   strings.TrimSpace(query.Type),
		Active: active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetMaterialByID(c *gin.Context) {
	resp, err := s.materialSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RetireMaterial(c *gin.Context) {
	if err := s.materialSvc.Retire(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"retired": true}})
}
