package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	"github.com/smallbiznis/printora/pkg/db/pagination"
)

type createOrderDetailRequest struct {
	MaterialID string             `json:"material_id"`
	Width      int64              `json:"width"`
	Length     int64              `json:"length"`
	Quantity   int64              `json:"quantity"`
	Options    []string           `json:"options"`
	Comment    string             `json:"comment"`
	Files      []orderdomain.File `json:"files"`
}

type createOrderRequest struct {
	ClientName   string                     `json:"client_name"`
	Priority     string                     `json:"priority"`
	Notes        string                     `json:"notes"`
	SpecialOrder bool                       `json:"special_order"`
	Details      []createOrderDetailRequest `json:"details"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	details := make([]orderdomain.CreateDetailRequest, 0, len(req.Details))
	for _, d := range req.Details {
		details = append(details, orderdomain.CreateDetailRequest{
			MaterialID: strings.TrimSpace(d.MaterialID),
			Width:      d.Width,
			Length:     d.Length,
			Quantity:   d.Quantity,
			Options:    d.Options,
			Comment:    strings.TrimSpace(d.Comment),
			Files:      d.Files,
		})
	}

	resp, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreateOrderRequest{
		ClientName:   strings.TrimSpace(req.ClientName),
		Priority:     strings.TrimSpace(req.Priority),
		Notes:        strings.TrimSpace(req.Notes),
		SpecialOrder: req.SpecialOrder,
		Details:      details,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), orderdomain.ListOrderRequest{
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
		Status:    strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrderByID(c *gin.Context) {
	resp, err := s.orderSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) TransitionOrder(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	target := orderdomain.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	resp, err := s.orderSvc.ApplyTransition(c.Request.Context(), strings.TrimSpace(c.Param("id")), target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteOrder(c *gin.Context) {
	if err := s.orderSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}
