package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/production"
	"github.com/buildtall-systems/denimtrack/internal/sku"
)

// ListProductionRequests lists requests, optionally filtered by ?status=.
func (h *Handler) ListProductionRequests(c *gin.Context) {
	status := model.ProductionStatus(c.Query("status"))
	switch status {
	case "", model.ProductionPending, model.ProductionInProgress, model.ProductionCompleted:
	default:
		h.fail(c, apperr.New(apperr.InvalidInput, "unknown status %q", string(status)))
		return
	}
	requests, err := h.production.List(c.Request.Context(), status)
	if err != nil {
		h.fail(c, err)
		return
	}
	if requests == nil {
		requests = []model.ProductionRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

type createRequestBody struct {
	OrderIDs []int64 `json:"orderIds"`
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
}

// CreateProductionRequest either consolidates orderIds onto requests by
// universal SKU or, given sku and quantity, opens a request directly.
func (h *Handler) CreateProductionRequest(c *gin.Context) {
	var req createRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	switch {
	case len(req.OrderIDs) > 0 && req.SKU == "":
		requests, err := h.production.CreateOrExtend(ctx, req.OrderIDs)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"requests": requests})
	case len(req.OrderIDs) == 0 && req.SKU != "":
		s, err := sku.Parse(req.SKU)
		if err != nil {
			h.fail(c, err)
			return
		}
		r, err := h.production.Create(ctx, s, req.Quantity)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"requests": []model.ProductionRequest{*r}})
	default:
		h.fail(c, apperr.New(apperr.InvalidInput, "give either orderIds or sku and quantity"))
	}
}

// GetProductionRequest returns a request with its waitlist.
func (h *Handler) GetProductionRequest(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	detail, err := h.production.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ModifyProductionRequest raises quantity or length of a pending request.
func (h *Handler) ModifyProductionRequest(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var mod production.Modification
	if err := c.ShouldBindJSON(&mod); err != nil {
		h.badRequest(c, err)
		return
	}
	r, err := h.production.Modify(c.Request.Context(), id, mod)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// AcceptProductionRequest materializes a request's units.
func (h *Handler) AcceptProductionRequest(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	acc, err := h.production.Accept(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// CompleteProductionRequest closes an in-progress request.
func (h *Handler) CompleteProductionRequest(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := h.production.Complete(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
