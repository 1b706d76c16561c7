package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

type customerRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

// CreateCustomer registers a customer.
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	customer := &model.Customer{Name: req.Name, Email: req.Email, Phone: req.Phone}
	if err := h.store.CreateCustomer(c.Request.Context(), customer); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

// ListCustomers returns every customer ordered by name.
func (h *Handler) ListCustomers(c *gin.Context) {
	customers, err := h.store.ListCustomers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if customers == nil {
		customers = []model.Customer{}
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

// GetCustomer returns one customer.
func (h *Handler) GetCustomer(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	customer, err := h.store.GetCustomer(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		err = apperr.New(apperr.CustomerNotFound, "customer %d not found", id)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type contactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone"`
}

// UpdateCustomer replaces the contact fields present in the body.
func (h *Handler) UpdateCustomer(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Name == "" && req.Email == "" && req.Phone == "" {
		h.fail(c, apperr.New(apperr.InvalidInput, "nothing to update"))
		return
	}

	customer, err := h.store.UpdateCustomerContact(c.Request.Context(), id, req.Name, req.Email, req.Phone)
	if errors.Is(err, store.ErrNotFound) {
		err = apperr.New(apperr.CustomerNotFound, "customer %d not found", id)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type orderRequest struct {
	CustomerID  int64  `json:"customerId" binding:"required"`
	SKU         string `json:"sku" binding:"required"`
	HemType     string `json:"hemType"`
	ButtonColor string `json:"buttonColor"`
}

// CreateOrder records an order for one garment. Allocation is a separate
// call.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	target, err := sku.Parse(req.SKU)
	if err == nil {
		err = target.ValidateTarget()
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetCustomer(ctx, req.CustomerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = apperr.New(apperr.CustomerNotFound, "customer %d not found", req.CustomerID)
		}
		h.fail(c, err)
		return
	}

	order := &model.Order{
		CustomerID:  req.CustomerID,
		Target:      target,
		HemType:     req.HemType,
		ButtonColor: req.ButtonColor,
	}
	if err := h.store.CreateOrder(ctx, order); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ListOrders returns every order, oldest first.
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.store.ListOrders(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type orderView struct {
	Order    *model.Order         `json:"order"`
	Unit     *model.Unit          `json:"unit,omitempty"`
	Waitlist *model.WaitlistEntry `json:"waitlist,omitempty"`
}

// GetOrder returns an order with its bound unit or waitlist entry.
func (h *Handler) GetOrder(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()

	order, err := h.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		err = apperr.New(apperr.OrderNotFound, "order %d not found", id)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	view := orderView{Order: order}
	if u, err := h.store.GetUnitByOrder(ctx, id); err == nil {
		view.Unit = u
	} else if !errors.Is(err, store.ErrNotFound) {
		h.fail(c, err)
		return
	}
	if w, err := h.store.GetWaitlistEntryByOrder(ctx, id); err == nil {
		view.Waitlist = w
	} else if !errors.Is(err, store.ErrNotFound) {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AllocateOrder binds stock to an order or waitlists it for production.
func (h *Handler) AllocateOrder(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.allocation.AllocateOrder(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type availabilityRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity"`
}

// Availability reports matching stock without binding it.
func (h *Handler) Availability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	target, err := sku.Parse(req.SKU)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.allocation.Available(c.Request.Context(), target, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
