// Package api exposes the allocation and lifecycle engines over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/buildtall-systems/denimtrack/internal/allocation"
	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/db"
	"github.com/buildtall-systems/denimtrack/internal/lifecycle"
	"github.com/buildtall-systems/denimtrack/internal/mw"
	"github.com/buildtall-systems/denimtrack/internal/production"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	allocation *allocation.Engine
	production *production.Manager
	lifecycle  *lifecycle.Engine
	logger     *zap.Logger
	opts       Options
	limiter    *mw.ClientLimiter
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, alloc *allocation.Engine, prod *production.Manager, life *lifecycle.Engine, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Handler{
		store:      s,
		allocation: alloc,
		production: prod,
		lifecycle:  life,
		logger:     logger,
		opts:       opts,
		limiter:    mw.NewClientLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst, clientIdle),
	}
}

var statusByKind = map[apperr.Kind]int{
	apperr.InvalidWashCode:           http.StatusBadRequest,
	apperr.InvalidQuantity:           http.StatusBadRequest,
	apperr.InvalidInput:              http.StatusBadRequest,
	apperr.OrderNotFound:             http.StatusNotFound,
	apperr.UnitNotFound:              http.StatusNotFound,
	apperr.CustomerNotFound:          http.StatusNotFound,
	apperr.BinNotFound:               http.StatusNotFound,
	apperr.ProductionRequestNotFound: http.StatusNotFound,
	apperr.AllocationConflict:        http.StatusConflict,
	apperr.BinAtCapacity:             http.StatusConflict,
	apperr.NoCapacity:                http.StatusConflict,
	apperr.AlreadyActivated:          http.StatusConflict,
	apperr.InvalidModification:       http.StatusUnprocessableEntity,
	apperr.InvalidStageForScanType:   http.StatusUnprocessableEntity,
	apperr.BinMismatch:               http.StatusUnprocessableEntity,
	apperr.InvalidBinType:            http.StatusUnprocessableEntity,
}

func errorBody(kind, detail string) gin.H {
	return gin.H{"error": gin.H{"kind": kind, "detail": detail}}
}

// fail writes err as a JSON error. Unclassified errors are logged and
// reported as 500 without their detail.
func (h *Handler) fail(c *gin.Context, err error) {
	if kind := apperr.KindOf(err); kind != "" {
		status, ok := statusByKind[kind]
		if !ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, errorBody(string(kind), apperr.Detail(err)))
		return
	}
	switch {
	case errors.Is(err, db.ErrCustomerExists), errors.Is(err, db.ErrBinExists), errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, errorBody("Conflict", err.Error()))
		return
	}

	h.logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorBody("Internal", "internal error"))
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody(string(apperr.InvalidInput), err.Error()))
}

// idParam reads a positive integer path parameter.
func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "%s must be a positive integer, got %q", name, c.Param(name))
	}
	return id, nil
}
