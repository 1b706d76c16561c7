package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/lifecycle"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// ApplyScan is the single entry point for scanning stations.
func (h *Handler) ApplyScan(c *gin.Context) {
	var scan lifecycle.Scan
	if err := c.ShouldBindJSON(&scan); err != nil {
		h.badRequest(c, err)
		return
	}
	if scan.Type == "" {
		h.fail(c, apperr.New(apperr.InvalidInput, "scan type is required"))
		return
	}
	res, err := h.lifecycle.ApplyScan(c.Request.Context(), scan)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListUnits returns units filtered by ?stage=, ?commitment= and ?location=,
// newest first. ?stage=LAUNDRY is the laundry station's work list.
func (h *Handler) ListUnits(c *gin.Context) {
	f := store.UnitFilter{
		Stage:      model.Stage(c.Query("stage")),
		Commitment: model.Commitment(c.Query("commitment")),
		Location:   c.Query("location"),
	}
	if f.Stage != "" && !f.Stage.IsUnitStage() {
		h.fail(c, apperr.New(apperr.InvalidInput, "unknown stage %q", string(f.Stage)))
		return
	}
	if f.Commitment != "" && !f.Commitment.IsValid() {
		h.fail(c, apperr.New(apperr.InvalidInput, "unknown commitment %q", string(f.Commitment)))
		return
	}

	units, err := h.store.ListUnits(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if units == nil {
		units = []model.Unit{}
	}
	c.JSON(http.StatusOK, gin.H{"units": units})
}

type unitView struct {
	Unit   *model.Unit       `json:"unit"`
	Events []model.ScanEvent `json:"events"`
}

// GetUnit returns a unit, looked up by id or QR code, with its scan history.
func (h *Handler) GetUnit(c *gin.Context) {
	ctx := c.Request.Context()
	ref := c.Param("id")

	var (
		u   *model.Unit
		err error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		u, err = h.store.GetUnit(ctx, id)
	} else {
		u, err = h.store.GetUnitByQR(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		err = apperr.New(apperr.UnitNotFound, "unit %q not found", ref)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	events, err := h.store.ListScanEvents(ctx, u.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if events == nil {
		events = []model.ScanEvent{}
	}
	c.JSON(http.StatusOK, unitView{Unit: u, Events: events})
}
