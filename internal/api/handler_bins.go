package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/db"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

const (
	defaultStorageZone = "ZONE1"
	washZone           = "WASH"
	unassignedZone     = "UNASSIGNED"
)

type zoneView struct {
	Zone string      `json:"zone"`
	Bins []model.Bin `json:"bins"`
}

// ListBins returns every bin grouped by zone, zones in name order.
func (h *Handler) ListBins(c *gin.Context) {
	bins, err := h.store.ListBins(c.Request.Context(), store.BinFilter{Type: model.BinType(c.Query("type"))})
	if err != nil {
		h.fail(c, err)
		return
	}

	byZone := make(map[string][]model.Bin)
	for _, b := range bins {
		zone := b.Zone
		if zone == "" {
			zone = unassignedZone
		}
		byZone[zone] = append(byZone[zone], b)
	}
	zones := make([]zoneView, 0, len(byZone))
	for zone, bins := range byZone {
		zones = append(zones, zoneView{Zone: zone, Bins: bins})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Zone < zones[j].Zone })

	c.JSON(http.StatusOK, gin.H{"zones": zones})
}

type binRequest struct {
	Name     string `json:"name" binding:"required"`
	Type     string `json:"type" binding:"required"`
	Zone     string `json:"zone"`
	Capacity int    `json:"capacity"`
	Wash     string `json:"wash"`
	QRCode   string `json:"qrCode"`
}

// CreateBin adds a storage or wash bin. The QR code defaults to TYPE-name.
func (h *Handler) CreateBin(c *gin.Context) {
	var req binRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	b := &model.Bin{
		Name:     req.Name,
		Type:     model.BinType(req.Type),
		Zone:     req.Zone,
		Capacity: req.Capacity,
		QRCode:   req.QRCode,
		Active:   true,
	}
	switch b.Type {
	case model.BinStorage:
		if b.Zone == "" {
			b.Zone = defaultStorageZone
		}
		if b.Capacity == 0 {
			b.Capacity = h.opts.StorageCapacity
		}
		if req.Wash != "" {
			h.fail(c, apperr.New(apperr.InvalidInput, "storage bins have no wash"))
			return
		}
	case model.BinWash:
		if b.Zone == "" {
			b.Zone = washZone
		}
		if b.Capacity == 0 {
			b.Capacity = h.opts.WashCapacity
		}
		if req.Wash != "" {
			w, err := sku.ParseWash(req.Wash)
			if err == nil && !w.IsConcrete() {
				err = apperr.New(apperr.InvalidWashCode, "wash bins take a concrete wash, got %s", string(w))
			}
			if err != nil {
				h.fail(c, err)
				return
			}
			b.Wash = w
		}
	default:
		h.fail(c, apperr.New(apperr.InvalidBinType, "bin type must be STORAGE or WASH, got %q", req.Type))
		return
	}
	if b.Capacity < 0 {
		h.fail(c, apperr.New(apperr.InvalidQuantity, "capacity must be positive, got %d", b.Capacity))
		return
	}
	if b.QRCode == "" {
		b.QRCode = fmt.Sprintf("%s-%s", b.Type, b.Name)
	}

	if err := h.store.CreateBin(c.Request.Context(), b); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// SetupWashBins creates the default wash bin for every concrete wash that
// does not have one yet.
func (h *Handler) SetupWashBins(c *gin.Context) {
	ctx := c.Request.Context()
	created := []model.Bin{}
	for _, w := range sku.ConcreteWashes {
		qr := fmt.Sprintf("WASH-%s-001", w)
		b := &model.Bin{
			QRCode:   qr,
			Name:     qr,
			Type:     model.BinWash,
			Zone:     washZone,
			Capacity: h.opts.WashCapacity,
			Active:   true,
			Wash:     w,
		}
		err := h.store.CreateBin(ctx, b)
		if errors.Is(err, db.ErrBinExists) {
			continue
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		created = append(created, *b)
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// defaultStorageBins is the starter storage layout for a new warehouse.
var defaultStorageBins = []struct{ name, qr string }{
	{"ZONE1-A", "STORAGE-Z1A"},
	{"ZONE1-B", "STORAGE-Z1B"},
}

// SetupStorageBins creates the default storage bins that do not exist yet.
func (h *Handler) SetupStorageBins(c *gin.Context) {
	ctx := c.Request.Context()
	created := []model.Bin{}
	for _, d := range defaultStorageBins {
		b := &model.Bin{
			QRCode:   d.qr,
			Name:     d.name,
			Type:     model.BinStorage,
			Zone:     defaultStorageZone,
			Capacity: h.opts.StorageCapacity,
			Active:   true,
		}
		err := h.store.CreateBin(ctx, b)
		if errors.Is(err, db.ErrBinExists) {
			continue
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		created = append(created, *b)
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// ScanOutWashBin sends a whole wash bin to laundry.
func (h *Handler) ScanOutWashBin(c *gin.Context) {
	out, err := h.lifecycle.ScanOutWashBin(c.Request.Context(), c.Param("qr"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
