package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/buildtall-systems/denimtrack/internal/mw"
)

// clientIdle is how long a client's rate bucket survives without requests.
const clientIdle = 10 * time.Minute

// Options tunes the router and bin defaults.
type Options struct {
	RatePerSecond   float64
	RateBurst       int
	CacheTTL        time.Duration
	StorageCapacity int
	WashCapacity    int
}

func (o Options) withDefaults() Options {
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 30 * time.Second
	}
	if o.StorageCapacity <= 0 {
		o.StorageCapacity = 10
	}
	if o.WashCapacity <= 0 {
		o.WashCapacity = 50
	}
	return o
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.Logger(h.logger))

	views := cache.New(h.opts.CacheTTL, 2*h.opts.CacheTTL)
	cached := mw.CacheGET(views, h.opts.CacheTTL)

	api := r.Group("/api")
	api.Use(mw.RateLimit(h.limiter), mw.FlushOnWrite(views))
	{
		api.GET("/customers", h.ListCustomers)
		api.POST("/customers", h.CreateCustomer)
		api.GET("/customers/:id", h.GetCustomer)
		api.PATCH("/customers/:id", h.UpdateCustomer)

		api.GET("/orders", h.ListOrders)
		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/allocate", h.AllocateOrder)
		api.POST("/availability", h.Availability)

		api.GET("/production-requests", h.ListProductionRequests)
		api.POST("/production-requests", h.CreateProductionRequest)
		api.GET("/production-requests/:id", h.GetProductionRequest)
		api.PATCH("/production-requests/:id", h.ModifyProductionRequest)
		api.POST("/production-requests/:id/accept", h.AcceptProductionRequest)
		api.POST("/production-requests/:id/complete", h.CompleteProductionRequest)

		api.POST("/scans", h.ApplyScan)
		api.GET("/units", h.ListUnits)
		api.GET("/units/:id", h.GetUnit)

		api.GET("/bins", cached, h.ListBins)
		api.POST("/bins", h.CreateBin)
		api.POST("/bins/wash/setup", h.SetupWashBins)
		api.POST("/bins/storage/setup", h.SetupStorageBins)
		api.POST("/bins/:qr/scan-out", h.ScanOutWashBin)
	}

	return r
}

// SweepClients drops idle rate limit buckets every interval until ctx ends.
func (h *Handler) SweepClients(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.limiter.Sweep(); n > 0 {
				h.logger.Debug("swept idle rate limit clients", zap.Int("count", n))
			}
		}
	}
}
