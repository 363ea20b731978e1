// Package api exposes the HTTP surface: order submission and lookup,
// product/stock catalog administration, and health/metrics endpoints.
// Handlers stay thin — validation and orchestration live in intake,
// orderstore, and stock.
package api

import (
	"orderproc/internal/auth"
	"orderproc/internal/intake"
	"orderproc/internal/orderstore"
	"orderproc/internal/stock"
	"orderproc/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler groups the dependencies every route needs.
type Handler struct {
	intake   *intake.Intake
	orders   orderstore.Store
	catalog  *stock.Catalog
	verifier *auth.Verifier
	metrics  *telemetry.Metrics
	db       *sqlx.DB
	redis    *redis.Client
}

func NewHandler(in *intake.Intake, orders orderstore.Store, catalog *stock.Catalog, verifier *auth.Verifier, metrics *telemetry.Metrics, db *sqlx.DB, redisClient *redis.Client) *Handler {
	return &Handler{
		intake: in, orders: orders, catalog: catalog, verifier: verifier,
		metrics: metrics, db: db, redis: redisClient,
	}
}

// SetupRoutes registers every route on router.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware(h.metrics))
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(h.verifier.Middleware())
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)

		// Stock API (spec.md §6.1). Product creation/adjustment are
		// operator-only in intent, but auth stops at token verification
		// here (spec.md §1 excludes role-based authorization).
		v1.GET("/products", h.listProducts)
		v1.POST("/products", h.createProduct)
		v1.GET("/products/:id", h.getProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.GET("/products-with-stock", h.listProductsWithStock)
		v1.POST("/stocks/:id/adjust", h.adjustStock)
	}
}
