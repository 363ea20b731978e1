package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"orderproc/internal/auth"
	"orderproc/internal/intake"
	"orderproc/internal/models"
	"orderproc/internal/orderstore"
	"orderproc/internal/stock"

	"github.com/gin-gonic/gin"
)

// createOrderRequest is the submission contract of spec.md §6:
// `POST /orders` body `{stockId, quantity, priceAtPurchase}`.
type createOrderRequest struct {
	StockID         int64  `json:"stockId" binding:"required"`
	Quantity        int    `json:"quantity" binding:"required"`
	PriceAtPurchase int64  `json:"priceAtPurchase" binding:"min=0"`
	IdempotencyKey  string `json:"idempotencyKey"`
}

// orderResponse is the retrieval-API shape of spec.md §6: the raw
// order row enriched with product name/description and the current
// stock snapshot, none of which live on models.Order itself.
type orderResponse struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"userId"`
	ProductName        string    `json:"productName"`
	ProductDescription string    `json:"productDescription"`
	AvailableStock     int       `json:"availableStock"`
	Quantity           int       `json:"quantity"`
	PriceAtPurchase    int64     `json:"priceAtPurchase"`
	Status             string    `json:"status"`
	IsVIPOrder         bool      `json:"isVipOrder"`
	FailureReason      string    `json:"failureReason,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// enrichOrder joins an order with its product and current stock
// snapshot for the retrieval API (spec.md §6). Enrichment is a
// best-effort read: a catalog lookup failure surfaces the order with
// zero-valued product/stock fields rather than failing the request,
// since the order row itself is the authoritative response.
func (h *Handler) enrichOrder(c *gin.Context, order *models.Order) orderResponse {
	resp := orderResponse{
		ID:              order.ID,
		UserID:          order.UserID,
		Quantity:        order.Quantity,
		PriceAtPurchase: order.PriceAtPurchase,
		Status:          order.Status,
		IsVIPOrder:      order.IsVIP,
		FailureReason:   order.FailureReason,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}

	if product, err := h.catalog.GetProduct(c.Request.Context(), order.ProductID); err == nil {
		resp.ProductName = product.Name
		resp.ProductDescription = product.Description
	}
	if st, err := h.catalog.GetStockByID(c.Request.Context(), order.StockID); err == nil {
		resp.AvailableStock = st.Quantity
	}
	return resp
}

// createOrder submits a new order. The order is created PENDING and
// its processing job is enqueued asynchronously; the response does
// not wait for stock reservation or payment (spec.md §5).
func (h *Handler) createOrder(c *gin.Context) {
	user, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authenticated user"})
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader("Idempotency-Key")
	}

	order, err := h.intake.Submit(c.Request.Context(), intake.Request{
		UserID:          user.ID,
		IsVIP:           user.IsVIP,
		StockID:         req.StockID,
		Quantity:        req.Quantity,
		PriceAtPurchase: req.PriceAtPurchase,
		IdempotencyKey:  key,
	})
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrInvalidQuantity), errors.Is(err, intake.ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, intake.ErrStockNotFound), errors.Is(err, stock.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, h.enrichOrder(c, order))
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, orderstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	user, ok := auth.FromContext(c)
	if ok && order.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "order belongs to a different user"})
		return
	}

	c.JSON(http.StatusOK, h.enrichOrder(c, order))
}

func (h *Handler) listOrders(c *gin.Context) {
	user, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authenticated user"})
		return
	}

	orders, err := h.orders.ListOrdersByUser(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = h.enrichOrder(c, &orders[i])
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp})
}
