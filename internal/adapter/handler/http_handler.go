package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/core/service"
	"github.com/rl1809/catalog/internal/obs"
)

const requestIDHeader = "X-Request-Id"

type Server struct {
	engine  *gin.Engine
	catalog *service.CatalogService
}

func NewServer(catalog *service.CatalogService) *Server {
	r := gin.New()
	r.Use(requestID(), accessLog(), gin.Recovery())
	s := &Server{engine: r, catalog: catalog}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.GET("/search", s.search)
		products.PATCH("/:id", s.updateProduct)
		products.DELETE("/:id", s.removeProduct)
		products.PUT("/:id/stock", s.updateStock)
		products.POST("/:id/purchase", s.purchase)
		products.POST("/:id/tags", s.tagProduct)

		users := v1.Group("/users")
		users.POST("", s.createUser)
		users.DELETE("/:id", s.removeUser)
		users.GET("/:id/products", s.listUserProducts)
		users.POST("/:id/products", s.addProduct)

		v1.GET("/tags/:id/products", s.listProductsPerTag)
		v1.POST("/admin/reindex", s.reindex)
	}
}

// requestID propagates the caller's X-Request-Id or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		obs.Logger.Info("http request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index_stale": s.catalog.IndexStale()})
}

func (s *Server) search(c *gin.Context) {
	products, err := s.catalog.Search(c, c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductSummaries(products))
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u := &domain.User{Name: req.Name, Address: req.Address, BillingInfo: req.BillingInfo}
	if err := s.catalog.RegisterUser(c, u); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserSummary(*u))
}

func (s *Server) removeUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.catalog.RemoveUser(c, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listUserProducts(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	products, err := s.catalog.ListUserProducts(c, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductSummaries(products))
}

func (s *Server) addProduct(c *gin.Context) {
	ownerID, ok := pathID(c)
	if !ok {
		return
	}
	var req addProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.catalog.AddProduct(c, ownerID, req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductSummary(*p))
}

func (s *Server) listProductsPerTag(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	products, err := s.catalog.ListProductsPerTag(c, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductSummaries(products))
}

func (s *Server) updateProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.catalog.UpdateProduct(c, id, req.patch())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductSummary(*p))
}

func (s *Server) updateStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateStockReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity is required"})
		return
	}
	if err := s.catalog.UpdateStock(c, id, *req.Quantity); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) purchase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req purchaseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	txn, err := s.catalog.Purchase(c, id, req.BuyerID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransactionSummary(*txn))
}

func (s *Server) tagProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req tagProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	tag, err := s.catalog.TagProduct(c, id, req.Tag)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TagSummary{ID: tag.ID, Name: tag.Name})
}

func (s *Server) removeProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.catalog.RemoveProduct(c, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) reindex(c *gin.Context) {
	if err := s.catalog.RebuildIndex(c); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	if status == http.StatusInternalServerError {
		obs.Logger.Error("request failed", "request_id", c.GetString("request_id"), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
