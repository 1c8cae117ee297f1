package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/order-placement-engine/internal/logging"
)

type Dependencies struct {
	Orders      OrderService
	Products    ProductService
	Idempotency IdempotencyStore

	Logger       *zap.Logger
	Tracer       trace.Tracer
	ServiceName  string
	JWTSecret    []byte
	OrderTimeout time.Duration

	// Health reports store reachability; nil means always healthy.
	Health func(ctx context.Context) error
}

func NewRouter(d Dependencies) *gin.Engine {
	useJSONFieldNames()

	r := gin.New()
	r.Use(gin.Recovery())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(logging.GinMiddleware(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	orderHandler := NewOrderHandler(d.Orders, d.Idempotency, d.Logger, d.Tracer, d.OrderTimeout)
	productHandler := NewProductHandler(d.Products, d.Logger)

	api := r.Group("/api", Authenticate(d.JWTSecret))

	api.POST("/orders", orderHandler.PlaceOrder)
	api.GET("/orders", orderHandler.ListOrders)
	api.GET("/orders/:id", orderHandler.GetOrder)
	api.POST("/orders/:id/cancel", orderHandler.CancelOrder)

	api.POST("/products", productHandler.CreateProduct)
	api.GET("/products/:id", productHandler.GetProduct)
	api.PATCH("/products/:id", productHandler.UpdateProduct)
	api.POST("/products/:id/restock", productHandler.Restock)

	return r
}
