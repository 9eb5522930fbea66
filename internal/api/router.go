package api

import (
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/storefront/config"
	_ "github.com/d60-Lab/storefront/docs"
	"github.com/d60-Lab/storefront/internal/api/handler"
	"github.com/d60-Lab/storefront/internal/api/middleware"
)

const callbackPath = "/api/payment/callback"

// NewRouter 组装中间件与路由
func NewRouter(cfg *config.Config, h *handler.Handler, limiter *middleware.IPRateLimiter) (*gin.Engine, error) {
	if err := middleware.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), gin.Recovery())
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	// 回调响应体必须是原样的 OK
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{callbackPath})))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Server.Mode != gin.ReleaseMode {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	payment := r.Group("/api/payment")
	{
		create := []gin.HandlerFunc{middleware.OptionalAuth(cfg.Auth.JWTSecret)}
		if limiter != nil {
			create = append([]gin.HandlerFunc{limiter.Middleware()}, create...)
		}
		payment.POST("/create", append(create, h.CreatePayment)...)
		payment.GET("/status/:merchantOid", h.GetPaymentStatus)
		payment.POST("/callback", h.PaymentCallback)
	}
	return r, nil
}
