package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/printora/internal/activity"
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/internal/config"
	"github.com/smallbiznis/printora/internal/inventory"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
	"github.com/smallbiznis/printora/internal/material"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	"github.com/smallbiznis/printora/internal/observability"
	obsmiddleware "github.com/smallbiznis/printora/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/printora/internal/observability/metrics"
	obstracing "github.com/smallbiznis/printora/internal/observability/tracing"
	"github.com/smallbiznis/printora/internal/order"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	"github.com/smallbiznis/printora/internal/payment"
	paymentdomain "github.com/smallbiznis/printora/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	activity.Module,
	material.Module,
	inventory.Module,
	order.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	materialSvc  materialdomain.Service
	inventorySvc inventorydomain.Service
	orderSvc     orderdomain.Service
	paymentSvc   paymentdomain.Service
	activitySvc  activitydomain.Service
	orderLimiter *rateLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	MaterialSvc  materialdomain.Service
	InventorySvc inventorydomain.Service
	OrderSvc     orderdomain.Service
	PaymentSvc   paymentdomain.Service
	ActivitySvc  activitydomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		materialSvc:  p.MaterialSvc,
		inventorySvc: p.InventorySvc,
		orderSvc:     p.OrderSvc,
		paymentSvc:   p.PaymentSvc,
		activitySvc:  p.ActivitySvc,
		orderLimiter: newRateLimiter(60, time.Minute),
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.ActorContext())

	// -------- Materials --------
	api.GET("/materials", s.ActorRequired(), s.ListMaterials)
	api.POST("/materials", s.ActorRequired(), s.CreateMaterial)
	api.GET("/materials/:id", s.ActorRequired(), s.GetMaterialByID)
	api.POST("/materials/:id/retire", s.ActorRequired(), s.AdminRequired(), s.RetireMaterial)

	// -------- Rolls / Stock --------
	api.GET("/rolls", s.ActorRequired(), s.ListRolls)
	api.POST("/rolls", s.ActorRequired(), s.ReceiveRoll)
	api.POST("/rolls/batch", s.ActorRequired(), s.ReceiveRollBatch)
	api.GET("/rolls/:id", s.ActorRequired(), s.GetRollByID)
	api.POST("/rolls/:id/adjust", s.ActorRequired(), s.AdminRequired(), s.AdjustRoll)
	api.GET("/stock", s.ActorRequired(), s.GetStockReport)

	// -------- Orders --------
	api.GET("/orders", s.ActorRequired(), s.ListOrders)
	api.POST("/orders", s.ActorRequired(), s.OrderIntakeRateLimit(), s.CreateOrder)
	api.GET("/orders/:id", s.ActorRequired(), s.GetOrderByID)
	api.POST("/orders/:id/transition", s.ActorRequired(), s.TransitionOrder)
	api.DELETE("/orders/:id", s.ActorRequired(), s.AdminRequired(), s.DeleteOrder)
	api.GET("/orders/:id/snapshot", s.ActorRequired(), s.GetOrderSnapshot)

	// -------- Payments --------
	api.GET("/orders/:id/payments", s.ActorRequired(), s.ListOrderPayments)
	api.POST("/orders/:id/payments", s.ActorRequired(), s.RecordPayment)
	api.GET("/orders/:id/outstanding", s.ActorRequired(), s.GetOutstanding)
	api.DELETE("/payments/:id", s.ActorRequired(), s.AdminRequired(), s.DeletePayment)

	// -------- Activity --------
	api.GET("/activity", s.ActorRequired(), s.ListActivity)
}
