// Package server wires the HTTP surface of the billing service.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/invoza/invoza/internal/billing/domain"
	"github.com/invoza/invoza/internal/config"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	userdomain "github.com/invoza/invoza/internal/user/domain"
	webhookdomain "github.com/invoza/invoza/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	UserRepo   userdomain.Repository
	BillingSvc billingdomain.Service
	SubSvc     subscriptiondomain.Service
	WebhookSvc webhookdomain.Service
}

type Server struct {
	db         *gorm.DB
	log        *zap.Logger
	userRepo   userdomain.Repository
	billingSvc billingdomain.Service
	subSvc     subscriptiondomain.Service
	webhookSvc webhookdomain.Service
}

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func NewServer(r *gin.Engine, p Params) *Server {
	s := &Server{
		db:         p.DB,
		log:        p.Log.Named("server"),
		userRepo:   p.UserRepo,
		billingSvc: p.BillingSvc,
		subSvc:     p.SubSvc,
		webhookSvc: p.WebhookSvc,
	}
	s.registerRoutes(r)
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")

	webhooks := v1.Group("/webhooks")
	webhooks.POST("/razorpay", s.HandleRazorpayWebhook)

	authed := v1.Group("", s.RequireUser())

	billing := authed.Group("/billing")
	billing.POST("/process-payment", s.HandleProcessPayment)
	billing.GET("/process-payment", s.HandleGetTransaction)
	billing.GET("/history", s.HandleGetBillingHistory)
	billing.GET("/wallet", s.HandleGetWallet)

	subscriptions := authed.Group("/subscriptions")
	subscriptions.GET("/current", s.HandleGetCurrentSubscription)
	subscriptions.POST("/subscribe", s.HandleSubscribe)
	subscriptions.POST("/change-plan", s.HandleChangePlan)
	subscriptions.POST("/cancel", s.HandleCancelSubscription)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
