package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/studykit/entitlements/internal/app/api/handlers"
	mw "github.com/studykit/entitlements/internal/app/api/middleware"
	"github.com/studykit/entitlements/internal/app/service/adapter"
	"github.com/studykit/entitlements/internal/app/service/entitlement"
	"github.com/studykit/entitlements/internal/app/service/eventlog"
	"github.com/studykit/entitlements/internal/app/service/promotion"
	"github.com/studykit/entitlements/internal/app/service/reconciler"
	cfgpkg "github.com/studykit/entitlements/pkg/config"
	metrics "github.com/studykit/entitlements/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Tracing only; request logger & access log are attached per group in
	// registerRoutes.
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Engine       *gin.Engine
	Log          *zap.SugaredLogger
	Cfg          *cfgpkg.Config
	Stripe       *adapter.StripeAdapter
	AppleNotif   *adapter.AppleNotificationAdapter
	AppleReceipt *adapter.AppleReceiptAdapter
	Google       *adapter.GoogleAdapter
	Reconciler   *reconciler.Service
	Promotion    *promotion.Service
	Store        *entitlement.Store
	EventLog     *eventlog.Service
}

func registerRoutes(d routeDeps) {
	r := d.Engine

	// Prometheus metrics on a separate listener
	if d.Cfg != nil && d.Cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: d.Log,
		})
		p.SetListenAddress(d.Cfg.MetricsAddr)
		p.Use(r)

		d.Log.Infow("metrics started", "addr", d.Cfg.MetricsAddr)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(d.Log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.UserMiddleware(), mw.RequestLoggerMiddleware(d.Log), mw.AccessLogMiddleware())

	handlers.RegisterPaymentRoutes(apiV1.Group("/payment"), d.Stripe, d.AppleNotif, d.AppleReceipt, d.Google, d.Reconciler, d.EventLog, d.Log)
	handlers.RegisterPromotionRoutes(apiV1.Group("/promotion"), d.Promotion)
	handlers.RegisterEntitlementRoutes(apiV1, d.Store)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), d.EventLog, d.Store, d.Reconciler)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
