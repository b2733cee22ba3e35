package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/cardreport/internal/config"
	"github.com/smallbiznis/cardreport/internal/observability"
	obslogger "github.com/smallbiznis/cardreport/internal/observability/logger"
	obstracing "github.com/smallbiznis/cardreport/internal/observability/tracing"
	"github.com/smallbiznis/cardreport/internal/ratelimit"
	"github.com/smallbiznis/cardreport/internal/report/aggregator"
	"github.com/smallbiznis/cardreport/internal/report/dispatch"
	usagedomain "github.com/smallbiznis/cardreport/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http"), obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	usagesvc    usagedomain.Service
	aggregators *aggregator.Set
	dispatcher  *dispatch.Dispatcher

	recordLimiter *ratelimit.RecordLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Usagesvc    usagedomain.Service
	Aggregators *aggregator.Set
	Dispatcher  *dispatch.Dispatcher `optional:"true"`

	RecordLimiter *ratelimit.RecordLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		usagesvc:    p.Usagesvc,
		aggregators: p.Aggregators,
		dispatcher:  p.Dispatcher,

		recordLimiter: p.RecordLimiter,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Usage records --------
	api.POST("/records", s.RecordRateLimit(), s.RecordUsage)
	api.GET("/records", s.ListRecords)
	api.GET("/records/*path", s.GetRecord)
	api.PATCH("/records/*path", s.EditRecord)
	api.DELETE("/records/*path", s.DeleteRecord)
	api.POST("/reactivate/*path", s.ReactivateRecord)

	// -------- Reports --------
	api.GET("/reports/daily/:date", s.GetDailyReport)
	api.GET("/reports/weekly/:year/:month/:term", s.GetWeeklyReport)
	api.GET("/reports/monthly/:year/:month", s.GetMonthlyReport)

	if s.dispatcher != nil {
		api.POST("/dispatch", s.RunDispatch)
	}
}
