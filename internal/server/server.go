package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/voxmeter/voxmeter/internal/alerts"
	alertdomain "github.com/voxmeter/voxmeter/internal/alerts/domain"
	"github.com/voxmeter/voxmeter/internal/clock"
	"github.com/voxmeter/voxmeter/internal/config"
	"github.com/voxmeter/voxmeter/internal/directory"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	"github.com/voxmeter/voxmeter/internal/identity"
	identitydomain "github.com/voxmeter/voxmeter/internal/identity/domain"
	"github.com/voxmeter/voxmeter/internal/ingest"
	ingestdomain "github.com/voxmeter/voxmeter/internal/ingest/domain"
	"github.com/voxmeter/voxmeter/internal/invoice"
	invoicedomain "github.com/voxmeter/voxmeter/internal/invoice/domain"
	"github.com/voxmeter/voxmeter/internal/ledger"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	"github.com/voxmeter/voxmeter/internal/limits"
	"github.com/voxmeter/voxmeter/internal/observability"
	obslogger "github.com/voxmeter/voxmeter/internal/observability/logger"
	obsmetrics "github.com/voxmeter/voxmeter/internal/observability/metrics"
	obstracing "github.com/voxmeter/voxmeter/internal/observability/tracing"
	"github.com/voxmeter/voxmeter/internal/ratelimit"
	"github.com/voxmeter/voxmeter/internal/snapshot"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"
)

var Module = fx.Module("http.server",
	identity.Module,
	directory.Module,
	ledger.Module,
	snapshot.Module,
	limits.Module,
	alerts.Module,
	ingest.Module,
	invoice.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node
	clock  clock.Clock

	identitySvc  identitydomain.Service
	directorySvc directorydomain.Service
	ledgerSvc    ledgerdomain.Service
	snapshotSvc  snapshotdomain.Service
	limitTable   *limits.Table
	alertSvc     alertdomain.Service
	ingestSvc    ingestdomain.Service
	invoiceSvc   invoicedomain.Service

	obsMetrics    *obsmetrics.Metrics
	ingestLimiter *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock

	IdentitySvc  identitydomain.Service
	DirectorySvc directorydomain.Service
	LedgerSvc    ledgerdomain.Service
	SnapshotSvc  snapshotdomain.Service
	LimitTable   *limits.Table
	AlertSvc     alertdomain.Service
	IngestSvc    ingestdomain.Service
	InvoiceSvc   invoicedomain.Service

	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
	IngestLimiter *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		clock:         p.Clock,
		identitySvc:   p.IdentitySvc,
		directorySvc:  p.DirectorySvc,
		ledgerSvc:     p.LedgerSvc,
		snapshotSvc:   p.SnapshotSvc,
		limitTable:    p.LimitTable,
		alertSvc:      p.AlertSvc,
		ingestSvc:     p.IngestSvc,
		invoiceSvc:    p.InvoiceSvc,
		obsMetrics:    p.ObsMetrics,
		ingestLimiter: p.IngestLimiter,
	}
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Event ingestion --------
	v1.POST("/events", s.IngestRateLimit(), s.HandleVoiceEvent)
	v1.POST("/events/reprocess", s.ReprocessUnattributed)
	v1.GET("/events/unattributed", s.ListUnattributed)

	// -------- Identities --------
	v1.POST("/identities", s.BindIdentity)
	v1.GET("/identities/resolve", s.ResolveIdentity)
	v1.GET("/users/:userId/identities", s.ListIdentities)

	// -------- Directory --------
	v1.POST("/assistants", s.RegisterAssistant)
	v1.POST("/accounts", s.UpsertAccount)
	v1.GET("/accounts/:userId", s.GetAccount)

	// -------- Usage --------
	v1.GET("/usage", s.ListUsage)
	v1.GET("/users/:userId/usage", s.GetUsageSummary)
	v1.GET("/users/:userId/usage/daily", s.GetDailyUsage)
	v1.GET("/users/:userId/usage/assistants", s.GetAssistantUsage)
	v1.GET("/users/:userId/usage/lifetime", s.GetLifetimeUsage)
	v1.GET("/users/:userId/limit", s.GetLimitStatus)
	v1.POST("/users/:userId/usage/rebuild", s.RebuildSnapshot)
	v1.GET("/users/:userId/alerts", s.ListAlerts)

	// -------- Invoices --------
	v1.POST("/invoices/generate", s.GenerateInvoice)
	v1.POST("/invoices/generate-all", s.GenerateAllInvoices)
	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/users/:userId/invoices/:month", s.GetInvoice)
}
