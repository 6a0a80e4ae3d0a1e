package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/railtrans/expo/internal/auth"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/domain/user"
	"github.com/railtrans/expo/internal/email"
	"github.com/railtrans/expo/internal/events"
	"github.com/railtrans/expo/internal/http/handlers"
	"github.com/railtrans/expo/internal/http/middlewares"
	"github.com/railtrans/expo/internal/notifications"
	"github.com/railtrans/expo/internal/observability"
	"github.com/railtrans/expo/internal/otp"
	paymentsvc "github.com/railtrans/expo/internal/payment"
	"github.com/railtrans/expo/internal/queue/redisclient"
	"github.com/railtrans/expo/internal/repo/memory"
	"github.com/railtrans/expo/internal/repo/postgres"
)

const (
	otpResendInterval = 30 * time.Second
	serviceName       = "railtrans-api"
)

// Deps is everything the API needs from main. Redis, Publisher, Notifier and
// Prom are optional; nil means in-process fallbacks.
type Deps struct {
	Log       *slog.Logger
	Config    config.Config
	Pool      *pgxpool.Pool
	Redis     *redisclient.Client
	Publisher events.Publisher
	Notifier  notifications.Notifier
	Prom      *observability.Prom
	Gatherer  prometheus.Gatherer
}

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if d.Notifier == nil {
		d.Notifier = notifications.NewLogNotifier(log)
	}

	if !cfg.DevLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	if cfg.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware(serviceName))
	}
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORS(cfg.AllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(1<<20, cfg.MaxUploadBytes+(1<<20)))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// repositories
	jobsRepo := postgres.NewJobsRepo(d.Pool, d.Prom)
	registrantsRepo := postgres.NewRegistrantsRepo(d.Pool, jobsRepo, d.Prom)
	configsRepo := postgres.NewConfigsRepo(d.Pool, d.Prom)
	couponsRepo := postgres.NewCouponsRepo(d.Pool, d.Prom)
	paymentsRepo := postgres.NewPaymentsRepo(d.Pool, d.Prom)
	usersRepo := postgres.NewUsersRepo(d.Pool)

	// services
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.JWTAccessTTL())
	authMW := middlewares.NewAuthMiddleware(jwtManager)

	configsHandler := handlers.NewConfigsHandler(configsRepo, cfg.ConfigCacheTTL())
	details := email.NewResolver(log, email.ConfigSource{Configs: configsHandler})

	var otpStore otp.Store = memory.NewKVStore()
	if d.Redis != nil {
		otpStore = otp.NewRedisStore(d.Redis.Raw())
	}
	otpService := otp.NewService(otpStore, registrantsRepo, d.Notifier, details, otp.Config{
		Secret:         cfg.OTPSecret,
		ResendInterval: otpResendInterval,
	}, log)

	var (
		provider paymentsvc.Provider
		sandbox  handlers.SandboxGateway
	)
	if cfg.SandboxPayments() {
		sb := paymentsvc.NewSandbox(cfg.PublicBaseURL)
		provider, sandbox = sb, sb
	} else {
		provider = paymentsvc.NewHTTPProvider(paymentsvc.HTTPConfig{
			BaseURL: cfg.PaymentBaseURL,
			AppID:   cfg.PaymentAppID,
			Secret:  cfg.PaymentSecret,
		})
	}
	paymentService := paymentsvc.NewService(paymentsRepo, provider, d.Publisher, cfg.PublicBaseURL, log)

	// handlers
	checks := map[string]handlers.Pinger{"postgres": d.Pool}
	if d.Redis != nil {
		checks["redis"] = d.Redis
	}
	healthHandler := handlers.NewHealthHandler(checks)
	authHandler := handlers.NewAuthHandler(usersRepo, jwtManager)
	registrantsHandler := handlers.NewRegistrantsHandler(handlers.RegistrantsDeps{
		Store:      registrantsRepo,
		Configs:    configsHandler,
		OTP:        otpService,
		Jobs:       jobsRepo,
		Publisher:  d.Publisher,
		Prom:       d.Prom,
		PublicBase: cfg.PublicBaseURL,
		Log:        log,
	})
	otpHandler := handlers.NewOTPHandler(otpService, d.Prom, otpResendInterval)
	couponsHandler := handlers.NewCouponsHandler(couponsRepo, d.Publisher, d.Prom)
	paymentsHandler := handlers.NewPaymentsHandler(paymentService, sandbox, cfg.PaymentWebhookSecret, d.Prom, log)
	ticketsHandler := handlers.NewTicketsHandler(registrantsRepo, configsHandler, paymentService, couponsRepo, d.Publisher, cfg.PublicBaseURL, log)
	uploadsHandler := handlers.NewUploadsHandler(cfg.UploadDir, cfg.PublicBaseURL, cfg.MaxUploadBytes)
	mailerHandler := handlers.NewMailerHandler(jobsRepo)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)

	// rate limiters
	loginLimiter := middlewares.NewRateLimiter(10, time.Minute)
	createLimiter := middlewares.NewRateLimiter(20, time.Minute)
	publicLimiter := middlewares.NewRateLimiter(60, time.Minute)
	otpLimiter := middlewares.NewRateLimiter(10, time.Minute)

	requireJSON := middlewares.RequireJSON()
	admin := []gin.HandlerFunc{authMW.RequireAuth(), authMW.RequireRole(user.RoleAdmin)}
	withAdmin := func(hs ...gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, admin...), hs...)
	}

	// health
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	r.Static("/uploads", cfg.UploadDir)

	api := r.Group("/api")

	// auth
	api.POST("/auth/login", loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP), requireJSON, authHandler.Login)
	api.GET("/auth/me", withAdmin(authHandler.Me)...)

	// registrants, one route family per role
	for _, role := range registrant.Roles {
		base := "/" + role.Plural()

		api.GET(base, withAdmin(registrantsHandler.List(role))...)
		api.POST(base,
			createLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP),
			requireJSON,
			authMW.OptionalAuth(),
			registrantsHandler.Create(role),
		)
		api.GET(base+"/:id", withAdmin(registrantsHandler.Get(role))...)
		api.PUT(base+"/:id", withAdmin(requireJSON, registrantsHandler.Update(role))...)
		api.DELETE(base+"/:id", withAdmin(registrantsHandler.Delete(role))...)
		api.POST(base+"/:id/generate-ticket", withAdmin(registrantsHandler.GenerateTicket(role))...)
		// the uuid is the capability; the confirmation email links here
		api.GET(base+"/:id/badge.pdf", registrantsHandler.Badge(role))

		if role.HasApproval() {
			api.POST(base+"/:id/approve", withAdmin(registrantsHandler.Approve(role))...)
			api.POST(base+"/:id/cancel", withAdmin(registrantsHandler.Cancel(role))...)
		}

		api.GET("/"+string(role)+"-config", configsHandler.Show(role))
		api.PUT("/"+string(role)+"-config", withAdmin(requireJSON, configsHandler.Put(role))...)

		api.GET("/admin"+base+"/table", withAdmin(registrantsHandler.Table(role))...)
		api.GET("/admin"+base+"/export.csv", withAdmin(registrantsHandler.Export(role))...)
		api.POST("/admin"+base+"/bulk", withAdmin(requireJSON, registrantsHandler.Bulk(role))...)
	}

	// otp
	otpGroup := api.Group("/otp", otpLimiter.RateLimiterMiddleware(middlewares.KeyByIP))
	if d.Redis != nil {
		otpGroup.POST("/send", middlewares.Throttle(d.Redis, "otp_send", 5, 10*time.Minute, log), requireJSON, otpHandler.Send)
	} else {
		otpGroup.POST("/send", requireJSON, otpHandler.Send)
	}
	otpGroup.POST("/verify", requireJSON, otpHandler.Verify)
	otpGroup.GET("/check-email", otpHandler.CheckEmail)

	// coupons
	publicKey := publicLimiter.RateLimiterMiddleware(middlewares.KeyByIP)
	api.POST("/coupons/validate", publicKey, requireJSON, couponsHandler.Validate)
	api.POST("/coupons/:id/unuse", publicKey, couponsHandler.Unuse)
	api.GET("/coupons", withAdmin(couponsHandler.List)...)
	api.GET("/coupons/logs", withAdmin(couponsHandler.Logs)...)
	api.POST("/coupons", withAdmin(requireJSON, couponsHandler.Create)...)
	api.POST("/coupons/generate", withAdmin(requireJSON, couponsHandler.Generate)...)
	api.DELETE("/coupons/:id", withAdmin(couponsHandler.Delete)...)

	// payments
	api.POST("/payment/create-order", publicKey, requireJSON, paymentsHandler.CreateOrder)
	api.GET("/payment/status", publicKey, paymentsHandler.Status)
	// provider callbacks are signed, not JSON-gated
	api.POST("/payment/webhook", paymentsHandler.Webhook)
	if sandbox != nil {
		api.GET("/payment/sandbox/checkout/:id", paymentsHandler.SandboxCheckout)
		api.POST("/payment/sandbox/checkout/:id", paymentsHandler.SandboxComplete)
	}

	// tickets
	api.POST("/tickets/validate", publicKey, requireJSON, ticketsHandler.Validate)
	api.POST("/tickets/upgrade", publicKey, requireJSON, ticketsHandler.Upgrade)

	// uploads
	api.POST("/upload-file", publicKey, uploadsHandler.File)
	api.POST("/upload-asset", withAdmin(uploadsHandler.Asset)...)

	// admin
	api.POST("/mailer", withAdmin(requireJSON, mailerHandler.Send)...)
	api.GET("/admin/jobs", withAdmin(adminJobsHandler.List)...)
	api.GET("/admin/jobs/stats", withAdmin(adminJobsHandler.Stats)...)
	api.GET("/admin/jobs/:id", withAdmin(adminJobsHandler.GetByID)...)
	api.POST("/admin/jobs/:id/retry", withAdmin(adminJobsHandler.Retry)...)
	api.POST("/admin/jobs/reprocess-failed", withAdmin(adminJobsHandler.ReprocessFailed)...)

	return r
}
