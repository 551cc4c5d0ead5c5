package routes

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/visioncare/telehealth/internal/auth"
	"github.com/visioncare/telehealth/internal/authz"
	"github.com/visioncare/telehealth/internal/biometric"
	"github.com/visioncare/telehealth/internal/config"
	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/lockout"
	"github.com/visioncare/telehealth/internal/metrics"
	"github.com/visioncare/telehealth/internal/middleware"
	"github.com/visioncare/telehealth/internal/notification"
	"github.com/visioncare/telehealth/internal/otp"
	"github.com/visioncare/telehealth/internal/profile"
	"github.com/visioncare/telehealth/internal/session"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Registry == nil {
		d.Registry = metrics.NewRegistry()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	authMetrics := metrics.NewAuth(d.Registry)

	var (
		identityRepo identity.Repository
		profileStore profile.Store
		otpStore     otp.Store
	)
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
		profileStore = profile.NewPostgresStore(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set; identities are kept in memory")
		identityRepo = identity.NewMemoryRepository()
		profileStore = profile.NewMemoryStore()
	}
	if d.Cache != nil {
		otpStore = otp.NewRedisStore(d.Cache)
	} else {
		d.Logger.Warn("REDIS_URL not set; otp challenges are kept in memory")
		otpStore = otp.NewMemoryStore()
	}

	var sender notification.Sender = notification.NewLoggerSender(d.Logger)
	if d.Cfg.SMSGatewayURL != "" {
		sender = notification.NewSMSGateway(d.Cfg.SMSGatewayURL, d.Cfg.SMSGatewayKey, d.Cfg.SMSSender)
	}

	secret, err := signingSecret(d.Cfg, d.Logger)
	if err != nil {
		return err
	}
	tokens, err := session.NewIssuer(secret, d.Cfg.JWTIssuer, session.WithTTL(d.Cfg.SessionTTL))
	if err != nil {
		return err
	}

	identitySvc := identity.NewService(identityRepo, d.Cfg.BcryptCost)
	otpMgr := otp.NewManager(identitySvc, otpStore, sender, otp.Config{
		TTL:          d.Cfg.OTPTTL,
		MaxAttempts:  d.Cfg.OTPMaxAttempts,
		DeliveryWait: d.Cfg.OTPDeliveryWait,
		SendTimeout:  d.Cfg.OTPSendTimeout,
		Echo:         d.Cfg.OTPEcho,
	}, d.Logger, otp.WithMetrics(authMetrics))
	if otpMgr.EchoEnabled() {
		d.Logger.Warn("otp codes are echoed in otp-send responses")
	}

	authSvc := auth.NewService(auth.Deps{
		Identities: identitySvc,
		Lockout:    lockout.NewPolicy(identityRepo, d.Cfg.LockoutThreshold, d.Cfg.LockoutDuration),
		OTP:        otpMgr,
		Biometrics: biometric.NewVerifier(identitySvc, biometric.ExactMatcher{}, d.Logger, authMetrics),
		Tokens:     tokens,
		Profiles:   profile.NewCachedStore(profileStore, d.Cfg.ProfileCacheSize),
		Logger:     d.Logger,
		Metrics:    authMetrics,
	})
	gate := authz.NewGate(tokens, authMetrics)
	handler := auth.NewHandler(authSvc)

	api := app.Group("/api")
	idempotency := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	RegisterAuthRoutes(api, handler, gate, AuthLimits{
		Login:       middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimitPerMin, "login", d.Logger),
		OTP:         middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimitPerMin, "otp", d.Logger),
		Idempotency: idempotency,
	})
	RegisterAdminRoutes(api, handler, gate, idempotency)

	return nil
}

// signingSecret returns the configured JWT secret. Development setups without
// one get a random per-process secret, so tokens do not survive a restart.
func signingSecret(cfg config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	if !cfg.IsDev() {
		return nil, fmt.Errorf("JWT_SECRET is required when APP_ENV=%s", cfg.AppEnv)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	logger.Warn("JWT_SECRET not set; using an ephemeral signing secret")
	return secret, nil
}
