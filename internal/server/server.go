// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/meridianbank/core/internal/account"
	"github.com/meridianbank/core/internal/audit"
	"github.com/meridianbank/core/internal/config"
	"github.com/meridianbank/core/internal/health"
	"github.com/meridianbank/core/internal/idgen"
	"github.com/meridianbank/core/internal/logging"
	"github.com/meridianbank/core/internal/metrics"
	"github.com/meridianbank/core/internal/money"
	"github.com/meridianbank/core/internal/ratelimit"
	"github.com/meridianbank/core/internal/risk"
	"github.com/meridianbank/core/internal/security"
	"github.com/meridianbank/core/internal/transaction"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg          *config.Config
	ledger       *audit.Ledger
	accounts     *account.Service
	transactions *transaction.Service
	logins       *risk.LoginService
	limiter      *ratelimit.Limiter
	loginLimiter *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFmt),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		auditStore   audit.Store
		accountRepo  account.Repository
		txnStore     transaction.Store
		attemptStore risk.AttemptStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		auditStore = audit.NewPostgresStore(db)
		accountRepo = account.NewPostgresRepository(db)
		txnStore = transaction.NewPostgresStore(db)
		attemptStore = risk.NewPostgresAttemptStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		auditStore = audit.NewMemoryStore()
		accountRepo = account.NewMemoryRepository()
		txnStore = transaction.NewMemoryStore()
		attemptStore = risk.NewMemoryAttemptStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Audit ledger. The signer is optional; with no secret, entries carry
	// no countersignature but the hash chain is still enforced.
	s.ledger = audit.NewLedger(auditStore).WithSigner(audit.NewSigner(cfg.AuditHMACSecret))
	if err := s.ledger.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover audit chain: %w", err)
	}
	s.logger.Info("audit ledger ready", "lastSequence", s.ledger.LastSequence())

	s.accounts = account.NewService(accountRepo, s.ledger)

	s.transactions = transaction.NewService(txnStore, s.accounts, s.ledger)
	if cfg.MaxTransactionAmount != "" {
		maxAmount, err := money.Parse(cfg.MaxTransactionAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_TRANSACTION_AMOUNT: %w", err)
		}
		s.transactions = s.transactions.WithMaxAmount(maxAmount)
	}

	s.logins = risk.NewLoginService(attemptStore, s.ledger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Unhealthy("database", err)
			}
			return health.OK("database")
		})
	}
	// Cheap tail check: the newest sealed entry must still hash to itself.
	s.checks.Register("audit_ledger", func(ctx context.Context) health.Status {
		last := s.ledger.LastSequence()
		if last == 0 {
			return health.OK("audit_ledger")
		}
		if err := s.ledger.VerifyFullChain(ctx, last, last); err != nil {
			return health.Unhealthy("audit_ledger", err)
		}
		return health.OK("audit_ledger")
	})

	s.limiter = ratelimit.New(ratelimit.DefaultConfig())
	s.loginLimiter = ratelimit.New(ratelimit.LoginConfig())

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Rate limiting
	s.router.Use(s.limiter.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Sample DB pool stats into Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.loginLimiter != nil {
		s.loginLimiter.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
