// Package httpapi exposes the REST API: reader routes under /api/users,
// admin routes under /api/admin, plus health and metrics endpoints. It maps
// requests onto the repositories and the lending ledger and translates
// ledger errors into stable HTTP codes.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bookhive/bookhive/internal/auth"
	"github.com/bookhive/bookhive/internal/db"
	"github.com/bookhive/bookhive/internal/ledger"
	"github.com/bookhive/bookhive/internal/metrics"
	"github.com/bookhive/bookhive/internal/repo"
)

// EventPublisher is the outbound event surface the API needs. Implemented by
// events.Publisher; tests swap in a mock.
type EventPublisher interface {
	PublishBookAdded(ctx context.Context, isbn, title, author string) error
	IsHealthy() bool
}

// Server holds the API's dependencies.
type Server struct {
	database      *db.DB
	books         *repo.BookRepository
	users         *repo.UserRepository
	borrowings    *repo.BorrowingRepository
	notifications *repo.NotificationRepository
	ledger        *ledger.Ledger
	publisher     EventPublisher
	tokens        *auth.TokenManager
	log           *zap.Logger
}

// NewServer creates the API server. publisher may be nil when the broker is
// unavailable; book creation then skips the announcement.
func NewServer(
	database *db.DB,
	books *repo.BookRepository,
	users *repo.UserRepository,
	borrowings *repo.BorrowingRepository,
	notifications *repo.NotificationRepository,
	led *ledger.Ledger,
	publisher EventPublisher,
	tokens *auth.TokenManager,
	log *zap.Logger,
) *Server {
	return &Server{
		database:      database,
		books:         books,
		users:         users,
		borrowings:    borrowings,
		notifications: notifications,
		ledger:        led,
		publisher:     publisher,
		tokens:        tokens,
		log:           log,
	}
}

// Router builds the gin engine with all routes and middleware wired.
func (s *Server) Router(mets *metrics.Metrics, registry *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.log, mets))

	router.GET("/healthz", s.handleHealth)
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	users := router.Group("/api/users")
	{
		users.POST("/register", s.handleRegister)
		users.POST("/login", s.handleLogin)

		authed := users.Group("", Authenticate(s.tokens))
		{
			authed.GET("/profile", s.handleGetProfile)
			authed.PUT("/profile", s.handleUpdateProfile)
			authed.PUT("/change-password", s.handleChangePassword)

			authed.GET("/books", s.handleListBooks)
			authed.GET("/books/search", s.handleSearchBooks)
			authed.GET("/books/:isbn", s.handleGetBook)

			authed.POST("/borrow/:isbn", s.handleBorrow)
			authed.POST("/cancel-borrowing/:id", s.handleCancelBorrowing)
			authed.GET("/my-borrowings", s.handleMyBorrowings)
			authed.GET("/stats", s.handleUserStats)

			authed.GET("/notifications", s.handleListNotifications)
			authed.GET("/notifications/unread-count", s.handleUnreadCount)
			authed.PUT("/notifications/:id/read", s.handleMarkNotificationRead)
			authed.PUT("/notifications/mark-all-read", s.handleMarkAllNotificationsRead)
		}
	}

	admin := router.Group("/api/admin", Authenticate(s.tokens), RequireAdmin())
	{
		admin.GET("/books", s.handleListBooks)
		admin.POST("/books", s.handleCreateBook)
		admin.GET("/books/:isbn", s.handleGetBook)
		admin.PUT("/books/:isbn", s.handleUpdateBook)
		admin.DELETE("/books/:isbn", s.handleDeleteBook)

		admin.GET("/users", s.handleListUsers)
		admin.POST("/users", s.handleCreateUser)
		admin.GET("/users/:id", s.handleGetUser)
		admin.PUT("/users/:id", s.handleUpdateUser)
		admin.DELETE("/users/:id", s.handleDeleteUser)

		admin.GET("/borrowings", s.handleListAllBorrowings)
		admin.POST("/borrowings/:id/return", s.handleReturnBorrowing)
		admin.GET("/dashboard-stats", s.handleDashboardStats)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.database.Ping(); err != nil {
		s.log.Error("Database health check failed", zap.Error(err))
		c.String(http.StatusServiceUnavailable, "unhealthy: database connection failed")
		return
	}

	if s.publisher != nil && !s.publisher.IsHealthy() {
		s.log.Error("RabbitMQ health check failed")
		c.String(http.StatusServiceUnavailable, "unhealthy: rabbitmq connection failed")
		return
	}

	c.String(http.StatusOK, "healthy")
}
