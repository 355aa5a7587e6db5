package router

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"rep0st/internal/config"
	"rep0st/internal/database"
	"rep0st/internal/middleware"
	"rep0st/internal/repositories"
	"rep0st/internal/search"
)

// Setup creates and configures the Gin router serving the Search Service's
// HTTP surface.
func Setup(db *database.DB) *gin.Engine {
	postRepo := repositories.NewPostRepository(db)
	searchHandler := search.NewHandler(postRepo, search.NewDefaultFetcher())

	router := setupBaseRouter()

	router.GET("/health", healthCheck(db))

	api := router.Group("/api")
	searchHandler.Register(api)

	router.GET("/api", apiDocumentation(postRepo))

	return router
}

func setupBaseRouter() *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(otelgin.Middleware("rep0st"))
	router.Use(middleware.Observability())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit())

	// Trusted Proxies Configuration
	// In production, set this to the specific IP ranges of your load
	// balancers or reverse proxies. nil means we don't trust any proxy
	// headers (X-Forwarded-For, etc.), preventing IP spoofing when not
	// behind a configured proxy.
	router.SetTrustedProxies(nil)

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.GetAllowedOrigins()
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"User-Agent",
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	return router
}

func healthCheck(db *database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"database":  "postgresql",
				"timestamp": time.Now().Unix(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "postgresql",
			"timestamp": time.Now().Unix(),
		})
	}
}

// commitSHA returns the build's git commit, set via the COMMIT_SHA
// environment variable at deploy time; "no_sha" when unset, matching the
// original service's default.
func commitSHA() string {
	if sha := os.Getenv("COMMIT_SHA"); sha != "" {
		return sha
	}
	return "no_sha"
}

func apiDocumentation(posts *repositories.PostRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		latestPost, err := posts.LatestPostID(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"msg":         "welcome to the rep0st API",
			"latest_post": latestPost,
			"build": gin.H{
				"git_sha": commitSHA(),
			},
		})
	}
}
