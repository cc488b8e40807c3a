// Package api exposes the analytics engines over HTTP. Handlers only decode
// and validate requests, fetch prices through the injected provider and relay
// the engines' structured results; no analytics live here.
package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banachtech/banklens/data"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Server serves HTTP requests for the return-analytics service.
type Server struct {
	provider data.Provider
	apiKey   string
	router   *gin.Engine

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer creates a new HTTP server and sets up routing.
func NewServer(provider data.Provider, apiKey string) *Server {
	server := &Server{
		provider: provider,
		apiKey:   apiKey,
		limiters: map[string]*rate.Limiter{},
	}
	server.setupRouter()
	return server
}

func (server *Server) setupRouter() {
	router := gin.Default()

	authRoutes := router.Group("/v1").Use(server.authentication, server.rateLimit)
	authRoutes.POST("/strategy", server.strategy)
	authRoutes.POST("/portfolio", server.portfolio)
	authRoutes.POST("/volatility", server.volatility)
	authRoutes.POST("/dynamics", server.dynamics)
	authRoutes.POST("/dlm", server.dlm)
	server.router = router
}

// Start runs the HTTP server on a specific address.
func (server *Server) Start(address string) error {
	return server.router.Run(address)
}

func errorResponse(err error) gin.H {
	return gin.H{"error": err.Error()}
}

const (
	authorizationHeaderKey  = "authorization"
	authorizationTypeBearer = "bearer"
)

func (server *Server) authentication(c *gin.Context) {
	authorizationHeader := c.GetHeader(authorizationHeaderKey)
	if len(authorizationHeader) == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("authorization header is not provided")))
		return
	}
	fields := strings.Fields(authorizationHeader)
	if len(fields) < 2 || strings.ToLower(fields[0]) != authorizationTypeBearer {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("invalid authorization header format")))
		return
	}
	if fields[1] != server.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("please input a valid API key")))
		return
	}
	c.Set("prefix", fields[1][:min(8, len(fields[1]))])
	c.Next()
}

func (server *Server) rateLimit(c *gin.Context) {
	prefix, exists := c.Get("prefix")
	if !exists {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "msg": "Authentication Error"})
		return
	}
	if !server.getLimiter(prefix.(string)).Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"status": http.StatusTooManyRequests, "msg": "Too Many Requests"})
		return
	}
	c.Next()
}

func (server *Server) getLimiter(key string) *rate.Limiter {
	server.mu.Lock()
	defer server.mu.Unlock()
	limiter, ok := server.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Second), 2)
		server.limiters[key] = limiter
	}
	return limiter
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
