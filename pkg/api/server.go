// Package api holds the HTTP plumbing shared by the MIND services.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BasePath prefixes the versioned routes.
const BasePath = "/mind/api/v1"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mind_http_requests_total",
		Help: "HTTP requests by service, route and status",
	}, []string{"service", "route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mind_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "route"})
)

// NewRouter returns a gin engine with recovery, request logging, request
// metrics and the /metrics endpoint.
func NewRouter(service string, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), observe(service, log))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func observe(service string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		httpRequests.WithLabelValues(service, route, c.Request.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(service, route).Observe(elapsed.Seconds())

		log.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	}
}

// Health answers the service health probe. ready may be nil.
func Health(service string, ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil && !ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"service": service, "status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"service": service, "status": "ok"})
	}
}

// Serve runs handler on port until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, handler http.Handler, port int, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Shutting down server", zap.String("address", srv.Addr))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
