// Package httpapi exposes the daemon's liveness/readiness surface over
// HTTP, independent of the HOOT channels — operators and orchestrators
// (systemd, k8s) poll this rather than speaking the wire protocol.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rapidaai/hootenanny/internal/broker"
	"github.com/rapidaai/hootenanny/internal/heartbeat"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

// HealthReporter exposes just enough of the broker/heartbeat state for the
// health endpoints, without httpapi importing the whole daemon wiring.
type HealthReporter struct {
	Server       *broker.Server
	BackendPool  *heartbeat.Pool
}

// NewEngine builds the gin engine serving /healthz and /readiness.
// Grounded on the teacher's HealthCheckRoutes(cfg, engine, logger, ...)
// shape: a dedicated unnamed route group registered directly on the
// engine, trailing-slash paths to match.
func NewEngine(logger commons.Logger, reporter HealthReporter) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	group := engine.Group("")
	{
		group.GET("/healthz/", func(c *gin.Context) { healthz(c, reporter) })
		group.GET("/readiness/", func(c *gin.Context) { readiness(c, reporter) })
	}
	logger.Info("health routes registered")
	return engine
}

// healthz reports process liveness: the broker dispatch loop is running
// and hasn't entered shutting_down.
func healthz(c *gin.Context, reporter HealthReporter) {
	state := reporter.Server.State()
	if state == broker.StateShuttingDown {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "execution_state": state.String()})
}

// readiness additionally requires every backend in the heartbeat pool to
// be alive — a daemon can be "live" while still reconnecting a backend.
func readiness(c *gin.Context, reporter HealthReporter) {
	if reporter.BackendPool != nil && !reporter.BackendPool.AllAlive() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"backends": reporter.BackendPool.Health(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
