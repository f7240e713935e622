// Package httpapi exposes a small operator-facing HTTP surface: health,
// Prometheus metrics, and a read-only play status dump. It does not accept
// any trading commands — those only ever flow through the CLI.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/optionstrike/engine/internal/playstore"
	"github.com/optionstrike/engine/internal/playtypes"
)

// Server wraps a gin engine serving /healthz, /metrics, and /status.
type Server struct {
	engine *gin.Engine
	store  *playstore.Store
}

// New builds the ops API. store is used to answer /status; it may be nil
// in which case /status reports an empty snapshot.
func New(store *playstore.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{engine: r, store: store}
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", s.status)
	return s
}

// Run starts the HTTP server, blocking until it errors or the listener closes.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// status reports a play count per lifecycle state, per spec.md §6's CLI
// `status` subcommand (exposed here too for scripted polling).
func (s *Server) status(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"counts": gin.H{}})
		return
	}
	counts := make(map[string]int, len(playtypes.AllStates))
	for _, st := range playtypes.AllStates {
		ids, err := s.store.List(st)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		counts[string(st)] = len(ids)
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}
