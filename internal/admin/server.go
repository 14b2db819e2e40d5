package admin

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/longpoll/internal/auth"
	"github.com/danmuck/longpoll/internal/longpoll"
	"github.com/danmuck/longpoll/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Registry is the part of longpoll.Application the admin surface drives.
type Registry interface {
	Sessions() []*longpoll.Session
	Len() int
	IsRunning() bool
	Start(ctx context.Context) error
	Stop() error
	Subscribe() (<-chan longpoll.LifecycleEvent, func())
}

var _ Registry = (*longpoll.Application)(nil)

type Server struct {
	Name     string
	Addr     string
	Appeared time.Time

	registry  Registry
	router    *gin.Engine
	origins   []string
	validator auth.Validator
}

type SessionsResponse struct {
	Running  bool             `json:"running"`
	Sessions []longpoll.Stats `json:"sessions"`
}

func New(name, addr string, corsOrigins []string, registry Registry) *Server {
	observability.RegisterMetrics()
	origins := normalizeOrigins(corsOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.Logger("admin")))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		registry: registry,
		router:   r,
		origins:  origins,
	}
	s.registerRoutes()
	return s
}

// RequireToken guards session listing, actions and the event feed. Health,
// readiness and metrics stay open.
func (s *Server) RequireToken(v auth.Validator) *Server {
	s.validator = v
	return s
}

func (s *Server) authorize(c *gin.Context) {
	if s.validator == nil {
		c.Next()
		return
	}
	if err := s.validator.Validate(auth.FromRequest(c.Request)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Name,
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.registry.Len() > 0 && s.registry.IsRunning()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":    ready,
			"sessions": s.registry.Len(),
			"uptime":   time.Since(s.Appeared).String(),
			"service":  s.Name,
			"version":  Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded := s.router.Group("/", s.authorize)
	guarded.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.listSessions())
	})

	guarded.POST("/sessions/start", func(c *gin.Context) {
		s.respondAggregate(c, "start", s.registry.Start(c.Request.Context()))
	})

	guarded.POST("/sessions/stop", func(c *gin.Context) {
		s.respondAggregate(c, "stop", s.registry.Stop())
	})

	guarded.GET("/events", s.handleEvents)
}

func (s *Server) listSessions() SessionsResponse {
	sessions := s.registry.Sessions()
	out := SessionsResponse{
		Running:  s.registry.IsRunning(),
		Sessions: make([]longpoll.Stats, 0, len(sessions)),
	}
	for _, session := range sessions {
		out.Sessions = append(out.Sessions, session.Stats())
	}
	return out
}

func (s *Server) respondAggregate(c *gin.Context, action string, err error) {
	if err == nil {
		log.Info().Str("component", "admin").Str("action", action).Msg("aggregate session action applied")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "action": action, "running": s.registry.IsRunning()})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, longpoll.ErrAllAlreadyRunning), errors.Is(err, longpoll.ErrAllAlreadyStopped):
		status = http.StatusConflict
	case errors.Is(err, longpoll.ErrApplicationClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, longpoll.ErrInitialization):
		status = http.StatusBadGateway
	}
	log.Warn().Str("component", "admin").Str("action", action).Int("status", status).Err(err).Msg("aggregate session action failed")
	c.JSON(status, gin.H{"error": err.Error(), "action": action})
}

// Serve runs the admin HTTP server until ctx ends, then shuts it down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "admin").Str("addr", s.Addr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// EventFrame is one websocket message. The first frame of a connection is a
// snapshot of the sessions; every later frame carries one lifecycle event.
type EventFrame struct {
	Type     string                   `json:"type"`
	Sessions *SessionsResponse        `json:"sessions,omitempty"`
	Event    *longpoll.LifecycleEvent `json:"event,omitempty"`
}

// handleEvents streams registry lifecycle events as JSON text frames.
func (s *Server) handleEvents(c *gin.Context) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("component", "admin").Err(err).Msg("events upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.registry.Subscribe()
	defer cancel()

	snapshot := s.listSessions()
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	if err := conn.WriteJSON(EventFrame{Type: "snapshot", Sessions: &snapshot}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("component", "admin").Str("remote", c.Request.RemoteAddr).Msg("events client connected")
	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "application closed"))
				return
			}
			if err := conn.WriteJSON(EventFrame{Type: "event", Event: &ev}); err != nil {
				return
			}
		}
	}
}
