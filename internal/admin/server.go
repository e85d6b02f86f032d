// Package admin serves the daemon's HTTP surface: health, readiness,
// Prometheus metrics, and a view of links and pending requests.
package admin

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/divelink/internal/auth"
	"github.com/danmuck/divelink/internal/config"
	"github.com/danmuck/divelink/internal/observability"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// LinkView is the part of a link the admin surface reads.
type LinkView interface {
	Running() bool
	Pending() []session.Pending
}

// DeviceView is the part of a simulated device the admin surface reads.
type DeviceView interface {
	Info() payload.DeviceInfo
	State() payload.DiveState
}

type Server struct {
	ID      string
	Addr    string
	Started time.Time

	mu     sync.RWMutex
	links  map[string]LinkView
	device DeviceView

	router *gin.Engine
}

// Config selects the admin identity and access policy. An empty Token
// leaves the inspection routes open.
type Config struct {
	ID          string
	Addr        string
	CORSOrigins []string
	Token       string
}

func New(cfg Config) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:      cfg.ID,
		Addr:    cfg.Addr,
		Started: time.Now(),
		links:   make(map[string]LinkView),
		router:  r,
	}
	s.registerRoutes(auth.ForToken(cfg.Token))
	return s
}

func (s *Server) HTTPRouter() *gin.Engine { return s.router }

// Attach exposes a link under name until Detach.
func (s *Server) Attach(name string, l LinkView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[name] = l
}

func (s *Server) Detach(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, name)
}

func (s *Server) SetDevice(d DeviceView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = d
}

// Handler returns the router for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

type linkStatus struct {
	Name    string          `json:"name"`
	Running bool            `json:"running"`
	Pending []pendingStatus `json:"pending"`
}

type pendingStatus struct {
	Sequence uint16    `json:"seq"`
	State    string    `json:"state"`
	SentAt   time.Time `json:"sent_at"`
	Deadline time.Time `json:"deadline"`
}

type deviceStatus struct {
	DeviceID        uint32 `json:"device_id"`
	FirmwareVersion string `json:"firmware_version"`
	HardwareVersion string `json:"hardware_version"`
	DiveState       string `json:"dive_state"`
}

func (s *Server) registerRoutes(v auth.Validator) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"node":    s.ID,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Started).String(),
			"node":    s.ID,
			"version": Version,
		})
	})

	inspect := s.router.Group("/", auth.Require(v))

	inspect.GET("/links", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"links": s.linkStatuses()})
	})

	inspect.GET("/device", func(c *gin.Context) {
		s.mu.RLock()
		d := s.device
		s.mu.RUnlock()
		if d == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no device attached"})
			return
		}
		info := d.Info()
		c.JSON(http.StatusOK, deviceStatus{
			DeviceID:        info.DeviceID,
			FirmwareVersion: config.FormatVersion(info.FirmwareVersion),
			HardwareVersion: config.FormatVersion(info.HardwareVersion),
			DiveState:       d.State().String(),
		})
	})
}

func (s *Server) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if l.Running() {
			return true
		}
	}
	return false
}

func (s *Server) linkStatuses() []linkStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]linkStatus, 0, len(s.links))
	for name, l := range s.links {
		st := linkStatus{Name: name, Running: l.Running(), Pending: []pendingStatus{}}
		for _, p := range l.Pending() {
			st.Pending = append(st.Pending, pendingStatus{
				Sequence: p.Sequence,
				State:    p.State.String(),
				SentAt:   p.SentAt,
				Deadline: p.Deadline,
			})
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
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
