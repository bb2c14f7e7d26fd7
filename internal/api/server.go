package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/retrowfc-project/retrowfc/internal/config"
	intnet "github.com/retrowfc-project/retrowfc/internal/network"
	"github.com/retrowfc-project/retrowfc/internal/registry"
	"github.com/retrowfc-project/retrowfc/internal/session"
	"github.com/retrowfc-project/retrowfc/internal/util"
)

// Server is the ops/monitoring REST API server.
type Server struct {
	cfg      *config.Config
	sessions *session.Store
	table    *registry.Table

	startedAt time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server over the shared live state.
func NewServer(cfg *config.Config, sessions *session.Store, table *registry.Table) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		table:     table,
		startedAt: time.Now(),
	}
}

// Start initializes and starts the API server.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	svc := s.cfg.GetServiceData()
	sec := s.cfg.GetApplicationData().Security
	addr := fmt.Sprintf("%s:%d", svc.BindAddress, svc.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if sec.TLSEnabled {
		certFile, keyFile := sec.TLSCertFile, sec.TLSKeyFile
		if certFile == "" || keyFile == "" {
			certFile = filepath.Join(config.DefaultConfigDir, "api-cert.pem")
			keyFile = filepath.Join(config.DefaultConfigDir, "api-key.pem")
		}
		if !util.FileExists(certFile) || !util.FileExists(keyFile) {
			if err := util.GenerateSelfSignedCert(certFile, keyFile); err != nil {
				return fmt.Errorf("API server error: %w", err)
			}
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("ops API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if sec.TLSEnabled {
		tlsListener := tls.NewListener(ln, s.httpServer.TLSConfig)
		err = s.httpServer.Serve(tlsListener)
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	sec := s.cfg.GetApplicationData().Security
	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", s.handleHealthz)

	protected := router.Group("/api")
	protected.Use(TokenAuth(sec.APIToken))
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/sessions", s.handleSessions)
		protected.GET("/servers", s.handleServers)
	}

	return router
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports counts, uptime and host metrics.
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
		"sessions":   s.sessions.Count(),
		"servers":    s.table.Count(),
	}

	if cpuPct, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpuPct
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSessions(c *gin.Context) {
	infos := s.sessions.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(infos),
		"sessions": infos,
	})
}

// serverInfo is the JSON shape of one registration.
type serverInfo struct {
	ID            string            `json:"id"`
	GameID        string            `json:"game_id"`
	HostProfileID uint32            `json:"host_profile_id"`
	Hostname      string            `json:"hostname"`
	NumPlayers    string            `json:"numplayers"`
	MaxPlayers    string            `json:"maxplayers"`
	GameMode      string            `json:"gamemode"`
	MapName       string            `json:"mapname"`
	Extra         map[string]string `json:"extra,omitempty"`
	Verified      bool              `json:"verified"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

func (s *Server) handleServers(c *gin.Context) {
	regs := s.table.All()
	out := make([]serverInfo, 0, len(regs))
	for _, reg := range regs {
		out = append(out, serverInfo{
			ID:            reg.ID,
			GameID:        reg.GameID,
			HostProfileID: reg.HostProfileID,
			Hostname:      reg.Hostname,
			NumPlayers:    reg.NumPlayers,
			MaxPlayers:    reg.MaxPlayers,
			GameMode:      reg.GameMode,
			MapName:       reg.MapName,
			Extra:         reg.Extra,
			Verified:      reg.Verified,
			LastHeartbeat: reg.LastHeartbeat,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(out),
		"servers": out,
	})
}
