package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/events"
	intnet "github.com/retrowfc-project/retrowfc/internal/network"
	"github.com/retrowfc-project/retrowfc/internal/session"
	"github.com/retrowfc-project/retrowfc/internal/store"
	"github.com/retrowfc-project/retrowfc/internal/util"
)

// AuthPath is the single legacy endpoint consoles POST to.
const AuthPath = "/ac"

// tokenPrefix marks bootstrap tokens minted by this service. The presence
// service only honours tokens carrying it.
const tokenPrefix = "NDS"

// Server is the HTTP authentication handshake service. It is stateless across
// requests except for the single pending-challenge write into the session
// store on a successful login.
type Server struct {
	cfg      *config.Config
	records  store.Records
	sessions *session.Store
	bus      *events.Bus
	logger   zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine

	nowFn func() time.Time
}

// NewServer creates the auth service.
func NewServer(cfg *config.Config, records store.Records, sessions *session.Store, bus *events.Bus) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		records:  records,
		sessions: sessions,
		bus:      bus,
		logger:   util.ComponentLogger("auth"),
		nowFn:    time.Now,
	}
}

// Start binds the listener and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	svc := s.cfg.GetServiceData()
	addr := fmt.Sprintf("%s:%d", svc.BindAddress, svc.AuthPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("auth service error: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("auth service starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("auth service error: %w", err)
	}
	return nil
}

// Stop gracefully stops the auth service.
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

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("auth request")
	})

	router.POST(AuthPath, s.handleAC)
	return router
}

// handleAC dispatches on the legacy action field. Every outcome, including
// rejection, is a 200 with a legacy body; the consoles do not understand
// HTTP status codes.
func (s *Server) handleAC(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		s.respond(c, map[string]string{"returncd": ReturnBadRequest})
		return
	}

	fields, err := DecodeForm(c.Request.PostForm)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", c.ClientIP()).Msg("undecodable auth request")
		s.respond(c, map[string]string{"returncd": ReturnBadRequest})
		return
	}

	switch strings.ToLower(fields["action"]) {
	case ActionLogin:
		s.handleLogin(c, fields)
	case ActionAccountCreate:
		s.handleAcctCreate(c, fields)
	case ActionSvcLoc:
		s.handleSvcLoc(c, fields)
	default:
		s.logger.Debug().Str("action", fields["action"]).Msg("unknown auth action")
		s.respond(c, map[string]string{"returncd": ReturnBadRequest})
	}
}

func (s *Server) handleLogin(c *gin.Context, fields map[string]string) {
	userID := fields["userid"]
	gsbrcd := fields["gsbrcd"]
	mac := strings.ToLower(fields["macadr"])
	if userID == "" || gsbrcd == "" || mac == "" {
		s.failAuth(c, fields, ReturnBadRequest, "missing required fields")
		return
	}

	gameID := fields["gamecd"]
	if gameID == "" && len(gsbrcd) >= 4 {
		gameID = gsbrcd[:4]
	}
	if !s.cfg.GameAllowed(gameID) {
		s.failAuth(c, fields, ReturnBanned, "game not allowed")
		return
	}

	ctx := c.Request.Context()

	for _, check := range []struct {
		banType    store.BanType
		identifier string
	}{
		{store.BanMAC, mac},
		{store.BanUser, userID},
	} {
		ban, err := s.records.ActiveBan(ctx, check.banType, check.identifier, "")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.storeUnavailable(c, err)
			return
		}
		if ban != nil {
			s.banHit(c, fields, check.banType, check.identifier)
			return
		}
	}

	if s.cfg.GetServiceData().AllowListOnly {
		console, err := s.records.ConsoleByMAC(ctx, mac)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.failAuth(c, fields, ReturnBanned, "unknown console in allow-list mode")
				return
			}
			s.storeUnavailable(c, err)
			return
		}
		if !console.Enabled {
			s.failAuth(c, fields, ReturnBanned, "console disabled")
			return
		}
	}

	token := newToken()
	challenge := s.sessions.NewChallenge()
	s.sessions.PutPending(&session.Pending{
		Token:     token,
		Challenge: challenge,
		UserID:    userID,
		GsBrCd:    gsbrcd,
		GameID:    gameID,
		MAC:       mac,
	})

	// Console bookkeeping and the audit trail are best-effort; a hiccup in
	// either must not fail a login the consoles have already earned.
	if err := s.records.UpsertConsole(ctx, &store.Console{
		MACAddress: mac,
		UserID:     userID,
		DeviceName: fields["devname"],
		Platform:   platformFromUnit(fields["unitcd"]),
		Enabled:    true,
	}); err != nil {
		s.logger.Warn().Err(err).Str("mac", mac).Msg("console upsert failed")
	}
	if err := s.records.RecordLogin(ctx, &store.LoginRecord{
		UserID:     userID,
		AuthToken:  token,
		RemoteAddr: c.ClientIP(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("userid", userID).Msg("login audit write failed")
	}

	svc := s.cfg.GetServiceData()
	s.logger.Info().
		Str("userid", userID).
		Str("game_id", gameID).
		Str("remote", c.ClientIP()).
		Msg("login authorised")

	s.bus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventAuthSuccess,
		Source: "auth",
		Payload: events.AuthPayload{
			UserID:     userID,
			MAC:        mac,
			GameID:     gameID,
			RemoteAddr: c.ClientIP(),
			ReturnCode: ReturnLogin,
		},
	})

	s.respond(c, map[string]string{
		"returncd":  ReturnLogin,
		"token":     token,
		"challenge": challenge,
		"locator":   "gamespy.com",
		"svchost":   svc.PublicHost,
		"svcport":   strconv.Itoa(svc.PresencePort),
	})
}

func (s *Server) handleAcctCreate(c *gin.Context, fields map[string]string) {
	if fields["userid"] == "" {
		s.failAuth(c, fields, ReturnBadRequest, "missing userid")
		return
	}
	s.logger.Info().Str("userid", fields["userid"]).Msg("account registered")
	s.respond(c, map[string]string{
		"returncd": ReturnAccountCreate,
		"userid":   fields["userid"],
	})
}

func (s *Server) handleSvcLoc(c *gin.Context, fields map[string]string) {
	s.respond(c, map[string]string{
		"returncd":     ReturnSvcLoc,
		"statusdata":   "Y",
		"svchost":      s.cfg.GetServiceData().PublicHost,
		"servicetoken": newToken(),
	})
}

// respond stamps the shared fields and writes the legacy body.
func (s *Server) respond(c *gin.Context, fields map[string]string) {
	fields["retry"] = "0"
	fields["datetime"] = s.nowFn().UTC().Format("20060102150405")
	c.Data(http.StatusOK, "text/plain", []byte(EncodeResponse(fields)))
}

func (s *Server) failAuth(c *gin.Context, fields map[string]string, code, reason string) {
	s.logger.Debug().
		Str("userid", fields["userid"]).
		Str("remote", c.ClientIP()).
		Str("reason", reason).
		Msg("auth rejected")

	s.bus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventAuthFailure,
		Source: "auth",
		Payload: events.AuthPayload{
			UserID:     fields["userid"],
			MAC:        fields["macadr"],
			GameID:     fields["gamecd"],
			RemoteAddr: c.ClientIP(),
			ReturnCode: code,
		},
	})
	s.respond(c, map[string]string{"returncd": code})
}

func (s *Server) banHit(c *gin.Context, fields map[string]string, banType store.BanType, identifier string) {
	s.logger.Info().
		Str("ban_type", string(banType)).
		Str("identifier", identifier).
		Str("remote", c.ClientIP()).
		Msg("banned client rejected at auth")

	s.bus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventBanHit,
		Source: "auth",
		Payload: events.BanPayload{
			BanType:    string(banType),
			Identifier: identifier,
			Service:    "auth",
			RemoteAddr: c.ClientIP(),
		},
	})
	s.respond(c, map[string]string{"returncd": ReturnBanned})
}

func (s *Server) storeUnavailable(c *gin.Context, err error) {
	s.logger.Error().Err(err).Msg("record store unavailable")
	s.respond(c, map[string]string{"returncd": ReturnUnavailable})
}

func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: token entropy unavailable: " + err.Error())
	}
	return tokenPrefix + hex.EncodeToString(buf)
}

func platformFromUnit(unitcd string) store.Platform {
	if unitcd == "1" {
		return store.PlatformWii
	}
	return store.PlatformDS
}
