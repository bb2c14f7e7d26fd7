package presence

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/events"
	intnet "github.com/retrowfc-project/retrowfc/internal/network"
	"github.com/retrowfc-project/retrowfc/internal/session"
	"github.com/retrowfc-project/retrowfc/internal/store"
	"github.com/retrowfc-project/retrowfc/internal/util"
)

// DefaultIdleTimeout bounds how long a connection may sit silent between
// messages before it is torn down.
const DefaultIdleTimeout = 5 * time.Minute

// Server is the TCP presence service.
type Server struct {
	cfg      *config.Config
	records  store.Records
	sessions *session.Store
	bus      *events.Bus
	logger   zerolog.Logger

	proof       ProofFunc
	idleTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates the presence service with the legacy proof derivation.
func NewServer(cfg *config.Config, records store.Records, sessions *session.Store, bus *events.Bus) *Server {
	idle := DefaultIdleTimeout
	if secs := cfg.GetApplicationData().Timers.PresenceIdleTimeout; secs > 0 {
		idle = time.Duration(secs) * time.Second
	}

	return &Server{
		cfg:         cfg,
		records:     records,
		sessions:    sessions,
		bus:         bus,
		logger:      util.ComponentLogger("presence"),
		proof:       GameSpyProof,
		idleTimeout: idle,
	}
}

// SetProof replaces the proof derivation. Used by tests to exercise the
// state machine without the MD5 chain.
func (s *Server) SetProof(fn ProofFunc) { s.proof = fn }

// Start binds the listener and accepts connections until the context is
// cancelled. Each connection gets its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	svc := s.cfg.GetServiceData()
	addr := fmt.Sprintf("%s:%d", svc.BindAddress, svc.PresencePort)

	lc := intnet.ReuseAddrListenConfig()
	var err error
	s.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("presence service error: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("presence service started")

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("presence service stopping")
				s.wg.Wait()
				return nil
			default:
				s.logger.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, raw)
		}()
	}
}

// Stop closes the listener and waits for connection handlers to unwind.
func (s *Server) Stop() error {
	if s.listener != nil {
		err := s.listener.Close()
		s.wg.Wait()
		return err
	}
	return nil
}

// handleConnection owns one client connection for its whole life: session
// issue, challenge greeting, message loop, teardown.
func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	conn := NewConn(raw)
	defer conn.Close()

	sess := s.sessions.Begin(conn)
	defer s.release(ctx, sess)

	logger := s.logger.With().
		Str("remote", raw.RemoteAddr().String()).
		Str("session", sess.Key()).
		Logger()
	logger.Debug().Msg("client connected")

	if err := s.sendChallenge(conn, sess); err != nil {
		logger.Debug().Err(err).Msg("failed to send challenge")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := conn.ReadMessage(s.idleTimeout)
		if err != nil {
			if conn.IsClosed() {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logger.Debug().Msg("connection idle timeout")
			} else {
				logger.Debug().Err(err).Msg("read error, closing connection")
			}
			return
		}

		s.sessions.Touch(sess)

		done, err := s.dispatch(ctx, conn, sess, msg)
		if err != nil {
			logger.Debug().Err(err).Str("command", msg.Command()).Msg("handler error")
		}
		if done {
			return
		}
	}
}

// release tears the session down and removes it from the store. Runs on
// every exit path; emits the logout event for sessions that reached ACTIVE.
func (s *Server) release(ctx context.Context, sess *session.Session) {
	wasActive := sess.IsActive()
	profileID := sess.ProfileID()
	s.sessions.Release(sess)

	if wasActive {
		s.bus.Emit(ctx, events.Event{
			Type:   events.EventPlayerLogout,
			Source: "presence",
			Payload: events.LoginPayload{
				ProfileID: profileID,
			},
		})
	}
}
