package presence

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"time"

	"github.com/retrowfc-project/retrowfc/internal/events"
	"github.com/retrowfc-project/retrowfc/internal/session"
	"github.com/retrowfc-project/retrowfc/internal/store"
	"github.com/retrowfc-project/retrowfc/internal/wire"
)

// Legacy client error codes, from the original SDK's table. The consoles
// branch on these values.
const (
	errParse            = "1"
	errNotLoggedIn      = "2"
	errDatabase         = "4"
	errForcedDisconnect = "6"
	errLogin            = "256" // 0x100: bad or expired token
	errLoginBadPassword = "260" // 0x104: proof mismatch
	errLoginBadProfile  = "261" // 0x105: profile disabled
	errGetProfileBad    = "513" // 0x201: unknown profile queried
)

// sendChallenge greets a fresh connection with the server challenge.
func (s *Server) sendChallenge(conn *Conn, sess *session.Session) error {
	msg := wire.Message{}.
		Add("lc", "1").
		Add("challenge", sess.Challenge()).
		Add("id", "1")
	return conn.WriteMessage(msg)
}

// sendError writes a legacy error message. Fatal errors carry the fatal flag
// and the caller closes the connection afterwards.
func (s *Server) sendError(conn *Conn, code, text string, fatal bool) {
	msg := wire.Message{}.
		Add("error", "").
		Add("err", code)
	if fatal {
		msg = msg.Add("fatal", "")
	}
	msg = msg.Add("errmsg", text).Add("id", "1")
	if err := conn.WriteMessage(msg); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write error message")
	}
}

// dispatch routes one decoded message. It returns done=true when the
// connection should be torn down.
func (s *Server) dispatch(ctx context.Context, conn *Conn, sess *session.Session, msg wire.Message) (bool, error) {
	switch msg.Command() {
	case "login":
		return s.handleLogin(ctx, conn, sess, msg)
	case "logout":
		return true, nil
	case "ka":
		return false, conn.WriteMessage(wire.Message{}.Add("ka", ""))

	case "status":
		if !sess.IsActive() {
			s.sendError(conn, errNotLoggedIn, "Not logged in.", false)
			return false, nil
		}
		return false, s.handleStatus(sess, msg)
	case "getprofile":
		if !sess.IsActive() {
			s.sendError(conn, errNotLoggedIn, "Not logged in.", false)
			return false, nil
		}
		return false, s.handleGetProfile(ctx, conn, msg)
	case "addbuddy":
		if !sess.IsActive() {
			s.sendError(conn, errNotLoggedIn, "Not logged in.", false)
			return false, nil
		}
		return false, s.handleAddBuddy(sess, msg)
	case "delbuddy":
		if !sess.IsActive() {
			s.sendError(conn, errNotLoggedIn, "Not logged in.", false)
			return false, nil
		}
		sess.RemoveBuddy(parseProfileID(msg.GetDefault("delprofileid", "0")))
		return false, nil

	default:
		// Unknown keys are tolerated; closed-source clients send chatter
		// the original servers ignored.
		s.logger.Debug().Str("command", msg.Command()).Msg("ignoring unknown message")
		return false, nil
	}
}

// handleLogin validates the challenge-response proof against the pending
// entry the auth service wrote, resolves the identity and activates the
// session. Any failure is terminal for the connection.
func (s *Server) handleLogin(ctx context.Context, conn *Conn, sess *session.Session, msg wire.Message) (bool, error) {
	if err := sess.BeginAuth(); err != nil {
		s.sendError(conn, errParse, "Login already in progress.", true)
		return true, err
	}

	authToken := msg.GetDefault("authtoken", "")
	clientChallenge := msg.GetDefault("challenge", "")
	response := msg.GetDefault("response", "")
	if authToken == "" || clientChallenge == "" || response == "" {
		s.sendError(conn, errParse, "There was an error parsing an incoming request.", true)
		return true, nil
	}

	pending, ok := s.sessions.TakePending(authToken)
	if !ok {
		s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("login with unknown or expired token")
		s.sendError(conn, errLogin, "The authentication token is invalid or expired.", true)
		return true, nil
	}

	expected := s.proof(pending.Challenge, authToken, clientChallenge, sess.Challenge())
	if subtle.ConstantTimeCompare([]byte(expected), []byte(response)) != 1 {
		s.logger.Info().
			Str("userid", pending.UserID).
			Str("remote", conn.RemoteAddr().String()).
			Msg("login proof mismatch")
		s.bus.Emit(ctx, events.Event{
			Type:   events.EventLoginFailed,
			Source: "presence",
			Payload: events.LoginPayload{
				UserID: pending.UserID,
				GameID: pending.GameID,
				Reason: "proof mismatch",
			},
		})
		s.sendError(conn, errLoginBadPassword, "The password provided is incorrect.", true)
		return true, nil
	}

	profile, err := s.records.ProfileByUser(ctx, pending.UserID, pending.GameID)
	if errors.Is(err, store.ErrNotFound) {
		profile, err = s.records.CreateProfile(ctx, &store.Profile{
			UserID:     pending.UserID,
			GameID:     pending.GameID,
			GsBrCd:     pending.GsBrCd,
			ConsoleMAC: pending.MAC,
			Enabled:    true,
		})
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("record store unavailable during login")
		s.sendError(conn, errDatabase, "There was an error connecting to the database.", true)
		return true, nil
	}

	// Auth-time checks covered device and account; identity- and
	// game-scoped bans can only be checked now that the profile is known.
	if banned, err := s.checkLoginBans(ctx, conn, profile, pending); err != nil || banned {
		return true, err
	}

	if !profile.Enabled {
		s.sendError(conn, errLoginBadProfile, "The profile provided is disabled.", true)
		return true, nil
	}

	if err := sess.Activate(profile.ID); err != nil {
		s.sendError(conn, errLogin, "There was an error logging in.", true)
		return true, err
	}

	if err := s.records.TouchConsole(ctx, pending.MAC, time.Now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn().Err(err).Str("mac", pending.MAC).Msg("console touch failed")
	}

	fc := profile.FriendCode()
	reply := wire.Message{}.
		Add("lc", "2").
		Add("sesskey", sess.Key()).
		Add("proof", serverProof(s.proof, pending.Challenge, authToken, clientChallenge, sess.Challenge())).
		Add("userid", profile.UserID).
		Add("profileid", strconv.FormatUint(uint64(profile.ID), 10)).
		Add("uniquenick", profile.UniqueNick).
		Add("fc", fc).
		Add("id", "1")
	if err := conn.WriteMessage(reply); err != nil {
		return true, err
	}

	s.logger.Info().
		Uint32("profile_id", profile.ID).
		Str("userid", profile.UserID).
		Str("game_id", profile.GameID).
		Str("fc", fc).
		Msg("player logged in")

	s.bus.Emit(ctx, events.Event{
		Type:   events.EventPlayerLogin,
		Source: "presence",
		Payload: events.LoginPayload{
			ProfileID:  profile.ID,
			UserID:     profile.UserID,
			GameID:     profile.GameID,
			FriendCode: fc,
			RemoteAddr: conn.RemoteAddr().String(),
		},
	})
	return false, nil
}

// checkLoginBans runs the profile- and game-scoped ban checks. A store
// outage here fails the login but is not reported as a ban.
func (s *Server) checkLoginBans(ctx context.Context, conn *Conn, profile *store.Profile, pending *session.Pending) (bool, error) {
	checks := []struct {
		banType    store.BanType
		identifier string
	}{
		{store.BanProfile, strconv.FormatUint(uint64(profile.ID), 10)},
		{store.BanMAC, pending.MAC},
	}

	for _, check := range checks {
		ban, err := s.records.ActiveBan(ctx, check.banType, check.identifier, profile.GameID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			s.logger.Error().Err(err).Msg("ban check failed")
			s.sendError(conn, errDatabase, "There was an error connecting to the database.", true)
			return true, err
		}

		s.logger.Info().
			Str("ban_type", string(check.banType)).
			Str("identifier", check.identifier).
			Str("game_id", profile.GameID).
			Msg("banned client rejected at login")
		s.bus.Emit(ctx, events.Event{
			Type:   events.EventBanHit,
			Source: "presence",
			Payload: events.BanPayload{
				BanType:    string(check.banType),
				Identifier: check.identifier,
				GameID:     ban.GameID,
				Service:    "presence",
				RemoteAddr: conn.RemoteAddr().String(),
			},
		})
		s.sendError(conn, errForcedDisconnect, "There was an error logging in.", true)
		return true, nil
	}
	return false, nil
}

// handleStatus records the new presence fields and relays them to every
// active session that registered interest in this identity.
func (s *Server) handleStatus(sess *session.Session, msg wire.Message) error {
	status := msg.GetDefault("status", "")
	statusText := msg.GetDefault("statstring", "")
	location := msg.GetDefault("locstring", "")
	sess.SetStatus(status, statusText, location)

	from := sess.ProfileID()
	notice := wire.Message{}.
		Add("bm", "100").
		Add("f", strconv.FormatUint(uint64(from), 10)).
		Add("msg", "|s|"+status+"|ss|"+statusText+"|ls|"+location)
	encoded := wire.EncodeMessage(notice)

	s.sessions.ActiveEach(func(other *session.Session) {
		if other == sess || !other.HasBuddy(from) {
			return
		}
		if c, ok := other.Conn().(*Conn); ok {
			if err := c.WriteRaw(encoded); err != nil {
				s.logger.Debug().Err(err).Uint32("to", other.ProfileID()).Msg("status relay failed")
			}
		}
	})
	return nil
}

// handleGetProfile answers a profile query with the stored identity fields
// and the computed display code.
func (s *Server) handleGetProfile(ctx context.Context, conn *Conn, msg wire.Message) error {
	id := parseProfileID(msg.GetDefault("profileid", "0"))
	if id == 0 {
		s.sendError(conn, errGetProfileBad, "There was an error getting profile info.", false)
		return nil
	}

	profile, err := s.records.ProfileByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(conn, errGetProfileBad, "There was an error getting profile info.", false)
			return nil
		}
		s.sendError(conn, errDatabase, "There was an error connecting to the database.", false)
		return err
	}

	reply := wire.Message{}.
		Add("pi", "").
		Add("profileid", strconv.FormatUint(uint64(profile.ID), 10)).
		Add("userid", profile.UserID).
		Add("uniquenick", profile.UniqueNick).
		Add("fc", profile.FriendCode()).
		Add("id", msg.GetDefault("id", "1"))
	return conn.WriteMessage(reply)
}

// handleAddBuddy registers interest in another identity's status and, when
// that identity is online, immediately pushes its current status.
func (s *Server) handleAddBuddy(sess *session.Session, msg wire.Message) error {
	target := parseProfileID(msg.GetDefault("newprofileid", "0"))
	if target == 0 {
		return nil
	}
	sess.AddBuddy(target)

	other, ok := s.sessions.ByProfile(target)
	if !ok {
		return nil
	}
	status, statusText, location := other.Status()
	notice := wire.Message{}.
		Add("bm", "100").
		Add("f", strconv.FormatUint(uint64(target), 10)).
		Add("msg", "|s|"+status+"|ss|"+statusText+"|ls|"+location)
	if c, ok := sess.Conn().(*Conn); ok {
		return c.WriteMessage(notice)
	}
	return nil
}

func parseProfileID(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
