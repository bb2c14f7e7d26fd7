package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/events"
	intnet "github.com/retrowfc-project/retrowfc/internal/network"
	"github.com/retrowfc-project/retrowfc/internal/store"
	"github.com/retrowfc-project/retrowfc/internal/util"
	"github.com/retrowfc-project/retrowfc/internal/wire"
)

// wellKnownKeys are heartbeat fields with dedicated registration columns;
// everything else rides along in Extra.
var wellKnownKeys = map[string]struct{}{
	"heartbeat": {}, "gamename": {}, "profileid": {}, "hostname": {},
	"numplayers": {}, "maxplayers": {}, "gamemode": {}, "mapname": {},
	"statechanged": {},
}

// Server is the UDP registry service. Stateless per packet; the only state
// is the registration table.
type Server struct {
	cfg     *config.Config
	records store.Records
	table   *Table
	bus     *events.Bus
	logger  zerolog.Logger

	conn *net.UDPConn
}

// NewServer creates the registry service around an existing table. The table
// is shared with the scheduler's liveness sweep and the ops API.
func NewServer(cfg *config.Config, records store.Records, table *Table, bus *events.Bus) *Server {
	return &Server{
		cfg:     cfg,
		records: records,
		table:   table,
		bus:     bus,
		logger:  util.ComponentLogger("registry"),
	}
}

// Start binds the UDP socket and serves packets until the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	svc := s.cfg.GetServiceData()
	addr := fmt.Sprintf("%s:%d", svc.BindAddress, svc.RegistryPort)

	lc := intnet.ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("registry service error: %w", err)
	}
	s.conn = pc.(*net.UDPConn)

	s.logger.Info().Str("addr", addr).Msg("registry service started")

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("registry service stopping")
				return nil
			default:
				s.logger.Error().Err(err).Msg("udp read error")
				continue
			}
		}
		if n == 0 {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		s.handlePacket(ctx, remote, packet)
	}
}

// Stop closes the UDP socket.
func (s *Server) Stop() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// handlePacket decodes and dispatches one datagram. Malformed or unwanted
// packets are dropped; UDP peers get no error reply.
func (s *Server) handlePacket(ctx context.Context, remote *net.UDPAddr, packet []byte) {
	msg := wire.Decode(packet)

	switch msg.Command() {
	case "heartbeat":
		s.handleHeartbeat(ctx, remote, msg)
	case "echo", "validate":
		s.handleEcho(ctx, remote, msg)
	case "query", "list":
		s.handleQuery(ctx, remote, msg)
	case "ka":
		s.table.Heartbeat(remote.String(), nil)
	default:
		s.logger.Trace().
			Str("remote", remote.String()).
			Str("command", msg.Command()).
			Msg("dropping unknown packet")
	}
}

// handleHeartbeat registers or refreshes the sender. New and still
// unverified hosts are challenged; they stay out of query results until the
// echo comes back right.
func (s *Server) handleHeartbeat(ctx context.Context, remote *net.UDPAddr, msg wire.Message) {
	gameID := msg.GetDefault("gamename", "")
	if gameID == "" || !s.cfg.GameAllowed(gameID) {
		return
	}

	if s.ipBanned(ctx, remote) {
		s.logger.Info().Str("remote", remote.String()).Msg("dropping heartbeat from banned host")
		s.bus.Emit(ctx, events.Event{
			Type:   events.EventBanHit,
			Source: "registry",
			Payload: events.BanPayload{
				BanType:    string(store.BanIP),
				Identifier: remote.IP.String(),
				Service:    "registry",
				RemoteAddr: remote.String(),
			},
		})
		return
	}

	id := remote.String()
	reg, created := s.table.Heartbeat(id, func(reg *Registration) {
		reg.GameID = gameID
		reg.Addr = remote
		reg.HostProfileID = parseProfileID(msg.GetDefault("profileid", "0"))
		reg.Hostname = msg.GetDefault("hostname", reg.Hostname)
		reg.NumPlayers = msg.GetDefault("numplayers", reg.NumPlayers)
		reg.MaxPlayers = msg.GetDefault("maxplayers", reg.MaxPlayers)
		reg.GameMode = msg.GetDefault("gamemode", reg.GameMode)
		reg.MapName = msg.GetDefault("mapname", reg.MapName)
		for _, pair := range msg {
			if _, known := wellKnownKeys[pair.Key]; !known {
				if reg.Extra == nil {
					reg.Extra = make(map[string]string)
				}
				reg.Extra[pair.Key] = pair.Value
			}
		}
	})

	if created {
		s.logger.Debug().
			Str("remote", id).
			Str("game_id", gameID).
			Msg("new server registration, challenging")
	}
	if !reg.Verified {
		s.send(remote, wire.Message{}.Add("secure", reg.Challenge))
	}
}

// handleEcho completes the anti-spoof handshake.
func (s *Server) handleEcho(ctx context.Context, remote *net.UDPAddr, msg wire.Message) {
	echo := msg.GetDefault(msg.Command(), "")
	id := remote.String()
	if !s.table.Verify(id, echo) {
		s.logger.Debug().Str("remote", id).Msg("bad challenge echo")
		return
	}

	reg, _ := s.table.Lookup(id)
	s.logger.Info().
		Str("remote", id).
		Str("game_id", reg.GameID).
		Str("hostname", reg.Hostname).
		Msg("server registration verified")

	s.bus.Emit(ctx, events.Event{
		Type:   events.EventServerRegistered,
		Source: "registry",
		Payload: events.RegistryPayload{
			ServerID:      reg.ID,
			GameID:        reg.GameID,
			HostProfileID: reg.HostProfileID,
			Addr:          reg.ID,
			LastHeartbeat: reg.LastHeartbeat,
		},
	})
}

// handleQuery answers with the live verified listing for a game, excluding
// hosts whose identity is currently banned.
func (s *Server) handleQuery(ctx context.Context, remote *net.UDPAddr, msg wire.Message) {
	gameID := msg.GetDefault("gamename", "")
	if gameID == "" {
		return
	}

	listing := s.table.Snapshot(gameID, func(reg *Registration) bool {
		return !s.hostBanned(ctx, reg.HostProfileID, reg.GameID)
	})

	reply := wire.Message{}
	for _, reg := range listing {
		reply = reply.
			Add("ip", reg.Addr.IP.String()).
			Add("port", strconv.Itoa(reg.Addr.Port)).
			Add("hostname", reg.Hostname).
			Add("numplayers", reg.NumPlayers).
			Add("maxplayers", reg.MaxPlayers).
			Add("gamemode", reg.GameMode).
			Add("mapname", reg.MapName)
	}
	s.send(remote, reply)

	s.logger.Debug().
		Str("remote", remote.String()).
		Str("game_id", gameID).
		Int("servers", len(listing)).
		Msg("query answered")
}

// SweepNow runs one liveness sweep, emitting an eviction event per removed
// registration. Called by the scheduler.
func (s *Server) SweepNow(ctx context.Context) int {
	evicted := s.table.Sweep(s.table.nowFn())
	for _, reg := range evicted {
		s.logger.Info().
			Str("remote", reg.ID).
			Str("game_id", reg.GameID).
			Time("last_heartbeat", reg.LastHeartbeat).
			Msg("server registration expired")
		s.bus.Emit(ctx, events.Event{
			Type:   events.EventServerEvicted,
			Source: "registry",
			Payload: events.RegistryPayload{
				ServerID:      reg.ID,
				GameID:        reg.GameID,
				HostProfileID: reg.HostProfileID,
				Addr:          reg.ID,
				LastHeartbeat: reg.LastHeartbeat,
			},
		})
	}
	return len(evicted)
}

func (s *Server) send(remote *net.UDPAddr, msg wire.Message) {
	if s.conn == nil {
		return
	}
	if _, err := s.conn.WriteToUDP(wire.EncodeMessage(msg), remote); err != nil {
		s.logger.Warn().Err(err).Str("remote", remote.String()).Msg("udp write failed")
	}
}

func (s *Server) ipBanned(ctx context.Context, remote *net.UDPAddr) bool {
	ban, err := s.records.ActiveBan(ctx, store.BanIP, remote.IP.String(), "")
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// Store trouble never blocks heartbeats.
			s.logger.Warn().Err(err).Msg("ip ban check failed")
		}
		return false
	}
	return ban != nil
}

func (s *Server) hostBanned(ctx context.Context, profileID uint32, gameID string) bool {
	if profileID == 0 {
		return false
	}
	ban, err := s.records.ActiveBan(ctx, store.BanProfile, strconv.FormatUint(uint64(profileID), 10), gameID)
	if err != nil {
		return false
	}
	return ban != nil
}

func parseProfileID(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
