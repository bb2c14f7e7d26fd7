// Package cli implements the interactive operator console: live session and
// server-registration tables, friend code computation, and shutdown.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/events"
	"github.com/retrowfc-project/retrowfc/internal/friendcode"
	"github.com/retrowfc-project/retrowfc/internal/registry"
	"github.com/retrowfc-project/retrowfc/internal/session"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.Bus
	sessions *session.Store
	table    *registry.Table

	startedAt time.Time
}

// NewCLI creates a new CLI handler over the shared live state.
func NewCLI(cfg *config.Config, eventBus *events.Bus, sessions *session.Store, table *registry.Table) *CLI {
	return &CLI{
		cfg:       cfg,
		eventBus:  eventBus,
		sessions:  sessions,
		table:     table,
		startedAt: time.Now(),
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nRetroWFC CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	// Simple line reader for cross-platform compatibility
	reader := newLineReader()
	if reader == nil {
		log.Warn().Msg("CLI: failed to initialize line reader, CLI disabled")
		<-ctx.Done()
		return
	}
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("retrowfc> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions":
		c.printSessions()
	case "servers":
		c.printServers(args)
	case "fc":
		return c.cmdFriendCode(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down RetroWFC...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     RetroWFC CLI Commands                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show service summary                     ║")
	fmt.Println("║  sessions           List live presence sessions              ║")
	fmt.Println("║  servers [game]     List registered game servers             ║")
	fmt.Println("║  fc <pid> <game>    Compute friend code for a profile        ║")
	fmt.Println("║  quit               Shut down RetroWFC                       ║")
	fmt.Println("║  help               Show this help message                   ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus shows a one-screen summary of the running services.
func (c *CLI) printStatus() {
	svc := c.cfg.GetServiceData()

	fmt.Printf("\n  Public Host:    %s\n", svc.PublicHost)
	fmt.Printf("  Auth Port:      %d\n", svc.AuthPort)
	fmt.Printf("  Presence Port:  %d\n", svc.PresencePort)
	fmt.Printf("  Registry Port:  %d\n", svc.RegistryPort)
	fmt.Printf("  API Port:       %d\n", svc.APIPort)
	fmt.Printf("  Uptime:         %s\n", time.Since(c.startedAt).Round(time.Second))
	fmt.Printf("  Sessions:       %d\n", c.sessions.Count())
	fmt.Printf("  Game Servers:   %d\n", c.table.Count())
	fmt.Println()
}

// printSessions renders the live session table.
func (c *CLI) printSessions() {
	infos := c.sessions.Snapshot()
	if len(infos) == 0 {
		fmt.Println("No live sessions")
		return
	}

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Session", "State", "Profile", "Remote", "Age"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range infos {
		profile := "-"
		if info.ProfileID != 0 {
			profile = strconv.FormatUint(uint64(info.ProfileID), 10)
		}
		tw.Append([]string{
			info.Key,
			info.State,
			profile,
			info.RemoteAddr,
			time.Since(info.CreatedAt).Round(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Println()
}

// printServers renders the server registration table, optionally scoped to
// one game ID.
func (c *CLI) printServers(args []string) {
	regs := c.table.All()
	if len(args) > 0 {
		game := args[0]
		filtered := regs[:0]
		for _, reg := range regs {
			if strings.EqualFold(reg.GameID, game) {
				filtered = append(filtered, reg)
			}
		}
		regs = filtered
	}

	if len(regs) == 0 {
		fmt.Println("No registered servers")
		return
	}

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Address", "Game", "Host", "Players", "Mode", "Map", "Verified", "Last HB"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, reg := range regs {
		players := reg.NumPlayers
		if reg.MaxPlayers != "" {
			players = fmt.Sprintf("%s/%s", reg.NumPlayers, reg.MaxPlayers)
		}
		verified := "no"
		if reg.Verified {
			verified = "yes"
		}
		tw.Append([]string{
			reg.ID,
			reg.GameID,
			reg.Hostname,
			players,
			reg.GameMode,
			reg.MapName,
			verified,
			time.Since(reg.LastHeartbeat).Round(time.Second).String() + " ago",
		})
	}

	tw.Render()
	fmt.Println()
}

// cmdFriendCode computes and prints the friend code for a profile ID within
// a game.
func (c *CLI) cmdFriendCode(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fc <profile-id> <game-id>")
	}

	pid, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid profile id: %s", args[0])
	}
	gameID := args[1]
	if len(gameID) != 4 {
		return fmt.Errorf("game id must be 4 characters: %s", gameID)
	}

	fmt.Printf("Friend code for profile %d in %s: %s\n",
		pid, gameID, friendcode.Compute(uint32(pid), gameID))
	return nil
}

// lineReader is a simple cross-platform line reader.
type lineReader struct {
	// Implementation uses bufio.Scanner for basic input
	scanner interface {
		Scan() bool
		Text() string
	}
	closer io.Closer
}

func newLineReader() *lineReader {
	return &lineReader{}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	var line string
	_, err := fmt.Scanln(&line)
	return line, err
}

func (lr *lineReader) Close() error {
	if lr.closer != nil {
		return lr.closer.Close()
	}
	return nil
}
