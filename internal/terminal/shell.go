// Package terminal drives a session.Controller from line-oriented input.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/watergrow/internal/growth"
	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"github.com/MarcoPoloResearchLab/watergrow/internal/session"
)

const (
	messageConnectionFailed = "Connection failed. Please retry."
	messageSyncFailed       = "Sync failed. Checking connection..."
	messagePartnerHydrated  = "Partner just hydrated!"
)

var errQuit = errors.New("quit")

// Controller is the session surface the shell drives.
type Controller interface {
	State() session.State
	CompleteOnboarding() error
	Join(ctx context.Context, rawRoomID string) error
	SelectRole(ctx context.Context, role rooms.Role) error
	Hydrate(ctx context.Context) error
	Leave() error
}

// Shell reads commands and writes responses. Output is serialized so
// listener callbacks from the feed goroutine interleave by line.
type Shell struct {
	controller Controller
	mu         sync.Mutex
	out        io.Writer
}

// NewShell builds a shell. A nil controller must be supplied through Bind
// before Run, which lets the shell double as the controller's listener.
func NewShell(controller Controller, out io.Writer) *Shell {
	return &Shell{controller: controller, out: out}
}

func (s *Shell) Bind(controller Controller) {
	s.controller = controller
}

// Printf writes one line of output.
func (s *Shell) Printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

// Run processes input until EOF, "quit", or ctx ends.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.Prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if errors.Is(s.Execute(ctx, line), errQuit) {
				return nil
			}
			s.Prompt()
		}
	}
}

// Prompt prints the hint for the current view.
func (s *Shell) Prompt() {
	switch s.controller.State().View() {
	case session.ViewOnboarding:
		s.Printf("Welcome to WaterGrow. Type 'onboard' to begin.")
	case session.ViewJoin:
		s.Printf("Enter a room with 'join <room>'.")
	case session.ViewRoleSelect:
		s.Printf("Pick your side with 'role p1' or 'role p2'.")
	}
}

// Execute runs one command line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	switch command {
	case "quit", "exit":
		return errQuit
	case "onboard":
		return s.report(s.controller.CompleteOnboarding())
	case "join":
		if len(args) == 0 {
			s.Printf("usage: join <room>")
			return nil
		}
		rawRoomID := strings.TrimSpace(strings.TrimSpace(line)[len(fields[0]):])
		err := s.controller.Join(ctx, rawRoomID)
		if errors.Is(err, rooms.ErrConnectionFailed) {
			s.Printf(messageConnectionFailed)
			return err
		}
		if err == nil {
			s.Printf("Joined room %s.", s.controller.State().RoomID())
		}
		return s.report(err)
	case "role":
		if len(args) != 1 {
			s.Printf("usage: role p1|p2")
			return nil
		}
		role, err := rooms.ParseRole(args[0])
		if err != nil {
			return s.report(err)
		}
		if err := s.controller.SelectRole(ctx, role); err != nil {
			return s.report(err)
		}
		s.Status()
		return nil
	case "drink":
		err := s.controller.Hydrate(ctx)
		if errors.Is(err, session.ErrSyncFailed) {
			s.Printf(messageSyncFailed)
			return err
		}
		if err == nil && s.controller.State().View() == session.ViewActive {
			s.Status()
		}
		return s.report(err)
	case "status":
		s.Status()
		return nil
	case "leave":
		return s.report(s.controller.Leave())
	case "help":
		s.Printf("commands: onboard, join <room>, role p1|p2, drink, status, leave, quit")
		return nil
	default:
		s.Printf("unknown command %q (try 'help')", command)
		return nil
	}
}

// Status prints both plants for the current snapshot.
func (s *Shell) Status() {
	s.printStatus(s.controller.State())
}

func (s *Shell) printStatus(state session.State) {
	snapshot, ok := state.Snapshot()
	if !ok {
		s.Printf("Not in a room.")
		return
	}
	s.Printf("Room %s", state.RoomID())
	for _, role := range []rooms.Role{rooms.RoleOne, rooms.RoleTwo} {
		count := snapshot.Water(role)
		progress := growth.StageFor(count)
		marker := ""
		if role == state.Role() {
			marker = " (you)"
		}
		s.Printf("  %s%s: %d glasses, %s %.0f%%", role, marker, count, progress.Stage, progress.Percent())
	}
}

func (s *Shell) report(err error) error {
	if err != nil {
		s.Printf("error: %v", err)
	}
	return err
}

// StateChanged satisfies session.Listener; state changes are rendered on demand.
func (s *Shell) StateChanged(session.State) {}

// PartnerHydrated satisfies session.Listener with the in-app notice.
func (s *Shell) PartnerHydrated(rooms.Room) {
	s.Printf(messagePartnerHydrated)
}
