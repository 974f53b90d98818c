// Package bot launches and tracks bot session processes, one per room
// connection.
package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/strongmind/rtvi-gateway/pkg/config"
)

var (
	ErrNotFound              = errors.New("bot process not found")
	ErrRoomFull              = errors.New("max bot limit reached for room")
	ErrInvalidImplementation = errors.New("invalid bot implementation")
)

// Status values reported for a tracked bot process.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
)

// Payload carries the optional per-session parameters forwarded to the bot
// process as a single JSON argument.
type Payload struct {
	SystemPrompt    *string         `json:"system_prompt"`
	Tools           json.RawMessage `json:"tools"`
	LearningContext json.RawMessage `json:"learning_context"`
}

// Empty reports whether no parameter was supplied.
func (p *Payload) Empty() bool {
	return p == nil || (p.SystemPrompt == nil && p.Tools == nil && p.LearningContext == nil)
}

// StartRequest describes one bot session to launch.
type StartRequest struct {
	Implementation string // Resolved implementation name, e.g. "nova"
	RoomURL        string
	Token          string
	Payload        *Payload
}

type process struct {
	cmd     *exec.Cmd
	roomURL string
	done    chan struct{}
}

func (p *process) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Manager spawns bot processes and tracks them by pid. The per-room limit
// counts only processes that are still running.
type Manager struct {
	mu          sync.Mutex
	procs       map[int]*process
	defaultImpl string
	maxPerRoom  int

	// newCommand is swapped out in tests.
	newCommand func(name string, arg ...string) *exec.Cmd
}

func NewManager(cfg *config.Bot) *Manager {
	defaultImpl := cfg.Implementation
	if defaultImpl == "" {
		defaultImpl = "nova"
	}
	maxPerRoom := cfg.MaxPerRoom
	if maxPerRoom < 1 {
		maxPerRoom = 1
	}
	return &Manager{
		procs:       make(map[int]*process),
		defaultImpl: defaultImpl,
		maxPerRoom:  maxPerRoom,
		newCommand:  exec.Command,
	}
}

// ResolveImplementation normalizes the requested implementation name,
// falling back to the configured default when empty.
func (m *Manager) ResolveImplementation(requested string) (string, error) {
	impl := strings.ToLower(strings.TrimSpace(requested))
	if impl == "" {
		impl = m.defaultImpl
	}
	if !slices.Contains(config.BotImplementations, impl) {
		return "", fmt.Errorf("%w: %s. Must be one of %s",
			ErrInvalidImplementation, impl, strings.Join(config.BotImplementations, ", "))
	}
	return impl, nil
}

// Start launches a bot process for the request and returns its pid.
func (m *Manager) Start(req StartRequest) (int, error) {
	args := []string{"-m", "bot-" + req.Implementation, "-u", req.RoomURL, "-t", req.Token}
	if !req.Payload.Empty() {
		payload, err := json.Marshal(req.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal bot payload: %w", err)
		}
		args = append(args, "-c", string(payload))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveInRoomLocked(req.RoomURL) >= m.maxPerRoom {
		return 0, fmt.Errorf("%w: %s", ErrRoomFull, req.RoomURL)
	}

	cmd := m.newCommand("python3", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start bot process: %w", err)
	}

	proc := &process{cmd: cmd, roomURL: req.RoomURL, done: make(chan struct{})}
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Info("Bot process exited", "pid", cmd.Process.Pid, "error", err)
		}
		close(proc.done)
	}()

	pid := cmd.Process.Pid
	m.procs[pid] = proc

	slog.Info("Started bot process",
		slog.Int("pid", pid),
		slog.String("implementation", req.Implementation),
		slog.String("roomUrl", req.RoomURL))

	return pid, nil
}

// Status reports whether the tracked process is still running.
func (m *Manager) Status(pid int) (string, error) {
	m.mu.Lock()
	proc, found := m.procs[pid]
	m.mu.Unlock()

	if !found {
		return "", fmt.Errorf("%w: %d", ErrNotFound, pid)
	}

	if proc.running() {
		return StatusRunning, nil
	}
	return StatusFinished, nil
}

func (m *Manager) liveInRoomLocked(roomURL string) int {
	count := 0
	for _, proc := range m.procs {
		if proc.roomURL == roomURL && proc.running() {
			count++
		}
	}
	return count
}
