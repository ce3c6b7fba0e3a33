package turn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/llm"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

var (
	// ErrTurnOpen is returned when a role opens a turn while its previous
	// turn is still open.
	ErrTurnOpen = errors.New("turn: previous turn for role still open")
	// ErrNoOpenTurn is returned when appending to or closing a role with no open turn.
	ErrNoOpenTurn = errors.New("turn: no open turn for role")
)

// Turn is one utterance. Once closed its text and times never change.
type Turn struct {
	Role        Role
	Text        string
	StartedAt   time.Time
	ClosedAt    time.Time
	Interrupted bool
}

func (t Turn) Closed() bool { return !t.ClosedAt.IsZero() }

// History is the call's append-only turn log. The controller is its only
// writer; readers get copies.
type History struct {
	mu    sync.RWMutex
	turns []Turn
	open  map[Role]int
}

func NewHistory() *History {
	return &History{open: make(map[Role]int)}
}

func (h *History) Open(role Role, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.open[role]; ok {
		return fmt.Errorf("%w: %s", ErrTurnOpen, role)
	}
	h.turns = append(h.turns, Turn{Role: role, StartedAt: at})
	h.open[role] = len(h.turns) - 1
	return nil
}

func (h *History) Append(role Role, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.open[role]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoOpenTurn, role)
	}
	h.turns[i].Text += text
	return nil
}

// Close closes the role's open turn and returns it.
func (h *History) Close(role Role, at time.Time) (Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.open[role]
	if !ok {
		return Turn{}, fmt.Errorf("%w: %s", ErrNoOpenTurn, role)
	}
	delete(h.open, role)
	h.turns[i].ClosedAt = at
	return h.turns[i], nil
}

// Add records a complete turn in one step.
func (h *History) Add(role Role, text string, startedAt, closedAt time.Time) (Turn, error) {
	if err := h.Open(role, startedAt); err != nil {
		return Turn{}, err
	}
	if err := h.Append(role, text); err != nil {
		return Turn{}, err
	}
	return h.Close(role, closedAt)
}

// MarkInterrupted flags the latest agent turn as cut off by the caller. It
// is the only change allowed to a closed turn and only applies while that
// turn is the most recent agent turn.
func (h *History) MarkInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == RoleAgent {
			if h.turns[i].Interrupted {
				return false
			}
			h.turns[i].Interrupted = true
			return true
		}
	}
	return false
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Turns returns a copy of every turn, open ones included.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Turn(nil), h.turns...)
}

// Messages renders the closed turns for a generator request.
func (h *History) Messages() []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.Message, 0, len(h.turns))
	for _, t := range h.turns {
		if !t.Closed() || t.Text == "" {
			continue
		}
		role := llm.RoleUser
		if t.Role == RoleAgent {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Text})
	}
	return out
}
