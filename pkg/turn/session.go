package turn

import (
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/agents"
)

// Session is one live call. Its agent snapshot is fixed at creation.
type Session struct {
	ID       string
	StreamID string
	TraceID  string
	From     string
	To       string
	Agent    agents.Snapshot
	History  *History

	CreatedAt time.Time

	mu      sync.Mutex
	endedAt time.Time
	sm      *stateMachine
}

func NewSession(id, streamID, traceID string, agent agents.Snapshot) *Session {
	return &Session{
		ID:        id,
		StreamID:  streamID,
		TraceID:   traceID,
		Agent:     agent.WithDefaults(),
		History:   NewHistory(),
		CreatedAt: time.Now(),
		sm:        newStateMachine(),
	}
}

func (s *Session) State() State { return s.sm.State() }

// AddListener registers a state listener; call before the controller runs.
func (s *Session) AddListener(l StateListener) { s.sm.AddListener(l) }

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *Session) markEnded(at time.Time) {
	s.mu.Lock()
	if s.endedAt.IsZero() {
		s.endedAt = at
	}
	s.mu.Unlock()
}
