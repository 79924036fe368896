package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/registry"
)

var ErrUnknownFlow = errors.New("unknown flow")

// Session is one open wizard view: a chat looking at one flow. Elapsed time
// is tracked only while the session is open.
type Session struct {
	ID     ulid.ULID
	UserID int64
	FlowID string
	Key    string
	Wizard *Wizard

	tracker *TimeTracker

	mu         sync.Mutex
	lastActive time.Time
}

func (s *Session) Engine() *ProgressEngine { return s.Wizard.Engine() }

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) Tracking() bool {
	return s.tracker.Running()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

type SessionManagerConfig struct {
	Catalog     *registry.Catalog
	Persistence *PersistenceAdapter
	// Lookups maps a flow id to the connection test it offers.
	Lookups          map[string]Lookup
	TickInterval     time.Duration
	TickSaveInterval time.Duration
	Logger           logrus.FieldLogger

	OnStepComplete func(s *Session, stepID string)
	OnFlowComplete func(s *Session, final models.OverallProgress)
}

func (c *SessionManagerConfig) defaults() error {
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if c.Persistence == nil {
		return fmt.Errorf("persistence is required")
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.TickSaveInterval <= 0 {
		c.TickSaveInterval = DefaultTickSaveInterval
	}
	c.Logger = log.For(c.Logger, "services.SessionManager")
	return nil
}

// SessionManager keeps at most one open session per user.
type SessionManager struct {
	cfg    SessionManagerConfig
	logger logrus.FieldLogger
	now    func() time.Time

	mu       sync.Mutex
	catalog  *registry.Catalog
	sessions map[int64]*Session
}

func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid session manager config: %w", err)
	}
	return &SessionManager{
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      time.Now,
		catalog:  cfg.Catalog,
		sessions: make(map[int64]*Session),
	}, nil
}

func (m *SessionManager) Catalog() *registry.Catalog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog
}

// Open shows flowID to userID, restoring saved progress. An open session on
// the same flow is reused; one on another flow is closed first.
func (m *SessionManager) Open(ctx context.Context, userID int64, flowID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		if s.FlowID == flowID {
			s.touch(m.now())
			s.tracker.Start()
			return s, nil
		}
		delete(m.sessions, userID)
		m.closeSession(ctx, s)
	}

	reg, ok := m.catalog.Flow(flowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}

	s := m.buildSession(ctx, userID, reg)
	m.sessions[userID] = s
	s.tracker.Start()
	m.logger.WithField("session", s.ID.String()).Infof("Opened %s for user %d", flowID, userID)
	return s, nil
}

// Get returns the open session of userID and marks it active.
func (m *SessionManager) Get(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if ok {
		s.touch(m.now())
	}
	return s, ok
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops tracking and saves. Closing a user without a session is a no-op.
func (m *SessionManager) Close(ctx context.Context, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		delete(m.sessions, userID)
		m.closeSession(ctx, s)
	}
}

// CloseIdle closes every session untouched for maxIdle and returns how many
// were closed.
func (m *SessionManager) CloseIdle(ctx context.Context, maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-maxIdle)
	closed := 0
	for userID, s := range m.sessions {
		if s.LastActive().After(cutoff) {
			continue
		}
		delete(m.sessions, userID)
		m.closeSession(ctx, s)
		closed++
	}
	return closed
}

func (m *SessionManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, s := range m.sessions {
		delete(m.sessions, userID)
		m.closeSession(ctx, s)
	}
}

// Reload swaps the catalog and rebuilds open sessions from their saved state
// so references to removed steps or items are pruned. Sessions whose flow was
// removed are closed.
func (m *SessionManager) Reload(ctx context.Context, catalog *registry.Catalog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = catalog

	for userID, old := range m.sessions {
		m.closeSession(ctx, old)
		reg, ok := catalog.Flow(old.FlowID)
		if !ok {
			delete(m.sessions, userID)
			m.logger.Infof("Flow %s removed, closed session of user %d", old.FlowID, userID)
			continue
		}
		s := m.buildSession(ctx, userID, reg)
		s.lastActive = old.LastActive()
		m.sessions[userID] = s
		s.tracker.Start()
	}
	m.logger.Infof("Catalog reloaded, %d sessions rebuilt", len(m.sessions))
}

// RunIdleSweeper closes idle sessions every interval until ctx is done.
func (m *SessionManager) RunIdleSweeper(ctx context.Context, every, maxIdle time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.CloseIdle(ctx, maxIdle); n > 0 {
				m.logger.Debugf("Closed %d idle sessions", n)
			}
		}
	}
}

// FlowSummary is one line of the /progress overview.
type FlowSummary struct {
	FlowID           string
	Title            string
	Started          bool
	Complete         bool
	Percent          float64
	TimeSpentSeconds int64
}

// Summary reports every flow of the catalog for userID, using the live state
// of an open session and the stored state otherwise.
func (m *SessionManager) Summary(ctx context.Context, userID int64) []FlowSummary {
	m.mu.Lock()
	catalog := m.catalog
	open := m.sessions[userID]
	m.mu.Unlock()

	var out []FlowSummary
	for _, reg := range catalog.Flows() {
		var engine *ProgressEngine
		if open != nil && open.FlowID == reg.ID() {
			engine = open.Engine()
		} else {
			state, _ := m.cfg.Persistence.Load(ctx, InstanceKey(reg.ID(), userID), reg)
			engine = NewProgressEngine(reg, state)
		}
		snap := engine.Snapshot()
		out = append(out, FlowSummary{
			FlowID:           reg.ID(),
			Title:            reg.Title(),
			Started:          snap.IsStarted(),
			Complete:         engine.IsFlowComplete(),
			Percent:          engine.OverallPercent(),
			TimeSpentSeconds: snap.TotalTimeSpentSeconds,
		})
	}
	return out
}

func (m *SessionManager) buildSession(ctx context.Context, userID int64, reg *registry.Registry) *Session {
	key := InstanceKey(reg.ID(), userID)
	state, _ := m.cfg.Persistence.Load(ctx, key, reg)

	s := &Session{
		ID:         ulid.Make(),
		UserID:     userID,
		FlowID:     reg.ID(),
		Key:        key,
		lastActive: m.now(),
	}
	logger := m.logger.WithField("session", s.ID.String())

	opts := []WizardOption{
		WithWizardStepCompleteHook(func(stepID string) {
			if m.cfg.OnStepComplete != nil {
				m.cfg.OnStepComplete(s, stepID)
			}
		}),
		WithFlowCompleteHook(func(final models.OverallProgress) {
			logger.Infof("User %d finished %s", userID, reg.ID())
			if m.cfg.OnFlowComplete != nil {
				m.cfg.OnFlowComplete(s, final)
			}
		}),
	}
	if l, ok := m.cfg.Lookups[reg.ID()]; ok && l != nil {
		opts = append(opts, WithLookup(l))
	}

	s.Wizard = NewWizard(reg, state, []EngineOption{
		WithPersistence(m.cfg.Persistence, key),
		WithTickSaveInterval(m.cfg.TickSaveInterval),
		WithEngineLogger(logger),
	}, opts...)
	s.Wizard.Engine().Start()
	s.tracker = NewTimeTracker(s.Wizard.Engine(), m.cfg.TickInterval)
	return s
}

func (m *SessionManager) closeSession(ctx context.Context, s *Session) {
	s.tracker.Stop()
	s.Engine().Flush(ctx)
	m.logger.WithField("session", s.ID.String()).Debugf("Closed %s for user %d", s.FlowID, s.UserID)
}
