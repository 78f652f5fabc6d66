package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// Mirror is the shared gate view; RedisMirror implements it.
type Mirror interface {
	Record(ctx context.Context, gateID string, rec models.ScanRecord) error
	Counters(ctx context.Context, gateID string) (Counters, error)
	Recent(ctx context.Context, gateID string, n int) ([]models.ScanRecord, error)
	Reset(ctx context.Context, gateID string) error
}

type key struct {
	staffID string
	gateID  string
}

// Manager owns one Session per (staff, gate) pair.
type Manager struct {
	Mirror     Mirror
	Logger     *logger.Logger
	RecentSize int
	Now        func() time.Time

	mu       sync.Mutex
	sessions map[key]*Session
}

func NewManager(mirror Mirror, recentSize int, log *logger.Logger) *Manager {
	return &Manager{
		Mirror:     mirror,
		Logger:     log,
		RecentSize: recentSize,
		Now:        time.Now,
		sessions:   make(map[key]*Session),
	}
}

// Get returns the session of staffID at gateID, starting one if needed.
func (m *Manager) Get(staffID, gateID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{staffID, gateID}
	s, ok := m.sessions[k]
	if !ok {
		s = New(staffID, gateID, m.RecentSize, m.Now())
		m.sessions[k] = s
		m.Logger.Info("SESSION", fmt.Sprintf("Started session for %s at gate %s", staffID, gateID))
	}
	return s
}

// Record adds rec to the staff member's session and mirrors it to the gate.
// A mirror failure is logged and does not affect the local session.
func (m *Manager) Record(ctx context.Context, staffID, gateID string, rec models.ScanRecord) {
	m.Get(staffID, gateID).Record(rec)

	if m.Mirror == nil {
		return
	}
	if err := m.Mirror.Record(ctx, gateID, rec); err != nil {
		m.Logger.Warn("SESSION", err.Error())
	}
}

// Reset clears the session and, when resetGate is set, the shared gate view.
func (m *Manager) Reset(ctx context.Context, staffID, gateID string, resetGate bool) error {
	m.Get(staffID, gateID).Reset(m.Now())
	m.Logger.Info("SESSION", fmt.Sprintf("Reset session for %s at gate %s", staffID, gateID))

	if resetGate && m.Mirror != nil {
		return m.Mirror.Reset(ctx, gateID)
	}
	return nil
}

// Restore resets the session of staffID at gateID to the state rebuilt from
// records. The session keeps its identity, so a Record racing with the
// restore is applied before or after it and never lost.
func (m *Manager) Restore(staffID, gateID string, since time.Time, records []models.ScanRecord) *Session {
	s := m.Get(staffID, gateID)
	s.replace(Replay(staffID, gateID, since, m.RecentSize, records))
	return s
}

// GateCounters returns the shared gate counters, or nil without a mirror.
func (m *Manager) GateCounters(ctx context.Context, gateID string) (*Counters, error) {
	if m.Mirror == nil {
		return nil, nil
	}
	c, err := m.Mirror.Counters(ctx, gateID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
