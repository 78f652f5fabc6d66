// Package session keeps the live counters and recent-scan feed of one staff
// member at one gate. A session is disposable: everything in it can be
// rebuilt from the registry's scan records with Replay.
package session

import (
	"sort"
	"sync"
	"time"

	"ms-checkin/internal/models"
)

// DefaultRecentSize is how many recent scans a session keeps for display.
const DefaultRecentSize = 50

type Counters struct {
	Valid     int `json:"valid"`
	Duplicate int `json:"duplicate"`
	Invalid   int `json:"invalid"`
	Revoked   int `json:"revoked"`
	Total     int `json:"total"`
}

// Issues is every scan that did not admit someone.
func (c Counters) Issues() int {
	return c.Total - c.Valid
}

func (c *Counters) add(cl models.Classification) {
	switch cl {
	case models.ClassValid:
		c.Valid++
	case models.ClassDuplicate:
		c.Duplicate++
	case models.ClassInvalid:
		c.Invalid++
	case models.ClassRevoked:
		c.Revoked++
	default:
		return
	}
	c.Total++
}

type Snapshot struct {
	StaffID   string              `json:"staff_id"`
	GateID    string              `json:"gate_id"`
	StartedAt time.Time           `json:"started_at"`
	Counters  Counters            `json:"counters"`
	Issues    int                 `json:"issues"`
	Recent    []models.ScanRecord `json:"recent"`
}

type Session struct {
	StaffID string
	GateID  string

	mu        sync.Mutex
	startedAt time.Time
	counters  Counters
	recent    []models.ScanRecord // most recent first
	limit     int
}

func New(staffID, gateID string, limit int, startedAt time.Time) *Session {
	if limit <= 0 {
		limit = DefaultRecentSize
	}
	return &Session{
		StaffID:   staffID,
		GateID:    gateID,
		startedAt: startedAt,
		limit:     limit,
	}
}

// Record counts rec and puts it at the head of the recent feed. Entries
// already in the feed are never modified.
func (s *Session) Record(rec models.ScanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.add(rec.Classification)

	if len(s.recent) < s.limit {
		s.recent = append(s.recent, models.ScanRecord{})
	}
	copy(s.recent[1:], s.recent)
	s.recent[0] = rec
}

// Reset starts a new shift. It only clears this session; the registry's
// audit trail is not touched.
func (s *Session) Reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = now
	s.counters = Counters{}
	s.recent = nil
}

func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// replace overwrites s with the state of rebuilt, which no other goroutine
// may hold. Scans recorded on s afterwards land on top of the rebuilt state.
func (s *Session) replace(rebuilt *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = rebuilt.startedAt
	s.counters = rebuilt.counters
	s.recent = rebuilt.recent
	s.limit = rebuilt.limit
}

// Recent returns up to n of the latest records, newest first. n <= 0 means all.
func (s *Session) Recent(n int) []models.ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]models.ScanRecord, n)
	copy(out, s.recent[:n])
	return out
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	recent := make([]models.ScanRecord, len(s.recent))
	copy(recent, s.recent)
	return Snapshot{
		StaffID:   s.StaffID,
		GateID:    s.GateID,
		StartedAt: s.startedAt,
		Counters:  s.counters,
		Issues:    s.counters.Issues(),
		Recent:    recent,
	}
}

// Replay rebuilds a session from audit records. Only records from staffID at
// gateID scanned at or after since are applied, in registry order.
func Replay(staffID, gateID string, since time.Time, limit int, records []models.ScanRecord) *Session {
	s := New(staffID, gateID, limit, since)

	applicable := make([]models.ScanRecord, 0, len(records))
	for _, rec := range records {
		if rec.StaffID != staffID || rec.GateID != gateID || rec.ScannedAt.Before(since) {
			continue
		}
		applicable = append(applicable, rec)
	}
	sortBySeq(applicable)

	for _, rec := range applicable {
		s.Record(rec)
	}
	return s
}

func sortBySeq(records []models.ScanRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
}
