package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ms-checkin/internal/capacity"
	"ms-checkin/internal/models"
)

type ticketEntry struct {
	mu       sync.Mutex
	ticket   models.Ticket
	snapshot atomic.Pointer[models.Ticket]
	records  []models.ScanRecord
	first    *models.ScanRecord
}

// publish makes the current ticket visible to lock-free lookups. Callers hold mu.
func (e *ticketEntry) publish() {
	t := e.ticket
	e.snapshot.Store(&t)
}

type eventEntry struct {
	mu      sync.Mutex
	event   models.Event
	tickets []string
	deleted bool

	logMu    sync.Mutex
	scans    []models.ScanRecord
	issuance []models.IssuanceRecord
}

type holderEntry struct {
	mu      sync.Mutex
	numbers []string
}

// Memory is the in-process registry. There is no registry-wide lock: a
// check-in serializes on its ticket entry, an issuance on its event entry.
type Memory struct {
	now func() time.Time

	scanSeq     atomic.Int64
	issuanceSeq atomic.Int64

	tickets sync.Map // ticket number -> *ticketEntry
	events  sync.Map // event id -> *eventEntry
	holders sync.Map // holder id -> *holderEntry

	codeMu sync.Mutex
	codes  map[string]string // event code -> event id

	orphanMu sync.Mutex
	orphans  []models.ScanRecord
}

type Option func(*Memory)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		now:   time.Now,
		codes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Registry = (*Memory)(nil)

func (m *Memory) ticket(number string) (*ticketEntry, bool) {
	v, ok := m.tickets.Load(number)
	if !ok {
		return nil, false
	}
	return v.(*ticketEntry), true
}

func (m *Memory) eventEntry(eventID string) (*eventEntry, bool) {
	v, ok := m.events.Load(eventID)
	if !ok {
		return nil, false
	}
	return v.(*eventEntry), true
}

func (m *Memory) Lookup(_ context.Context, number string) (models.Ticket, error) {
	e, ok := m.ticket(number)
	if !ok {
		return models.Ticket{}, ErrNotFound
	}
	return *e.snapshot.Load(), nil
}

func (m *Memory) MarkCheckedIn(_ context.Context, number, code, staffID, gateID string) (models.ScanRecord, error) {
	e, ok := m.ticket(number)
	if !ok {
		return models.ScanRecord{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.ticket.State {
	case models.StateRevoked:
		return models.ScanRecord{}, ErrRevoked
	case models.StateCheckedIn:
		return models.ScanRecord{}, &AlreadyCheckedInError{Prior: *e.first}
	}

	now := m.now()
	e.ticket.State = models.StateCheckedIn
	e.ticket.StateChangedAt = now
	e.publish()

	if code == "" {
		code = number
	}
	rec := m.appendLocked(e, models.ScanRecord{
		Code:           code,
		TicketNumber:   number,
		EventID:        e.ticket.EventID,
		Classification: models.ClassValid,
		Reason:         models.ReasonAdmitted,
		StaffID:        staffID,
		GateID:         gateID,
		ScannedAt:      now,
	})
	e.first = &rec
	return rec, nil
}

// appendLocked stamps rec with the next sequence number and appends it to the
// ticket's history and its event's scan log. Callers hold e.mu, which is what
// totally orders the records of one ticket.
func (m *Memory) appendLocked(e *ticketEntry, rec models.ScanRecord) models.ScanRecord {
	rec = m.stamp(rec)
	e.records = append(e.records, rec)
	m.appendEventScan(rec)
	return rec
}

func (m *Memory) stamp(rec models.ScanRecord) models.ScanRecord {
	rec.Seq = m.scanSeq.Add(1)
	rec.ID = uuid.NewString()
	rec.Code = models.TruncateCode(rec.Code)
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = m.now()
	}
	return rec
}

func (m *Memory) appendEventScan(rec models.ScanRecord) {
	ev, ok := m.eventEntry(rec.EventID)
	if !ok {
		m.orphanMu.Lock()
		m.orphans = append(m.orphans, rec)
		m.orphanMu.Unlock()
		return
	}
	ev.logMu.Lock()
	ev.scans = append(ev.scans, rec)
	ev.logMu.Unlock()
}

func (m *Memory) appendIssuance(ev *eventEntry, rec models.IssuanceRecord) {
	rec.Seq = m.issuanceSeq.Add(1)
	rec.ID = uuid.NewString()
	if rec.At.IsZero() {
		rec.At = m.now()
	}
	ev.logMu.Lock()
	ev.issuance = append(ev.issuance, rec)
	ev.logMu.Unlock()
}

func (m *Memory) IssueTicket(ctx context.Context, eventID string, req models.IssueRequest) (models.Ticket, error) {
	tickets, err := m.IssueTickets(ctx, eventID, []models.IssueRequest{req})
	if err != nil {
		return models.Ticket{}, err
	}
	return tickets[0], nil
}

func (m *Memory) IssueTickets(_ context.Context, eventID string, reqs []models.IssueRequest) ([]models.Ticket, error) {
	if err := ValidateRequests(reqs); err != nil {
		return nil, err
	}
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return nil, ErrEventNotFound
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	switch {
	case ev.deleted:
		return nil, ErrEventNotFound
	case ev.event.Archived:
		return nil, ErrEventArchived
	case !capacity.CanIssue(ev.event.Issued, ev.event.Capacity, len(reqs)):
		return nil, ErrCapacityExceeded
	}

	now := m.now()
	out := make([]models.Ticket, 0, len(reqs))
	for i, req := range reqs {
		t := models.Ticket{
			Number:      FormatNumber(ev.event.Code, ev.event.StartsAt, ev.event.Issued+i+1),
			EventID:     eventID,
			HolderID:    req.Holder.ID,
			HolderName:  req.Holder.Name,
			HolderEmail: req.Holder.Email,
			Seat:        req.Seat,
			Gate:        req.Gate,
			IssuedAt:    now,
			State:       models.StateUnused,
		}
		if _, taken := m.tickets.Load(t.Number); taken {
			return nil, Storage("issue tickets", fmt.Errorf("ticket number %s already exists", t.Number))
		}
		out = append(out, t)
	}

	for _, t := range out {
		entry := &ticketEntry{ticket: t}
		entry.publish()
		m.tickets.Store(t.Number, entry)
		ev.tickets = append(ev.tickets, t.Number)
		m.indexHolder(t.HolderID, t.Number)
		m.appendIssuance(ev, models.IssuanceRecord{
			Kind:         models.IssuanceIssued,
			EventID:      eventID,
			TicketNumber: t.Number,
			Actor:        t.HolderID,
			At:           now,
		})
	}
	ev.event.Issued += len(out)
	return out, nil
}

func (m *Memory) indexHolder(holderID, number string) {
	v, _ := m.holders.LoadOrStore(holderID, &holderEntry{})
	h := v.(*holderEntry)
	h.mu.Lock()
	h.numbers = append(h.numbers, number)
	h.mu.Unlock()
}

func (m *Memory) Revoke(_ context.Context, number, actor string) (models.Ticket, error) {
	e, ok := m.ticket(number)
	if !ok {
		return models.Ticket{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prior := e.ticket.State
	now := m.now()
	if prior != models.StateRevoked {
		e.ticket.State = models.StateRevoked
		e.ticket.StateChangedAt = now
		e.publish()
	}
	if ev, ok := m.eventEntry(e.ticket.EventID); ok {
		m.appendIssuance(ev, models.IssuanceRecord{
			Kind:         models.IssuanceRevoked,
			EventID:      e.ticket.EventID,
			TicketNumber: number,
			PriorState:   prior,
			Actor:        actor,
			At:           now,
		})
	}
	return e.ticket, nil
}

func (m *Memory) FirstCheckIn(_ context.Context, number string) (models.ScanRecord, error) {
	e, ok := m.ticket(number)
	if !ok {
		return models.ScanRecord{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.first == nil {
		return models.ScanRecord{}, ErrNotCheckedIn
	}
	return *e.first, nil
}

func (m *Memory) RecordAttempt(_ context.Context, rec models.ScanRecord) (models.ScanRecord, error) {
	if rec.Classification == models.ClassValid {
		return models.ScanRecord{}, errors.New("admitting records are written by MarkCheckedIn or OverrideReentry")
	}
	if rec.TicketNumber != "" {
		if e, ok := m.ticket(rec.TicketNumber); ok {
			e.mu.Lock()
			rec = m.appendLocked(e, rec)
			e.mu.Unlock()
			return rec, nil
		}
		rec.TicketNumber = ""
	}
	rec = m.stamp(rec)
	m.appendEventScan(rec)
	return rec, nil
}

func (m *Memory) OverrideReentry(_ context.Context, number, staffID, gateID, note string) (models.ScanRecord, error) {
	e, ok := m.ticket(number)
	if !ok {
		return models.ScanRecord{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.ticket.State {
	case models.StateRevoked:
		return models.ScanRecord{}, ErrRevoked
	case models.StateUnused:
		return models.ScanRecord{}, ErrNotCheckedIn
	}

	return m.appendLocked(e, models.ScanRecord{
		Code:           number,
		TicketNumber:   number,
		EventID:        e.ticket.EventID,
		Classification: models.ClassValid,
		Reason:         models.ReasonOverride,
		Override:       true,
		Note:           note,
		StaffID:        staffID,
		GateID:         gateID,
	}), nil
}

func (m *Memory) ScanHistory(_ context.Context, number string) ([]models.ScanRecord, error) {
	e, ok := m.ticket(number)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ScanRecord, len(e.records))
	copy(out, e.records)
	return out, nil
}

func (m *Memory) EventScans(_ context.Context, eventID string, limit int) ([]models.ScanRecord, error) {
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return nil, ErrEventNotFound
	}
	ev.logMu.Lock()
	out := make([]models.ScanRecord, len(ev.scans))
	copy(out, ev.scans)
	ev.logMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) TicketsByHolder(_ context.Context, holderID string) ([]models.Ticket, error) {
	v, ok := m.holders.Load(holderID)
	if !ok {
		return []models.Ticket{}, nil
	}
	h := v.(*holderEntry)
	h.mu.Lock()
	numbers := append([]string(nil), h.numbers...)
	h.mu.Unlock()

	out := make([]models.Ticket, 0, len(numbers))
	for _, n := range numbers {
		if e, ok := m.ticket(n); ok {
			out = append(out, *e.snapshot.Load())
		}
	}
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, event models.Event) (models.Event, error) {
	ev, err := ValidateEvent(event, m.now())
	if err != nil {
		return models.Event{}, err
	}

	m.codeMu.Lock()
	defer m.codeMu.Unlock()
	if _, taken := m.codes[ev.Code]; taken {
		return models.Event{}, ErrDuplicateEventCode
	}
	if _, loaded := m.events.LoadOrStore(ev.ID, &eventEntry{event: ev}); loaded {
		return models.Event{}, fmt.Errorf("%w: id %s already exists", ErrInvalidEvent, ev.ID)
	}
	m.codes[ev.Code] = ev.ID
	return ev, nil
}

func (m *Memory) GetEvent(_ context.Context, eventID string) (models.Event, error) {
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return models.Event{}, ErrEventNotFound
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.deleted {
		return models.Event{}, ErrEventNotFound
	}
	return ev.event, nil
}

func (m *Memory) ListEvents(_ context.Context, includeArchived bool) ([]models.Event, error) {
	out := []models.Event{}
	m.events.Range(func(_, v any) bool {
		ev := v.(*eventEntry)
		ev.mu.Lock()
		if !ev.deleted && (includeArchived || !ev.event.Archived) {
			out = append(out, ev.event)
		}
		ev.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (m *Memory) UpdateCapacity(_ context.Context, eventID string, newCapacity int, actor string) (models.Event, error) {
	if newCapacity > MaxCapacity {
		return models.Event{}, fmt.Errorf("%w: capacity must be at most %d", ErrInvalidEvent, MaxCapacity)
	}
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return models.Event{}, ErrEventNotFound
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	if ev.deleted {
		return models.Event{}, ErrEventNotFound
	}
	if !capacity.CanResize(ev.event.Issued, newCapacity) {
		return models.Event{}, ErrCapacityBelowIssued
	}
	old := ev.event.Capacity
	ev.event.Capacity = newCapacity
	m.appendIssuance(ev, models.IssuanceRecord{
		Kind:    models.IssuanceCapacityChanged,
		EventID: eventID,
		Detail:  fmt.Sprintf("%d -> %d", old, newCapacity),
		Actor:   actor,
	})
	return ev.event, nil
}

func (m *Memory) ArchiveEvent(_ context.Context, eventID, actor string) (models.Event, error) {
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return models.Event{}, ErrEventNotFound
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	if ev.deleted {
		return models.Event{}, ErrEventNotFound
	}
	if !ev.event.Archived {
		ev.event.Archived = true
		m.appendIssuance(ev, models.IssuanceRecord{
			Kind:    models.IssuanceArchived,
			EventID: eventID,
			Actor:   actor,
		})
	}
	return ev.event, nil
}

func (m *Memory) DeleteEvent(_ context.Context, eventID string) error {
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return ErrEventNotFound
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	if ev.deleted {
		return ErrEventNotFound
	}
	if ev.event.Issued > 0 {
		return ErrEventHasTickets
	}
	ev.deleted = true
	m.events.Delete(eventID)

	m.codeMu.Lock()
	delete(m.codes, ev.event.Code)
	m.codeMu.Unlock()
	return nil
}

func (m *Memory) EventStats(_ context.Context, eventID string) (models.EventStats, error) {
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return models.EventStats{}, ErrEventNotFound
	}
	ev.mu.Lock()
	if ev.deleted {
		ev.mu.Unlock()
		return models.EventStats{}, ErrEventNotFound
	}
	event := ev.event
	numbers := append([]string(nil), ev.tickets...)
	ev.mu.Unlock()

	stats := models.EventStats{
		EventID:      eventID,
		Capacity:     event.Capacity,
		Issued:       event.Issued,
		Availability: string(capacity.Status(event.Issued, event.Capacity)),
	}
	for _, n := range numbers {
		e, ok := m.ticket(n)
		if !ok {
			continue
		}
		switch e.snapshot.Load().State {
		case models.StateUnused:
			stats.Unused++
		case models.StateCheckedIn:
			stats.CheckedIn++
		case models.StateRevoked:
			stats.Revoked++
		}
	}
	return stats, nil
}

func (m *Memory) IssuanceLog(_ context.Context, eventID string) ([]models.IssuanceRecord, error) {
	ev, ok := m.eventEntry(eventID)
	if !ok {
		return nil, ErrEventNotFound
	}
	ev.logMu.Lock()
	defer ev.logMu.Unlock()
	out := make([]models.IssuanceRecord, len(ev.issuance))
	copy(out, ev.issuance)
	return out, nil
}
