// Package registrytest holds the behaviour every registry.Registry
// implementation must show. Implementations call Run from their own tests.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
)

// Factory returns a fresh, empty registry for one subtest.
type Factory func(t *testing.T) registry.Registry

// Run executes the shared contract against the registries built by newRegistry.
func Run(t *testing.T, newRegistry Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, r registry.Registry)
	}{
		{"EventLifecycle", testEventLifecycle},
		{"DuplicateEventCode", testDuplicateEventCode},
		{"IssueTicketNumbers", testIssueTicketNumbers},
		{"IssueRejectedAtCapacity", testIssueRejectedAtCapacity},
		{"IssueRejectedForArchivedEvent", testIssueRejectedForArchivedEvent},
		{"IssueRequiresHolder", testIssueRequiresHolder},
		{"ConcurrentIssuanceNeverOversells", testConcurrentIssuanceNeverOversells},
		{"IssueBatchAllOrNothing", testIssueBatchAllOrNothing},
		{"MarkCheckedInOnce", testMarkCheckedInOnce},
		{"MarkCheckedInUnknown", testMarkCheckedInUnknown},
		{"ConcurrentMarkCheckedIn", testConcurrentMarkCheckedIn},
		{"RevokeIsIdempotent", testRevokeIsIdempotent},
		{"RevokedTicketCannotCheckIn", testRevokedTicketCannotCheckIn},
		{"RecordAttemptLeavesStateAlone", testRecordAttemptLeavesStateAlone},
		{"OverrideReentry", testOverrideReentry},
		{"HistoryIsAppendOnly", testHistoryIsAppendOnly},
		{"UpdateCapacity", testUpdateCapacity},
		{"DeleteEvent", testDeleteEvent},
		{"EventStats", testEventStats},
		{"TicketsByHolder", testTicketsByHolder},
		{"IssuanceLog", testIssuanceLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRegistry(t))
		})
	}
}

var (
	alice = models.Holder{ID: "user-alice", Name: "Alice", Email: "alice@example.com"}
	bob   = models.Holder{ID: "user-bob", Name: "Bob"}
)

// NewEvent creates an event with the given code and capacity starting in 2024.
func NewEvent(t *testing.T, r registry.Registry, code string, capacity int) models.Event {
	t.Helper()
	ev, err := r.CreateEvent(context.Background(), models.Event{
		Code:     code,
		Title:    "Tech Conference " + code,
		Location: "Convention Center",
		StartsAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		Capacity: capacity,
	})
	require.NoError(t, err)
	return ev
}

// Issue issues one ticket for holder and fails the test on error.
func Issue(t *testing.T, r registry.Registry, eventID string, holder models.Holder) models.Ticket {
	t.Helper()
	tk, err := r.IssueTicket(context.Background(), eventID, models.IssueRequest{Holder: holder})
	require.NoError(t, err)
	return tk
}

func testEventLifecycle(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "tc", 2)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "TC", ev.Code, "codes are normalized to uppercase")
	assert.Equal(t, 0, ev.Issued)
	assert.Equal(t, ev.StartsAt, ev.EndsAt, "end defaults to start")

	got, err := r.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Title, got.Title)

	_, err = r.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, registry.ErrEventNotFound)

	_, err = r.CreateEvent(ctx, models.Event{Code: "X", Title: "Bad", StartsAt: ev.StartsAt, Capacity: 1})
	assert.ErrorIs(t, err, registry.ErrInvalidEvent)

	archived, err := r.ArchiveEvent(ctx, ev.ID, "organizer-1")
	require.NoError(t, err)
	assert.True(t, archived.Archived)

	active, err := r.ListEvents(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := r.ListEvents(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testDuplicateEventCode(t *testing.T, r registry.Registry) {
	NewEvent(t, r, "TC", 10)
	_, err := r.CreateEvent(context.Background(), models.Event{
		Code:     "TC",
		Title:    "Another",
		StartsAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Capacity: 10,
	})
	assert.ErrorIs(t, err, registry.ErrDuplicateEventCode)
}

func testIssueTicketNumbers(t *testing.T, r registry.Registry) {
	ev := NewEvent(t, r, "TC", 10)

	first := Issue(t, r, ev.ID, alice)
	second := Issue(t, r, ev.ID, bob)

	assert.Equal(t, "TC2024-000001", first.Number)
	assert.Equal(t, "TC2024-000002", second.Number)
	assert.True(t, registry.ValidNumber(first.Number))
	assert.Equal(t, models.StateUnused, first.State)
	assert.Equal(t, alice.Name, first.HolderName)

	got, err := r.Lookup(context.Background(), first.Number)
	require.NoError(t, err)
	assert.Equal(t, first.Number, got.Number)
	assert.Equal(t, ev.ID, got.EventID)
}

// An event at capacity refuses issuance and its issued count does not move.
func testIssueRejectedAtCapacity(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	Issue(t, r, ev.ID, alice)
	Issue(t, r, ev.ID, bob)

	_, err := r.IssueTicket(ctx, ev.ID, models.IssueRequest{Holder: models.Holder{ID: "user-x", Name: "X"}})
	assert.ErrorIs(t, err, registry.ErrCapacityExceeded)

	got, err := r.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Issued)
}

func testIssueRejectedForArchivedEvent(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	_, err := r.ArchiveEvent(ctx, ev.ID, "organizer-1")
	require.NoError(t, err)

	_, err = r.IssueTicket(ctx, ev.ID, models.IssueRequest{Holder: alice})
	assert.ErrorIs(t, err, registry.ErrEventArchived)

	_, err = r.IssueTicket(ctx, "missing", models.IssueRequest{Holder: alice})
	assert.ErrorIs(t, err, registry.ErrEventNotFound)
}

func testIssueRequiresHolder(t *testing.T, r registry.Registry) {
	ev := NewEvent(t, r, "TC", 2)
	_, err := r.IssueTicket(context.Background(), ev.ID, models.IssueRequest{})
	assert.ErrorIs(t, err, registry.ErrInvalidHolder)
}

func testConcurrentIssuanceNeverOversells(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	const capacity, buyers = 5, 20
	ev := NewEvent(t, r, "TC", capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		issued   = map[string]bool{}
		rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := models.Holder{ID: fmt.Sprintf("user-%d", i), Name: "Buyer"}
			tk, err := r.IssueTicket(ctx, ev.ID, models.IssueRequest{Holder: holder})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, registry.ErrCapacityExceeded)
				rejected++
				return
			}
			assert.False(t, issued[tk.Number], "ticket number %s issued twice", tk.Number)
			issued[tk.Number] = true
		}(i)
	}
	wg.Wait()

	assert.Len(t, issued, capacity)
	assert.Equal(t, buyers-capacity, rejected)

	got, err := r.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, got.Issued)
}

func testIssueBatchAllOrNothing(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 3)

	_, err := r.IssueTickets(ctx, ev.ID, nil)
	assert.ErrorIs(t, err, registry.ErrEmptyRequest)

	_, err = r.IssueTickets(ctx, ev.ID, []models.IssueRequest{{Holder: alice}, {}})
	assert.ErrorIs(t, err, registry.ErrInvalidHolder)

	pair, err := r.IssueTickets(ctx, ev.ID, []models.IssueRequest{
		{Holder: alice, Seat: "A1"},
		{Holder: alice, Seat: "A2"},
	})
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.Equal(t, "TC2024-000001", pair[0].Number)
	assert.Equal(t, "TC2024-000002", pair[1].Number)
	assert.Equal(t, "A2", pair[1].Seat)

	// two more would overshoot by one: nothing is issued
	_, err = r.IssueTickets(ctx, ev.ID, []models.IssueRequest{{Holder: bob}, {Holder: bob}})
	assert.ErrorIs(t, err, registry.ErrCapacityExceeded)

	got, err := r.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Issued)

	mine, err := r.TicketsByHolder(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)

	last := Issue(t, r, ev.ID, bob)
	assert.Equal(t, "TC2024-000003", last.Number)

	log, err := r.IssuanceLog(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, log, 3)
}

// Admit at Main, then a second scan at Side points back at Main.
func testMarkCheckedInOnce(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)

	rec, err := r.MarkCheckedIn(ctx, tk.Number, "TKT1.sealed-payload", "staff-1", "Main")
	require.NoError(t, err)
	assert.Equal(t, models.ClassValid, rec.Classification)
	assert.Equal(t, models.ReasonAdmitted, rec.Reason)
	assert.Equal(t, "TKT1.sealed-payload", rec.Code, "the scanned text is kept, not the number it resolved to")
	assert.Equal(t, tk.Number, rec.TicketNumber)
	assert.Equal(t, "Main", rec.GateID)
	assert.Equal(t, ev.ID, rec.EventID)
	assert.NotEmpty(t, rec.ID)

	got, err := r.Lookup(ctx, tk.Number)
	require.NoError(t, err)
	assert.Equal(t, models.StateCheckedIn, got.State)

	_, err = r.MarkCheckedIn(ctx, tk.Number, tk.Number, "staff-2", "Side")
	require.ErrorIs(t, err, registry.ErrAlreadyCheckedIn)
	var dup *registry.AlreadyCheckedInError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, rec.ID, dup.Prior.ID)
	assert.Equal(t, "Main", dup.Prior.GateID)

	first, err := r.FirstCheckIn(ctx, tk.Number)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, first.ID)
	assert.Equal(t, "TKT1.sealed-payload", first.Code)

	// Test case: without scanned text the number is recorded
	other := Issue(t, r, ev.ID, bob)
	rec, err = r.MarkCheckedIn(ctx, other.Number, "", "staff-1", "Main")
	require.NoError(t, err)
	assert.Equal(t, other.Number, rec.Code)
}

func testMarkCheckedInUnknown(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	_, err := r.MarkCheckedIn(ctx, "ZZ-999", "ZZ-999", "staff-1", "Main")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = r.Lookup(ctx, "ZZ-999")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.True(t, registry.IsBusiness(err))
}

// Racing check-ins produce exactly one admission.
func testConcurrentMarkCheckedIn(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)

	const devices = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		admitted   int
		duplicates int
	)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.MarkCheckedIn(ctx, tk.Number, tk.Number, fmt.Sprintf("staff-%d", i), fmt.Sprintf("gate-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, registry.ErrAlreadyCheckedIn):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, devices-1, duplicates)

	history, err := r.ScanHistory(ctx, tk.Number)
	require.NoError(t, err)
	valid := 0
	for _, rec := range history {
		if rec.Admitted() {
			valid++
		}
	}
	assert.Equal(t, 1, valid, "one ticket, one admitting record")
}

func testRevokeIsIdempotent(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)

	first, err := r.Revoke(ctx, tk.Number, "organizer-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateRevoked, first.State)

	second, err := r.Revoke(ctx, tk.Number, "organizer-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateRevoked, second.State)

	_, err = r.Revoke(ctx, "ZZ-999", "organizer-1")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	got, err := r.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Issued, "revocation does not release the ticket number")
}

// A revoked ticket reports revoked even after it was admitted.
func testRevokedTicketCannotCheckIn(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)

	_, err := r.MarkCheckedIn(ctx, tk.Number, tk.Number, "staff-1", "Main")
	require.NoError(t, err)
	_, err = r.Revoke(ctx, tk.Number, "organizer-1")
	require.NoError(t, err)

	_, err = r.MarkCheckedIn(ctx, tk.Number, tk.Number, "staff-1", "Main")
	assert.ErrorIs(t, err, registry.ErrRevoked)
	assert.NotErrorIs(t, err, registry.ErrAlreadyCheckedIn)

	_, err = r.OverrideReentry(ctx, tk.Number, "staff-1", "Main", "lost wristband")
	assert.ErrorIs(t, err, registry.ErrRevoked)
}

// An unknown code is logged but changes nothing.
func testRecordAttemptLeavesStateAlone(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)

	rec, err := r.RecordAttempt(ctx, models.ScanRecord{
		Code:           "ZZ-999",
		EventID:        ev.ID,
		Classification: models.ClassInvalid,
		Reason:         models.ReasonUnknownTicket,
		StaffID:        "staff-1",
		GateID:         "Main",
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.Seq)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.ScannedAt.IsZero())

	got, err := r.Lookup(ctx, tk.Number)
	require.NoError(t, err)
	assert.Equal(t, models.StateUnused, got.State)

	stats, err := r.EventStats(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unused)
	assert.Equal(t, 0, stats.CheckedIn)

	scans, err := r.EventScans(ctx, ev.ID, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "ZZ-999", scans[0].Code)

	_, err = r.RecordAttempt(ctx, models.ScanRecord{Classification: models.ClassValid, GateID: "Main"})
	assert.Error(t, err, "admissions only come from MarkCheckedIn")
}

func testOverrideReentry(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)

	_, err := r.OverrideReentry(ctx, tk.Number, "staff-1", "Main", "stepped out")
	assert.ErrorIs(t, err, registry.ErrNotCheckedIn)

	_, err = r.FirstCheckIn(ctx, tk.Number)
	assert.ErrorIs(t, err, registry.ErrNotCheckedIn)

	first, err := r.MarkCheckedIn(ctx, tk.Number, tk.Number, "staff-1", "Main")
	require.NoError(t, err)

	rec, err := r.OverrideReentry(ctx, tk.Number, "staff-2", "Side", "stepped out")
	require.NoError(t, err)
	assert.True(t, rec.Override)
	assert.Equal(t, models.ClassValid, rec.Classification)
	assert.Equal(t, models.ReasonOverride, rec.Reason)
	assert.Equal(t, "stepped out", rec.Note)

	got, err := r.Lookup(ctx, tk.Number)
	require.NoError(t, err)
	assert.Equal(t, models.StateCheckedIn, got.State)

	prior, err := r.FirstCheckIn(ctx, tk.Number)
	require.NoError(t, err)
	assert.Equal(t, first.ID, prior.ID, "an override never replaces the first admission")
}

func testHistoryIsAppendOnly(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)

	_, err := r.MarkCheckedIn(ctx, tk.Number, tk.Number, "staff-1", "Main")
	require.NoError(t, err)
	_, err = r.RecordAttempt(ctx, models.ScanRecord{
		Code:           tk.Number,
		TicketNumber:   tk.Number,
		EventID:        ev.ID,
		Classification: models.ClassDuplicate,
		Reason:         models.ReasonAlreadyCheckedIn,
		StaffID:        "staff-2",
		GateID:         "Side",
	})
	require.NoError(t, err)

	before, err := r.ScanHistory(ctx, tk.Number)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Less(t, before[0].Seq, before[1].Seq)

	_, err = r.Revoke(ctx, tk.Number, "organizer-1")
	require.NoError(t, err)
	_, err = r.RecordAttempt(ctx, models.ScanRecord{
		Code:           tk.Number,
		TicketNumber:   tk.Number,
		EventID:        ev.ID,
		Classification: models.ClassRevoked,
		Reason:         models.ReasonRevoked,
		StaffID:        "staff-1",
		GateID:         "Main",
	})
	require.NoError(t, err)

	after, err := r.ScanHistory(ctx, tk.Number)
	require.NoError(t, err)
	require.Len(t, after, 3)
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Classification, after[i].Classification)
	}

	recent, err := r.EventScans(ctx, ev.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.ClassRevoked, recent[0].Classification, "most recent first")
}

func testUpdateCapacity(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	Issue(t, r, ev.ID, alice)
	Issue(t, r, ev.ID, bob)

	_, err := r.UpdateCapacity(ctx, ev.ID, 1, "organizer-1")
	assert.ErrorIs(t, err, registry.ErrCapacityBelowIssued)

	updated, err := r.UpdateCapacity(ctx, ev.ID, 3, "organizer-1")
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Capacity)

	third := Issue(t, r, ev.ID, models.Holder{ID: "user-x", Name: "X"})
	assert.Equal(t, "TC2024-000003", third.Number)

	_, err = r.UpdateCapacity(ctx, "missing", 10, "organizer-1")
	assert.ErrorIs(t, err, registry.ErrEventNotFound)
}

func testDeleteEvent(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	empty := NewEvent(t, r, "EM", 5)
	busy := NewEvent(t, r, "BU", 5)
	Issue(t, r, busy.ID, alice)

	require.NoError(t, r.DeleteEvent(ctx, empty.ID))
	_, err := r.GetEvent(ctx, empty.ID)
	assert.ErrorIs(t, err, registry.ErrEventNotFound)

	assert.ErrorIs(t, r.DeleteEvent(ctx, busy.ID), registry.ErrEventHasTickets)
	assert.ErrorIs(t, r.DeleteEvent(ctx, "missing"), registry.ErrEventNotFound)

	// the code of a deleted event is free again
	NewEvent(t, r, "EM", 5)
}

func testEventStats(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 4)
	a := Issue(t, r, ev.ID, alice)
	b := Issue(t, r, ev.ID, bob)
	Issue(t, r, ev.ID, models.Holder{ID: "user-x", Name: "X"})

	_, err := r.MarkCheckedIn(ctx, a.Number, a.Number, "staff-1", "Main")
	require.NoError(t, err)
	_, err = r.Revoke(ctx, b.Number, "organizer-1")
	require.NoError(t, err)

	stats, err := r.EventStats(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, 3, stats.Issued)
	assert.Equal(t, 1, stats.Unused)
	assert.Equal(t, 1, stats.CheckedIn)
	assert.Equal(t, 1, stats.Revoked)
	assert.Equal(t, "filling_fast", stats.Availability)
}

func testTicketsByHolder(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 5)
	Issue(t, r, ev.ID, alice)
	Issue(t, r, ev.ID, alice)
	Issue(t, r, ev.ID, bob)

	mine, err := r.TicketsByHolder(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	for _, tk := range mine {
		assert.Equal(t, alice.ID, tk.HolderID)
	}

	none, err := r.TicketsByHolder(ctx, "user-nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testIssuanceLog(t *testing.T, r registry.Registry) {
	ctx := context.Background()
	ev := NewEvent(t, r, "TC", 2)
	tk := Issue(t, r, ev.ID, alice)
	_, err := r.MarkCheckedIn(ctx, tk.Number, tk.Number, "staff-1", "Main")
	require.NoError(t, err)
	_, err = r.Revoke(ctx, tk.Number, "organizer-1")
	require.NoError(t, err)
	_, err = r.UpdateCapacity(ctx, ev.ID, 5, "organizer-1")
	require.NoError(t, err)
	_, err = r.ArchiveEvent(ctx, ev.ID, "organizer-1")
	require.NoError(t, err)

	log, err := r.IssuanceLog(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, log, 4)
	assert.Equal(t, models.IssuanceIssued, log[0].Kind)
	assert.Equal(t, models.IssuanceRevoked, log[1].Kind)
	assert.Equal(t, models.StateCheckedIn, log[1].PriorState)
	assert.Equal(t, "organizer-1", log[1].Actor)
	assert.Equal(t, models.IssuanceCapacityChanged, log[2].Kind)
	assert.Equal(t, models.IssuanceArchived, log[3].Kind)
	for i := 1; i < len(log); i++ {
		assert.Less(t, log[i-1].Seq, log[i].Seq)
	}
}
