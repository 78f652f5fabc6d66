// Package registry is the single source of truth for events and tickets. It
// is the only place a ticket's check-in state changes, and every such change
// is paired with exactly one appended ScanRecord or IssuanceRecord.
package registry

import (
	"context"

	"ms-checkin/internal/models"
)

// Registry is implemented by the in-memory Memory store and by the bun-backed
// store in registry/db. Both give the same atomicity guarantees:
// MarkCheckedIn is one check-then-act step per ticket and IssueTickets is one
// check-then-increment step per event.
type Registry interface {
	Lookup(ctx context.Context, number string) (models.Ticket, error)
	// MarkCheckedIn keeps code, the text the device scanned, on the admitting
	// record. An empty code records the ticket number.
	MarkCheckedIn(ctx context.Context, number, code, staffID, gateID string) (models.ScanRecord, error)
	IssueTicket(ctx context.Context, eventID string, req models.IssueRequest) (models.Ticket, error)
	// IssueTickets issues all of reqs or none of them.
	IssueTickets(ctx context.Context, eventID string, reqs []models.IssueRequest) ([]models.Ticket, error)
	Revoke(ctx context.Context, number, actor string) (models.Ticket, error)

	FirstCheckIn(ctx context.Context, number string) (models.ScanRecord, error)
	RecordAttempt(ctx context.Context, rec models.ScanRecord) (models.ScanRecord, error)
	OverrideReentry(ctx context.Context, number, staffID, gateID, note string) (models.ScanRecord, error)
	ScanHistory(ctx context.Context, number string) ([]models.ScanRecord, error)
	EventScans(ctx context.Context, eventID string, limit int) ([]models.ScanRecord, error)
	TicketsByHolder(ctx context.Context, holderID string) ([]models.Ticket, error)

	CreateEvent(ctx context.Context, event models.Event) (models.Event, error)
	GetEvent(ctx context.Context, eventID string) (models.Event, error)
	ListEvents(ctx context.Context, includeArchived bool) ([]models.Event, error)
	UpdateCapacity(ctx context.Context, eventID string, capacity int, actor string) (models.Event, error)
	ArchiveEvent(ctx context.Context, eventID, actor string) (models.Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
	EventStats(ctx context.Context, eventID string) (models.EventStats, error)
	IssuanceLog(ctx context.Context, eventID string) ([]models.IssuanceRecord, error)
}
