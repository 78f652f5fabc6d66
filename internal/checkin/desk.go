package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
	"ms-checkin/internal/session"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/tickets/qr"
)

// ScanPublisher forwards audit records to downstream consumers.
type ScanPublisher interface {
	PublishScan(ctx context.Context, rec models.ScanRecord) error
}

// Desk runs one scan end to end: decode, validate, count, broadcast, publish.
// Only the validator's outcome is authoritative; the feed and the publisher
// are best effort.
type Desk struct {
	Validator *Validator
	Sessions  *session.Manager
	Feed      *sse.ScanFeedEmitter
	Publisher ScanPublisher
	QR        *qr.QRGenerator
	Logger    *logger.Logger
}

// ScanRequest is what a gate device submits.
type ScanRequest struct {
	Code    string `json:"code"`
	EventID string `json:"event_id"`
	GateID  string `json:"gate_id"`
}

// Scan decodes req.Code (QR payload or typed ticket number) and validates it
// for staff. A StorageError is returned unrecorded so the device can retry.
func (d *Desk) Scan(ctx context.Context, staff auth.Identity, req ScanRequest) (Decision, error) {
	if err := staff.Authorize(auth.CanScanTickets); err != nil {
		return Decision{}, err
	}

	decision, err := d.Validator.Validate(ctx, Scan{
		Code:    req.Code,
		Number:  d.decode(req.Code),
		EventID: req.EventID,
		GateID:  req.GateID,
		Staff:   staff,
	})
	if err != nil {
		return Decision{}, err
	}

	d.after(ctx, staff, decision)
	return decision, nil
}

// Override admits an already checked-in ticket again. The ticket stays
// CHECKED_IN; the re-entry is one more logged valid record. number is typed
// by staff and must have the shape of a ticket number.
func (d *Desk) Override(ctx context.Context, staff auth.Identity, gateID, number, note string) (Decision, error) {
	if err := staff.Authorize(auth.CanOverrideReentry); err != nil {
		return Decision{}, err
	}
	number = registry.NormalizeCode(number)
	if !d.Validator.wellFormed(number) {
		return Decision{}, fmt.Errorf("%w: %q", registry.ErrMalformedCode, number)
	}

	reg := d.Validator.Registry
	rec, err := reg.OverrideReentry(ctx, number, staff.UserID, gateID, note)
	if err != nil {
		return Decision{}, err
	}
	ticket, err := reg.Lookup(ctx, number)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Classification: rec.Classification,
		Reason:         rec.Reason,
		Ticket:         &ticket,
		Record:         rec,
	}
	decision.Message = Message(decision)
	d.Logger.Info("SCAN", fmt.Sprintf("Override re-entry of %s at %s by %s: %s", number, gateID, staff.UserID, note))

	d.after(ctx, staff, decision)
	return decision, nil
}

// RestoreSession rebuilds the staff member's session at gateID from the
// registry after a device restart.
func (d *Desk) RestoreSession(ctx context.Context, staff auth.Identity, gateID, eventID string, since time.Time) (*session.Session, error) {
	records, err := d.Validator.Registry.EventScans(ctx, eventID, 0)
	if err != nil {
		return nil, err
	}
	return d.Sessions.Restore(staff.UserID, gateID, since, records), nil
}

// decode returns the ticket number sealed in a QR payload, or "" when raw is
// not one of our payloads.
func (d *Desk) decode(raw string) string {
	if d.QR == nil {
		return ""
	}
	p, err := d.QR.Decode(raw)
	switch {
	case err == nil:
		return p.TicketNumber
	case !errors.Is(err, qr.ErrNotPayload):
		d.Logger.LogSecurity("QR_REJECTED", err.Error())
	}
	return ""
}

func (d *Desk) after(ctx context.Context, staff auth.Identity, decision Decision) {
	rec := decision.Record

	if d.Sessions != nil {
		d.Sessions.Record(ctx, staff.UserID, rec.GateID, rec)
	}

	if d.Feed != nil {
		ev := sse.ScanEvent{Record: rec, Message: decision.Message}
		if decision.Ticket != nil {
			ev.HolderName = decision.Ticket.HolderName
			ev.Seat = decision.Ticket.Seat
		}
		d.Feed.Emit(ev)
	}

	if d.Publisher != nil {
		if err := d.Publisher.PublishScan(ctx, rec); err != nil {
			d.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish scan %s: %v", rec.ID, err))
		}
	}
}
