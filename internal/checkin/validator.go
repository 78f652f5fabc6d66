// Package checkin turns scanned codes into admission decisions.
//
// The Validator is deterministic: the classification depends only on the
// scanned code, the staffed event and the registry's current state. All
// mutation goes through the registry, whose per-ticket atomicity decides the
// winner when two gates scan the same ticket at once.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
)

// Scan is one read from a gate device.
type Scan struct {
	Code    string // raw device text, kept in the audit trail
	Number  string // ticket number carried by a QR payload in Code, if any
	EventID string // the event staffed at this gate
	GateID  string
	Staff   auth.Identity
}

// Decision is what the staff display renders. Prior is set for duplicates.
type Decision struct {
	Classification models.Classification `json:"classification"`
	Reason         models.Reason         `json:"reason"`
	Message        string                `json:"message"`
	Ticket         *models.Ticket        `json:"ticket,omitempty"`
	Prior          *models.ScanRecord    `json:"prior,omitempty"`
	Record         models.ScanRecord     `json:"record"`
}

func (d Decision) Admitted() bool {
	return d.Classification == models.ClassValid
}

type Validator struct {
	Registry registry.Registry
	Logger   *logger.Logger
	pattern  *regexp.Regexp
}

// NewValidator builds a validator accepting ticket numbers matching pattern;
// an empty pattern means registry.DefaultTicketNumberPattern.
func NewValidator(reg registry.Registry, pattern string, log *logger.Logger) (*Validator, error) {
	if pattern == "" {
		pattern = registry.DefaultTicketNumberPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid ticket number pattern: %w", err)
	}
	return &Validator{Registry: reg, Logger: log, pattern: re}, nil
}

func (v *Validator) wellFormed(code string) bool {
	if v.pattern == nil {
		return registry.ValidNumber(code)
	}
	return v.pattern.MatchString(code)
}

// Validate classifies scan and records the attempt. The error is non-nil
// only when the registry could not be reached; every business outcome is a
// Decision.
func (v *Validator) Validate(ctx context.Context, scan Scan) (Decision, error) {
	attempt := models.ScanRecord{
		Code:    scan.Code,
		EventID: scan.EventID,
		StaffID: scan.Staff.UserID,
		GateID:  scan.GateID,
	}

	code := scan.Number
	if code == "" {
		code = scan.Code
	}
	code = registry.NormalizeCode(code)
	if len(code) > models.MaxScannedCodeLength || !v.wellFormed(code) {
		return v.reject(ctx, attempt, models.ClassInvalid, models.ReasonMalformedCode, nil, nil)
	}

	ticket, err := v.Registry.Lookup(ctx, code)
	if errors.Is(err, registry.ErrNotFound) {
		return v.reject(ctx, attempt, models.ClassInvalid, models.ReasonUnknownTicket, nil, nil)
	}
	if err != nil {
		return Decision{}, v.storageFailure("lookup", err)
	}
	attempt.TicketNumber = ticket.Number

	if ticket.EventID != scan.EventID {
		return v.reject(ctx, attempt, models.ClassInvalid, models.ReasonWrongEvent, &ticket, nil)
	}

	switch ticket.State {
	case models.StateRevoked:
		return v.reject(ctx, attempt, models.ClassRevoked, models.ReasonRevoked, &ticket, nil)
	case models.StateCheckedIn:
		prior, err := v.Registry.FirstCheckIn(ctx, ticket.Number)
		if err != nil {
			return Decision{}, v.storageFailure("first check-in", err)
		}
		return v.reject(ctx, attempt, models.ClassDuplicate, models.ReasonAlreadyCheckedIn, &ticket, &prior)
	}

	rec, err := v.Registry.MarkCheckedIn(ctx, ticket.Number, scan.Code, scan.Staff.UserID, scan.GateID)
	var dup *registry.AlreadyCheckedInError
	switch {
	case err == nil:
		ticket.State = models.StateCheckedIn
		ticket.StateChangedAt = rec.ScannedAt
		return v.decide(models.ClassValid, models.ReasonAdmitted, rec, &ticket, nil), nil
	case errors.As(err, &dup):
		// lost the race to another gate
		ticket.State = models.StateCheckedIn
		return v.reject(ctx, attempt, models.ClassDuplicate, models.ReasonAlreadyCheckedIn, &ticket, &dup.Prior)
	case errors.Is(err, registry.ErrRevoked):
		ticket.State = models.StateRevoked
		return v.reject(ctx, attempt, models.ClassRevoked, models.ReasonRevoked, &ticket, nil)
	case errors.Is(err, registry.ErrNotFound):
		attempt.TicketNumber = ""
		return v.reject(ctx, attempt, models.ClassInvalid, models.ReasonUnknownTicket, nil, nil)
	default:
		return Decision{}, v.storageFailure("mark checked in", err)
	}
}

// reject appends a non-admitting attempt to the audit trail.
func (v *Validator) reject(ctx context.Context, attempt models.ScanRecord, cl models.Classification, reason models.Reason,
	ticket *models.Ticket, prior *models.ScanRecord) (Decision, error) {
	attempt.Classification = cl
	attempt.Reason = reason
	rec, err := v.Registry.RecordAttempt(ctx, attempt)
	if err != nil {
		return Decision{}, v.storageFailure("record attempt", err)
	}
	return v.decide(cl, reason, rec, ticket, prior), nil
}

func (v *Validator) decide(cl models.Classification, reason models.Reason, rec models.ScanRecord,
	ticket *models.Ticket, prior *models.ScanRecord) Decision {
	d := Decision{
		Classification: cl,
		Reason:         reason,
		Ticket:         ticket,
		Prior:          prior,
		Record:         rec,
	}
	d.Message = Message(d)
	v.Logger.LogScan(rec.GateID, rec.Code, fmt.Sprintf("%s (%s)", cl, reason))
	return d
}

func (v *Validator) storageFailure(op string, err error) error {
	v.Logger.Error("REGISTRY", fmt.Sprintf("%s failed: %v", op, err))
	var se *registry.StorageError
	if errors.As(err, &se) {
		return err
	}
	return registry.Storage(op, err)
}

// Message is the line shown to front-line staff for d.
func Message(d Decision) string {
	switch d.Classification {
	case models.ClassValid:
		if d.Reason == models.ReasonOverride {
			return "Re-entry allowed by staff override."
		}
		name := "guest"
		if d.Ticket != nil && d.Ticket.HolderName != "" {
			name = d.Ticket.HolderName
		}
		return fmt.Sprintf("Welcome %s! Ticket verified.", name)
	case models.ClassDuplicate:
		if d.Prior == nil {
			return "Already checked in."
		}
		return fmt.Sprintf("Already checked in at %s at %s by %s",
			d.Prior.GateID, d.Prior.ScannedAt.Format("15:04:05"), d.Prior.StaffID)
	case models.ClassRevoked:
		return "Cannot admit: ticket has been revoked"
	default:
		if d.Reason == models.ReasonWrongEvent {
			return "Cannot admit: ticket is for another event"
		}
		return "Cannot admit: ticket not recognised"
	}
}
