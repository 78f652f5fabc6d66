package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Classification string

const (
	ClassValid     Classification = "valid"
	ClassDuplicate Classification = "duplicate"
	ClassInvalid   Classification = "invalid"
	ClassRevoked   Classification = "revoked"
)

// Reason narrows a classification for staff diagnostics. Front-line display
// only needs the classification.
type Reason string

const (
	ReasonAdmitted         Reason = "admitted"
	ReasonOverride         Reason = "override"
	ReasonMalformedCode    Reason = "malformed_code"
	ReasonUnknownTicket    Reason = "unknown_ticket"
	ReasonWrongEvent       Reason = "wrong_event"
	ReasonRevoked          Reason = "revoked"
	ReasonAlreadyCheckedIn Reason = "already_checked_in"
)

// MaxScannedCodeLength bounds the raw device input kept in the audit trail.
const MaxScannedCodeLength = 128

// ScanRecord is one verification attempt. Records are append-only: once the
// registry assigns Seq they are never mutated or removed.
type ScanRecord struct {
	bun.BaseModel `bun:"table:scan_records"`

	Seq            int64          `bun:"seq,pk,autoincrement" json:"seq"`
	ID             string         `bun:"id,unique,notnull" json:"id"`
	Code           string         `bun:"code" json:"code"`
	TicketNumber   string         `bun:"ticket_number" json:"ticket_number,omitempty"`
	EventID        string         `bun:"event_id" json:"event_id,omitempty"`
	Classification Classification `bun:"classification,notnull" json:"classification"`
	Reason         Reason         `bun:"reason" json:"reason,omitempty"`
	Override       bool           `bun:"override,notnull" json:"override,omitempty"`
	Note           string         `bun:"note" json:"note,omitempty"`
	StaffID        string         `bun:"staff_id,notnull" json:"staff_id"`
	GateID         string         `bun:"gate_id,notnull" json:"gate_id"`
	ScannedAt      time.Time      `bun:"scanned_at,notnull" json:"scanned_at"`
}

// Admitted reports whether the record granted entry.
func (r ScanRecord) Admitted() bool {
	return r.Classification == ClassValid
}

// TruncateCode clips raw device input to MaxScannedCodeLength bytes.
func TruncateCode(code string) string {
	if len(code) > MaxScannedCodeLength {
		return code[:MaxScannedCodeLength]
	}
	return code
}
