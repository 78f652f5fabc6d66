package models

import (
	"time"

	"github.com/uptrace/bun"
)

type IssuanceKind string

const (
	IssuanceIssued          IssuanceKind = "issued"
	IssuanceRevoked         IssuanceKind = "revoked"
	IssuanceCapacityChanged IssuanceKind = "capacity_changed"
	IssuanceArchived        IssuanceKind = "archived"
)

// IssuanceRecord is the administrative counterpart of ScanRecord: every
// issuance-side state change leaves one entry.
type IssuanceRecord struct {
	bun.BaseModel `bun:"table:issuance_log"`

	Seq          int64        `bun:"seq,pk,autoincrement" json:"seq"`
	ID           string       `bun:"id,unique,notnull" json:"id"`
	Kind         IssuanceKind `bun:"kind,notnull" json:"kind"`
	EventID      string       `bun:"event_id,notnull" json:"event_id"`
	TicketNumber string       `bun:"ticket_number" json:"ticket_number,omitempty"`
	PriorState   CheckInState `bun:"prior_state" json:"prior_state,omitempty"`
	Detail       string       `bun:"detail" json:"detail,omitempty"`
	Actor        string       `bun:"actor" json:"actor,omitempty"`
	At           time.Time    `bun:"at,notnull" json:"at"`
}
