package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CheckInState only moves forward: UNUSED -> CHECKED_IN, UNUSED|CHECKED_IN -> REVOKED.
type CheckInState string

const (
	StateUnused    CheckInState = "UNUSED"
	StateCheckedIn CheckInState = "CHECKED_IN"
	StateRevoked   CheckInState = "REVOKED"
)

type Holder struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	Number         string       `bun:"number,pk" json:"ticket_number"`
	EventID        string       `bun:"event_id,notnull" json:"event_id"`
	HolderID       string       `bun:"holder_id,notnull" json:"holder_id"`
	HolderName     string       `bun:"holder_name" json:"holder_name"`
	HolderEmail    string       `bun:"holder_email" json:"holder_email,omitempty"`
	Seat           string       `bun:"seat" json:"seat,omitempty"`
	Gate           string       `bun:"gate" json:"gate,omitempty"`
	IssuedAt       time.Time    `bun:"issued_at,notnull" json:"issued_at"`
	State          CheckInState `bun:"state,notnull" json:"state"`
	StateChangedAt time.Time    `bun:"state_changed_at,nullzero" json:"state_changed_at,omitempty"`
}

func (t Ticket) Holder() Holder {
	return Holder{ID: t.HolderID, Name: t.HolderName, Email: t.HolderEmail}
}

// IssueRequest carries the optional placement fields of a new ticket.
type IssueRequest struct {
	Holder Holder `json:"holder"`
	Seat   string `json:"seat,omitempty"`
	Gate   string `json:"gate,omitempty"`
}
