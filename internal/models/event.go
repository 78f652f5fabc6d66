package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `bun:"id,pk" json:"id"`
	Code        string    `bun:"code,unique,notnull" json:"code"`
	Title       string    `bun:"title,notnull" json:"title"`
	Description string    `bun:"description" json:"description,omitempty"`
	Location    string    `bun:"location" json:"location"`
	StartsAt    time.Time `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt      time.Time `bun:"ends_at,notnull" json:"ends_at"`
	Capacity    int       `bun:"capacity,notnull" json:"capacity"`
	Issued      int       `bun:"issued,notnull" json:"issued"`
	Archived    bool      `bun:"archived,notnull" json:"archived"`
	CreatedBy   string    `bun:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

// EventStats is the organizer/staff summary of an event's tickets.
type EventStats struct {
	EventID      string `json:"event_id"`
	Capacity     int    `json:"capacity"`
	Issued       int    `json:"issued"`
	Unused       int    `json:"unused"`
	CheckedIn    int    `json:"checked_in"`
	Revoked      int    `json:"revoked"`
	Availability string `json:"availability"`
}
