package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-checkin/internal/models"
)

// DefaultTicketNumberPattern accepts the numbers this registry issues
// (TC2024-001234) as well as short legacy forms such as TC-001.
const DefaultTicketNumberPattern = `^[A-Z]{2,5}[0-9]{0,4}-[0-9]{3,6}$`

// MaxCapacity keeps every sequence number within six digits.
const MaxCapacity = 999999

var (
	ticketNumberRe = regexp.MustCompile(DefaultTicketNumberPattern)
	eventCodeRe    = regexp.MustCompile(`^[A-Z]{2,5}$`)
)

// ValidNumber reports whether s has the shape of a ticket number.
func ValidNumber(s string) bool {
	return ticketNumberRe.MatchString(s)
}

// FormatNumber builds the ticket number for the seq-th ticket of an event.
func FormatNumber(code string, startsAt time.Time, seq int) string {
	return fmt.Sprintf("%s%04d-%06d", code, startsAt.Year(), seq)
}

// NormalizeCode trims device noise (whitespace, lowercase) from scanned text.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateEvent checks a new event before it is stored and fills defaults.
func ValidateEvent(ev models.Event, now time.Time) (models.Event, error) {
	ev.Code = strings.ToUpper(strings.TrimSpace(ev.Code))
	ev.Title = strings.TrimSpace(ev.Title)

	switch {
	case ev.Title == "":
		return ev, fmt.Errorf("%w: title is required", ErrInvalidEvent)
	case !eventCodeRe.MatchString(ev.Code):
		return ev, fmt.Errorf("%w: code must be 2-5 uppercase letters", ErrInvalidEvent)
	case ev.Capacity <= 0 || ev.Capacity > MaxCapacity:
		return ev, fmt.Errorf("%w: capacity must be between 1 and %d", ErrInvalidEvent, MaxCapacity)
	case ev.StartsAt.IsZero():
		return ev, fmt.Errorf("%w: start time is required", ErrInvalidEvent)
	case !ev.EndsAt.IsZero() && ev.EndsAt.Before(ev.StartsAt):
		return ev, fmt.Errorf("%w: event ends before it starts", ErrInvalidEvent)
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.EndsAt.IsZero() {
		ev.EndsAt = ev.StartsAt
	}
	ev.Issued = 0
	ev.Archived = false
	ev.CreatedAt = now
	return ev, nil
}

// ValidateRequests rejects an empty batch and requests without a holder.
func ValidateRequests(reqs []models.IssueRequest) error {
	if len(reqs) == 0 {
		return ErrEmptyRequest
	}
	for _, r := range reqs {
		if strings.TrimSpace(r.Holder.ID) == "" {
			return ErrInvalidHolder
		}
	}
	return nil
}
