package registry

import (
	"errors"
	"fmt"

	"ms-checkin/internal/models"
)

// Business outcomes. These are expected results of normal operation and are
// recovered by callers; only StorageError means the registry itself failed.
var (
	ErrNotFound         = errors.New("ticket not found")
	ErrAlreadyCheckedIn = errors.New("ticket already checked in")
	ErrRevoked          = errors.New("ticket revoked")
	ErrCapacityExceeded = errors.New("event capacity exceeded")
	ErrMalformedCode    = errors.New("malformed ticket code")
	ErrNotCheckedIn     = errors.New("ticket has not been checked in")
	ErrInvalidHolder    = errors.New("ticket holder is required")
	ErrEmptyRequest     = errors.New("no tickets requested")

	ErrEventNotFound       = errors.New("event not found")
	ErrEventArchived       = errors.New("event is archived")
	ErrCapacityBelowIssued = errors.New("capacity cannot go below issued tickets")
	ErrDuplicateEventCode  = errors.New("event code already in use")
	ErrEventHasTickets     = errors.New("event has issued tickets, archive it instead")
	ErrInvalidEvent        = errors.New("invalid event")
)

// AlreadyCheckedInError carries the record of the scan that admitted the
// ticket first, so staff can see where and when entry happened.
type AlreadyCheckedInError struct {
	Prior models.ScanRecord
}

func (e *AlreadyCheckedInError) Error() string {
	return fmt.Sprintf("ticket %s already checked in at %s (%s)",
		e.Prior.TicketNumber, e.Prior.GateID, e.Prior.ScannedAt.Format("2006-01-02 15:04:05"))
}

func (e *AlreadyCheckedInError) Is(target error) bool {
	return target == ErrAlreadyCheckedIn
}

// StorageError reports that the backing store could not serve the request.
// It is never a statement about the ticket itself.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("registry storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps a backend error as a StorageError so callers can tell an
// outage from a business outcome.
func Storage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

var businessErrors = []error{
	ErrNotFound, ErrAlreadyCheckedIn, ErrRevoked, ErrCapacityExceeded, ErrMalformedCode,
	ErrNotCheckedIn, ErrInvalidHolder, ErrEmptyRequest, ErrEventNotFound, ErrEventArchived,
	ErrCapacityBelowIssued, ErrDuplicateEventCode, ErrEventHasTickets, ErrInvalidEvent,
}

// IsBusiness reports whether err is one of the registry's expected outcomes.
func IsBusiness(err error) bool {
	if err == nil {
		return false
	}
	var se *StorageError
	if errors.As(err, &se) {
		return false
	}
	for _, b := range businessErrors {
		if errors.Is(err, b) {
			return true
		}
	}
	return false
}
