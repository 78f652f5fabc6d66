// Package db is the durable registry. State transitions are conditional
// UPDATEs (compare-and-swap on the current state or issued count) run in the
// same transaction as the audit record they produce.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-checkin/internal/capacity"
	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
)

type DB struct {
	Bun *bun.DB
	Now func() time.Time
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b, Now: time.Now}
}

var _ registry.Registry = (*DB)(nil)

func (d *DB) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// wrap passes business outcomes through and marks everything else as a
// storage failure.
func wrap(op string, err error) error {
	if err == nil || registry.IsBusiness(err) {
		return err
	}
	var se *registry.StorageError
	if errors.As(err, &se) {
		return err
	}
	return registry.Storage(op, err)
}

// isUniqueViolation recognises a unique constraint failure from postgres
// (SQLSTATE 23505) or sqlite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func getTicket(ctx context.Context, q bun.IDB, number string) (models.Ticket, error) {
	var t models.Ticket
	err := q.NewSelect().
		Model(&t).
		Where("number = ?", number).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return models.Ticket{}, notFound(err, registry.ErrNotFound)
	}
	return t, nil
}

func getEvent(ctx context.Context, q bun.IDB, eventID string) (models.Event, error) {
	var ev models.Event
	err := q.NewSelect().
		Model(&ev).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return models.Event{}, notFound(err, registry.ErrEventNotFound)
	}
	return ev, nil
}

func firstCheckIn(ctx context.Context, q bun.IDB, number string) (models.ScanRecord, error) {
	var rec models.ScanRecord
	err := q.NewSelect().
		Model(&rec).
		Where("ticket_number = ?", number).
		Where("classification = ?", models.ClassValid).
		Where("override = ?", false).
		OrderExpr("seq ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return models.ScanRecord{}, notFound(err, registry.ErrNotCheckedIn)
	}
	return rec, nil
}

func (d *DB) insertScan(ctx context.Context, q bun.IDB, rec *models.ScanRecord) error {
	rec.ID = uuid.NewString()
	rec.Code = models.TruncateCode(rec.Code)
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = d.now()
	}
	_, err := q.NewInsert().Model(rec).Returning("seq").Exec(ctx)
	return err
}

func (d *DB) insertIssuance(ctx context.Context, q bun.IDB, rec *models.IssuanceRecord) error {
	rec.ID = uuid.NewString()
	if rec.At.IsZero() {
		rec.At = d.now()
	}
	_, err := q.NewInsert().Model(rec).Returning("seq").Exec(ctx)
	return err
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ---------------- TICKETS ----------------

func (d *DB) Lookup(ctx context.Context, number string) (models.Ticket, error) {
	t, err := getTicket(ctx, d.Bun, number)
	return t, wrap("lookup", err)
}

func (d *DB) MarkCheckedIn(ctx context.Context, number, code, staffID, gateID string) (models.ScanRecord, error) {
	if code == "" {
		code = number
	}
	var rec models.ScanRecord
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := d.now()
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("state = ?", models.StateCheckedIn).
			Set("state_changed_at = ?", now).
			Where("number = ?", number).
			Where("state = ?", models.StateUnused).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}

		if n == 0 {
			t, err := getTicket(ctx, tx, number)
			if err != nil {
				return err
			}
			if t.State == models.StateRevoked {
				return registry.ErrRevoked
			}
			prior, err := firstCheckIn(ctx, tx, number)
			if err != nil {
				return err
			}
			return &registry.AlreadyCheckedInError{Prior: prior}
		}

		t, err := getTicket(ctx, tx, number)
		if err != nil {
			return err
		}
		rec = models.ScanRecord{
			Code:           code,
			TicketNumber:   number,
			EventID:        t.EventID,
			Classification: models.ClassValid,
			Reason:         models.ReasonAdmitted,
			StaffID:        staffID,
			GateID:         gateID,
			ScannedAt:      now,
		}
		return d.insertScan(ctx, tx, &rec)
	})
	if err != nil {
		return models.ScanRecord{}, wrap("mark checked in", err)
	}
	return rec, nil
}

func (d *DB) IssueTicket(ctx context.Context, eventID string, req models.IssueRequest) (models.Ticket, error) {
	tickets, err := d.IssueTickets(ctx, eventID, []models.IssueRequest{req})
	if err != nil {
		return models.Ticket{}, err
	}
	return tickets[0], nil
}

func (d *DB) IssueTickets(ctx context.Context, eventID string, reqs []models.IssueRequest) ([]models.Ticket, error) {
	if err := registry.ValidateRequests(reqs); err != nil {
		return nil, err
	}
	n := len(reqs)

	var tickets []models.Ticket
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Event)(nil)).
			Set("issued = issued + ?", n).
			Where("id = ?", eventID).
			Where("archived = ?", false).
			Where("issued + ? <= capacity", n).
			Exec(ctx)
		if err != nil {
			return err
		}
		updated, err := rowsAffected(res)
		if err != nil {
			return err
		}

		ev, err := getEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if updated == 0 {
			if ev.Archived {
				return registry.ErrEventArchived
			}
			return registry.ErrCapacityExceeded
		}

		now := d.now()
		first := ev.Issued - n + 1
		tickets = make([]models.Ticket, 0, n)
		for i, req := range reqs {
			tickets = append(tickets, models.Ticket{
				Number:      registry.FormatNumber(ev.Code, ev.StartsAt, first+i),
				EventID:     eventID,
				HolderID:    req.Holder.ID,
				HolderName:  req.Holder.Name,
				HolderEmail: req.Holder.Email,
				Seat:        req.Seat,
				Gate:        req.Gate,
				IssuedAt:    now,
				State:       models.StateUnused,
			})
		}
		if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
			return err
		}

		for _, t := range tickets {
			err := d.insertIssuance(ctx, tx, &models.IssuanceRecord{
				Kind:         models.IssuanceIssued,
				EventID:      eventID,
				TicketNumber: t.Number,
				Actor:        t.HolderID,
				At:           now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("issue tickets", err)
	}
	return tickets, nil
}

// Revoke retries its compare-and-swap when a concurrent check-in moves the
// ticket between the read and the update.
func (d *DB) Revoke(ctx context.Context, number, actor string) (models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for attempt := 0; attempt < 3; attempt++ {
			t, err := getTicket(ctx, tx, number)
			if err != nil {
				return err
			}
			prior := t.State
			now := d.now()

			if prior != models.StateRevoked {
				res, err := tx.NewUpdate().
					Model((*models.Ticket)(nil)).
					Set("state = ?", models.StateRevoked).
					Set("state_changed_at = ?", now).
					Where("number = ?", number).
					Where("state = ?", prior).
					Exec(ctx)
				if err != nil {
					return err
				}
				n, err := rowsAffected(res)
				if err != nil {
					return err
				}
				if n == 0 {
					continue
				}
				t.State = models.StateRevoked
				t.StateChangedAt = now
			}

			ticket = t
			return d.insertIssuance(ctx, tx, &models.IssuanceRecord{
				Kind:         models.IssuanceRevoked,
				EventID:      t.EventID,
				TicketNumber: number,
				PriorState:   prior,
				Actor:        actor,
				At:           now,
			})
		}
		return fmt.Errorf("ticket %s kept changing state during revoke", number)
	})
	if err != nil {
		return models.Ticket{}, wrap("revoke", err)
	}
	return ticket, nil
}

func (d *DB) FirstCheckIn(ctx context.Context, number string) (models.ScanRecord, error) {
	if _, err := getTicket(ctx, d.Bun, number); err != nil {
		return models.ScanRecord{}, wrap("first check-in", err)
	}
	rec, err := firstCheckIn(ctx, d.Bun, number)
	return rec, wrap("first check-in", err)
}

func (d *DB) RecordAttempt(ctx context.Context, rec models.ScanRecord) (models.ScanRecord, error) {
	if rec.Classification == models.ClassValid {
		return models.ScanRecord{}, errors.New("admitting records are written by MarkCheckedIn or OverrideReentry")
	}
	if rec.TicketNumber != "" {
		_, err := getTicket(ctx, d.Bun, rec.TicketNumber)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			rec.TicketNumber = ""
		case err != nil:
			return models.ScanRecord{}, wrap("record attempt", err)
		}
	}
	if err := d.insertScan(ctx, d.Bun, &rec); err != nil {
		return models.ScanRecord{}, wrap("record attempt", err)
	}
	return rec, nil
}

func (d *DB) OverrideReentry(ctx context.Context, number, staffID, gateID, note string) (models.ScanRecord, error) {
	var rec models.ScanRecord
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		t, err := getTicket(ctx, tx, number)
		if err != nil {
			return err
		}
		switch t.State {
		case models.StateRevoked:
			return registry.ErrRevoked
		case models.StateUnused:
			return registry.ErrNotCheckedIn
		}
		rec = models.ScanRecord{
			Code:           number,
			TicketNumber:   number,
			EventID:        t.EventID,
			Classification: models.ClassValid,
			Reason:         models.ReasonOverride,
			Override:       true,
			Note:           note,
			StaffID:        staffID,
			GateID:         gateID,
		}
		return d.insertScan(ctx, tx, &rec)
	})
	if err != nil {
		return models.ScanRecord{}, wrap("override reentry", err)
	}
	return rec, nil
}

func (d *DB) ScanHistory(ctx context.Context, number string) ([]models.ScanRecord, error) {
	if _, err := getTicket(ctx, d.Bun, number); err != nil {
		return nil, wrap("scan history", err)
	}
	records := []models.ScanRecord{}
	err := d.Bun.NewSelect().
		Model(&records).
		Where("ticket_number = ?", number).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrap("scan history", err)
	}
	return records, nil
}

func (d *DB) EventScans(ctx context.Context, eventID string, limit int) ([]models.ScanRecord, error) {
	if _, err := getEvent(ctx, d.Bun, eventID); err != nil {
		return nil, wrap("event scans", err)
	}
	records := []models.ScanRecord{}
	q := d.Bun.NewSelect().
		Model(&records).
		Where("event_id = ?", eventID).
		OrderExpr("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("event scans", err)
	}
	return records, nil
}

func (d *DB) TicketsByHolder(ctx context.Context, holderID string) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("holder_id = ?", holderID).
		OrderExpr("issued_at ASC, number ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrap("tickets by holder", err)
	}
	return tickets, nil
}

// ---------------- EVENTS ----------------

func (d *DB) CreateEvent(ctx context.Context, event models.Event) (models.Event, error) {
	ev, err := registry.ValidateEvent(event, d.now())
	if err != nil {
		return models.Event{}, err
	}

	err = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := tx.NewSelect().
			Model((*models.Event)(nil)).
			Where("code = ?", ev.Code).
			Exists(ctx)
		if err != nil {
			return err
		}
		if taken {
			return registry.ErrDuplicateEventCode
		}
		_, err = tx.NewInsert().Model(&ev).Exec(ctx)
		if isUniqueViolation(err) {
			// a concurrent create took the code after the check above
			return registry.ErrDuplicateEventCode
		}
		return err
	})
	if err != nil {
		return models.Event{}, wrap("create event", err)
	}
	return ev, nil
}

func (d *DB) GetEvent(ctx context.Context, eventID string) (models.Event, error) {
	ev, err := getEvent(ctx, d.Bun, eventID)
	return ev, wrap("get event", err)
}

func (d *DB) ListEvents(ctx context.Context, includeArchived bool) ([]models.Event, error) {
	events := []models.Event{}
	q := d.Bun.NewSelect().
		Model(&events).
		OrderExpr("starts_at ASC, id ASC")
	if !includeArchived {
		q = q.Where("archived = ?", false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list events", err)
	}
	return events, nil
}

func (d *DB) UpdateCapacity(ctx context.Context, eventID string, newCapacity int, actor string) (models.Event, error) {
	if newCapacity > registry.MaxCapacity {
		return models.Event{}, fmt.Errorf("%w: capacity must be at most %d", registry.ErrInvalidEvent, registry.MaxCapacity)
	}

	var ev models.Event
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		before, err := getEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !capacity.CanResize(before.Issued, newCapacity) {
			return registry.ErrCapacityBelowIssued
		}

		res, err := tx.NewUpdate().
			Model((*models.Event)(nil)).
			Set("capacity = ?", newCapacity).
			Where("id = ?", eventID).
			Where("issued <= ?", newCapacity).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return registry.ErrCapacityBelowIssued
		}

		if ev, err = getEvent(ctx, tx, eventID); err != nil {
			return err
		}
		return d.insertIssuance(ctx, tx, &models.IssuanceRecord{
			Kind:    models.IssuanceCapacityChanged,
			EventID: eventID,
			Detail:  fmt.Sprintf("%d -> %d", before.Capacity, newCapacity),
			Actor:   actor,
		})
	})
	if err != nil {
		return models.Event{}, wrap("update capacity", err)
	}
	return ev, nil
}

func (d *DB) ArchiveEvent(ctx context.Context, eventID, actor string) (models.Event, error) {
	var ev models.Event
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Event)(nil)).
			Set("archived = ?", true).
			Where("id = ?", eventID).
			Where("archived = ?", false).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}

		if ev, err = getEvent(ctx, tx, eventID); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		return d.insertIssuance(ctx, tx, &models.IssuanceRecord{
			Kind:    models.IssuanceArchived,
			EventID: eventID,
			Actor:   actor,
		})
	})
	if err != nil {
		return models.Event{}, wrap("archive event", err)
	}
	return ev, nil
}

func (d *DB) DeleteEvent(ctx context.Context, eventID string) error {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*models.Event)(nil)).
			Where("id = ?", eventID).
			Where("issued = 0").
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		if _, err := getEvent(ctx, tx, eventID); err != nil {
			return err
		}
		return registry.ErrEventHasTickets
	})
	return wrap("delete event", err)
}

func (d *DB) EventStats(ctx context.Context, eventID string) (models.EventStats, error) {
	ev, err := getEvent(ctx, d.Bun, eventID)
	if err != nil {
		return models.EventStats{}, wrap("event stats", err)
	}

	var counts []struct {
		State models.CheckInState `bun:"state"`
		N     int                 `bun:"n"`
	}
	err = d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("state").
		ColumnExpr("COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Group("state").
		Scan(ctx, &counts)
	if err != nil {
		return models.EventStats{}, wrap("event stats", err)
	}

	stats := models.EventStats{
		EventID:      eventID,
		Capacity:     ev.Capacity,
		Issued:       ev.Issued,
		Availability: string(capacity.Status(ev.Issued, ev.Capacity)),
	}
	for _, c := range counts {
		switch c.State {
		case models.StateUnused:
			stats.Unused = c.N
		case models.StateCheckedIn:
			stats.CheckedIn = c.N
		case models.StateRevoked:
			stats.Revoked = c.N
		}
	}
	return stats, nil
}

func (d *DB) IssuanceLog(ctx context.Context, eventID string) ([]models.IssuanceRecord, error) {
	if _, err := getEvent(ctx, d.Bun, eventID); err != nil {
		return nil, wrap("issuance log", err)
	}
	records := []models.IssuanceRecord{}
	err := d.Bun.NewSelect().
		Model(&records).
		Where("event_id = ?", eventID).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrap("issuance log", err)
	}
	return records, nil
}
