package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

var tables = []interface{}{
	(*models.Event)(nil),
	(*models.Ticket)(nil),
	(*models.ScanRecord)(nil),
	(*models.IssuanceRecord)(nil),
}

// Migrate creates the registry tables and their lookup indexes if they are
// missing. Existing data is never dropped.
func Migrate(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model  interface{}
		name   string
		column string
	}{
		{(*models.Ticket)(nil), "tickets_event_idx", "event_id"},
		{(*models.Ticket)(nil), "tickets_holder_idx", "holder_id"},
		{(*models.ScanRecord)(nil), "scan_records_ticket_idx", "ticket_number"},
		{(*models.ScanRecord)(nil), "scan_records_event_idx", "event_id"},
		{(*models.IssuanceRecord)(nil), "issuance_log_event_idx", "event_id"},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	return nil
}
