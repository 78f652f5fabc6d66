package tickets

import (
	"context"
	"errors"
	"fmt"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/capacity"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
	"ms-checkin/internal/tickets/qr"
)

// MaxPerPurchase bounds how many tickets one purchase may request.
const MaxPerPurchase = 10

var ErrInvalidQuantity = fmt.Errorf("a purchase must request between 1 and %d tickets", MaxPerPurchase)

// TicketPublisher announces issued and revoked tickets to other services.
type TicketPublisher interface {
	PublishTicketIssued(ctx context.Context, t models.Ticket, actor string) error
	PublishTicketRevoked(ctx context.Context, t models.Ticket, actor string) error
}

type TicketService struct {
	Registry  registry.Registry
	QR        *qr.QRGenerator
	Publisher TicketPublisher
	Logger    *logger.Logger
}

func NewTicketService(reg registry.Registry, gen *qr.QRGenerator, pub TicketPublisher, log *logger.Logger) *TicketService {
	return &TicketService{Registry: reg, QR: gen, Publisher: pub, Logger: log}
}

// Availability is the public view of how full an event is.
type Availability struct {
	EventID   string                `json:"event_id"`
	Capacity  int                   `json:"capacity"`
	Issued    int                   `json:"issued"`
	Remaining int                   `json:"remaining"`
	Percent   int                   `json:"percent"`
	Status    capacity.Availability `json:"status"`
}

// PurchaseRequest asks for Quantity unseated tickets, or one ticket per seat.
type PurchaseRequest struct {
	Quantity int      `json:"quantity"`
	Seats    []string `json:"seats,omitempty"`
}

// ---------------- EVENTS ----------------

func (s *TicketService) CreateEvent(ctx context.Context, caller auth.Identity, ev models.Event) (models.Event, error) {
	if err := caller.Authorize(auth.CanManageEvents); err != nil {
		return models.Event{}, err
	}
	ev.CreatedBy = caller.UserID
	created, err := s.Registry.CreateEvent(ctx, ev)
	if err != nil {
		return models.Event{}, err
	}
	s.Logger.Info("REGISTRY", fmt.Sprintf("Event %s (%s) created by %s with capacity %d",
		created.ID, created.Code, caller.UserID, created.Capacity))
	return created, nil
}

// ListEvents hides archived events from everyone but organizers.
func (s *TicketService) ListEvents(ctx context.Context, caller auth.Identity, includeArchived bool) ([]models.Event, error) {
	if includeArchived && !caller.Can(auth.CanManageEvents) {
		includeArchived = false
	}
	return s.Registry.ListEvents(ctx, includeArchived)
}

func (s *TicketService) GetEvent(ctx context.Context, eventID string) (models.Event, error) {
	return s.Registry.GetEvent(ctx, eventID)
}

func (s *TicketService) Availability(ctx context.Context, eventID string) (Availability, error) {
	ev, err := s.Registry.GetEvent(ctx, eventID)
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		EventID:   ev.ID,
		Capacity:  ev.Capacity,
		Issued:    ev.Issued,
		Remaining: capacity.Remaining(ev.Issued, ev.Capacity),
		Percent:   capacity.Percent(ev.Issued, ev.Capacity),
		Status:    capacity.Status(ev.Issued, ev.Capacity),
	}, nil
}

func (s *TicketService) UpdateCapacity(ctx context.Context, caller auth.Identity, eventID string, newCapacity int) (models.Event, error) {
	if err := caller.Authorize(auth.CanManageEvents); err != nil {
		return models.Event{}, err
	}
	ev, err := s.Registry.UpdateCapacity(ctx, eventID, newCapacity, caller.UserID)
	if err != nil {
		return models.Event{}, err
	}
	s.Logger.Info("REGISTRY", fmt.Sprintf("Capacity of %s set to %d by %s", eventID, newCapacity, caller.UserID))
	return ev, nil
}

func (s *TicketService) Archive(ctx context.Context, caller auth.Identity, eventID string) (models.Event, error) {
	if err := caller.Authorize(auth.CanManageEvents); err != nil {
		return models.Event{}, err
	}
	ev, err := s.Registry.ArchiveEvent(ctx, eventID, caller.UserID)
	if err != nil {
		return models.Event{}, err
	}
	s.Logger.Info("REGISTRY", fmt.Sprintf("Event %s archived by %s", eventID, caller.UserID))
	return ev, nil
}

// Delete removes an event that never issued a ticket. Events with tickets
// must be archived instead.
func (s *TicketService) Delete(ctx context.Context, caller auth.Identity, eventID string) error {
	if err := caller.Authorize(auth.CanManageEvents); err != nil {
		return err
	}
	if err := s.Registry.DeleteEvent(ctx, eventID); err != nil {
		return err
	}
	s.Logger.Info("REGISTRY", fmt.Sprintf("Event %s deleted by %s", eventID, caller.UserID))
	return nil
}

func (s *TicketService) Stats(ctx context.Context, caller auth.Identity, eventID string) (models.EventStats, error) {
	if err := authorizeAny(caller, auth.CanManageEvents, auth.CanScanTickets); err != nil {
		return models.EventStats{}, err
	}
	return s.Registry.EventStats(ctx, eventID)
}

func (s *TicketService) IssuanceLog(ctx context.Context, caller auth.Identity, eventID string) ([]models.IssuanceRecord, error) {
	if err := caller.Authorize(auth.CanManageEvents); err != nil {
		return nil, err
	}
	return s.Registry.IssuanceLog(ctx, eventID)
}

// ---------------- TICKETS ----------------

// Purchase issues tickets to the caller. The whole request is refused when
// the event cannot take all of it.
func (s *TicketService) Purchase(ctx context.Context, caller auth.Identity, eventID string, req PurchaseRequest) ([]models.Ticket, error) {
	if err := caller.Authorize(auth.CanHoldTickets); err != nil {
		return nil, err
	}
	order := models.OrderCompleted{
		EventID:  eventID,
		UserID:   caller.UserID,
		UserName: caller.DisplayName(),
		Email:    caller.Email,
		Quantity: req.Quantity,
		Seats:    req.Seats,
	}
	return s.issue(ctx, order, caller.UserID)
}

// HandleOrderCompleted issues the tickets of a paid order. Orders the
// registry refuses are permanent failures and are not retried.
func (s *TicketService) HandleOrderCompleted(ctx context.Context, order models.OrderCompleted) error {
	_, err := s.issue(ctx, order, order.UserID)
	if err != nil && (registry.IsBusiness(err) || errors.Is(err, ErrInvalidQuantity)) {
		return errors.Join(kafka.ErrPermanent, err)
	}
	return err
}

func (s *TicketService) issue(ctx context.Context, order models.OrderCompleted, actor string) ([]models.Ticket, error) {
	reqs := order.Requests()
	if len(reqs) == 0 || len(reqs) > MaxPerPurchase {
		return nil, ErrInvalidQuantity
	}

	issued, err := s.Registry.IssueTickets(ctx, order.EventID, reqs)
	if err != nil {
		s.Logger.Warn("REGISTRY", fmt.Sprintf("Issuing %d ticket(s) for %s on %s failed: %v",
			len(reqs), order.UserID, order.EventID, err))
		return nil, err
	}
	s.Logger.Info("REGISTRY", fmt.Sprintf("Issued %d ticket(s) for %s on %s", len(issued), order.UserID, order.EventID))

	if s.Publisher != nil {
		for _, t := range issued {
			if err := s.Publisher.PublishTicketIssued(ctx, t, actor); err != nil {
				s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish issuance of %s: %v", t.Number, err))
			}
		}
	}
	return issued, nil
}

// Revoke invalidates a ticket (refund or cancellation). Revoking twice is
// not an error.
func (s *TicketService) Revoke(ctx context.Context, caller auth.Identity, number string) (models.Ticket, error) {
	if err := caller.Authorize(auth.CanRevokeTickets); err != nil {
		return models.Ticket{}, err
	}
	t, err := s.Registry.Revoke(ctx, number, caller.UserID)
	if err != nil {
		return models.Ticket{}, err
	}
	s.Logger.Info("REGISTRY", fmt.Sprintf("Ticket %s revoked by %s", number, caller.UserID))

	if s.Publisher != nil {
		if err := s.Publisher.PublishTicketRevoked(ctx, t, caller.UserID); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish revocation of %s: %v", number, err))
		}
	}
	return t, nil
}

func (s *TicketService) MyTickets(ctx context.Context, caller auth.Identity) ([]models.Ticket, error) {
	if err := caller.Authorize(auth.CanHoldTickets); err != nil {
		return nil, err
	}
	return s.Registry.TicketsByHolder(ctx, caller.UserID)
}

// GetTicket returns a ticket to its holder, or to organizers and staff. Other
// callers get ErrNotFound so ticket numbers cannot be guessed.
func (s *TicketService) GetTicket(ctx context.Context, caller auth.Identity, number string) (models.Ticket, error) {
	t, err := s.Registry.Lookup(ctx, number)
	if err != nil {
		return models.Ticket{}, err
	}
	if t.HolderID == caller.UserID || caller.Can(auth.CanManageEvents) || caller.Can(auth.CanScanTickets) {
		return t, nil
	}
	return models.Ticket{}, registry.ErrNotFound
}

// TicketQR renders the encrypted QR payload of a ticket as a PNG.
func (s *TicketService) TicketQR(ctx context.Context, caller auth.Identity, number string) ([]byte, error) {
	t, err := s.GetTicket(ctx, caller, number)
	if err != nil {
		return nil, err
	}
	if s.QR == nil {
		return nil, errors.New("qr generation is not configured")
	}
	png, err := s.QR.GenerateEncryptedQR(t)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR: %w", err)
	}
	return png, nil
}

func (s *TicketService) ScanHistory(ctx context.Context, caller auth.Identity, number string) ([]models.ScanRecord, error) {
	if err := authorizeAny(caller, auth.CanScanTickets, auth.CanManageEvents); err != nil {
		return nil, err
	}
	return s.Registry.ScanHistory(ctx, number)
}

func (s *TicketService) EventScans(ctx context.Context, caller auth.Identity, eventID string, limit int) ([]models.ScanRecord, error) {
	if err := authorizeAny(caller, auth.CanScanTickets, auth.CanManageEvents); err != nil {
		return nil, err
	}
	if _, err := s.Registry.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.Registry.EventScans(ctx, eventID, limit)
}

func authorizeAny(caller auth.Identity, caps ...auth.Capability) error {
	for _, c := range caps {
		if caller.Can(c) {
			return nil
		}
	}
	return caller.Authorize(caps[0])
}
