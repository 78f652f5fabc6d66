package tickets_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
	"ms-checkin/internal/tickets/qr"
	tickets "ms-checkin/internal/tickets/service"
)

// MockTicketPublisher is a mock implementation of the TicketPublisher interface
type MockTicketPublisher struct {
	mock.Mock
}

func (m *MockTicketPublisher) PublishTicketIssued(ctx context.Context, t models.Ticket, actor string) error {
	return m.Called(ctx, t, actor).Error(0)
}

func (m *MockTicketPublisher) PublishTicketRevoked(ctx context.Context, t models.Ticket, actor string) error {
	return m.Called(ctx, t, actor).Error(0)
}

var (
	organizer = auth.Identity{UserID: "org-1", Name: "Olga", Role: auth.RoleOrganizer}
	attendee  = auth.Identity{UserID: "user-1", Name: "Alice", Email: "alice@example.com", Role: auth.RoleAttendee}
	stranger  = auth.Identity{UserID: "user-2", Name: "Sam", Role: auth.RoleAttendee}
	staff     = auth.Identity{UserID: "staff-1", Name: "Sol", Role: auth.RoleStaff}
)

func newService(t *testing.T, pub tickets.TicketPublisher) *tickets.TicketService {
	t.Helper()
	gen, err := qr.NewQRGenerator("service-test-secret")
	require.NoError(t, err)
	return tickets.NewTicketService(registry.NewMemory(), gen, pub, logger.NewWithWriter(io.Discard))
}

func createEvent(t *testing.T, svc *tickets.TicketService, capacity int) models.Event {
	t.Helper()
	ev, err := svc.CreateEvent(context.Background(), organizer, models.Event{
		Code:     "TC",
		Title:    "Tech Conference 2024",
		Location: "Convention Center",
		StartsAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		Capacity: capacity,
	})
	require.NoError(t, err)
	return ev
}

func TestCreateEvent(t *testing.T) {
	svc := newService(t, nil)
	ev := createEvent(t, svc, 100)

	assert.Equal(t, organizer.UserID, ev.CreatedBy)

	// Test case: attendees cannot create events
	_, err := svc.CreateEvent(context.Background(), attendee, models.Event{Code: "XX"})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestPurchaseIssuesAndPublishes(t *testing.T) {
	pub := new(MockTicketPublisher)
	pub.On("PublishTicketIssued", mock.Anything, mock.Anything, attendee.UserID).Return(nil)
	svc := newService(t, pub)
	ev := createEvent(t, svc, 10)
	ctx := context.Background()

	issued, err := svc.Purchase(ctx, attendee, ev.ID, tickets.PurchaseRequest{Quantity: 3})
	require.NoError(t, err)
	require.Len(t, issued, 3)
	assert.Equal(t, "Alice", issued[0].HolderName)
	assert.Equal(t, "alice@example.com", issued[0].HolderEmail)
	pub.AssertNumberOfCalls(t, "PublishTicketIssued", 3)

	mine, err := svc.MyTickets(ctx, attendee)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	avail, err := svc.Availability(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, avail.Remaining)
	assert.Equal(t, 30, avail.Percent)
}

func TestPurchaseIsAllOrNothing(t *testing.T) {
	svc := newService(t, nil)
	ev := createEvent(t, svc, 2)
	ctx := context.Background()

	// Test case: three tickets against two seats left issues nothing
	_, err := svc.Purchase(ctx, attendee, ev.ID, tickets.PurchaseRequest{Quantity: 3})
	assert.ErrorIs(t, err, registry.ErrCapacityExceeded)

	got, err := svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Issued)

	// Test case: quantity bounds
	_, err = svc.Purchase(ctx, attendee, ev.ID, tickets.PurchaseRequest{})
	assert.ErrorIs(t, err, tickets.ErrInvalidQuantity)
	_, err = svc.Purchase(ctx, attendee, ev.ID, tickets.PurchaseRequest{Quantity: tickets.MaxPerPurchase + 1})
	assert.ErrorIs(t, err, tickets.ErrInvalidQuantity)

	// Test case: staff do not hold tickets
	_, err = svc.Purchase(ctx, staff, ev.ID, tickets.PurchaseRequest{Quantity: 1})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestPublishFailureKeepsTickets(t *testing.T) {
	pub := new(MockTicketPublisher)
	pub.On("PublishTicketIssued", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("kafka down"))
	svc := newService(t, pub)
	ev := createEvent(t, svc, 5)

	issued, err := svc.Purchase(context.Background(), attendee, ev.ID, tickets.PurchaseRequest{Seats: []string{"A1"}})
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, "A1", issued[0].Seat)
}

func TestRevoke(t *testing.T) {
	pub := new(MockTicketPublisher)
	pub.On("PublishTicketIssued", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishTicketRevoked", mock.Anything, mock.Anything, organizer.UserID).Return(nil)
	svc := newService(t, pub)
	ev := createEvent(t, svc, 5)
	ctx := context.Background()

	issued, err := svc.Purchase(ctx, attendee, ev.ID, tickets.PurchaseRequest{Quantity: 1})
	require.NoError(t, err)
	number := issued[0].Number

	// Test case: holders cannot revoke their own tickets
	_, err = svc.Revoke(ctx, attendee, number)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	revoked, err := svc.Revoke(ctx, organizer, number)
	require.NoError(t, err)
	assert.Equal(t, models.StateRevoked, revoked.State)
	pub.AssertNumberOfCalls(t, "PublishTicketRevoked", 1)

	_, err = svc.Revoke(ctx, organizer, "ZZ-999")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestGetTicketVisibility(t *testing.T) {
	svc := newService(t, nil)
	ev := createEvent(t, svc, 5)
	ctx := context.Background()

	issued, err := svc.Purchase(ctx, attendee, ev.ID, tickets.PurchaseRequest{Quantity: 1})
	require.NoError(t, err)
	number := issued[0].Number

	_, err = svc.GetTicket(ctx, attendee, number)
	assert.NoError(t, err)
	_, err = svc.GetTicket(ctx, staff, number)
	assert.NoError(t, err)

	// Test case: another attendee cannot tell the ticket exists
	_, err = svc.GetTicket(ctx, stranger, number)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	png, err := svc.TicketQR(ctx, attendee, number)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestOrganizerViews(t *testing.T) {
	svc := newService(t, nil)
	ev := createEvent(t, svc, 4)
	ctx := context.Background()

	_, err := svc.Purchase(ctx, attendee, ev.ID, tickets.PurchaseRequest{Quantity: 3})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, staff, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Unused)
	assert.Equal(t, "filling_fast", stats.Availability)

	_, err = svc.Stats(ctx, attendee, ev.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	log, err := svc.IssuanceLog(ctx, organizer, ev.ID)
	require.NoError(t, err)
	assert.Len(t, log, 3)

	_, err = svc.UpdateCapacity(ctx, organizer, ev.ID, 2)
	assert.ErrorIs(t, err, registry.ErrCapacityBelowIssued)

	assert.ErrorIs(t, svc.Delete(ctx, organizer, ev.ID), registry.ErrEventHasTickets)

	_, err = svc.Archive(ctx, organizer, ev.ID)
	require.NoError(t, err)

	// Test case: archived events are only listed for organizers
	visible, err := svc.ListEvents(ctx, attendee, true)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := svc.ListEvents(ctx, organizer, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestScanViews(t *testing.T) {
	svc := newService(t, nil)
	ev := createEvent(t, svc, 4)
	ctx := context.Background()

	scans, err := svc.EventScans(ctx, staff, ev.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, scans)

	_, err = svc.EventScans(ctx, staff, "missing", 10)
	assert.ErrorIs(t, err, registry.ErrEventNotFound)

	_, err = svc.ScanHistory(ctx, attendee, "TC2024-000001")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestHandleOrderCompleted(t *testing.T) {
	svc := newService(t, nil)
	ev := createEvent(t, svc, 3)
	ctx := context.Background()

	err := svc.HandleOrderCompleted(ctx, models.OrderCompleted{
		OrderID:  "order-1",
		EventID:  ev.ID,
		UserID:   "user-9",
		UserName: "Nina",
		Seats:    []string{"B1", "B2"},
	})
	require.NoError(t, err)

	held, err := svc.Registry.TicketsByHolder(ctx, "user-9")
	require.NoError(t, err)
	assert.Len(t, held, 2)

	// Test case: an order the event cannot take is permanent, not retried
	err = svc.HandleOrderCompleted(ctx, models.OrderCompleted{OrderID: "order-2", EventID: ev.ID, UserID: "user-9", Quantity: 2})
	assert.ErrorIs(t, err, kafka.ErrPermanent)
	assert.ErrorIs(t, err, registry.ErrCapacityExceeded)

	err = svc.HandleOrderCompleted(ctx, models.OrderCompleted{OrderID: "order-3", EventID: ev.ID, Quantity: 1})
	assert.ErrorIs(t, err, kafka.ErrPermanent)
}
