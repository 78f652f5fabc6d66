package checkin

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ms-checkin/internal/models"
)

// MockRegistry is a mock implementation of registry.Registry
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Lookup(ctx context.Context, number string) (models.Ticket, error) {
	args := m.Called(ctx, number)
	return args.Get(0).(models.Ticket), args.Error(1)
}

func (m *MockRegistry) MarkCheckedIn(ctx context.Context, number, code, staffID, gateID string) (models.ScanRecord, error) {
	args := m.Called(ctx, number, code, staffID, gateID)
	return args.Get(0).(models.ScanRecord), args.Error(1)
}

func (m *MockRegistry) IssueTicket(ctx context.Context, eventID string, req models.IssueRequest) (models.Ticket, error) {
	args := m.Called(ctx, eventID, req)
	return args.Get(0).(models.Ticket), args.Error(1)
}

func (m *MockRegistry) Revoke(ctx context.Context, number, actor string) (models.Ticket, error) {
	args := m.Called(ctx, number, actor)
	return args.Get(0).(models.Ticket), args.Error(1)
}

func (m *MockRegistry) FirstCheckIn(ctx context.Context, number string) (models.ScanRecord, error) {
	args := m.Called(ctx, number)
	return args.Get(0).(models.ScanRecord), args.Error(1)
}

func (m *MockRegistry) RecordAttempt(ctx context.Context, rec models.ScanRecord) (models.ScanRecord, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(models.ScanRecord), args.Error(1)
}

func (m *MockRegistry) OverrideReentry(ctx context.Context, number, staffID, gateID, note string) (models.ScanRecord, error) {
	args := m.Called(ctx, number, staffID, gateID, note)
	return args.Get(0).(models.ScanRecord), args.Error(1)
}

func (m *MockRegistry) ScanHistory(ctx context.Context, number string) ([]models.ScanRecord, error) {
	args := m.Called(ctx, number)
	return args.Get(0).([]models.ScanRecord), args.Error(1)
}

func (m *MockRegistry) EventScans(ctx context.Context, eventID string, limit int) ([]models.ScanRecord, error) {
	args := m.Called(ctx, eventID, limit)
	return args.Get(0).([]models.ScanRecord), args.Error(1)
}

func (m *MockRegistry) TicketsByHolder(ctx context.Context, holderID string) ([]models.Ticket, error) {
	args := m.Called(ctx, holderID)
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockRegistry) CreateEvent(ctx context.Context, event models.Event) (models.Event, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *MockRegistry) GetEvent(ctx context.Context, eventID string) (models.Event, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *MockRegistry) ListEvents(ctx context.Context, includeArchived bool) ([]models.Event, error) {
	args := m.Called(ctx, includeArchived)
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockRegistry) UpdateCapacity(ctx context.Context, eventID string, capacity int, actor string) (models.Event, error) {
	args := m.Called(ctx, eventID, capacity, actor)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *MockRegistry) ArchiveEvent(ctx context.Context, eventID, actor string) (models.Event, error) {
	args := m.Called(ctx, eventID, actor)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *MockRegistry) DeleteEvent(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *MockRegistry) EventStats(ctx context.Context, eventID string) (models.EventStats, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(models.EventStats), args.Error(1)
}

func (m *MockRegistry) IssuanceLog(ctx context.Context, eventID string) ([]models.IssuanceRecord, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]models.IssuanceRecord), args.Error(1)
}

func (m *MockRegistry) IssueTickets(ctx context.Context, eventID string, reqs []models.IssueRequest) ([]models.Ticket, error) {
	args := m.Called(ctx, eventID, reqs)
	return args.Get(0).([]models.Ticket), args.Error(1)
}
