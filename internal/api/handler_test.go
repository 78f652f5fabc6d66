package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
	"ms-checkin/internal/session"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/tickets/qr"
	tickets "ms-checkin/internal/tickets/service"
)

var secret = []byte("api-test-secret")

var (
	organizer = auth.Identity{UserID: "org-1", Name: "Olga", Role: auth.RoleOrganizer}
	attendee  = auth.Identity{UserID: "user-1", Name: "Alice", Role: auth.RoleAttendee}
	staff     = auth.Identity{UserID: "staff-1", Name: "Sol", Role: auth.RoleStaff}
)

// flakyRegistry fails lookups while down is set.
type flakyRegistry struct {
	registry.Registry
	down bool
}

func (f *flakyRegistry) Lookup(ctx context.Context, number string) (models.Ticket, error) {
	if f.down {
		return models.Ticket{}, registry.Storage("lookup", errors.New("connection refused"))
	}
	return f.Registry.Lookup(ctx, number)
}

type testServer struct {
	router http.Handler
	reg    *flakyRegistry
	desk   *checkin.Desk
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewWithWriter(io.Discard)
	reg := &flakyRegistry{Registry: registry.NewMemory()}

	gen, err := qr.NewQRGenerator("api-qr-secret")
	require.NoError(t, err)
	v, err := checkin.NewValidator(reg, "", log)
	require.NoError(t, err)

	desk := &checkin.Desk{
		Validator: v,
		Sessions:  session.NewManager(nil, 10, log),
		Feed:      sse.NewScanFeedEmitter(10),
		QR:        gen,
		Logger:    log,
	}
	h := NewHandler(tickets.NewTicketService(reg, gen, nil, log), desk, log)
	return &testServer{router: h.Routes(&auth.HS256Verifier{Secret: secret}), reg: reg, desk: desk}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) do(t *testing.T, id *auth.Identity, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if id != nil {
		token, err := auth.SignToken(secret, *id, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) createEvent(t *testing.T, capacity int) models.Event {
	t.Helper()
	rec, env := s.do(t, &organizer, http.MethodPost, "/api/events", map[string]interface{}{
		"code":      "TC",
		"title":     "Tech Conference 2024",
		"location":  "Convention Center",
		"starts_at": "2024-03-15T09:00:00Z",
		"capacity":  capacity,
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	var ev models.Event
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	return ev
}

func (s *testServer) purchase(t *testing.T, eventID string, quantity int) []models.Ticket {
	t.Helper()
	rec, env := s.do(t, &attendee, http.MethodPost, "/api/events/"+eventID+"/tickets", map[string]int{"quantity": quantity})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	var issued []models.Ticket
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	return issued
}

func (s *testServer) scan(t *testing.T, eventID, gate, code string) (*httptest.ResponseRecorder, scanResponse) {
	t.Helper()
	rec, env := s.do(t, &staff, http.MethodPost, "/api/checkin/scan", checkin.ScanRequest{Code: code, EventID: eventID, GateID: gate})
	var resp scanResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(env.Data, &resp))
	}
	return rec, resp
}

func TestPublicEventRoutes(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 4)

	rec, env := s.do(t, nil, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = s.do(t, nil, http.MethodGet, "/api/events/"+ev.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, nil, http.MethodGet, "/api/events/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error)

	s.purchase(t, ev.ID, 3)
	rec, env = s.do(t, nil, http.MethodGet, "/api/events/"+ev.ID+"/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var avail tickets.Availability
	require.NoError(t, json.Unmarshal(env.Data, &avail))
	assert.Equal(t, 1, avail.Remaining)
	assert.Equal(t, "filling_fast", string(avail.Status))
}

func TestRoleBoundaries(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 4)

	// Test case: no token on a protected route
	rec, _ := s.do(t, nil, http.MethodGet, "/api/me/tickets", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Test case: attendees cannot create events or scan
	rec, _ = s.do(t, &attendee, http.MethodPost, "/api/events", map[string]string{"code": "XX"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(t, &attendee, http.MethodPost, "/api/checkin/scan", checkin.ScanRequest{Code: "TC2024-000001", EventID: ev.ID, GateID: "Main"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Test case: staff cannot revoke
	rec, _ = s.do(t, &staff, http.MethodPost, "/api/tickets/TC2024-000001/revoke", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Test case: organizers cannot buy tickets
	rec, _ = s.do(t, &organizer, http.MethodPost, "/api/events/"+ev.ID+"/tickets", map[string]int{"quantity": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// Every classification through the HTTP surface: admit, duplicate with the first gate, unknown, revoked.
func TestScanClassifications(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 10)
	issued := s.purchase(t, ev.ID, 2)
	first, second := issued[0].Number, issued[1].Number

	rec, resp := s.scan(t, ev.ID, "Main", first)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ClassValid, resp.Classification)
	assert.Equal(t, "Welcome Alice! Ticket verified.", resp.Message)

	rec, resp = s.scan(t, ev.ID, "Side", first)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ClassDuplicate, resp.Classification)
	require.NotNil(t, resp.Prior)
	assert.Equal(t, "Main", resp.Prior.GateID)

	rec, resp = s.scan(t, ev.ID, "Main", "ZZ-999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ClassInvalid, resp.Classification)

	rec, _ = s.do(t, &organizer, http.MethodPost, "/api/tickets/"+second+"/revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, resp = s.scan(t, ev.ID, "Main", second)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ClassRevoked, resp.Classification)

	// Main saw valid, invalid and revoked; Side saw the duplicate
	assert.Equal(t, 3, resp.Session.Total)
	assert.Equal(t, 1, resp.Session.Valid)

	rec, env := s.do(t, &staff, http.MethodGet, "/api/checkin/session?gate_id=Side", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, 1, sess.Session.Counters.Duplicate)
	assert.Nil(t, sess.Gate)

	rec, env = s.do(t, &staff, http.MethodGet, "/api/tickets/"+first+"/scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.ScanRecord
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 2)
}

func TestScanStorageFailureIs503(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 10)
	issued := s.purchase(t, ev.ID, 1)

	s.reg.down = true
	rec, env := s.do(t, &staff, http.MethodPost, "/api/checkin/scan", checkin.ScanRequest{Code: issued[0].Number, EventID: ev.ID, GateID: "Main"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "system_unavailable", env.Error)
	assert.NotContains(t, env.Message, "connection refused")

	// Test case: the ticket is still admissible once the registry is back
	s.reg.down = false
	rec, resp := s.scan(t, ev.ID, "Main", issued[0].Number)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ClassValid, resp.Classification)
}

func TestScanRequiresGateAndEvent(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.do(t, &staff, http.MethodPost, "/api/checkin/scan", checkin.ScanRequest{Code: "TC2024-000001"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", env.Error)
}

func TestOverrideAndReset(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 10)
	number := s.purchase(t, ev.ID, 1)[0].Number

	rec, _ := s.do(t, &staff, http.MethodPost, "/api/checkin/override", overrideRequest{GateID: "Main", TicketNumber: number, Note: "stepped out"})
	assert.Equal(t, http.StatusConflict, rec.Code, "nothing to re-admit before the first check-in")

	rec, _ = s.do(t, &staff, http.MethodPost, "/api/checkin/override", overrideRequest{GateID: "Main", TicketNumber: "lost wristband", Note: "stepped out"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a mistyped number is a bad request")

	s.scan(t, ev.ID, "Main", number)
	rec, env := s.do(t, &staff, http.MethodPost, "/api/checkin/override", overrideRequest{GateID: "Main", TicketNumber: number, Note: "stepped out"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp scanResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Record.Override)
	assert.Equal(t, 2, resp.Session.Valid)

	rec, env = s.do(t, &staff, http.MethodPost, "/api/checkin/session/reset", resetRequest{GateID: "Main"})
	require.Equal(t, http.StatusOK, rec.Code)
	var sess sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, 0, sess.Session.Counters.Total)

	// Test case: reset never touches the registry
	rec, env = s.do(t, &organizer, http.MethodGet, "/api/events/"+ev.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.EventStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.CheckedIn)

	rec, env = s.do(t, &staff, http.MethodPost, "/api/checkin/session/restore", restoreRequest{GateID: "Main", EventID: ev.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, 2, sess.Session.Counters.Valid)
}

func TestOrganizerRoutes(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 2)

	rec, env := s.do(t, &organizer, http.MethodPost, "/api/events", map[string]interface{}{
		"code": "TC", "title": "Again", "starts_at": "2024-05-01T09:00:00Z", "capacity": 5,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env.Error)

	rec, _ = s.do(t, &organizer, http.MethodPatch, "/api/events/"+ev.ID+"/capacity", map[string]int{"capacity": 5})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, &organizer, http.MethodPatch, "/api/events/"+ev.ID+"/capacity", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.purchase(t, ev.ID, 1)
	rec, _ = s.do(t, &organizer, http.MethodDelete, "/api/events/"+ev.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = s.do(t, &organizer, http.MethodGet, "/api/events/"+ev.ID+"/issuance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var log []models.IssuanceRecord
	require.NoError(t, json.Unmarshal(env.Data, &log))
	assert.Len(t, log, 2)

	rec, _ = s.do(t, &organizer, http.MethodPost, "/api/events/"+ev.ID+"/archive", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Test case: archived events refuse new purchases
	rec, _ = s.do(t, &attendee, http.MethodPost, "/api/events/"+ev.ID+"/tickets", map[string]int{"quantity": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAttendeeTicketRoutes(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 5)
	number := s.purchase(t, ev.ID, 2)[0].Number

	rec, env := s.do(t, &attendee, http.MethodGet, "/api/me/tickets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []models.Ticket
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Len(t, mine, 2)

	rec, _ = s.do(t, &attendee, http.MethodGet, "/api/tickets/"+number, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, &attendee, http.MethodGet, "/api/tickets/"+number+"/qr", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec, _ = s.do(t, &attendee, http.MethodPost, "/api/events/"+ev.ID+"/tickets", map[string]int{"quantity": 4})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec, _ = s.do(t, &attendee, http.MethodPost, "/api/events/"+ev.ID+"/tickets", map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanFeedStreamsScans(t *testing.T) {
	s := newTestServer(t)
	ev := s.createEvent(t, 5)
	number := s.purchase(t, ev.ID, 1)[0].Number

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/checkin/feed?gate_id=Main", nil)
	require.NoError(t, err)
	token, err := auth.SignToken(secret, staff, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	require.Eventually(t, func() bool { return s.desk.Feed.GateClientCount("Main") == 1 }, time.Second, 10*time.Millisecond)
	s.scan(t, ev.ID, "Main", number)

	for lines.Scan() {
		if lines.Text() != "event: scan" {
			continue
		}
		require.True(t, lines.Scan())
		data := strings.TrimPrefix(lines.Text(), "data: ")
		var got sse.ScanEvent
		require.NoError(t, json.Unmarshal([]byte(data), &got))
		assert.Equal(t, number, got.Record.TicketNumber)
		assert.Equal(t, "Alice", got.HolderName)
		return
	}
	t.Fatal("feed closed before the scan arrived")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	log := logger.NewWithWriter(io.Discard)
	h := NewHandler(tickets.NewTicketService(s.reg, nil, nil, log), s.desk, log)
	h.AllowedOrigins = []string{"https://gate.example.com"}
	router := h.Routes(&auth.HS256Verifier{Secret: secret})

	req := httptest.NewRequest(http.MethodOptions, "/api/checkin/scan", nil)
	req.Header.Set("Origin", "https://gate.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://gate.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
