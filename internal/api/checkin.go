package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/session"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/utils"
)

type scanResponse struct {
	checkin.Decision
	Session session.Counters `json:"session"`
}

type overrideRequest struct {
	GateID       string `json:"gate_id"`
	TicketNumber string `json:"ticket_number"`
	Note         string `json:"note"`
}

type resetRequest struct {
	GateID    string `json:"gate_id"`
	ResetGate bool   `json:"reset_gate"`
}

type restoreRequest struct {
	GateID  string    `json:"gate_id"`
	EventID string    `json:"event_id"`
	Since   time.Time `json:"since"`
}

type sessionResponse struct {
	Session session.Snapshot  `json:"session"`
	Gate    *session.Counters `json:"gate,omitempty"`
}

// Scan classifies one code read at a gate. Every business outcome, admitted
// or not, is a 200 carrying the classification.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req checkin.ScanRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	if req.GateID == "" || req.EventID == "" {
		h.badRequest(w, errors.New("gate_id and event_id are required"))
		return
	}

	staff := caller(r)
	decision, err := h.Desk.Scan(r.Context(), staff, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	counters := h.Desk.Sessions.Get(staff.UserID, req.GateID).Counters()
	h.respond(w, http.StatusOK, utils.SuccessResponse(decision.Message, scanResponse{Decision: decision, Session: counters}))
}

func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	if req.GateID == "" || req.TicketNumber == "" {
		h.badRequest(w, errors.New("gate_id and ticket_number are required"))
		return
	}

	staff := caller(r)
	decision, err := h.Desk.Override(r.Context(), staff, req.GateID, req.TicketNumber, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	counters := h.Desk.Sessions.Get(staff.UserID, req.GateID).Counters()
	h.respond(w, http.StatusOK, utils.SuccessResponse(decision.Message, scanResponse{Decision: decision, Session: counters}))
}

// GetSession returns the caller's session at ?gate_id= and, when counters are
// shared, the whole gate's counters.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	gateID := r.URL.Query().Get("gate_id")
	if gateID == "" {
		h.badRequest(w, errors.New("gate_id is required"))
		return
	}

	resp := sessionResponse{Session: h.Desk.Sessions.Get(caller(r).UserID, gateID).Snapshot()}
	gate, err := h.Desk.Sessions.GateCounters(r.Context(), gateID)
	if err != nil {
		h.Logger.Warn("SESSION", fmt.Sprintf("Gate counters for %s unavailable: %v", gateID, err))
	}
	resp.Gate = gate
	h.respond(w, http.StatusOK, utils.SuccessResponse("Session retrieved", resp))
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	if req.GateID == "" {
		h.badRequest(w, errors.New("gate_id is required"))
		return
	}

	staff := caller(r)
	msg := "Session reset"
	if err := h.Desk.Sessions.Reset(r.Context(), staff.UserID, req.GateID, req.ResetGate); err != nil {
		h.Logger.Warn("SESSION", fmt.Sprintf("Gate %s reset failed: %v", req.GateID, err))
		msg = "Session reset; shared gate counters could not be cleared"
	}
	snap := h.Desk.Sessions.Get(staff.UserID, req.GateID).Snapshot()
	h.respond(w, http.StatusOK, utils.SuccessResponse(msg, sessionResponse{Session: snap}))
}

// RestoreSession rebuilds the caller's session from the registry after a
// device restart.
func (h *Handler) RestoreSession(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	if req.GateID == "" || req.EventID == "" {
		h.badRequest(w, errors.New("gate_id and event_id are required"))
		return
	}

	s, err := h.Desk.RestoreSession(r.Context(), caller(r), req.GateID, req.EventID, req.Since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Session restored", sessionResponse{Session: s.Snapshot()}))
}

// ScanFeed streams scans at ?gate_id= or for ?event_id= as server-sent events.
func (h *Handler) ScanFeed(w http.ResponseWriter, r *http.Request) {
	gateID := r.URL.Query().Get("gate_id")
	eventID := r.URL.Query().Get("event_id")
	if gateID == "" && eventID == "" {
		h.badRequest(w, errors.New("gate_id or event_id is required"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respond(w, http.StatusInternalServerError, utils.ErrorResponse("Streaming unsupported", "internal_error"))
		return
	}

	ctx := r.Context()
	var feed <-chan sse.ScanEvent
	scope := "gate " + gateID
	if gateID != "" {
		feed = h.Desk.Feed.SubscribeToGate(ctx, gateID)
	} else {
		feed = h.Desk.Feed.SubscribeToEvent(ctx, eventID)
		scope = "event " + eventID
	}

	// the feed outlives the server's write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.Logger.Debug("FEED", fmt.Sprintf("Write deadline not cleared: %v", err))
	}
	setupSSEHeaders(w)
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()
	h.Logger.Info("FEED", fmt.Sprintf("Dashboard connected to %s", scope))

	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Error("FEED", fmt.Sprintf("Failed to serialize scan event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: scan\ndata: %s\n\n", data)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("FEED", fmt.Sprintf("Dashboard disconnected from %s", scope))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
