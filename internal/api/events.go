package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

type createEventRequest struct {
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    int       `json:"capacity"`
}

type capacityRequest struct {
	Capacity *int `json:"capacity"`
}

// ListEvents returns active events; ?archived=true adds archived ones for organizers.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	events, err := h.Tickets.ListEvents(r.Context(), caller(r), includeArchived)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Events retrieved", events))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Tickets.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Event retrieved", ev))
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.Tickets.Availability(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Availability retrieved", avail))
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	ev, err := h.Tickets.CreateEvent(r.Context(), caller(r), models.Event{
		Code:        req.Code,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, utils.SuccessResponse("Event created", ev))
}

func (h *Handler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	if req.Capacity == nil {
		h.badRequest(w, errors.New("capacity is required"))
		return
	}

	ev, err := h.Tickets.UpdateCapacity(r.Context(), caller(r), chi.URLParam(r, "eventId"), *req.Capacity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Capacity updated", ev))
}

func (h *Handler) ArchiveEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Tickets.Archive(r.Context(), caller(r), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Event archived", ev))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.Tickets.Delete(r.Context(), caller(r), chi.URLParam(r, "eventId")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Event deleted", nil))
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Tickets.Stats(r.Context(), caller(r), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Event statistics", stats))
}

func (h *Handler) GetIssuanceLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.Tickets.IssuanceLog(r.Context(), caller(r), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if log == nil {
		log = []models.IssuanceRecord{}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Issuance log", log))
}

func (h *Handler) GetEventScans(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultScanLimit)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	scans, err := h.Tickets.EventScans(r.Context(), caller(r), chi.URLParam(r, "eventId"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if scans == nil {
		scans = []models.ScanRecord{}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Event scans", scans))
}
