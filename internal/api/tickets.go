package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkin/internal/models"
	tickets "ms-checkin/internal/tickets/service"
	"ms-checkin/internal/utils"
)

func (h *Handler) PurchaseTickets(w http.ResponseWriter, r *http.Request) {
	var req tickets.PurchaseRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	issued, err := h.Tickets.Purchase(r.Context(), caller(r), chi.URLParam(r, "eventId"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, utils.SuccessResponse("Tickets issued", issued))
}

func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	mine, err := h.Tickets.MyTickets(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if mine == nil {
		mine = []models.Ticket{}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Tickets retrieved", mine))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.GetTicket(r.Context(), caller(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Ticket retrieved", t))
}

// GetTicketQR serves the ticket's encrypted QR code as a PNG image.
func (h *Handler) GetTicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.Tickets.TicketQR(r.Context(), caller(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("HTTP", "Failed to write QR image: "+err.Error())
	}
}

func (h *Handler) RevokeTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.Revoke(r.Context(), caller(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Ticket revoked", t))
}

func (h *Handler) GetTicketScans(w http.ResponseWriter, r *http.Request) {
	history, err := h.Tickets.ScanHistory(r.Context(), caller(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []models.ScanRecord{}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Scan history", history))
}
