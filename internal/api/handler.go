// Package api exposes the check-in service over HTTP. Every JSON body is a
// utils.APIResponse; scan outcomes are 200 responses whatever the
// classification, and only an unreachable registry produces a 503.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/registry"
	tickets "ms-checkin/internal/tickets/service"
	"ms-checkin/internal/utils"
)

const defaultScanLimit = 50

type Handler struct {
	Tickets *tickets.TicketService
	Desk    *checkin.Desk
	Logger  *logger.Logger

	// AllowedOrigins are the browser origins of staff dashboards; empty
	// disables CORS.
	AllowedOrigins []string
}

func NewHandler(svc *tickets.TicketService, desk *checkin.Desk, log *logger.Logger) *Handler {
	return &Handler{Tickets: svc, Desk: desk, Logger: log}
}

// Routes builds the full router. v resolves bearer tokens into identities.
func (h *Handler) Routes(v auth.Verifier) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	if len(h.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	r.Route("/api", func(r chi.Router) {
		// --- Public Routes ---
		r.Group(func(r chi.Router) {
			r.Use(auth.Optional(v, h.Logger))
			r.Get("/events", h.ListEvents)
			r.Get("/events/{eventId}", h.GetEvent)
			r.Get("/events/{eventId}/availability", h.GetAvailability)
		})

		// --- Protected Routes ---
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(v, h.Logger))

			r.With(auth.Require(auth.CanHoldTickets)).Get("/me/tickets", h.MyTickets)
			r.With(auth.Require(auth.CanHoldTickets)).Post("/events/{eventId}/tickets", h.PurchaseTickets)
			r.Get("/tickets/{number}", h.GetTicket)
			r.Get("/tickets/{number}/qr", h.GetTicketQR)

			r.Group(func(r chi.Router) {
				r.Use(auth.Require(auth.CanManageEvents))
				r.Post("/events", h.CreateEvent)
				r.Patch("/events/{eventId}/capacity", h.UpdateCapacity)
				r.Post("/events/{eventId}/archive", h.ArchiveEvent)
				r.Delete("/events/{eventId}", h.DeleteEvent)
				r.Get("/events/{eventId}/issuance", h.GetIssuanceLog)
			})
			r.With(auth.Require(auth.CanRevokeTickets)).Post("/tickets/{number}/revoke", h.RevokeTicket)

			// organizers and staff
			r.Get("/events/{eventId}/stats", h.GetStats)
			r.Get("/events/{eventId}/scans", h.GetEventScans)
			r.Get("/tickets/{number}/scans", h.GetTicketScans)

			r.Route("/checkin", func(r chi.Router) {
				r.Use(auth.Require(auth.CanScanTickets))
				r.Post("/scan", h.Scan)
				r.With(auth.Require(auth.CanOverrideReentry)).Post("/override", h.Override)
				r.Get("/session", h.GetSession)
				r.Post("/session/reset", h.ResetSession)
				r.Post("/session/restore", h.RestoreSession)
				r.Get("/feed", h.ScanFeed)
			})
		})
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp utils.APIResponse) {
	if err := utils.WriteJSON(w, status, resp); err != nil {
		h.Logger.Error("HTTP", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	h.respond(w, http.StatusBadRequest, utils.ErrorResponse(err.Error(), "bad_request"))
}

// fail maps an error to its status. Storage failures never leak details to
// the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		h.Logger.Error("REGISTRY", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
		msg = "Ticket registry is unavailable, retry the request"
	case http.StatusInternalServerError:
		h.Logger.Error("HTTP", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
		msg = "Internal server error"
	case http.StatusForbidden:
		h.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("%s %s by %s: %v", r.Method, r.URL.Path, caller(r).UserID, err))
	}
	h.respond(w, status, utils.ErrorResponse(msg, code))
}

func classify(err error) (int, string) {
	var se *registry.StorageError
	switch {
	case errors.As(err, &se):
		return http.StatusServiceUnavailable, "system_unavailable"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrEventNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrInvalidEvent),
		errors.Is(err, registry.ErrInvalidHolder),
		errors.Is(err, registry.ErrEmptyRequest),
		errors.Is(err, registry.ErrMalformedCode),
		errors.Is(err, tickets.ErrInvalidQuantity):
		return http.StatusBadRequest, "bad_request"
	case registry.IsBusiness(err):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
