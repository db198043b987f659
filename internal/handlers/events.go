package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/akram-events/apiserver/internal/services"
	"github.com/akram-events/apiserver/internal/storage"
	"github.com/akram-events/apiserver/internal/store"
	"github.com/akram-events/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPage        = 1
	defaultLimit       = 20
	maxLimit           = 100
	maxMultipartMemory = 8 << 20
	maxPosterBytes     = 8 << 20
	formFieldPoster    = "poster"
)

// EventHandler provides HTTP handlers for events and registrations.
type EventHandler struct {
	eventService *services.EventService
	posterStore  *storage.Storage
}

// NewEventHandler constructs a handler with the provided dependencies.
// posterStore may be nil when no object storage is configured.
func NewEventHandler(eventService *services.EventService, posterStore *storage.Storage) *EventHandler {
	return &EventHandler{
		eventService: eventService,
		posterStore:  posterStore,
	}
}

// EventRouter registers event routes on the given router.
func EventRouter(r chi.Router, handler *EventHandler, authMiddleware func(http.Handler) http.Handler) {
	requireAdmin := RequireRole(types.RoleAdmin)
	requireMember := RequireRole(types.RoleMember)

	r.Get("/", handler.ListEvents)
	r.With(authMiddleware, requireAdmin).Post("/", handler.CreateEvent)
	r.Route("/{eventID}", func(r chi.Router) {
		r.Get("/", handler.GetEvent)
		r.With(authMiddleware, requireAdmin).Put("/", handler.UpdateEvent)
		r.With(authMiddleware, requireAdmin).Delete("/", handler.DeleteEvent)
		r.With(authMiddleware, requireAdmin).Get("/registrations", handler.ListRegistrations)
		r.With(authMiddleware, requireMember).Post("/register", handler.Register)
		r.With(authMiddleware, requireMember).Delete("/register", handler.Cancel)
		r.Get("/poster", handler.GetPoster)
		r.With(authMiddleware, requireAdmin).Post("/poster", handler.UploadPoster)
	})
}

func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	items, total, err := h.eventService.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, EventListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	event, err := h.eventService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to fetch event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	req, err := parseEventBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	created, err := h.eventService.Create(r.Context(), types.Event{
		Title:       req.Title,
		Date:        req.Date,
		Location:    req.Location,
		Description: req.Description,
		Organizer:   req.Organizer,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create event")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	req, err := parseEventBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	updated, err := h.eventService.Update(r.Context(), types.Event{
		ID:          id,
		Title:       req.Title,
		Date:        req.Date,
		Location:    req.Location,
		Description: req.Description,
		Organizer:   req.Organizer,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to update event")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	if err := h.eventService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to delete event")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRegistrations returns the event roster for the admin view.
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	users, err := h.eventService.Roster(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load registrations")
		return
	}

	writeJSON(w, http.StatusOK, RosterResponse{Users: users})
}

// Register adds the authenticated member to the event roster.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthorized")
		return
	}

	event, err := h.eventService.Register(r.Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, codeAlreadyRegistered, "already registered for this event")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
		default:
			writeError(w, http.StatusInternalServerError, codeInternalError, "failed to register")
		}
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// Cancel removes the authenticated member from the event roster, subject
// to the cancellation cutoff.
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthorized")
		return
	}

	event, err := h.eventService.Cancel(r.Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCancellationWindowClosed):
			writeError(w, http.StatusConflict, codeCancellationWindowClosed, "cancellation window has closed")
		case errors.Is(err, store.ErrNotRegistered):
			writeError(w, http.StatusConflict, codeNotRegistered, "not registered for this event")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
		default:
			writeError(w, http.StatusInternalServerError, codeInternalError, "failed to cancel registration")
		}
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// UploadPoster stores an event poster image in object storage.
func (h *EventHandler) UploadPoster(w http.ResponseWriter, r *http.Request) {
	if h.posterStore == nil {
		writeError(w, http.StatusServiceUnavailable, codeStorageUnavailable, "poster storage is not configured")
		return
	}

	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	if _, err := h.eventService.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to fetch event")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile(formFieldPoster)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "poster file is required")
		return
	}
	defer file.Close()

	if header.Size > maxPosterBytes {
		writeError(w, http.StatusBadRequest, codeValidation, "poster file too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	key := posterKey(id, header.Filename)
	if err := h.posterStore.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to store poster")
		return
	}

	if err := h.eventService.SetPoster(r.Context(), id, key); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to store poster")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "poster uploaded"})
}

// GetPoster streams the event poster image.
func (h *EventHandler) GetPoster(w http.ResponseWriter, r *http.Request) {
	if h.posterStore == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "poster not found")
		return
	}

	id, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	event, err := h.eventService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to fetch event")
		return
	}
	if event.PosterKey == "" {
		writeError(w, http.StatusNotFound, codeNotFound, "poster not found")
		return
	}

	reader, contentType, err := h.posterStore.Get(r.Context(), event.PosterKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load poster")
		return
	}
	defer reader.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// EventUpsertRequest is the JSON payload for create/update.
type EventUpsertRequest struct {
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Organizer   string    `json:"organizer"`
}

// EventListResponse is the paginated list response payload.
type EventListResponse struct {
	Items []types.Event `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

// RosterResponse is the admin roster payload.
type RosterResponse struct {
	Users []types.User `json:"users"`
}

func parseEventID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "eventID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid event id")
	}
	return id, nil
}

func parseEventBody(r *http.Request) (EventUpsertRequest, error) {
	var req EventUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return EventUpsertRequest{}, errors.New("invalid request body")
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Location = strings.TrimSpace(req.Location)
	req.Description = strings.TrimSpace(req.Description)
	req.Organizer = strings.TrimSpace(req.Organizer)

	if req.Title == "" {
		return EventUpsertRequest{}, errors.New("title is required")
	}
	if req.Date.IsZero() {
		return EventUpsertRequest{}, errors.New("date is required")
	}
	return req, nil
}

func posterKey(eventID int, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("events/%d/poster%s", eventID, ext)
}
