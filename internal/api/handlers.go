package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nudge/internal/apperr"
	"github.com/starford/nudge/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// ListReminders handles GET /api/reminders. Every listing runs the expiry
// sweep first.
//
//	@Summary		List live reminders, newest first
//	@Tags			reminders
//	@Produce		json
//	@Success		200	{object}	ReminderListResponse
//	@Security		BearerAuth
//	@Router			/reminders [get]
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	rs := h.svc.Refresh()
	items := make([]ReminderDTO, len(rs))
	for i, rem := range rs {
		items[i] = toDTO(rem)
	}
	writeJSON(w, http.StatusOK, ReminderListResponse{Reminders: items, Total: len(items)})
}

// GetReminder handles GET /api/reminders/{id}.
//
//	@Summary		Get a single reminder
//	@Tags			reminders
//	@Produce		json
//	@Param			id	path		string	true	"Reminder ID"
//	@Success		200	{object}	ReminderDTO
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reminders/{id} [get]
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get reminder failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, toDTO(rem))
}

// CreateReminder handles POST /api/reminders.
//
//	@Summary		Create and arm a reminder
//	@Tags			reminders
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateReminderRequest	true	"Reminder to create"
//	@Success		201		{object}	ReminderResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reminders [post]
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req CreateReminderRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	rem, err := h.svc.AddReminder(r.Context(), req.Title, req.Body, req.Trigger())
	if rem.ID == "" {
		var verr validation.Errors
		switch {
		case errors.Is(err, apperr.ErrInvalidTrigger), errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("reminder id already in use"))
		default:
			slog.Error("create reminder failed", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeSaved(w, http.StatusCreated, rem, err)
}

// ReactivateReminder handles POST /api/reminders/{id}/reactivate.
//
//	@Summary		Reset a reminder's clock and re-arm it
//	@Tags			reminders
//	@Produce		json
//	@Param			id	path		string	true	"Reminder ID"
//	@Success		200	{object}	ReminderResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reminders/{id}/reactivate [post]
func (h *Handler) ReactivateReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := h.svc.Reactivate(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeSaved(w, http.StatusOK, rem, err)
}

// DeleteReminder handles DELETE /api/reminders/{id}. Deleting an unknown id
// succeeds.
//
//	@Summary		Disarm and delete a reminder
//	@Tags			reminders
//	@Param			id	path	string	true	"Reminder ID"
//	@Success		204	"Reminder deleted"
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reminders/{id} [delete]
func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Remove(id); err != nil {
		slog.Error("delete reminder failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to persist deletion"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLaunch handles GET /api/launch.
//
//	@Summary		Report whether onboarding is pending
//	@Tags			launch
//	@Produce		json
//	@Success		200	{object}	LaunchResponse
//	@Security		BearerAuth
//	@Router			/launch [get]
func (h *Handler) GetLaunch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LaunchResponse{FirstLaunch: h.svc.CheckIfFirstLaunch()})
}

// CompleteLaunch handles POST /api/launch.
//
//	@Summary		Mark onboarding as completed
//	@Tags			launch
//	@Produce		json
//	@Success		200	{object}	LaunchResponse
//	@Security		BearerAuth
//	@Router			/launch [post]
func (h *Handler) CompleteLaunch(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.FirstLaunchCompleted(); err != nil {
		slog.Error("complete launch failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, LaunchResponse{FirstLaunch: false})
}

// Reset handles POST /api/reset. The response is flushed before the reset
// runs, because the reset terminates the process.
//
//	@Summary		Disarm and delete everything, then exit
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ResetRequest	true	"Confirmation"
//	@Success		202		{object}	map[string]string
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reset [post]
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := readJSON(w, r, &req); err != nil || !req.Confirm {
		writeJSON(w, http.StatusBadRequest, errorBody(`reset requires {"confirm": true}`))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resetting"})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	slog.Warn("hard reset requested over HTTP", slog.String("remote", r.RemoteAddr))
	h.svc.HardReset()
}

// writeSaved answers a create or reactivate that produced a reminder. A
// delivery failure is a warning; a persistence failure is a server error.
func writeSaved(w http.ResponseWriter, status int, rem models.Reminder, err error) {
	switch {
	case err == nil:
		writeJSON(w, status, ReminderResponse{ReminderDTO: toDTO(rem)})
	case errors.Is(err, apperr.ErrPersistenceWrite):
		slog.Error("save reminder failed", slog.String("id", rem.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("reminder could not be saved"))
	case errors.Is(err, apperr.ErrDelivery):
		slog.Warn("reminder saved but not armed", slog.String("id", rem.ID), slog.String("error", err.Error()))
		writeJSON(w, status, ReminderResponse{ReminderDTO: toDTO(rem), Warning: err.Error()})
	default:
		slog.Error("reminder operation failed", slog.String("id", rem.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
