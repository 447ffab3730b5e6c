package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/RuiRamos84/aintar-payments/internal/notification_service/app"
	"github.com/RuiRamos84/aintar-payments/internal/notification_service/domain"
	"github.com/RuiRamos84/aintar-payments/internal/platform/middleware"
)

type NotificationHandler struct {
	store  *app.Store
	logger *slog.Logger
}

func NewNotificationHandler(store *app.Store, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		store:  store,
		logger: logger.With("component", "notification_handler"),
	}
}

// Routes mounts the per-principal notification API. Auth middleware must run
// before these handlers.
func (h *NotificationHandler) Routes(r chi.Router) {
	r.Get("/notifications", h.List)
	r.Post("/notifications/{notificationID}/read", h.MarkRead)
	r.Post("/notifications/read-all", h.MarkAllRead)
}

type listResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	history, unread, err := h.store.List(r.Context(), principal.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list notifications", "error", err, "principal_id", principal.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []domain.Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listResponse{Notifications: history, UnreadCount: unread}); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to encode notification list", "error", err)
	}
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "notificationID")
	if id == "" {
		http.Error(w, "Notification id required", http.StatusBadRequest)
		return
	}

	if err := h.store.MarkRead(r.Context(), principal.ID, id); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to mark notification read", "error", err, "principal_id", principal.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	if err := h.store.MarkAllRead(r.Context(), principal.ID); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to mark all notifications read", "error", err, "principal_id", principal.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
