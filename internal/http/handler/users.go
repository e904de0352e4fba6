package handler

import (
	"net/http"
	"strconv"

	"toasty/internal/auth"
	"toasty/internal/room"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type UserHandler struct {
	DB    *gorm.DB
	Store *room.Store
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	var users []auth.User
	if err := h.DB.WithContext(r.Context()).Order("id").Find(&users).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *UserHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || targetID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if targetID != id.UserID && id.Role < auth.RoleModerator {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var target auth.User
	if err := h.DB.WithContext(r.Context()).First(&target, "id = ?", targetID).Error; err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	rooms, err := h.Store.OfUser(r.Context(), targetID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}
