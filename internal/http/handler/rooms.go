package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"toasty/internal/auth"
	"toasty/internal/chat"
	"toasty/internal/room"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Checker runs an immediate inactivity check; in production it is the engine.
type Checker interface {
	RunAntifreeze(ctx context.Context, roomID int64) error
	NotifyRoomAdded(ctx context.Context, rm *room.Room, userName string, chatID int64) error
}

// Registry is the scheduler surface the web layer touches.
type Registry interface {
	Schedule(roomID int64)
	Remove(roomID int64) error
}

// Directory answers "which rooms does this user own" and room metadata
// lookups against the chat platform.
type Directory interface {
	OwnedRooms(ctx context.Context, server string, userID int64) ([]chat.OwnedRoom, error)
	RoomMetadata(ctx context.Context, server string, roomID int64) (chat.RoomMetadata, error)
}

// RoomStore is the slice of the room store the handlers need.
type RoomStore interface {
	All(ctx context.Context) ([]room.Room, error)
	Get(ctx context.Context, roomID int64) (*room.Room, error)
	Save(ctx context.Context, rm *room.Room) error
	Delete(ctx context.Context, rm *room.Room) error
	OfUser(ctx context.Context, userID int64) ([]room.Room, error)
}

// UserStore resolves the chat identity behind a local user id.
type UserStore interface {
	Get(ctx context.Context, id int64) (*auth.User, error)
}

type RoomHandler struct {
	Store    RoomStore
	Users    UserStore
	Engine   Checker
	Sched    Registry
	Chat     Directory
	Validate *validator.Validate
	Log      *zap.Logger
}

type newRoomForm struct {
	Server  string `json:"server" validate:"required"`
	RoomID  int64  `json:"room_id" validate:"required,gt=0"`
	Message string `json:"message" validate:"required,max=128,printascii"`
	Active  bool   `json:"active"`
	Locked  bool   `json:"locked"`
}

type editRoomForm struct {
	Message string `json:"message" validate:"required,max=128,printascii"`
	Active  bool   `json:"active"`
	Locked  bool   `json:"locked"`
}

type roomView struct {
	room.Room
	LastChecked     *time.Time `json:"last_checked"`
	LastAntifreezed *time.Time `json:"last_antifreezed"`
}

func viewOf(rm *room.Room) roomView {
	return roomView{
		Room:            *rm,
		LastChecked:     rm.LastChecked(),
		LastAntifreezed: rm.LastAntifreezed(),
	}
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	rooms, err := h.Store.OfUser(r.Context(), id.UserID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *RoomHandler) All(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Store.All(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *RoomHandler) Details(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	rm, ok := h.loadVisible(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rm))
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	var form newRoomForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := h.Validate.Struct(form); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	server := room.Server(form.Server)
	if !server.Valid() {
		http.Error(w, "unknown server", http.StatusBadRequest)
		return
	}

	if _, err := h.Store.Get(r.Context(), form.RoomID); err == nil {
		http.Error(w, "room already registered", http.StatusConflict)
		return
	} else if !errors.Is(err, room.ErrNotFound) {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if id.Role < auth.RoleModerator {
		if !h.ownsRoom(r.Context(), id.UserID, string(server), form.RoomID) {
			http.Error(w, "not an owner of that room", http.StatusForbidden)
			return
		}
		form.Locked = false
	}

	rm := &room.Room{
		RoomID:  form.RoomID,
		Server:  server,
		Active:  form.Active,
		Locked:  form.Locked,
		Message: form.Message,
		AddedBy: id.UserID,
	}
	if md, err := h.Chat.RoomMetadata(r.Context(), string(server), form.RoomID); err == nil {
		rm.Name = md.Name
	} else {
		h.Log.Warn("room metadata lookup failed", zap.Int64("room", form.RoomID), zap.Error(err))
	}
	if err := h.Store.Save(r.Context(), rm); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if u, err := h.Users.Get(r.Context(), id.UserID); err != nil {
		h.Log.Warn("creator lookup failed, skipping room-added notice",
			zap.Int64("user", id.UserID), zap.Error(err))
	} else if err := h.Engine.NotifyRoomAdded(r.Context(), rm, u.Name, u.ChatID); err != nil {
		h.Log.Warn("room-added notice failed", zap.Int64("room", rm.RoomID), zap.Error(err))
	}

	if err := h.Engine.RunAntifreeze(r.Context(), rm.RoomID); err != nil {
		h.Log.Warn("initial check failed", zap.Int64("room", rm.RoomID), zap.Error(err))
	}
	h.Sched.Schedule(rm.RoomID)

	writeJSON(w, http.StatusCreated, map[string]any{"room_id": rm.RoomID})
}

func (h *RoomHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	rm, ok := h.loadEditable(w, r, id)
	if !ok {
		return
	}

	var form editRoomForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := h.Validate.Struct(form); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if id.Role < auth.RoleModerator {
		form.Locked = rm.Locked
	}

	rm.Message = form.Message
	rm.Active = form.Active
	rm.Locked = form.Locked
	if err := h.Store.Save(r.Context(), rm); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rm))
}

func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	rm, ok := h.loadEditable(w, r, id)
	if !ok {
		return
	}

	if err := h.Store.Delete(r.Context(), rm); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := h.Sched.Remove(rm.RoomID); err != nil {
		h.Log.Warn("deregister failed", zap.Int64("room", rm.RoomID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) ForceCheck(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.RunAntifreeze(r.Context(), roomID); err != nil {
		if errors.Is(err, room.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (h *RoomHandler) ClearErrors(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	rm, ok := h.loadVisible(w, r, id)
	if !ok {
		return
	}
	rm.PendingErrors = 0
	if err := h.Store.Save(r.Context(), rm); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// loadVisible loads the room and applies the read rule: moderators see
// everything, everyone else only rooms they registered.
func (h *RoomHandler) loadVisible(w http.ResponseWriter, r *http.Request, id auth.Identity) (*room.Room, bool) {
	roomID, ok := roomIDParam(w, r)
	if !ok {
		return nil, false
	}
	rm, err := h.Store.Get(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return nil, false
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if id.Role < auth.RoleModerator && rm.AddedBy != id.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}
	return rm, true
}

// loadEditable additionally enforces the write rules: locked rooms are
// moderator-only, and non-moderators must still own the room on the chat
// platform.
func (h *RoomHandler) loadEditable(w http.ResponseWriter, r *http.Request, id auth.Identity) (*room.Room, bool) {
	rm, ok := h.loadVisible(w, r, id)
	if !ok {
		return nil, false
	}
	if id.Role < auth.RoleModerator {
		if rm.Locked {
			http.Error(w, "room is locked", http.StatusForbidden)
			return nil, false
		}
		if !h.ownsRoom(r.Context(), id.UserID, string(rm.Server), rm.RoomID) {
			http.Error(w, "not an owner of that room", http.StatusForbidden)
			return nil, false
		}
	}
	return rm, true
}

func (h *RoomHandler) ownsRoom(ctx context.Context, userID int64, server string, roomID int64) bool {
	u, err := h.Users.Get(ctx, userID)
	if err != nil {
		return false
	}
	owned, err := h.Chat.OwnedRooms(ctx, server, u.ChatID)
	if err != nil {
		h.Log.Warn("owned-rooms lookup failed", zap.Int64("user", userID), zap.Error(err))
		return false
	}
	for _, o := range owned {
		if o.ID == roomID {
			return true
		}
	}
	return false
}

func roomIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "roomID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
