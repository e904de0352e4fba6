package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toasty/internal/auth"
	"toasty/internal/chat"
	"toasty/internal/room"
)

type fakeChecker struct {
	err    error
	ran    []int64
	notify []int64
}

func (f *fakeChecker) RunAntifreeze(_ context.Context, roomID int64) error {
	f.ran = append(f.ran, roomID)
	return f.err
}

func (f *fakeChecker) NotifyRoomAdded(_ context.Context, rm *room.Room, _ string, _ int64) error {
	f.notify = append(f.notify, rm.RoomID)
	return nil
}

type fakeRoomStore struct {
	rooms   map[int64]*room.Room
	saved   []room.Room
	deleted []int64
}

func newFakeRoomStore(rooms ...*room.Room) *fakeRoomStore {
	f := &fakeRoomStore{rooms: map[int64]*room.Room{}}
	for _, rm := range rooms {
		f.rooms[rm.RoomID] = rm
	}
	return f
}

func (f *fakeRoomStore) All(_ context.Context) ([]room.Room, error) {
	var out []room.Room
	for _, rm := range f.rooms {
		out = append(out, *rm)
	}
	return out, nil
}

func (f *fakeRoomStore) Get(_ context.Context, roomID int64) (*room.Room, error) {
	rm, ok := f.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, room.ErrNotFound)
	}
	cp := *rm
	return &cp, nil
}

func (f *fakeRoomStore) Save(_ context.Context, rm *room.Room) error {
	cp := *rm
	f.rooms[rm.RoomID] = &cp
	f.saved = append(f.saved, cp)
	return nil
}

func (f *fakeRoomStore) Delete(_ context.Context, rm *room.Room) error {
	delete(f.rooms, rm.RoomID)
	f.deleted = append(f.deleted, rm.RoomID)
	return nil
}

func (f *fakeRoomStore) OfUser(_ context.Context, userID int64) ([]room.Room, error) {
	var out []room.Room
	for _, rm := range f.rooms {
		if rm.AddedBy == userID {
			out = append(out, *rm)
		}
	}
	return out, nil
}

type fakeUsers struct {
	users map[int64]*auth.User
	err   error
}

func (f *fakeUsers) Get(_ context.Context, id int64) (*auth.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("get user %d: not found", id)
	}
	return u, nil
}

type fakeDirectory struct {
	owned map[int64][]chat.OwnedRoom
	meta  chat.RoomMetadata
}

func (f *fakeDirectory) OwnedRooms(_ context.Context, _ string, userID int64) ([]chat.OwnedRoom, error) {
	return f.owned[userID], nil
}

func (f *fakeDirectory) RoomMetadata(_ context.Context, _ string, _ int64) (chat.RoomMetadata, error) {
	return f.meta, nil
}

type fakeRegistry struct {
	scheduled []int64
	removed   []int64
}

func (f *fakeRegistry) Schedule(roomID int64) { f.scheduled = append(f.scheduled, roomID) }

func (f *fakeRegistry) Remove(roomID int64) error {
	f.removed = append(f.removed, roomID)
	return nil
}

func newTestRoomHandler(store *fakeRoomStore, users *fakeUsers, dir *fakeDirectory) (*RoomHandler, *fakeChecker, *fakeRegistry) {
	checker := &fakeChecker{}
	reg := &fakeRegistry{}
	h := &RoomHandler{
		Store:    store,
		Users:    users,
		Engine:   checker,
		Sched:    reg,
		Chat:     dir,
		Validate: validator.New(),
		Log:      zap.NewNop(),
	}
	return h, checker, reg
}

func roomRequest(method, target, roomID string, ident auth.Identity, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rctx := chi.NewRouteContext()
	if roomID != "" {
		rctx.URLParams.Add("roomID", roomID)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = auth.ContextWithIdentity(ctx, ident)
	return req.WithContext(ctx)
}

func forceCheckRequest(roomID string) *http.Request {
	return roomRequest(http.MethodPost, "/rooms/"+roomID+"/forcecheck", roomID,
		auth.Identity{UserID: 1, Role: auth.RoleDeveloper}, "")
}

func TestForceCheckRunsEngine(t *testing.T) {
	checker := &fakeChecker{}
	h := &RoomHandler{Engine: checker, Log: zap.NewNop()}

	rec := httptest.NewRecorder()
	h.ForceCheck(rec, forceCheckRequest("42"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, []int64{42}, checker.ran)
}

func TestForceCheckUnknownRoom(t *testing.T) {
	checker := &fakeChecker{err: fmt.Errorf("room 42: %w", room.ErrNotFound)}
	h := &RoomHandler{Engine: checker, Log: zap.NewNop()}

	rec := httptest.NewRecorder()
	h.ForceCheck(rec, forceCheckRequest("42"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForceCheckBadRoomID(t *testing.T) {
	checker := &fakeChecker{}
	h := &RoomHandler{Engine: checker, Log: zap.NewNop()}

	rec := httptest.NewRecorder()
	h.ForceCheck(rec, forceCheckRequest("banana"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, checker.ran)
}

func TestForceCheckStoreFailure(t *testing.T) {
	checker := &fakeChecker{err: fmt.Errorf("connection refused")}
	h := &RoomHandler{Engine: checker, Log: zap.NewNop()}

	rec := httptest.NewRecorder()
	h.ForceCheck(rec, forceCheckRequest("42"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEditLockedRoomForbiddenForUser(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, Locked: true, AddedBy: 1})
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, ChatID: 100}}}
	dir := &fakeDirectory{owned: map[int64][]chat.OwnedRoom{100: {{ID: 7}}}}
	h, _, _ := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/7/edit", "7",
		auth.Identity{UserID: 1, Role: auth.RoleUser},
		`{"message":"hi there","active":true}`)
	h.Edit(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.saved, "a locked room must not be written")
}

func TestEditLockedRoomAllowedForModerator(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, Locked: true, AddedBy: 1})
	users := &fakeUsers{users: map[int64]*auth.User{}}
	h, _, _ := newTestRoomHandler(store, users, &fakeDirectory{})

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/7/edit", "7",
		auth.Identity{UserID: 2, Role: auth.RoleModerator},
		`{"message":"quiet now","active":true,"locked":false}`)
	h.Edit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "quiet now", store.saved[0].Message)
	assert.False(t, store.saved[0].Locked, "moderators may unlock")
}

func TestEditNonOwnerForbidden(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, AddedBy: 1})
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, ChatID: 100}}}
	dir := &fakeDirectory{owned: map[int64][]chat.OwnedRoom{100: {{ID: 99}}}}
	h, _, _ := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/7/edit", "7",
		auth.Identity{UserID: 1, Role: auth.RoleUser},
		`{"message":"hi there","active":true}`)
	h.Edit(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.saved)
}

func TestEditUserCannotLock(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, AddedBy: 1})
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, ChatID: 100}}}
	dir := &fakeDirectory{owned: map[int64][]chat.OwnedRoom{100: {{ID: 7}}}}
	h, _, _ := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/7/edit", "7",
		auth.Identity{UserID: 1, Role: auth.RoleUser},
		`{"message":"hi there","active":true,"locked":true}`)
	h.Edit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.saved, 1)
	assert.False(t, store.saved[0].Locked, "lock flag is moderator-only")
}

func TestEditOversizedMessageRejected(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, AddedBy: 1})
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, ChatID: 100}}}
	dir := &fakeDirectory{owned: map[int64][]chat.OwnedRoom{100: {{ID: 7}}}}
	h, _, _ := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/7/edit", "7",
		auth.Identity{UserID: 1, Role: auth.RoleUser},
		fmt.Sprintf(`{"message":%q,"active":true}`, strings.Repeat("x", 129)))
	h.Edit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.saved)
}

func TestDetailsHiddenFromOtherUsers(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, AddedBy: 1})
	h, _, _ := newTestRoomHandler(store, &fakeUsers{}, &fakeDirectory{})

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodGet, "/rooms/7", "7",
		auth.Identity{UserID: 2, Role: auth.RoleUser}, "")
	h.Details(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDetailsVisibleToModerator(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, AddedBy: 1})
	h, _, _ := newTestRoomHandler(store, &fakeUsers{}, &fakeDirectory{})

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodGet, "/rooms/7", "7",
		auth.Identity{UserID: 2, Role: auth.RoleModerator}, "")
	h.Details(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDuplicateRoom(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, AddedBy: 1})
	h, _, _ := newTestRoomHandler(store, &fakeUsers{}, &fakeDirectory{})

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/", "",
		auth.Identity{UserID: 1, Role: auth.RoleUser},
		fmt.Sprintf(`{"server":%q,"room_id":7,"message":"hi there","active":true}`, room.StackExchange))
	h.Create(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateNonOwnerForbidden(t *testing.T) {
	store := newFakeRoomStore()
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, ChatID: 100}}}
	dir := &fakeDirectory{owned: map[int64][]chat.OwnedRoom{100: {{ID: 99}}}}
	h, _, reg := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/", "",
		auth.Identity{UserID: 1, Role: auth.RoleUser},
		fmt.Sprintf(`{"server":%q,"room_id":7,"message":"hi there","active":true}`, room.StackExchange))
	h.Create(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.saved)
	assert.Empty(t, reg.scheduled)
}

func TestCreateOwnerSucceeds(t *testing.T) {
	store := newFakeRoomStore()
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, ChatID: 100, Name: "toasty"}}}
	dir := &fakeDirectory{
		owned: map[int64][]chat.OwnedRoom{100: {{ID: 7}}},
		meta:  chat.RoomMetadata{ID: 7, Name: "The Kiln"},
	}
	h, checker, reg := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/", "",
		auth.Identity{UserID: 1, Role: auth.RoleUser},
		fmt.Sprintf(`{"server":%q,"room_id":7,"message":"hi there","active":true,"locked":true}`, room.StackExchange))
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "The Kiln", store.saved[0].Name)
	assert.False(t, store.saved[0].Locked, "lock flag is moderator-only")
	assert.Equal(t, []int64{7}, checker.ran)
	assert.Equal(t, []int64{7}, checker.notify)
	assert.Equal(t, []int64{7}, reg.scheduled)
}

func TestCreateSkipsNoticeWhenCreatorLookupFails(t *testing.T) {
	store := newFakeRoomStore()
	users := &fakeUsers{err: fmt.Errorf("connection refused")}
	dir := &fakeDirectory{meta: chat.RoomMetadata{ID: 7, Name: "The Kiln"}}
	h, checker, reg := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/", "",
		auth.Identity{UserID: 2, Role: auth.RoleModerator},
		fmt.Sprintf(`{"server":%q,"room_id":7,"message":"hi there","active":true}`, room.StackExchange))
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, checker.notify, "no notice without the creator's chat identity")
	assert.Equal(t, []int64{7}, checker.ran, "the initial check still runs")
	assert.Equal(t, []int64{7}, reg.scheduled)
}

func TestDeleteDeregistersRoom(t *testing.T) {
	store := newFakeRoomStore(&room.Room{RoomID: 7, Server: room.StackExchange, AddedBy: 1})
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, ChatID: 100}}}
	dir := &fakeDirectory{owned: map[int64][]chat.OwnedRoom{100: {{ID: 7}}}}
	h, _, reg := newTestRoomHandler(store, users, dir)

	rec := httptest.NewRecorder()
	req := roomRequest(http.MethodPost, "/rooms/7/delete", "7",
		auth.Identity{UserID: 1, Role: auth.RoleUser}, "")
	h.Delete(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{7}, store.deleted)
	assert.Equal(t, []int64{7}, reg.removed)
}
