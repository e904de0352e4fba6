// Package antifreeze keeps registered chat rooms alive: a scheduler fires a
// daily check per room, and the engine posts a keep-alive message when a room
// has been silent past the threshold.
package antifreeze

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"toasty/internal/chat"
	"toasty/internal/room"
)

// ChatClient is the slice of the chat platform the engine needs.
type ChatClient interface {
	LastHumanMessageTime(ctx context.Context, server string, roomID int64) (time.Time, error)
	PostMessage(ctx context.Context, server string, roomID int64, text string) error
	RoomMetadata(ctx context.Context, server string, roomID int64) (chat.RoomMetadata, error)
	RoomOwners(ctx context.Context, server string, roomID int64) ([]int64, error)
}

// RoomStore is the slice of the room store the engine needs.
type RoomStore interface {
	Get(ctx context.Context, roomID int64) (*room.Room, error)
	Save(ctx context.Context, rm *room.Room) error
}

// Engine runs one check-and-act cycle per invocation. It is the error
// boundary for chat failures: they end up as ERROR runs on the room, never as
// returned errors. The only domain error that escapes is room.ErrNotFound,
// which means a job exists for a room the store no longer knows.
type Engine struct {
	store     RoomStore
	chat      ChatClient
	threshold int
	domain    string
	log       *zap.Logger
	now       func() time.Time
}

func NewEngine(store RoomStore, chatc ChatClient, threshold int, domain string, log *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		chat:      chatc,
		threshold: threshold,
		domain:    domain,
		log:       log,
		now:       time.Now,
	}
}

// RunAntifreeze checks one room and posts if it has been silent too long.
// Safe to trigger manually; a manual run racing a scheduled one for the same
// room is last-write-wins on the store, same as the daily cadence has always
// behaved.
func (e *Engine) RunAntifreeze(ctx context.Context, roomID int64) error {
	log := e.log.With(zap.Int64("room", roomID))
	log.Info("checking room")

	rm, err := e.store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("antifreeze: %w", err)
	}
	if !rm.Active {
		log.Info("room not active, skipping")
		return nil
	}

	ranAt := e.now()
	lastMessage, err := e.chat.LastHumanMessageTime(ctx, string(rm.Server), roomID)
	if err != nil {
		log.Warn("message probe failed", zap.Error(err))
		return e.recordFailure(ctx, rm, ranAt, err)
	}

	e.refreshMetadata(ctx, rm, log)

	silence := ranAt.Sub(lastMessage)
	days := int(silence.Hours() / 24)
	log.Info("probe complete",
		zap.Time("last_message", lastMessage),
		zap.Int("silent_days", days))

	if days < e.threshold {
		log.Info("below threshold, not antifreezing")
		rm.AppendRun(room.Run{Result: room.ResultOK, RanAt: ranAt, MostRecentMessage: &lastMessage})
		return e.store.Save(ctx, rm)
	}

	body := strings.ReplaceAll(rm.Message, "{days}", strconv.Itoa(days))
	if err := e.chat.PostMessage(ctx, string(rm.Server), roomID, body); err != nil {
		log.Warn("antifreeze post failed", zap.Error(err))
		return e.recordFailure(ctx, rm, ranAt, err)
	}
	log.Info("room antifreezed", zap.Int("silent_days", days))
	rm.AppendRun(room.Run{Result: room.ResultAntifreezed, RanAt: ranAt, MostRecentMessage: &lastMessage})
	return e.store.Save(ctx, rm)
}

// NotifyRoomAdded posts an enablement notice into a freshly registered room.
// Best effort; the caller logs and moves on if it fails.
func (e *Engine) NotifyRoomAdded(ctx context.Context, rm *room.Room, userName string, chatID int64) error {
	text := fmt.Sprintf(
		"Toasty Antifreeze has been enabled on this room by [%s](%s/users/%d)."+
			" Moderators or owners of this room can edit or disable antifreezing [here](%s/rooms/%d).",
		userName, rm.Server, chatID, e.domain, rm.RoomID)
	return e.chat.PostMessage(ctx, string(rm.Server), rm.RoomID, text)
}

// refreshMetadata opportunistically updates the cached name and owner list.
// Failures here never abort a cycle.
func (e *Engine) refreshMetadata(ctx context.Context, rm *room.Room, log *zap.Logger) {
	md, err := e.chat.RoomMetadata(ctx, string(rm.Server), rm.RoomID)
	if err != nil {
		log.Warn("metadata refresh failed", zap.Error(err))
	} else if md.Name != "" {
		rm.Name = md.Name
	}
	owners, err := e.chat.RoomOwners(ctx, string(rm.Server), rm.RoomID)
	if err != nil {
		log.Warn("owner refresh failed", zap.Error(err))
	} else if owners != nil {
		rm.Owners = owners
	}
}

func (e *Engine) recordFailure(ctx context.Context, rm *room.Room, ranAt time.Time, cause error) error {
	detail := failureDetail(cause)
	rm.AppendRun(room.Run{Result: room.ResultError, RanAt: ranAt, Error: &detail})
	rm.PendingErrors++
	return e.store.Save(ctx, rm)
}

// failureDetail keeps run records readable: the raw API detail when we have
// one, the error text otherwise.
func failureDetail(err error) string {
	var apiErr *chat.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}
