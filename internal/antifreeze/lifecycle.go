package antifreeze

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"toasty/internal/room"
)

// RoomLister enumerates every registered room.
type RoomLister interface {
	All(ctx context.Context) ([]room.Room, error)
}

// Lifecycle boots and drains the scheduler. All scheduling state is
// re-derived from the store here, which is why losing it on restart is fine.
type Lifecycle struct {
	Store     RoomLister
	Scheduler *Scheduler
	Log       *zap.Logger
}

// Start registers a job for every known room, then starts dispatch. Nothing
// fires until registration has finished enumerating.
func (l *Lifecycle) Start(ctx context.Context) error {
	rooms, err := l.Store.All(ctx)
	if err != nil {
		return fmt.Errorf("initial schedule: %w", err)
	}
	for _, rm := range rooms {
		l.Scheduler.Schedule(rm.RoomID)
	}
	l.Scheduler.Start()
	l.Log.Info("antifreeze running", zap.Int("rooms", len(rooms)))
	return nil
}

// Shutdown stops future firings. In-flight checks finish on their own.
func (l *Lifecycle) Shutdown() {
	l.Scheduler.Shutdown()
	l.Log.Info("antifreeze stopped")
}
