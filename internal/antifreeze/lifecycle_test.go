package antifreeze

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toasty/internal/room"
)

type staticLister struct {
	rooms []room.Room
	err   error
}

func (s *staticLister) All(context.Context) ([]room.Room, error) { return s.rooms, s.err }

func TestLifecycleStartSchedulesEveryRoom(t *testing.T) {
	runner := newCountingRunner()
	s := fastScheduler(runner)
	l := &Lifecycle{
		Store:     &staticLister{rooms: []room.Room{{RoomID: 1}, {RoomID: 2}, {RoomID: 3}}},
		Scheduler: s,
		Log:       zap.NewNop(),
	}
	defer l.Shutdown()

	require.NoError(t, l.Start(context.Background()))

	require.Eventually(t, func() bool {
		return runner.count(1) >= 1 && runner.count(2) >= 1 && runner.count(3) >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLifecycleStartStoreFailure(t *testing.T) {
	runner := newCountingRunner()
	s := fastScheduler(runner)
	l := &Lifecycle{
		Store:     &staticLister{err: fmt.Errorf("connection refused")},
		Scheduler: s,
		Log:       zap.NewNop(),
	}
	defer l.Shutdown()

	err := l.Start(context.Background())
	require.Error(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, runner.runs, "nothing runs when enumeration fails")
}
