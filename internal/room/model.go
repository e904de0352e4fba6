package room

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const DefaultMessage = "Toasty Antifreeze triggered! Last message was sent {days} days ago."

// MaxRuns caps the per-room check history; oldest entries are truncated.
const MaxRuns = 32

// Server is a chat deployment a room can live on.
type Server string

const (
	StackExchange     Server = "https://chat.stackexchange.com"
	StackOverflow     Server = "https://chat.stackoverflow.com"
	MetaStackExchange Server = "https://chat.meta.stackexchange.com"
)

func (s Server) Valid() bool {
	switch s {
	case StackExchange, StackOverflow, MetaStackExchange:
		return true
	}
	return false
}

// Result is the tri-state outcome of one inactivity check.
type Result int

const (
	ResultOK Result = iota
	ResultAntifreezed
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultAntifreezed:
		return "ANTIFREEZED"
	case ResultError:
		return "ERROR"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Run records the outcome of a single inactivity check. Exactly one of
// MostRecentMessage and Error is set, matching Result.
type Run struct {
	Result            Result     `json:"result"`
	RanAt             time.Time  `json:"ran_at"`
	MostRecentMessage *time.Time `json:"most_recent_message,omitempty"`
	Error             *string    `json:"error,omitempty"`
}

// Runs is stored as a jsonb column, most recent first.
type Runs []Run

func (r Runs) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

func (r *Runs) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	}
	return fmt.Errorf("runs: cannot scan %T", src)
}

// Room is the aggregate the antifreeze engine operates on.
type Room struct {
	RoomID        int64         `gorm:"primaryKey" json:"room_id"`
	Server        Server        `gorm:"type:text;not null" json:"server"`
	Name          string        `gorm:"type:text;not null;default:''" json:"name"`
	Active        bool          `gorm:"not null;default:true" json:"active"`
	Locked        bool          `gorm:"not null;default:false" json:"locked"`
	Message       string        `gorm:"type:text;not null" json:"message"`
	PendingErrors int           `gorm:"not null;default:0" json:"pending_errors"`
	Runs          Runs          `gorm:"type:jsonb;not null;default:'[]'::jsonb" json:"runs"`
	Owners        pq.Int64Array `gorm:"type:bigint[];not null;default:'{}'" json:"owners"`
	AddedBy       int64         `gorm:"index;not null" json:"added_by"`
	CreatedAt     time.Time     `gorm:"not null;default:now()" json:"created_at"`
}

// AppendRun prepends run and truncates the history to MaxRuns entries.
func (rm *Room) AppendRun(run Run) {
	rm.Runs = append(Runs{run}, rm.Runs...)
	if len(rm.Runs) > MaxRuns {
		rm.Runs = rm.Runs[:MaxRuns]
	}
}

// LastChecked is the time of the most recent run, nil if never checked.
func (rm *Room) LastChecked() *time.Time {
	if len(rm.Runs) == 0 {
		return nil
	}
	return &rm.Runs[0].RanAt
}

// LastAntifreezed is the time of the most recent run that actually posted.
func (rm *Room) LastAntifreezed() *time.Time {
	for i := range rm.Runs {
		if rm.Runs[i].Result == ResultAntifreezed {
			return &rm.Runs[i].RanAt
		}
	}
	return nil
}
