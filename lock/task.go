package lock

import "github.com/google/uuid"

// TaskID identifies a logical task. All effects of one task share it.
type TaskID string

// NewTaskID returns a time-ordered unique task id.
func NewTaskID() TaskID {
	return TaskID(uuid.Must(uuid.NewV7()).String())
}

// Mode is the access mode of a lock request.
type Mode uint8

const (
	ModeExclusive Mode = iota
	ModeShared
)

func (m Mode) String() string {
	if m == ModeShared {
		return "shared"
	}
	return "exclusive"
}
