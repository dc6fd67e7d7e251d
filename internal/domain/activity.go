package domain

import "time"

type ActivityLevel string

const (
	LevelInfo    ActivityLevel = "INFO"
	LevelWarning ActivityLevel = "WARNING"
	LevelError   ActivityLevel = "ERROR"
)

type ActivityEntry struct {
	ID        int64
	SessionID SessionID
	RunID     RunID
	Level     ActivityLevel
	Message   string
	ProjectID ProjectID
	Data      map[string]any
	At        time.Time
}
