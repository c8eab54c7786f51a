package model

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "Online"
	StatusOffline PresenceStatus = "Offline"
)

type StopReason string

const (
	StopReasonCommand    StopReason = "COMMAND"
	StopReasonDisconnect StopReason = "DISCONNECT"
	StopReasonUser       StopReason = "USER"
)

type CommandType string

const (
	CommandStart CommandType = "START"
	CommandStop  CommandType = "STOP"
)

// PresenceRecord is the current per-user status row. Exactly one row per
// user; status only changes through the presence tracker.
type PresenceRecord struct {
	UserID        string
	Status        PresenceStatus
	LastChangedAt int64
}

// PresenceHistoryEntry is one online interval. EndedAt is nil while the
// interval is still open; at most one open entry exists per user.
type PresenceHistoryEntry struct {
	ID        int64
	UserID    string
	StartedAt int64
	EndedAt   *int64
}

// StreamingSession is one recording/streaming attempt. StoppedAt nil means
// the session is active; at most one active row exists per user.
type StreamingSession struct {
	ID         string
	UserID     string
	StartedAt  int64
	StoppedAt  *int64
	StopReason *StopReason
}

// PendingCommand is a server-issued start/stop instruction awaiting client
// acknowledgment. Acknowledged moves false to true only.
type PendingCommand struct {
	ID           string
	TargetUserID string
	Type         CommandType
	Reason       string
	IssuedAt     int64
	Acknowledged bool
	PublishedAt  *int64
}

// User is the minimal slice of the user directory the engine needs for
// identity resolution. The directory itself is owned elsewhere.
type User struct {
	ID         string
	ExternalID string
	Email      string
}
