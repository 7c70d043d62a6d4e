package domain

import (
	"time"
)

// SnapshotKey is the well-known key the recovery snapshot is stored under.
const SnapshotKey = "activeMeeting"

// MaxSnapshotAge is how long a recovery snapshot stays usable.
const MaxSnapshotAge = time.Hour

// SessionSnapshot lets a restarted client offer to rejoin the call it was in.
type SessionSnapshot struct {
	Config    CallConfig `json:"config"`
	Title     string     `json:"title,omitempty"`
	Timestamp int64      `json:"timestamp"` // epoch millis
}

func NewSessionSnapshot(cfg CallConfig, title string, now time.Time) SessionSnapshot {
	return SessionSnapshot{
		Config:    cfg,
		Title:     title,
		Timestamp: now.UnixMilli(),
	}
}

func (s SessionSnapshot) Expired(now time.Time) bool {
	return now.Sub(time.UnixMilli(s.Timestamp)) > MaxSnapshotAge
}
