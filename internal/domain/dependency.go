package domain

import "time"

// DependencyMapping records that another catalog entry was generated from, or
// depends on, a model import. Used only for fan-out notification.
type DependencyMapping struct {
	ImportID   int64
	ConsumerID string
	CreatedBy  string
	CreatedAt  time.Time
}

// EventKind labels why dependants of a record are being notified.
type EventKind string

const (
	EventInfoChanged EventKind = "info_changed"
	EventDeleted     EventKind = "deleted"
)
