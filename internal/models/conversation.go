package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("models: record not found")

// Conversation is created before its first turn; the relay only reads it.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
}
