package models

import "time"

// User is the subset of the identity row the relay needs to resolve callers.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}
