package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Sender identifies which side of the conversation authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderCompanion Sender = "companion"
)

// Profile is the durable identity record for one user, keyed by their
// normalized email. CompanionName stays empty until the user picks one;
// display code falls back to the default persona name.
type Profile struct {
	Email         string
	CompanionName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is one immutable row in an owner's conversation timeline.
type Message struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Sender    Sender    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
