package core

import "github.com/google/uuid"

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }
