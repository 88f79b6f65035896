package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different models
const (
	PrefixEvent   = "evt_"
	PrefixRequest = "req_"
)

// NewEvent generates a new count event ID with evt_ prefix
func NewEvent() string {
	return PrefixEvent + uuid.New().String()
}

// NewRequest generates a new request ID with req_ prefix
func NewRequest() string {
	return PrefixRequest + uuid.New().String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
