package core

import "time"

// Field length limits enforced at the API boundary
const (
	MaxNameLength        = 200
	MaxDescriptionLength = 5000
	MaxFreeTextLength    = 500
)

// Listing limits for cursor pagination
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// MaxErrorMessageLength caps error messages returned to clients
const MaxErrorMessageLength = 500

// DBTimeout bounds individual storage lookups made during request handling
const DBTimeout = 5 * time.Second
