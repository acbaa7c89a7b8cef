package logging

import (
	"github.com/google/uuid"
)

// GenerateRequestID returns a new random request identifier.
func GenerateRequestID() string {
	return uuid.NewString()
}
