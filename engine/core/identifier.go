package core

import "github.com/google/uuid"

// NewIdentifier hands out the identity every GPU resource carries for its
// whole lifetime.
func NewIdentifier() uuid.UUID {
	return uuid.New()
}

// ShortIdentifier is the form used in log lines.
func ShortIdentifier(id uuid.UUID) string {
	return id.String()[:8]
}

// ContentIdentifier is stable for equal content, so caches can key on it.
func ContentIdentifier(content ...string) uuid.UUID {
	id := uuid.Nil
	for _, c := range content {
		id = uuid.NewSHA1(id, []byte(c))
	}
	return id
}
