package app

import (
	"strings"

	"github.com/google/uuid"
)

// requestNamespace scopes idempotency keys derived by DeriveIdempotencyKey.
var requestNamespace = uuid.MustParse("6f1c8e52-4d0b-4b8e-9a57-0d7e4f3a9b21")

// newID returns a time-ordered UUIDv7, falling back to v4 if the clock source fails.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DeriveIdempotencyKey maps (event, user, client token) onto a stable key.
// The same triple always yields the same key.
func DeriveIdempotencyKey(eventID, userID, token string) string {
	name := strings.Join([]string{eventID, userID, token}, "\x00")
	return uuid.NewSHA1(requestNamespace, []byte(name)).String()
}
