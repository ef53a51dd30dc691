package models

import "time"

// IdempotencyOutcome is the result of recording an idempotency key.
type IdempotencyOutcome string

const (
	// IdempotencyStored means the key was unseen and is now recorded.
	IdempotencyStored IdempotencyOutcome = "STORED"
	// IdempotencyDuplicateMatch means the key was seen with an identical
	// payload; the prior result is safe to return.
	IdempotencyDuplicateMatch IdempotencyOutcome = "DUPLICATE_MATCH"
	// IdempotencyDuplicateMismatch means the key was seen with a different
	// payload; the caller must reject the request.
	IdempotencyDuplicateMismatch IdempotencyOutcome = "DUPLICATE_MISMATCH"
)

// MinIdempotencyTTL is the floor applied to caller-supplied TTLs.
const MinIdempotencyTTL = 60 * time.Second

// IdempotencyRecord deduplicates externally retried mutating requests by
// (operation, key). Expired rows are pruned lazily.
type IdempotencyRecord struct {
	Operation   string    `json:"operation" db:"operation"`
	Key         string    `json:"key" db:"key"`
	PayloadHash string    `json:"payload_hash" db:"payload_hash"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
