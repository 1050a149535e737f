// Package idempotency defines the contract for replaying duplicate
// mutating requests. Postgres and in-memory stores implement it.
package idempotency

import (
	"context"
	"time"
)

// Status represents the state of an idempotent operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StaleAfter is how long a pending key may sit untouched before another
// request may reclaim it.
const StaleAfter = time.Minute

// Record stores the result of an idempotent operation.
type Record struct {
	Key         string    `db:"idempotency_key"`
	UserID      string    `db:"user_id"`
	Operation   string    `db:"operation"`
	Status      Status    `db:"status"`
	RequestHash string    `db:"request_hash"` // SHA256 of request body
	Response    []byte    `db:"response"`
	StatusCode  int       `db:"response_status"`
	ContentType string    `db:"response_content_type"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// Replay is the cached HTTP response for a completed key.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store manages idempotency keys.
type Store interface {
	// AcquireKey returns (nil, nil) when the caller now owns key, a Replay
	// when the operation already finished, or an AppError when the key is in
	// flight or was used for a different request.
	AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*Replay, error)

	// CompleteKey stores a successful response for replay.
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error

	// FailKey stores a client-error response for replay.
	FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error

	// ReleaseKey forgets a pending key so the client may retry after a server error.
	ReleaseKey(ctx context.Context, key string) error

	// CleanupExpired removes expired records and returns how many were removed.
	CleanupExpired(ctx context.Context) (int64, error)
}

// NormalizeStatus defaults records stored without a status to 200.
func NormalizeStatus(status int) int {
	if status == 0 {
		return 200
	}
	return status
}

// NormalizeContentType defaults records stored without a content type to JSON.
func NormalizeContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}
