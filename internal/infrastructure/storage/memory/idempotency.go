package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/idempotency"
)

// IdempotencyStore keeps idempotency keys in process memory.
type IdempotencyStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	rows map[string]*idempotency.Record
	now  func() time.Time
}

// NewIdempotencyStore creates a store whose keys expire after ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:  ttl,
		rows: make(map[string]*idempotency.Record),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*idempotency.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.rows[key]
	if !ok || now.After(rec.ExpiresAt) {
		s.rows[key] = &idempotency.Record{
			Key:         key,
			UserID:      userID,
			Operation:   operation,
			Status:      idempotency.StatusPending,
			RequestHash: requestHash,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
		}
		return nil, nil
	}

	if rec.UserID != userID || rec.Operation != operation || rec.RequestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key).
			WithDetail("stored_operation", rec.Operation).
			WithDetail("request_operation", operation)
	}

	switch rec.Status {
	case idempotency.StatusSuccess, idempotency.StatusFailed:
		return &idempotency.Replay{
			StatusCode:  idempotency.NormalizeStatus(rec.StatusCode),
			ContentType: idempotency.NormalizeContentType(rec.ContentType),
			Body:        rec.Response,
		}, nil
	default:
		if now.Sub(rec.UpdatedAt) > idempotency.StaleAfter {
			rec.UpdatedAt = now
			return nil, nil
		}
		return nil, apperror.NewIdempotencyConflict(key)
	}
}

func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(key, idempotency.StatusSuccess, statusCode, contentType, response)
}

func (s *IdempotencyStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(key, idempotency.StatusFailed, statusCode, contentType, response)
}

func (s *IdempotencyStore) finish(key string, status idempotency.Status, statusCode int, contentType string, response any) error {
	var body []byte
	if response != nil {
		b, err := json.Marshal(response)
		if err != nil {
			return err
		}
		body = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[key]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.Response = body
	rec.StatusCode = statusCode
	rec.ContentType = contentType
	rec.UpdatedAt = s.now()
	return nil
}

func (s *IdempotencyStore) ReleaseKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.rows[key]; ok && rec.Status == idempotency.StatusPending {
		delete(s.rows, key)
	}
	return nil
}

func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, rec := range s.rows {
		if rec.ExpiresAt.Before(now) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

var _ idempotency.Store = (*IdempotencyStore)(nil)
