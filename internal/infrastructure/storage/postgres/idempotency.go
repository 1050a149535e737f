package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/idempotency"
)

// IdempotencyStore keeps idempotency keys in sys_idempotency.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{txManager: txManager, ttl: ttl}
}

// AcquireKey inserts a pending record or reports what the existing one holds.
// xmax = 0 on the returned row means this call inserted it.
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*idempotency.Replay, error) {
	now := time.Now().UTC()

	var (
		record   idempotency.Record
		inserted bool
		response []byte
		status   *int
		ctype    *string
	)
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, user_id, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
		RETURNING user_id, operation, status, request_hash, response, response_status,
			response_content_type, updated_at, (xmax = 0) AS inserted
	`, key, userID, operation, idempotency.StatusPending, requestHash, now, now.Add(s.ttl)).Scan(
		&record.UserID, &record.Operation, &record.Status, &record.RequestHash,
		&response, &status, &ctype, &record.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, translate(fmt.Errorf("acquire idempotency key: %w", err))
	}
	if inserted {
		return nil, nil
	}

	if record.UserID != userID || record.Operation != operation || record.RequestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key).
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", operation)
	}

	switch record.Status {
	case idempotency.StatusSuccess, idempotency.StatusFailed:
		replay := &idempotency.Replay{Body: response}
		if status != nil {
			replay.StatusCode = *status
		}
		if ctype != nil {
			replay.ContentType = *ctype
		}
		replay.StatusCode = idempotency.NormalizeStatus(replay.StatusCode)
		replay.ContentType = idempotency.NormalizeContentType(replay.ContentType)
		return replay, nil
	}

	if now.Sub(record.UpdatedAt) <= idempotency.StaleAfter {
		return nil, apperror.NewIdempotencyConflict(key)
	}

	// Pending for too long: the owner most likely crashed. Reclaim it.
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET updated_at = $1
		WHERE idempotency_key = $2 AND status = $3 AND updated_at = $4
	`, now, key, idempotency.StatusPending, record.UpdatedAt)
	if err != nil {
		return nil, translate(fmt.Errorf("reclaim stale key: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return nil, apperror.NewIdempotencyConflict(key)
	}
	return nil, nil
}

// CompleteKey stores a successful response.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(ctx, key, idempotency.StatusSuccess, statusCode, contentType, response)
}

// FailKey stores a client-error response.
func (s *IdempotencyStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(ctx, key, idempotency.StatusFailed, statusCode, contentType, response)
}

func (s *IdempotencyStore) finish(ctx context.Context, key string, status idempotency.Status, statusCode int, contentType string, response any) error {
	var body []byte
	if response != nil {
		b, err := json.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		body = b
	}

	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1,
		    response = $2,
		    response_status = $3,
		    response_content_type = $4,
		    updated_at = $5
		WHERE idempotency_key = $6
	`, status, body, statusCode, contentType, time.Now().UTC(), key)
	return translate(err)
}

// ReleaseKey deletes a pending key so the client can retry.
func (s *IdempotencyStore) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE idempotency_key = $1 AND status = $2`,
		key, idempotency.StatusPending)
	return translate(err)
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}
