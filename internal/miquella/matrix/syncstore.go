package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*SyncStore)(nil)

// SyncStore persists the /sync position in the matrix_sync_state table so a
// restarted bot does not replay old timeline events as new messages.
type SyncStore struct {
	db *sql.DB
}

// NewSyncStore wraps db. The store migrations must have been applied.
func NewSyncStore(db *sql.DB) *SyncStore {
	return &SyncStore{db: db}
}

func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID, "filter_id", filterID)
}

func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "filter_id")
}

func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.save(ctx, userID, "next_batch", nextBatchToken)
}

// LoadNextBatch returns "" before the first completed sync.
func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "next_batch")
}

// column is one of a fixed pair, never user input.
func (s *SyncStore) save(ctx context.Context, userID id.UserID, column, value string) error {
	q := fmt.Sprintf(`
		INSERT INTO matrix_sync_state (user_id, %[1]s, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = CURRENT_TIMESTAMP
	`, column)
	if _, err := s.db.ExecContext(ctx, q, userID.String(), value); err != nil {
		return fmt.Errorf("save %s: %w", column, err)
	}
	return nil
}

func (s *SyncStore) load(ctx context.Context, userID id.UserID, column string) (string, error) {
	var value string
	q := fmt.Sprintf(`SELECT %s FROM matrix_sync_state WHERE user_id = ?`, column)
	err := s.db.QueryRowContext(ctx, q, userID.String()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", column, err)
	}
	return value, nil
}
