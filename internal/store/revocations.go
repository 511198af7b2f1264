package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Revoke records a session token ID as logged out until it would have
// expired anyway.
func (s *Store) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `insert or ignore into revocation (TokenID, ExpiresAt) values (?, ?)`,
		tokenID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `select TokenID from revocation where TokenID = ?`, tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return true, nil
}

// PurgeRevocations drops entries whose tokens have expired.
func (s *Store) PurgeRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from revocation where ExpiresAt < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging revocations: %w", err)
	}
	return res.RowsAffected()
}
