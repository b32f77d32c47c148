package store

import (
	"fmt"
	"time"

	"github.com/filedepot/filedepot/internal/depot"
)

// UpsertEphemeralToken stores a token for (user, purpose), replacing any
// prior unconsumed token of the same purpose. Only the most recent token
// is ever valid; concurrent issuance is last-writer-wins.
func (s *Store) UpsertEphemeralToken(userID int64, purpose depot.TokenPurpose, token string, expiresAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO ephemeral_tokens(user_id, purpose, token, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, purpose) DO UPDATE SET
			token = excluded.token,
			expires_at = excluded.expires_at,
			created_at = CURRENT_TIMESTAMP`,
		userID, string(purpose), token, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("store ephemeral token: %w", err)
	}
	return nil
}

// GetEphemeralToken looks a token up by its opaque value and purpose.
// Expiry is checked by the caller against ExpiresAt; a missing row and a
// purpose mismatch both read as not found.
func (s *Store) GetEphemeralToken(token string, purpose depot.TokenPurpose) (EphemeralToken, error) {
	var t EphemeralToken
	err := s.db.QueryRow(`SELECT id, user_id, purpose, token, expires_at, created_at
		FROM ephemeral_tokens WHERE token = ? AND purpose = ?`, token, string(purpose)).
		Scan(&t.ID, &t.UserID, &t.Purpose, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return EphemeralToken{}, notFoundIfNoRows(err)
	}
	return t, nil
}

// GetEphemeralTokenForUser returns the live token row for (user, purpose).
func (s *Store) GetEphemeralTokenForUser(userID int64, purpose depot.TokenPurpose) (EphemeralToken, error) {
	var t EphemeralToken
	err := s.db.QueryRow(`SELECT id, user_id, purpose, token, expires_at, created_at
		FROM ephemeral_tokens WHERE user_id = ? AND purpose = ?`, userID, string(purpose)).
		Scan(&t.ID, &t.UserID, &t.Purpose, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return EphemeralToken{}, notFoundIfNoRows(err)
	}
	return t, nil
}

// DeleteEphemeralToken consumes a token by value so it cannot validate twice.
func (s *Store) DeleteEphemeralToken(token string) error {
	res, err := s.db.Exec(`DELETE FROM ephemeral_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete ephemeral token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeExpiredTokens(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM ephemeral_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
