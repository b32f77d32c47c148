package store

import (
	"fmt"
	"time"

	"github.com/filedepot/filedepot/internal/depot"
)

func (s *Store) CreateQuickShare(q QuickShare) error {
	_, err := s.db.Exec(`INSERT INTO quick_shares(token, user_id, file_path, expires_at, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		q.Token, q.UserID, q.FilePath, q.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create quick share: %w", err)
	}
	return nil
}

func (s *Store) GetQuickShare(token string) (QuickShare, error) {
	var q QuickShare
	var last sqlNullTime
	err := s.db.QueryRow(`SELECT token, user_id, file_path, expires_at, created_at, last_accessed_at
		FROM quick_shares WHERE token = ?`, token).
		Scan(&q.Token, &q.UserID, &q.FilePath, &q.ExpiresAt, &q.CreatedAt, &last)
	if err != nil {
		return QuickShare{}, notFoundIfNoRows(err)
	}
	if last.Valid {
		t := last.Time
		q.LastAccessed = &t
	}
	return q, nil
}

func (s *Store) MarkQuickShareAccessed(token string) error {
	_, err := s.db.Exec(`UPDATE quick_shares SET last_accessed_at = CURRENT_TIMESTAMP WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("touch quick share: %w", err)
	}
	return nil
}

func (s *Store) DeleteQuickShare(token string) error {
	res, err := s.db.Exec(`DELETE FROM quick_shares WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete quick share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

func (s *Store) ListQuickShares(userID int64) ([]QuickShare, error) {
	rows, err := s.db.Query(`SELECT token, user_id, file_path, expires_at, created_at, last_accessed_at
		FROM quick_shares WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list quick shares: %w", err)
	}
	defer rows.Close()

	out := make([]QuickShare, 0)
	for rows.Next() {
		var q QuickShare
		var last sqlNullTime
		if err := rows.Scan(&q.Token, &q.UserID, &q.FilePath, &q.ExpiresAt, &q.CreatedAt, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			q.LastAccessed = &t
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) PurgeExpiredQuickShares(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM quick_shares WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge quick shares: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
