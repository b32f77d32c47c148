package store

import (
	"fmt"

	"github.com/filedepot/filedepot/internal/depot"
)

// ToggleFavorite adds the file to the user's favorites, or removes it if
// already present. Returns true when the file ends up favorited.
func (s *Store) ToggleFavorite(userID, fileID int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM favorites WHERE user_id = ? AND file_id = ?`, userID, fileID)
	if err != nil {
		return false, fmt.Errorf("toggle favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	if _, err := s.db.Exec(`INSERT INTO favorites(user_id, file_id) VALUES (?, ?)`, userID, fileID); err != nil {
		if isUniqueViolation(err) {
			return true, nil
		}
		return false, fmt.Errorf("toggle favorite: %w", err)
	}
	return true, nil
}

func (s *Store) ListFavorites(userID int64) ([]File, error) {
	rows, err := s.db.Query(`SELECT f.id, f.user_id, f.folder_name, f.filename, f.size_bytes,
			f.content_hash, f.encrypted, f.created_at, f.updated_at
		FROM favorites fav
		JOIN files f ON f.id = fav.file_id
		WHERE fav.user_id = ?
		ORDER BY fav.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	out := make([]File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) IsFavorite(userID, fileID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM favorites WHERE user_id = ? AND file_id = ?`, userID, fileID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteFavorite(userID, fileID int64) error {
	res, err := s.db.Exec(`DELETE FROM favorites WHERE user_id = ? AND file_id = ?`, userID, fileID)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}
