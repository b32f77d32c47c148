package store

import (
	"fmt"

	"github.com/filedepot/filedepot/internal/depot"
)

const fileColumns = `id, user_id, folder_name, filename, size_bytes, content_hash, encrypted, created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (File, error) {
	var f File
	var encrypted int
	err := row.Scan(&f.ID, &f.UserID, &f.FolderName, &f.Filename, &f.SizeBytes, &f.ContentHash,
		&encrypted, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return File{}, notFoundIfNoRows(err)
	}
	f.Encrypted = encrypted == 1
	return f, nil
}

// UpsertFile registers a file, updating size and hash if the
// (owner, folder, filename) triple is already present. The triple is
// unique by constraint; the upsert keeps registration idempotent.
func (s *Store) UpsertFile(f File) (int64, error) {
	_, err := s.db.Exec(`INSERT INTO files(user_id, folder_name, filename, size_bytes, content_hash, encrypted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, folder_name, filename) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash,
			encrypted = excluded.encrypted,
			updated_at = CURRENT_TIMESTAMP`,
		f.UserID, f.FolderName, f.Filename, f.SizeBytes, f.ContentHash, boolToInt(f.Encrypted))
	if err != nil {
		return 0, fmt.Errorf("upsert file: %w", err)
	}
	existing, err := s.GetFile(f.UserID, f.FolderName, f.Filename)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

func (s *Store) GetFile(userID int64, folderName, filename string) (File, error) {
	return scanFile(s.db.QueryRow(`SELECT `+fileColumns+` FROM files
		WHERE user_id = ? AND folder_name = ? AND filename = ?`, userID, folderName, filename))
}

func (s *Store) GetFileByID(id int64) (File, error) {
	return scanFile(s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
}

func (s *Store) ListFilesInFolder(userID int64, folderName string) ([]File, error) {
	rows, err := s.db.Query(`SELECT `+fileColumns+` FROM files
		WHERE user_id = ? AND folder_name = ? ORDER BY filename ASC`, userID, folderName)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
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

// RenameFile moves a file row to a new folder/filename so direct shares
// keyed on (filename, folder, owner) stay resolvable after the rename.
func (s *Store) RenameFile(id int64, newFolderName, newFilename string) error {
	res, err := s.db.Exec(`UPDATE files SET folder_name = ?, filename = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, newFolderName, newFilename, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rename file: %w", depot.ErrConflict)
		}
		return fmt.Errorf("rename file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteFileRow(id int64) error {
	res, err := s.db.Exec(`DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}
