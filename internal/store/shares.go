package store

import (
	"fmt"

	"github.com/filedepot/filedepot/internal/depot"
)

// CreateSharedFile inserts a direct file-share edge. The
// (file, target) pair is unique by constraint, so a concurrent duplicate
// grant loses at the insert instead of racing a prior existence check.
func (s *Store) CreateSharedFile(fileID, targetUserID, granterUserID int64, copiedFilename string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO shared_files(file_id, shared_with_user_id, shared_by_user_id, copied_filename)
		VALUES (?, ?, ?, ?)`, fileID, targetUserID, granterUserID, copiedFilename)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("share file: %w", depot.ErrConflict)
		}
		return 0, fmt.Errorf("share file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("share id: %w", err)
	}
	return id, nil
}

func (s *Store) GetSharedFile(fileID, targetUserID int64) (SharedFile, error) {
	var sf SharedFile
	err := s.db.QueryRow(`SELECT id, file_id, shared_with_user_id, shared_by_user_id, copied_filename, created_at
		FROM shared_files WHERE file_id = ? AND shared_with_user_id = ?`, fileID, targetUserID).
		Scan(&sf.ID, &sf.FileID, &sf.SharedWithUserID, &sf.SharedByUserID, &sf.CopiedFilename, &sf.CreatedAt)
	if err != nil {
		return SharedFile{}, notFoundIfNoRows(err)
	}
	return sf, nil
}

func (s *Store) DeleteSharedFile(id int64) error {
	res, err := s.db.Exec(`DELETE FROM shared_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete shared file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSharedFolder(folderPath string, targetUserID, granterUserID int64, copiedPath string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO shared_folders(folder_path, shared_with_user_id, shared_by_user_id, copied_path)
		VALUES (?, ?, ?, ?)`, folderPath, targetUserID, granterUserID, copiedPath)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("share folder: %w", depot.ErrConflict)
		}
		return 0, fmt.Errorf("share folder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("share id: %w", err)
	}
	return id, nil
}

func (s *Store) GetSharedFolder(folderPath string, targetUserID int64) (SharedFolder, error) {
	var sf SharedFolder
	err := s.db.QueryRow(`SELECT id, folder_path, shared_with_user_id, shared_by_user_id, copied_path, created_at
		FROM shared_folders WHERE folder_path = ? AND shared_with_user_id = ?`, folderPath, targetUserID).
		Scan(&sf.ID, &sf.FolderPath, &sf.SharedWithUserID, &sf.SharedByUserID, &sf.CopiedPath, &sf.CreatedAt)
	if err != nil {
		return SharedFolder{}, notFoundIfNoRows(err)
	}
	return sf, nil
}

func (s *Store) DeleteSharedFolder(id int64) error {
	res, err := s.db.Exec(`DELETE FROM shared_folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete shared folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

// HasDirectFileShare reports whether the owner's file identified by
// (folder, filename) is directly shared with the target user. The match
// is keyed on the file row, not the nominal path string.
func (s *Store) HasDirectFileShare(ownerID int64, folderName, filename string, targetUserID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1)
		FROM shared_files sf
		JOIN files f ON f.id = sf.file_id
		WHERE f.filename = ? AND f.folder_name = ? AND f.user_id = ? AND sf.shared_with_user_id = ?`,
		filename, folderName, ownerID, targetUserID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check direct file share: %w", err)
	}
	return n > 0, nil
}

// HasFolderShare reports whether folderPath is shared directly with the
// target user by the given granter. folderPath is the owner-prefixed
// path, e.g. "alice/projects".
func (s *Store) HasFolderShare(folderPath string, targetUserID, granterUserID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM shared_folders
		WHERE folder_path = ? AND shared_with_user_id = ? AND shared_by_user_id = ?`,
		folderPath, targetUserID, granterUserID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check folder share: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListIncomingShares(userID int64) ([]IncomingShareView, error) {
	out := make([]IncomingShareView, 0)

	rows, err := s.db.Query(`SELECT f.filename, f.folder_name, u.username, sf.created_at
		FROM shared_files sf
		JOIN files f ON f.id = sf.file_id
		JOIN users u ON u.id = sf.shared_by_user_id
		WHERE sf.shared_with_user_id = ?
		ORDER BY sf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list incoming file shares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v := IncomingShareView{Kind: "file"}
		if err := rows.Scan(&v.Filename, &v.FolderName, &v.SharedBy, &v.SharedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT sf.folder_path, u.username, sf.created_at
		FROM shared_folders sf
		JOIN users u ON u.id = sf.shared_by_user_id
		WHERE sf.shared_with_user_id = ?
		ORDER BY sf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list incoming folder shares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v := IncomingShareView{Kind: "folder"}
		if err := rows.Scan(&v.FolderPath, &v.SharedBy, &v.SharedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A resource shared to several of the user's groups is listed once,
	// under the most recent grant.
	rows, err = s.db.Query(`SELECT DISTINCT f.filename, f.folder_name, u.username, g.name, gsf.created_at
		FROM group_shared_files gsf
		JOIN files f ON f.id = gsf.file_id
		JOIN users u ON u.id = gsf.shared_by_user_id
		JOIN groups g ON g.id = gsf.group_id
		JOIN group_members m ON m.group_id = gsf.group_id
		WHERE m.user_id = ? AND g.active = 1
		ORDER BY gsf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list incoming group file shares: %w", err)
	}
	defer rows.Close()
	seenFiles := make(map[string]bool)
	for rows.Next() {
		v := IncomingShareView{Kind: "group_file"}
		if err := rows.Scan(&v.Filename, &v.FolderName, &v.SharedBy, &v.GroupName, &v.SharedAt); err != nil {
			return nil, err
		}
		key := v.FolderName + "/" + v.Filename
		if seenFiles[key] {
			continue
		}
		seenFiles[key] = true
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT DISTINCT gsf.folder_path, u.username, g.name, gsf.created_at
		FROM group_shared_folders gsf
		JOIN users u ON u.id = gsf.shared_by_user_id
		JOIN groups g ON g.id = gsf.group_id
		JOIN group_members m ON m.group_id = gsf.group_id
		WHERE m.user_id = ? AND g.active = 1
		ORDER BY gsf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list incoming group folder shares: %w", err)
	}
	defer rows.Close()
	seenFolders := make(map[string]bool)
	for rows.Next() {
		v := IncomingShareView{Kind: "group_folder"}
		if err := rows.Scan(&v.FolderPath, &v.SharedBy, &v.GroupName, &v.SharedAt); err != nil {
			return nil, err
		}
		if seenFolders[v.FolderPath] {
			continue
		}
		seenFolders[v.FolderPath] = true
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ListOutgoingShares(userID int64) ([]OutgoingShareView, error) {
	out := make([]OutgoingShareView, 0)

	rows, err := s.db.Query(`SELECT f.filename, f.folder_name, u.username, sf.created_at
		FROM shared_files sf
		JOIN files f ON f.id = sf.file_id
		JOIN users u ON u.id = sf.shared_with_user_id
		WHERE sf.shared_by_user_id = ?
		ORDER BY sf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list outgoing file shares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v := OutgoingShareView{Kind: "file"}
		if err := rows.Scan(&v.Filename, &v.FolderName, &v.SharedWith, &v.SharedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT sf.folder_path, u.username, sf.created_at
		FROM shared_folders sf
		JOIN users u ON u.id = sf.shared_with_user_id
		WHERE sf.shared_by_user_id = ?
		ORDER BY sf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list outgoing folder shares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v := OutgoingShareView{Kind: "folder"}
		if err := rows.Scan(&v.FolderPath, &v.SharedWith, &v.SharedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT f.filename, f.folder_name, g.name, gsf.created_at
		FROM group_shared_files gsf
		JOIN files f ON f.id = gsf.file_id
		JOIN groups g ON g.id = gsf.group_id
		WHERE gsf.shared_by_user_id = ?
		ORDER BY gsf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list outgoing group file shares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v := OutgoingShareView{Kind: "group_file"}
		if err := rows.Scan(&v.Filename, &v.FolderName, &v.SharedWith, &v.SharedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT gsf.folder_path, g.name, gsf.created_at
		FROM group_shared_folders gsf
		JOIN groups g ON g.id = gsf.group_id
		WHERE gsf.shared_by_user_id = ?
		ORDER BY gsf.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list outgoing group folder shares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v := OutgoingShareView{Kind: "group_folder"}
		if err := rows.Scan(&v.FolderPath, &v.SharedWith, &v.SharedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
