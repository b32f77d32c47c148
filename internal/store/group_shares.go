package store

import (
	"fmt"

	"github.com/filedepot/filedepot/internal/depot"
)

func (s *Store) CreateGroupSharedFile(fileID, groupID, granterUserID int64) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO group_shared_files(file_id, group_id, shared_by_user_id)
		VALUES (?, ?, ?)`, fileID, groupID, granterUserID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("share file with group: %w", depot.ErrConflict)
		}
		return 0, fmt.Errorf("share file with group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("share id: %w", err)
	}
	return id, nil
}

func (s *Store) GetGroupSharedFile(fileID, groupID int64) (GroupSharedFile, error) {
	var gs GroupSharedFile
	err := s.db.QueryRow(`SELECT id, file_id, group_id, shared_by_user_id, created_at
		FROM group_shared_files WHERE file_id = ? AND group_id = ?`, fileID, groupID).
		Scan(&gs.ID, &gs.FileID, &gs.GroupID, &gs.SharedByUserID, &gs.CreatedAt)
	if err != nil {
		return GroupSharedFile{}, notFoundIfNoRows(err)
	}
	return gs, nil
}

func (s *Store) DeleteGroupSharedFile(id int64) error {
	res, err := s.db.Exec(`DELETE FROM group_shared_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group file share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

func (s *Store) CreateGroupSharedFolder(folderPath string, groupID, granterUserID int64) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO group_shared_folders(folder_path, group_id, shared_by_user_id)
		VALUES (?, ?, ?)`, folderPath, groupID, granterUserID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("share folder with group: %w", depot.ErrConflict)
		}
		return 0, fmt.Errorf("share folder with group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("share id: %w", err)
	}
	return id, nil
}

func (s *Store) GetGroupSharedFolder(folderPath string, groupID int64) (GroupSharedFolder, error) {
	var gs GroupSharedFolder
	err := s.db.QueryRow(`SELECT id, folder_path, group_id, shared_by_user_id, created_at
		FROM group_shared_folders WHERE folder_path = ? AND group_id = ?`, folderPath, groupID).
		Scan(&gs.ID, &gs.FolderPath, &gs.GroupID, &gs.SharedByUserID, &gs.CreatedAt)
	if err != nil {
		return GroupSharedFolder{}, notFoundIfNoRows(err)
	}
	return gs, nil
}

func (s *Store) DeleteGroupSharedFolder(id int64) error {
	res, err := s.db.Exec(`DELETE FROM group_shared_folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group folder share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

// HasGroupFileShare reports whether the owner's file is shared with any
// active group the user belongs to.
func (s *Store) HasGroupFileShare(ownerID int64, folderName, filename string, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1)
		FROM group_shared_files gsf
		JOIN files f ON f.id = gsf.file_id
		JOIN group_members m ON m.group_id = gsf.group_id
		JOIN groups g ON g.id = gsf.group_id
		WHERE f.filename = ? AND f.folder_name = ? AND f.user_id = ?
			AND m.user_id = ? AND g.active = 1`,
		filename, folderName, ownerID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check group file share: %w", err)
	}
	return n > 0, nil
}

// HasGroupFolderShare reports whether folderPath is shared by the granter
// with any active group the user belongs to.
func (s *Store) HasGroupFolderShare(folderPath string, userID, granterUserID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1)
		FROM group_shared_folders gsf
		JOIN group_members m ON m.group_id = gsf.group_id
		JOIN groups g ON g.id = gsf.group_id
		WHERE gsf.folder_path = ? AND m.user_id = ? AND gsf.shared_by_user_id = ? AND g.active = 1`,
		folderPath, userID, granterUserID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check group folder share: %w", err)
	}
	return n > 0, nil
}
