package store

import (
	"database/sql"
	"fmt"

	"github.com/filedepot/filedepot/internal/depot"
)

// MaterializedCopy points at a copy created by a direct share, so the
// deletion coordinator can remove the bytes after the metadata commit.
type MaterializedCopy struct {
	TargetUsername string
	// Name is the copied filename for file shares, or the copied folder's
	// full path under the storage root for folder shares.
	Name     string
	IsFolder bool
}

// CascadeDeleteUser removes every row referencing the user, children
// before parents, in a single transaction: favorites, shares on either
// endpoint, group memberships, ephemeral tokens, quick shares, scan
// records, audit rows, owned file rows, then the user itself. It returns
// the materialized copies the user had granted so the caller can clean
// the filesystem afterwards.
func (s *Store) CascadeDeleteUser(userID int64) ([]MaterializedCopy, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin cascade: %w", err)
	}
	defer tx.Rollback()

	copies, err := collectGrantedCopies(tx, userID)
	if err != nil {
		return nil, err
	}

	// The recipients' shadow rows for the granter's materialized copies
	// must go before the share edges they are joined through, or the
	// recipients keep listing files whose bytes are gone.
	shadowDeletes := []struct {
		desc  string
		query string
	}{
		{"file copy shadow rows", `DELETE FROM files WHERE id IN (
			SELECT f.id FROM files f
			JOIN shared_files sf ON sf.shared_with_user_id = f.user_id
			JOIN users u ON u.id = sf.shared_with_user_id
			WHERE sf.shared_by_user_id = ? AND sf.copied_filename != ''
				AND f.folder_name = u.username || '/shared'
				AND f.filename = sf.copied_filename)`},
		{"folder snapshot shadow rows", `DELETE FROM files WHERE id IN (
			SELECT f.id FROM files f
			JOIN shared_folders sfo ON sfo.shared_with_user_id = f.user_id
			WHERE sfo.shared_by_user_id = ? AND sfo.copied_path != ''
				AND f.folder_name = sfo.copied_path)`},
	}
	for _, st := range shadowDeletes {
		if _, err := tx.Exec(st.query, userID); err != nil {
			return nil, fmt.Errorf("cascade %s: %w", st.desc, err)
		}
	}

	// Favorites on the user's files, then the user's own favorites.
	steps := []struct {
		desc  string
		query string
	}{
		{"favorites on owned files", `DELETE FROM favorites WHERE file_id IN (SELECT id FROM files WHERE user_id = ?)`},
		{"own favorites", `DELETE FROM favorites WHERE user_id = ?`},
		{"file shares granted", `DELETE FROM shared_files WHERE shared_by_user_id = ?`},
		{"file shares received", `DELETE FROM shared_files WHERE shared_with_user_id = ?`},
		{"file shares on owned files", `DELETE FROM shared_files WHERE file_id IN (SELECT id FROM files WHERE user_id = ?)`},
		{"folder shares granted", `DELETE FROM shared_folders WHERE shared_by_user_id = ?`},
		{"folder shares received", `DELETE FROM shared_folders WHERE shared_with_user_id = ?`},
		{"group file shares granted", `DELETE FROM group_shared_files WHERE shared_by_user_id = ?`},
		{"group file shares on owned files", `DELETE FROM group_shared_files WHERE file_id IN (SELECT id FROM files WHERE user_id = ?)`},
		{"group folder shares granted", `DELETE FROM group_shared_folders WHERE shared_by_user_id = ?`},
		{"group memberships", `DELETE FROM group_members WHERE user_id = ?`},
		{"ephemeral tokens", `DELETE FROM ephemeral_tokens WHERE user_id = ?`},
		{"quick shares", `DELETE FROM quick_shares WHERE user_id = ?`},
		{"scan records", `DELETE FROM file_scans WHERE user_id = ? OR file_id IN (SELECT id FROM files WHERE user_id = ?)`},
		{"audit rows", `DELETE FROM audit_logs WHERE actor_user_id = ?`},
		{"owned files", `DELETE FROM files WHERE user_id = ?`},
	}
	for _, st := range steps {
		args := []any{userID}
		if st.desc == "scan records" {
			args = append(args, userID)
		}
		if _, err := tx.Exec(st.query, args...); err != nil {
			return nil, fmt.Errorf("cascade %s: %w", st.desc, err)
		}
	}

	res, err := tx.Exec(`DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("cascade user row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, depot.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cascade: %w", err)
	}
	return copies, nil
}

func collectGrantedCopies(tx *sql.Tx, userID int64) ([]MaterializedCopy, error) {
	out := make([]MaterializedCopy, 0)

	rows, err := tx.Query(`SELECT u.username, sf.copied_filename
		FROM shared_files sf
		JOIN users u ON u.id = sf.shared_with_user_id
		WHERE sf.shared_by_user_id = ? AND sf.copied_filename != ''`, userID)
	if err != nil {
		return nil, fmt.Errorf("collect file copies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c MaterializedCopy
		if err := rows.Scan(&c.TargetUsername, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(`SELECT u.username, sf.copied_path
		FROM shared_folders sf
		JOIN users u ON u.id = sf.shared_with_user_id
		WHERE sf.shared_by_user_id = ? AND sf.copied_path != ''`, userID)
	if err != nil {
		return nil, fmt.Errorf("collect folder copies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c := MaterializedCopy{IsFolder: true}
		if err := rows.Scan(&c.TargetUsername, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CascadeDeleteFile removes the file row and everything hanging off it:
// favorites, direct and group share edges, the shadow rows of
// materialized copies, and scan records. Returns the copies so the
// caller can remove the bytes.
func (s *Store) CascadeDeleteFile(fileID int64) ([]MaterializedCopy, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin cascade: %w", err)
	}
	defer tx.Rollback()

	copies := make([]MaterializedCopy, 0)
	rows, err := tx.Query(`SELECT u.username, u.id, sf.copied_filename
		FROM shared_files sf
		JOIN users u ON u.id = sf.shared_with_user_id
		WHERE sf.file_id = ? AND sf.copied_filename != ''`, fileID)
	if err != nil {
		return nil, fmt.Errorf("collect copies: %w", err)
	}
	type shadow struct {
		targetID   int64
		targetName string
		filename   string
	}
	shadows := make([]shadow, 0)
	for rows.Next() {
		var sh shadow
		if err := rows.Scan(&sh.targetName, &sh.targetID, &sh.filename); err != nil {
			rows.Close()
			return nil, err
		}
		shadows = append(shadows, sh)
		copies = append(copies, MaterializedCopy{TargetUsername: sh.targetName, Name: sh.filename})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sh := range shadows {
		if _, err := tx.Exec(`DELETE FROM files WHERE user_id = ? AND folder_name = ? AND filename = ?`,
			sh.targetID, sh.targetName+"/shared", sh.filename); err != nil {
			return nil, fmt.Errorf("cascade shadow row: %w", err)
		}
	}

	stmts := []string{
		`DELETE FROM favorites WHERE file_id = ?`,
		`DELETE FROM shared_files WHERE file_id = ?`,
		`DELETE FROM group_shared_files WHERE file_id = ?`,
		`DELETE FROM file_scans WHERE file_id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q, fileID); err != nil {
			return nil, fmt.Errorf("cascade file deps: %w", err)
		}
	}

	res, err := tx.Exec(`DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("cascade file row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, depot.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cascade: %w", err)
	}
	return copies, nil
}

// CascadeDeleteGroup removes the group's share edges and memberships,
// then the group row. No filesystem cleanup is involved since group
// shares never materialize copies.
func (s *Store) CascadeDeleteGroup(groupID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cascade: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM group_shared_files WHERE group_id = ?`,
		`DELETE FROM group_shared_folders WHERE group_id = ?`,
		`DELETE FROM group_members WHERE group_id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q, groupID); err != nil {
			return fmt.Errorf("cascade group deps: %w", err)
		}
	}

	res, err := tx.Exec(`DELETE FROM groups WHERE id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("cascade group row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cascade: %w", err)
	}
	return nil
}
